package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/myjobmatch/matchengine/models"
)

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarity_OrthogonalIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestCosineSimilarity_MismatchedLengthsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1}))
}

func TestScoreFromSimilarity_ClipsAndRounds(t *testing.T) {
	assert.Equal(t, 100, ScoreFromSimilarity(1.0))
	assert.Equal(t, 0, ScoreFromSimilarity(-0.5))
	assert.Equal(t, 50, ScoreFromSimilarity(0.5))
}

func TestTopK_BoundsApply(t *testing.T) {
	assert.Equal(t, 5, TopK(10))  // 25% would be 2, floors to minimum 5
	assert.Equal(t, 20, TopK(80)) // 25% of 80
	assert.Equal(t, 50, TopK(1000))
	assert.Equal(t, 3, TopK(3)) // chunk smaller than minimum
}

func TestPassesHardFilters_LocationSubstringMatch(t *testing.T) {
	job := models.Job{Location: "Berlin, Germany"}
	assert.True(t, PassesHardFilters(job, []string{"berlin"}, nil))
	assert.False(t, PassesHardFilters(job, []string{"munich"}, nil))
}

func TestPassesHardFilters_RemoteBypassesLocation(t *testing.T) {
	remote := models.WorkArrangementRemote
	job := models.Job{Location: "Munich", AIMetadata: models.AIMetadata{WorkArrangement: &remote}}
	assert.True(t, PassesHardFilters(job, []string{"berlin"}, nil))
}

func TestPassesHardFilters_WorkArrangementMustBeAccepted(t *testing.T) {
	onsite := models.WorkArrangementOnsite
	job := models.Job{AIMetadata: models.AIMetadata{WorkArrangement: &onsite}}
	assert.False(t, PassesHardFilters(job, nil, []models.WorkArrangement{models.WorkArrangementRemote}))
	assert.True(t, PassesHardFilters(job, nil, []models.WorkArrangement{models.WorkArrangementOnsite}))
}

func TestFilter_OrdersByScoreThenDiscoveredDate(t *testing.T) {
	m := NewSemanticMatcher(30)
	now := time.Now()
	jobs := []models.Job{
		{JobID: 1, DiscoveredDate: now},
		{JobID: 2, DiscoveredDate: now.Add(-time.Hour)},
	}
	vectors := map[uint][]float32{
		1: {1, 0},
		2: {1, 0},
	}
	scored := m.Filter([]float32{1, 0}, jobs, vectors, nil, nil)
	assert.Len(t, scored, 2)
	assert.Equal(t, uint(1), scored[0].Job.JobID, "same score, newer discovered_date first")
}

func TestComputeSkillOverlap_MatchPercentage(t *testing.T) {
	profile := models.CVProfile{Skills: models.StringSet{"Go", "SQL"}}
	job := models.Job{AIMetadata: models.AIMetadata{KeySkills: models.StringSet{"go", "kubernetes"}}}

	overlap := ComputeSkillOverlap(profile, job)
	assert.InDelta(t, 0.5, overlap.SkillMatchPct, 1e-9)
	assert.Contains(t, overlap.MatchingSkills, "go")
	assert.Contains(t, overlap.MissingSkills, "kubernetes")
	assert.Contains(t, overlap.ExtraSkills, "sql")
}
