// Package matching implements the Semantic Matcher, LLM Analyzer wiring
// and Matching Engine state machine: the per-user two-stage pipeline that
// fetches candidate jobs, embeds and filters them, then analyzes the
// survivors via LLM.
package matching

import (
	"math"
	"sort"
	"strings"

	"github.com/myjobmatch/matchengine/models"
)

// SemanticMatcher applies hard filters and cosine-similarity scoring. It
// holds no state; every call is a pure function of its arguments so it can
// run concurrently across chunks without locking.
type SemanticMatcher struct {
	threshold int
}

func NewSemanticMatcher(threshold int) *SemanticMatcher {
	return &SemanticMatcher{threshold: threshold}
}

// ScoredJob pairs a job with its semantic_score.
type ScoredJob struct {
	Job   models.Job
	Score int
}

// PassesHardFilters reports whether job satisfies the user's location
// and work-arrangement constraints.
func PassesHardFilters(job models.Job, locations []string, acceptedArrangements []models.WorkArrangement) bool {
	if len(locations) > 0 {
		matched := false
		jobLocation := strings.ToLower(job.Location)
		for _, loc := range locations {
			if loc == "" {
				continue
			}
			if strings.Contains(jobLocation, strings.ToLower(loc)) {
				matched = true
				break
			}
		}
		if !matched && !(job.WorkArrangement != nil && *job.WorkArrangement == models.WorkArrangementRemote) {
			return false
		}
	}

	if job.WorkArrangement != nil && len(acceptedArrangements) > 0 {
		accepted := false
		for _, a := range acceptedArrangements {
			if a == *job.WorkArrangement {
				accepted = true
				break
			}
		}
		if !accepted {
			return false
		}
	}

	return true
}

// CosineSimilarity computes the cosine of the angle between two vectors,
// implemented in pure Go over fetched vectors rather than pushed down to
// SQL, since the matcher already holds both vectors in memory by the time
// it is called.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ScoreFromSimilarity maps a similarity in [-1, 1] to an integer
// semantic_score in [0, 100].
func ScoreFromSimilarity(sim float64) int {
	clipped := sim
	if clipped < 0 {
		clipped = 0
	}
	if clipped > 1 {
		clipped = 1
	}
	return int(math.Round(clipped * 100))
}

// Filter applies hard filters then cosine similarity to a batch of jobs
// that already carry their embedding vectors, returning surviving
// (job, score) pairs at or above threshold, ordered by score descending with
// discovered_date as the stable tiebreaker for equal scores.
func (m *SemanticMatcher) Filter(userVector []float32, jobs []models.Job, jobVectors map[uint][]float32, locations []string, acceptedArrangements []models.WorkArrangement) []ScoredJob {
	var out []ScoredJob
	for _, job := range jobs {
		if !PassesHardFilters(job, locations, acceptedArrangements) {
			continue
		}
		vec, ok := jobVectors[job.JobID]
		if !ok {
			continue
		}
		score := ScoreFromSimilarity(CosineSimilarity(userVector, vec))
		if score >= m.threshold {
			out = append(out, ScoredJob{Job: job, Score: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Job.DiscoveredDate.After(out[j].Job.DiscoveredDate)
	})
	return out
}

// TopK returns the analysis cap for a chunk: top 25%, minimum 5, maximum 50.
func TopK(chunkSize int) int {
	k := chunkSize / 4
	if k < 5 {
		k = 5
	}
	if k > 50 {
		k = 50
	}
	if k > chunkSize {
		k = chunkSize
	}
	return k
}
