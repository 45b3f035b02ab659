package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/myjobmatch/matchengine/models"
)

// setupTestStore opens an in-memory sqlite database and migrates the
// schema, exercising the repository logic without a live Postgres.
func setupTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return New(db)
}

func TestUpsertJob_InsertsThenMerges(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	jobID, inserted, err := s.UpsertJob(ctx, models.Job{
		Source:     "adzuna",
		ExternalID: "abc123",
		Title:      "Backend Engineer",
		Company:    "Acme",
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, jobID)

	enrichedAt := time.Now()
	arrangement := models.WorkArrangementRemote
	_, inserted2, err := s.UpsertJob(ctx, models.Job{
		Source:     "adzuna",
		ExternalID: "abc123",
		Title:      "Backend Engineer II", // existing title wins, ignored
		AIMetadata: models.AIMetadata{
			WorkArrangement: &arrangement,
			EnrichedAt:      &enrichedAt,
		},
	})
	require.NoError(t, err)
	assert.False(t, inserted2)

	var got models.Job
	require.NoError(t, s.db.First(&got, jobID).Error)
	assert.Equal(t, "Backend Engineer", got.Title)
	require.NotNil(t, got.WorkArrangement)
	assert.Equal(t, models.WorkArrangementRemote, *got.WorkArrangement)
	assert.True(t, got.IsEnriched())
}

func TestUpsertJob_NeverOverwritesPresentAIField(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	firstArrangement := models.WorkArrangementOnsite
	jobID, _, err := s.UpsertJob(ctx, models.Job{
		Source:     "adzuna",
		ExternalID: "xyz",
		AIMetadata: models.AIMetadata{WorkArrangement: &firstArrangement},
	})
	require.NoError(t, err)

	secondArrangement := models.WorkArrangementRemote
	_, _, err = s.UpsertJob(ctx, models.Job{
		Source:     "adzuna",
		ExternalID: "xyz",
		AIMetadata: models.AIMetadata{WorkArrangement: &secondArrangement},
	})
	require.NoError(t, err)

	var got models.Job
	require.NoError(t, s.db.First(&got, jobID).Error)
	require.NotNil(t, got.WorkArrangement)
	assert.Equal(t, models.WorkArrangementOnsite, *got.WorkArrangement, "existing AI field must not be overwritten")
}

func TestUpsertUserJobMatch_NeverDowngradesStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	jobID, _, err := s.UpsertJob(ctx, models.Job{Source: "adzuna", ExternalID: "j1"})
	require.NoError(t, err)

	require.NoError(t, s.UpsertUserJobMatch(ctx, models.UserJobMatch{
		UserID:        "u1",
		JobID:         jobID,
		SemanticScore: 40,
		Status:        models.MatchStatusShortlisted,
	}))

	require.NoError(t, s.UpsertUserJobMatch(ctx, models.UserJobMatch{
		UserID:        "u1",
		JobID:         jobID,
		SemanticScore: 55,
		Status:        models.MatchStatusNew,
	}))

	var got models.UserJobMatch
	require.NoError(t, s.db.Where("user_id = ? AND job_id = ?", "u1", jobID).First(&got).Error)
	assert.Equal(t, models.MatchStatusShortlisted, got.Status)
	assert.Equal(t, 55, got.SemanticScore)
}

func TestFindJobsForUser_ExcludesExistingMatches(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	jobID1, _, err := s.UpsertJob(ctx, models.Job{Source: "adzuna", ExternalID: "j1", DiscoveredDate: time.Now()})
	require.NoError(t, err)
	_, _, err = s.UpsertJob(ctx, models.Job{Source: "adzuna", ExternalID: "j2", DiscoveredDate: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.UpsertUserJobMatch(ctx, models.UserJobMatch{UserID: "u1", JobID: jobID1, SemanticScore: 10}))

	var seen []models.Job
	err = s.FindJobsForUser(ctx, "u1", JobFilter{Since: time.Now().Add(-24 * time.Hour)}, 10, func(page []models.Job) (bool, error) {
		seen = append(seen, page...)
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "j2", seen[0].ExternalID)
}

func TestBackfillTracking_MarkAndCheck(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ok, err := s.IsCombinationBackfilled(ctx, "adzuna", "go|berlin|de")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkBackfilled(ctx, "adzuna", "go|berlin|de", 7))

	ok, err = s.IsCombinationBackfilled(ctx, "adzuna", "go|berlin|de")
	require.NoError(t, err)
	assert.True(t, ok)
}
