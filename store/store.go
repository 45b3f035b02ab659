// Package store is the durable repository for the matching engine: jobs,
// per-user match rows, registered search queries, and backfill tracking.
// It is backed by GORM, following the teacher's Firestore client in shape
// (a thin struct wrapping a driver handle, one method per operation) but
// swapping the backing store for Postgres since the domain is now
// relational rather than document-shaped.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/myjobmatch/matchengine/errs"
	"github.com/myjobmatch/matchengine/models"
)

// Store wraps a *gorm.DB with the matching engine's repository operations.
type Store struct {
	db *gorm.DB
}

// New wraps an already-connected *gorm.DB. Callers open the dialector
// (postgres in production, sqlite in tests) and run migrations before
// constructing a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates/updates the schema for all entities the store owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Job{},
		&models.UserJobMatch{},
		&models.UserSearchQuery{},
		&models.BackfillTracking{},
	)
}

const (
	maxRetries  = 3
	retryBase   = 200 * time.Millisecond
	retryFactor = 2
)

// withRetry runs fn up to maxRetries times in total with exponential
// backoff, surfacing errs.Store on persistent failure. It stops with
// errs.Cancelled once the context is done; every other error from fn is
// retried, whatever its cause.
func withRetry(ctx context.Context, component string, fn func() error) error {
	delay := retryBase
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if ctx.Err() != nil {
			return errs.Cancelled
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt < maxRetries-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errs.Cancelled
			}
			delay *= retryFactor
		}
	}
	return errs.Store(component, lastErr)
}

// ExternalIDFromContent derives a stable external_id for a RawJob whose
// upstream source has no identifier of its own.
func ExternalIDFromContent(title, company, location string, posted time.Time) string {
	sum := sha256.Sum256([]byte(title + "|" + company + "|" + location + "|" + posted.Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])[:32]
}

// UpsertJob inserts a new job row when no row has its (source, external_id)
// yet, or merges AI metadata into the existing row without ever overwriting a
// present field with an absent one (models.MergeAIMetadata).
func (s *Store) UpsertJob(ctx context.Context, job models.Job) (jobID uint, inserted bool, err error) {
	err = withRetry(ctx, "store.UpsertJob", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing models.Job
			lookupErr := tx.Where("source = ? AND external_id = ?", job.Source, job.ExternalID).
				First(&existing).Error

			switch {
			case errors.Is(lookupErr, gorm.ErrRecordNotFound):
				job.DiscoveredDate = time.Now()
				if err := tx.Create(&job).Error; err != nil {
					return err
				}
				jobID = job.JobID
				inserted = true
				return nil
			case lookupErr != nil:
				return lookupErr
			default:
				merged := existing
				merged.Title = firstNonEmpty(existing.Title, job.Title)
				merged.Company = firstNonEmpty(existing.Company, job.Company)
				merged.Location = firstNonEmpty(existing.Location, job.Location)
				merged.Description = firstNonEmpty(existing.Description, job.Description)
				merged.URL = firstNonEmpty(existing.URL, job.URL)
				merged.AIMetadata = models.MergeAIMetadata(existing.AIMetadata, job.AIMetadata)
				if err := tx.Model(&models.Job{}).Where("job_id = ?", existing.JobID).
					Updates(map[string]any{
						"title":       merged.Title,
						"company":     merged.Company,
						"location":    merged.Location,
						"description": merged.Description,
						"url":         merged.URL,
					}).Error; err != nil {
					return err
				}
				if err := tx.Save(&merged).Error; err != nil {
					return err
				}
				jobID = existing.JobID
				inserted = false
				return nil
			}
		})
	})
	return jobID, inserted, err
}

func firstNonEmpty(existing, incoming string) string {
	if existing != "" {
		return existing
	}
	return incoming
}

// GetJobsMissingAI returns up to limit jobs that have never been
// enriched and are not currently in the enrichment cool-down window.
func (s *Store) GetJobsMissingAI(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := withRetry(ctx, "store.GetJobsMissingAI", func() error {
		now := time.Now()
		return s.db.WithContext(ctx).
			Where("enriched_at IS NULL AND (enrich_cooldown_end IS NULL OR enrich_cooldown_end < ?)", now).
			Order("discovered_date DESC").
			Limit(limit).
			Find(&jobs).Error
	})
	return jobs, err
}

// SaveAIMetadata atomically writes the Enricher's output for one job.
func (s *Store) SaveAIMetadata(ctx context.Context, jobID uint, meta models.AIMetadata) error {
	return withRetry(ctx, "store.SaveAIMetadata", func() error {
		return s.db.WithContext(ctx).Model(&models.Job{}).Where("job_id = ?", jobID).
			Updates(&meta).Error
	})
}

// JobFilter narrows FindJobsForUser's candidate set to the user's hard
// constraints.
type JobFilter struct {
	Since            time.Time
	Locations        []string
	WorkArrangements []models.WorkArrangement
}

// FindJobsForUser streams jobs matching the filter that have no existing
// match row for the user, paging internally so the caller never holds
// the whole table in memory. visit returns false to stop early (e.g. the
// caller hit its chunk size or the run was cancelled).
func (s *Store) FindJobsForUser(ctx context.Context, userID string, filter JobFilter, pageSize int, visit func([]models.Job) (cont bool, err error)) error {
	if pageSize <= 0 {
		pageSize = 200
	}
	offset := 0
	for {
		if ctx.Err() != nil {
			return errs.Cancelled
		}
		var page []models.Job
		q := s.db.WithContext(ctx).
			Table("jobs").
			Joins("LEFT JOIN user_job_matches ON user_job_matches.job_id = jobs.job_id AND user_job_matches.user_id = ?", userID).
			Where("user_job_matches.user_job_match_id IS NULL").
			Where("jobs.discovered_date >= ?", filter.Since)
		if len(filter.Locations) > 0 {
			q = q.Where("jobs.location IN ?", filter.Locations)
		}
		if len(filter.WorkArrangements) > 0 {
			q = q.Where("jobs.work_arrangement IN ?", filter.WorkArrangements)
		}
		err := withRetry(ctx, "store.FindJobsForUser", func() error {
			return q.Order("jobs.discovered_date DESC").
				Limit(pageSize).Offset(offset).
				Select("jobs.*").
				Find(&page).Error
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		cont, err := visit(page)
		if err != nil {
			return err
		}
		if !cont || len(page) < pageSize {
			return nil
		}
		offset += pageSize
	}
}

// UpsertUserJobMatch inserts or updates a match row, preserving whichever
// status ranks higher between the existing row and the incoming one so a
// re-run never reverts user-driven progress (models.PreferredStatus).
func (s *Store) UpsertUserJobMatch(ctx context.Context, row models.UserJobMatch) error {
	return withRetry(ctx, "store.UpsertUserJobMatch", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing models.UserJobMatch
			lookupErr := tx.Where("user_id = ? AND job_id = ?", row.UserID, row.JobID).
				First(&existing).Error

			if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				if row.MatchedDate.IsZero() {
					row.MatchedDate = time.Now()
				}
				if row.Status == "" {
					row.Status = models.MatchStatusNew
				}
				return tx.Create(&row).Error
			}
			if lookupErr != nil {
				return lookupErr
			}

			updates := map[string]any{
				"semantic_score": row.SemanticScore,
				"status":         models.PreferredStatus(existing.Status, row.Status),
			}
			if row.ClaudeScore != nil {
				updates["claude_score"] = *row.ClaudeScore
				updates["priority"] = row.Priority
				updates["match_reasoning"] = row.MatchReasoning
				updates["key_alignments"] = row.KeyAlignments
				updates["potential_gaps"] = row.PotentialGaps
			} else if row.MatchReasoning != "" && existing.ClaudeScore == nil {
				updates["match_reasoning"] = row.MatchReasoning
			}
			return tx.Model(&models.UserJobMatch{}).
				Where("user_job_match_id = ?", existing.UserJobMatchID).
				Updates(updates).Error
		})
	})
}

// IsCombinationBackfilled reports whether a (source, combination) pair has
// already been swept once.
func (s *Store) IsCombinationBackfilled(ctx context.Context, source, combinationKey string) (bool, error) {
	var count int64
	err := withRetry(ctx, "store.IsCombinationBackfilled", func() error {
		return s.db.WithContext(ctx).Model(&models.BackfillTracking{}).
			Where("source = ? AND combination_key = ?", source, combinationKey).
			Count(&count).Error
	})
	return count > 0, err
}

// MarkBackfilled records that a combination's historical window has been
// fetched, along with how many jobs that sweep found. Only called on fetch
// success — a persistently failed fetch leaves the combination unmarked so
// a later backfill attempt for it retries the sweep.
func (s *Store) MarkBackfilled(ctx context.Context, source, combinationKey string, jobsFound int) error {
	return withRetry(ctx, "store.MarkBackfilled", func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "combination_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"backfilled_at", "jobs_found"}),
		}).Create(&models.BackfillTracking{
			Source:         source,
			CombinationKey: combinationKey,
			JobsFound:      jobsFound,
			BackfilledAt:   time.Now(),
		}).Error
	})
}

// SaveUserSearchQuery registers one (keywords, location, country) tuple
// for a user, used by RegisterUserQueries and the scheduler/backfill
// planner to discover which combinations to sweep.
func (s *Store) SaveUserSearchQuery(ctx context.Context, q models.UserSearchQuery) error {
	return withRetry(ctx, "store.SaveUserSearchQuery", func() error {
		return s.db.WithContext(ctx).Create(&q).Error
	})
}

// AnalyzedJobIDs reports which of jobIDs already have a claude_score for
// userID, so the Matching Engine can skip them in the LLM stage unless
// ForceReanalyze is set.
func (s *Store) AnalyzedJobIDs(ctx context.Context, userID string, jobIDs []uint) (map[uint]bool, error) {
	out := make(map[uint]bool, len(jobIDs))
	if len(jobIDs) == 0 {
		return out, nil
	}
	var rows []models.UserJobMatch
	err := withRetry(ctx, "store.AnalyzedJobIDs", func() error {
		return s.db.WithContext(ctx).
			Where("user_id = ? AND job_id IN ? AND claude_score IS NOT NULL", userID, jobIDs).
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.JobID] = true
	}
	return out, nil
}

// ListDistinctCombinations returns the set of distinct search-query
// combinations currently registered by any user, for the scheduler and
// backfill planner to iterate.
func (s *Store) ListDistinctCombinations(ctx context.Context) ([]models.UserSearchQuery, error) {
	var rows []models.UserSearchQuery
	err := withRetry(ctx, "store.ListDistinctCombinations", func() error {
		return s.db.WithContext(ctx).
			Distinct("keywords", "location", "country_code").
			Find(&rows).Error
	})
	return rows, err
}
