// Package enrichment implements the Enricher component: given a job
// lacking AI metadata, derive it via the LLM and persist it, tracking a
// cool-down so a job that repeatedly fails to parse isn't retried every
// tick.
package enrichment

import (
	"context"
	"time"

	"github.com/myjobmatch/matchengine/errs"
	"github.com/myjobmatch/matchengine/logging"
	"github.com/myjobmatch/matchengine/models"
)

const cooldownDuration = 24 * time.Hour

// LLM is the subset of gemini.Client the Enricher depends on.
type LLM interface {
	EnrichJob(ctx context.Context, job models.Job) (models.AIMetadata, error)
}

// Store is the subset of store.Store the Enricher depends on.
type Store interface {
	GetJobsMissingAI(ctx context.Context, limit int) ([]models.Job, error)
	SaveAIMetadata(ctx context.Context, jobID uint, meta models.AIMetadata) error
}

var log = logging.Component("enrichment")

// Enricher derives and persists AI metadata for jobs lacking it.
type Enricher struct {
	llm   LLM
	store Store
}

func New(llm LLM, store Store) *Enricher {
	return &Enricher{llm: llm, store: store}
}

// EnrichOne enriches a single job and returns whether it succeeded. A job
// that is already enriched is left as it is, so calling it again is a
// no-op. On LLM failure (including the one repair pass gemini.Client
// already attempted), it stamps a cool-down so the next sweep skips this
// job for 24h rather than immediately retrying it.
func (e *Enricher) EnrichOne(ctx context.Context, job models.Job) error {
	if job.IsEnriched() {
		return nil
	}
	meta, err := e.llm.EnrichJob(ctx, job)
	if err != nil {
		now := time.Now()
		cooldownEnd := now.Add(cooldownDuration)
		failedMeta := models.AIMetadata{EnrichFailedAt: &now, EnrichCooldownEnd: &cooldownEnd}
		if saveErr := e.store.SaveAIMetadata(ctx, job.JobID, failedMeta); saveErr != nil {
			log.Error().Uint("job_id", job.JobID).Err(saveErr).Msg("failed to record enrichment cooldown")
		}
		logging.LogError(log, logging.Fields{Component: "enrichment", Kind: "llm_unavailable", Retryable: false}, err, "enrichment failed")
		return err
	}
	return e.store.SaveAIMetadata(ctx, job.JobID, meta)
}

// RunBatch enriches up to limit jobs missing AI metadata, continuing
// past per-job failures so one bad job never stalls the sweep. Returns
// the count successfully enriched.
func (e *Enricher) RunBatch(ctx context.Context, limit int) (int, error) {
	jobs, err := e.store.GetJobsMissingAI(ctx, limit)
	if err != nil {
		return 0, errs.Store("enrichment", err)
	}

	succeeded := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return succeeded, errs.Cancelled
		}
		if err := e.EnrichOne(ctx, job); err != nil {
			continue
		}
		succeeded++
	}
	return succeeded, nil
}
