// Package scheduler implements the Collector Scheduler: a fixed interval
// tick, grounded on the teacher's cron-driven agent runner, that fans out
// registered search-query combinations across the configured source
// adapters and feeds freshly ingested jobs into the Enricher.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/myjobmatch/matchengine/errs"
	"github.com/myjobmatch/matchengine/logging"
	"github.com/myjobmatch/matchengine/models"
	"github.com/myjobmatch/matchengine/sourceadapters"
)

var log = logging.Component("scheduler")

// Store is the subset of store.Store the scheduler depends on.
type Store interface {
	ListDistinctCombinations(ctx context.Context) ([]models.UserSearchQuery, error)
	UpsertJob(ctx context.Context, job models.Job) (jobID uint, inserted bool, err error)
}

// Enricher is the subset of enrichment.Enricher the scheduler depends on.
type Enricher interface {
	RunBatch(ctx context.Context, limit int) (int, error)
}

// Options configures one Scheduler instance's per-tick budgets.
type Options struct {
	// EnrichBudgetPerTick bounds how many jobs the Enricher processes
	// after each collection sweep (default 50).
	EnrichBudgetPerTick int
	// AdapterWorkers bounds how many (combination, adapter) pairs are
	// fetched concurrently in one tick (default 4).
	AdapterWorkers int
	// PostedWithinHours is the freshness window requested from adapters
	// for routine (non-backfill) collection.
	PostedWithinHours int
}

func (o Options) withDefaults() Options {
	if o.EnrichBudgetPerTick <= 0 {
		o.EnrichBudgetPerTick = 50
	}
	if o.AdapterWorkers <= 0 {
		o.AdapterWorkers = 4
	}
	if o.PostedWithinHours <= 0 {
		o.PostedWithinHours = 24
	}
	return o
}

// Scheduler runs one collection-and-enrichment sweep per tick, grounded on
// the teacher's job_agent concurrency pattern (bounded worker pool over a
// fixed work list) rather than its cron wiring, which lives in main.go.
type Scheduler struct {
	store    Store
	enricher Enricher
	adapters []sourceadapters.Adapter
	opts     Options
}

func New(store Store, enricher Enricher, adapters []sourceadapters.Adapter, opts Options) *Scheduler {
	return &Scheduler{store: store, enricher: enricher, adapters: adapters, opts: opts.withDefaults()}
}

// Tick runs one full sweep: load distinct combinations, fan each one out
// across every configured adapter respecting its quota, normalize and
// upsert results, then run a bounded enrichment batch.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	start := time.Now()
	combos, err := s.store.ListDistinctCombinations(ctx)
	if err != nil {
		return TickResult{}, errs.Store("scheduler", err)
	}

	work := make([]fetchTask, 0, len(combos)*len(s.adapters))
	for _, combo := range combos {
		for _, adapter := range s.adapters {
			work = append(work, fetchTask{combo: combo, adapter: adapter})
		}
	}

	ingested, failures := s.runFetches(ctx, work)

	enriched := 0
	if ingested > 0 || s.opts.EnrichBudgetPerTick > 0 {
		enriched, err = s.enricher.RunBatch(ctx, s.opts.EnrichBudgetPerTick)
		if err != nil && !errs.Is(err, errs.KindCancelled) {
			log.Error().Err(err).Msg("enrichment batch failed")
		}
	}

	result := TickResult{
		CombinationsSwept: len(combos),
		JobsIngested:      ingested,
		JobsEnriched:      enriched,
		AdapterFailures:   failures,
		Elapsed:           time.Since(start),
	}
	log.Info().
		Int("combinations", result.CombinationsSwept).
		Int("ingested", result.JobsIngested).
		Int("enriched", result.JobsEnriched).
		Int("adapter_failures", result.AdapterFailures).
		Dur("elapsed", result.Elapsed).
		Msg("scheduler tick complete")
	return result, nil
}

// TickResult summarizes one sweep for logging and tests.
type TickResult struct {
	CombinationsSwept int
	JobsIngested      int
	JobsEnriched      int
	AdapterFailures   int
	Elapsed           time.Duration
}

type fetchTask struct {
	combo   models.UserSearchQuery
	adapter sourceadapters.Adapter
}

// runFetches fans work out across a bounded worker pool, grounded on the
// teacher's fetchPagesConcurrently semaphore idiom.
func (s *Scheduler) runFetches(ctx context.Context, work []fetchTask) (ingested int, failures int) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sem      = make(chan struct{}, s.opts.AdapterWorkers)
	)

	for _, task := range work {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(task fetchTask) {
			defer wg.Done()
			defer func() { <-sem }()

			count, err := s.fetchAndIngestOne(ctx, task)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				logging.LogError(log, logging.Fields{Component: "scheduler", Kind: "adapter_failure", Retryable: true}, err,
					"adapter fetch failed")
				return
			}
			ingested += count
		}(task)
	}
	wg.Wait()
	return ingested, failures
}

func (s *Scheduler) fetchAndIngestOne(ctx context.Context, task fetchTask) (int, error) {
	quota := task.adapter.Quota()
	if quota.RemainingKnown && quota.Remaining <= 0 {
		return 0, nil
	}

	criteria := sourceadapters.SearchCriteria{
		Keyword:           task.combo.Keywords,
		Location:          task.combo.Location,
		CountryCode:       task.combo.CountryCode,
		PostedWithinHours: s.opts.PostedWithinHours,
		MaxResults:        quota.ResultsPerRequestMax,
	}

	raw, _, err := task.adapter.Search(ctx, criteria)
	if err != nil {
		return 0, err
	}
	raw = sourceadapters.FilterByCountry(raw, task.combo.CountryCode)

	ingested := 0
	for _, r := range raw {
		if ctx.Err() != nil {
			return ingested, errs.Cancelled
		}
		job := normalizeRawJob(task.adapter.Name(), r)
		if _, _, err := s.store.UpsertJob(ctx, job); err != nil {
			return ingested, err
		}
		ingested++
	}
	return ingested, nil
}

// normalizeRawJob converts an adapter's raw result into a Job row,
// deriving a stable external_id when the upstream source has none.
func normalizeRawJob(source string, r models.RawJob) models.Job {
	externalID := r.ExternalID
	if externalID == "" {
		externalID = sourceadapters.ExternalIDFromContent(r.Title, r.Company, r.Location, r.PostedDate)
	}
	return models.Job{
		Source:      source,
		ExternalID:  externalID,
		Title:       r.Title,
		Company:     r.Company,
		Location:    r.Location,
		CountryCode: r.CountryCode,
		Description: r.Description,
		URL:         r.URL,
		PostedDate:  r.PostedDate,
	}
}
