// Package backfill implements the Backfill Planner: when a user registers
// a search-query combination no one has swept before, fetch its historical
// window once per source, rather than waiting for it to accumulate
// naturally through routine collector ticks.
package backfill

import (
	"context"

	"github.com/myjobmatch/matchengine/errs"
	"github.com/myjobmatch/matchengine/logging"
	"github.com/myjobmatch/matchengine/models"
	"github.com/myjobmatch/matchengine/sourceadapters"
)

var log = logging.Component("backfill")

// Store is the subset of store.Store the planner depends on.
type Store interface {
	IsCombinationBackfilled(ctx context.Context, source, combinationKey string) (bool, error)
	MarkBackfilled(ctx context.Context, source, combinationKey string, jobsFound int) error
	UpsertJob(ctx context.Context, job models.Job) (jobID uint, inserted bool, err error)
}

// HistoricalWindowHours is how far back a backfill sweep searches, wider
// than the scheduler's routine freshness window.
const HistoricalWindowHours = 24 * 30

// Planner decides, per newly registered combination, which sources still
// need a historical sweep and runs it.
type Planner struct {
	store    Store
	adapters []sourceadapters.Adapter
}

func New(store Store, adapters []sourceadapters.Adapter) *Planner {
	return &Planner{store: store, adapters: adapters}
}

// Result summarizes one combination's backfill outcome.
type Result struct {
	Source         string
	CombinationKey string
	JobsIngested   int
	Skipped        bool
	Err            error
}

// Plan runs a historical sweep for combo against every adapter that has
// not already backfilled it, so historical fetches only happen for
// combinations no user has ever triggered collection for. A source is
// only marked backfilled once its fetch succeeds, so a transient failure
// leaves the combination eligible for retry on the next registration.
func (p *Planner) Plan(ctx context.Context, combo models.UserSearchQuery) []Result {
	key := combo.CombinationKey()
	results := make([]Result, 0, len(p.adapters))

	for _, adapter := range p.adapters {
		if ctx.Err() != nil {
			results = append(results, Result{Source: adapter.Name(), CombinationKey: key, Err: errs.Cancelled})
			return results
		}

		already, err := p.store.IsCombinationBackfilled(ctx, adapter.Name(), key)
		if err != nil {
			results = append(results, Result{Source: adapter.Name(), CombinationKey: key, Err: errs.Store("backfill", err)})
			continue
		}
		if already {
			results = append(results, Result{Source: adapter.Name(), CombinationKey: key, Skipped: true})
			continue
		}

		results = append(results, p.sweepOne(ctx, adapter, combo, key))
	}
	return results
}

func (p *Planner) sweepOne(ctx context.Context, adapter sourceadapters.Adapter, combo models.UserSearchQuery, key string) Result {
	criteria := sourceadapters.SearchCriteria{
		Keyword:           combo.Keywords,
		Location:          combo.Location,
		CountryCode:       combo.CountryCode,
		PostedWithinHours: HistoricalWindowHours,
		MaxResults:        adapter.Quota().ResultsPerRequestMax,
	}

	raw, _, err := adapter.Search(ctx, criteria)
	if err != nil {
		logging.LogError(log, logging.Fields{Component: "backfill", Kind: "adapter_failure", Retryable: true}, err,
			"backfill sweep failed")
		return Result{Source: adapter.Name(), CombinationKey: key, Err: err}
	}
	raw = sourceadapters.FilterByCountry(raw, combo.CountryCode)

	ingested := 0
	for _, r := range raw {
		if ctx.Err() != nil {
			return Result{Source: adapter.Name(), CombinationKey: key, JobsIngested: ingested, Err: errs.Cancelled}
		}
		externalID := r.ExternalID
		if externalID == "" {
			externalID = sourceadapters.ExternalIDFromContent(r.Title, r.Company, r.Location, r.PostedDate)
		}
		job := models.Job{
			Source:      adapter.Name(),
			ExternalID:  externalID,
			Title:       r.Title,
			Company:     r.Company,
			Location:    r.Location,
			CountryCode: r.CountryCode,
			Description: r.Description,
			URL:         r.URL,
			PostedDate:  r.PostedDate,
		}
		if _, _, err := p.store.UpsertJob(ctx, job); err != nil {
			return Result{Source: adapter.Name(), CombinationKey: key, JobsIngested: ingested, Err: errs.Store("backfill", err)}
		}
		ingested++
	}

	if err := p.store.MarkBackfilled(ctx, adapter.Name(), key, ingested); err != nil {
		log.Error().Str("source", adapter.Name()).Str("combination", key).Err(err).Msg("failed to record backfill completion")
		return Result{Source: adapter.Name(), CombinationKey: key, JobsIngested: ingested, Err: errs.Store("backfill", err)}
	}

	return Result{Source: adapter.Name(), CombinationKey: key, JobsIngested: ingested}
}
