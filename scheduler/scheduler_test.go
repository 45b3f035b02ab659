package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myjobmatch/matchengine/models"
	"github.com/myjobmatch/matchengine/sourceadapters"
)

type fakeAdapter struct {
	name    string
	results []models.RawJob
	err     error
	calls   int
	mu      sync.Mutex
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Search(ctx context.Context, criteria sourceadapters.SearchCriteria) ([]models.RawJob, int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeAdapter) Quota() sourceadapters.QuotaPolicy {
	return sourceadapters.QuotaPolicy{RequestsPerPeriod: 100, Period: time.Hour}
}

type fakeStore struct {
	mu      sync.Mutex
	combos  []models.UserSearchQuery
	upserts int
}

func (f *fakeStore) ListDistinctCombinations(ctx context.Context) ([]models.UserSearchQuery, error) {
	return f.combos, nil
}

func (f *fakeStore) UpsertJob(ctx context.Context, job models.Job) (uint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	return uint(f.upserts), true, nil
}

type fakeEnricher struct {
	enriched int
}

func (f *fakeEnricher) RunBatch(ctx context.Context, limit int) (int, error) {
	return f.enriched, nil
}

func TestTick_FansOutAcrossCombinationsAndAdapters(t *testing.T) {
	store := &fakeStore{combos: []models.UserSearchQuery{
		{Keywords: "golang", Location: "Berlin", CountryCode: "de"},
		{Keywords: "rust", Location: "Munich", CountryCode: "de"},
	}}
	adapterA := &fakeAdapter{name: "adzuna", results: []models.RawJob{{Title: "A"}, {Title: "B"}}}
	adapterB := &fakeAdapter{name: "jsearch", results: []models.RawJob{{Title: "C"}}}
	enricher := &fakeEnricher{enriched: 3}

	s := New(store, enricher, []sourceadapters.Adapter{adapterA, adapterB}, Options{})
	result, err := s.Tick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, result.CombinationsSwept)
	assert.Equal(t, 6, result.JobsIngested) // 2 combos * (2+1) results
	assert.Equal(t, 3, result.JobsEnriched)
	assert.Equal(t, 0, result.AdapterFailures)
	assert.Equal(t, 2, adapterA.calls)
	assert.Equal(t, 2, adapterB.calls)
}

func TestTick_AdapterFailureDoesNotStopOtherWork(t *testing.T) {
	store := &fakeStore{combos: []models.UserSearchQuery{
		{Keywords: "golang", Location: "Berlin", CountryCode: "de"},
	}}
	failing := &fakeAdapter{name: "flaky", err: assert.AnError}
	working := &fakeAdapter{name: "stable", results: []models.RawJob{{Title: "A"}}}
	enricher := &fakeEnricher{}

	s := New(store, enricher, []sourceadapters.Adapter{failing, working}, Options{})
	result, err := s.Tick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.AdapterFailures)
	assert.Equal(t, 1, result.JobsIngested)
}
