package backfill

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
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Search(ctx context.Context, criteria sourceadapters.SearchCriteria) ([]models.RawJob, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeAdapter) Quota() sourceadapters.QuotaPolicy {
	return sourceadapters.QuotaPolicy{RequestsPerPeriod: 100, Period: time.Hour}
}

type fakeStore struct {
	mu          sync.Mutex
	backfilled  map[string]bool
	marked      []string
	jobsFound   map[string]int
	upsertCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{backfilled: make(map[string]bool), jobsFound: make(map[string]int)}
}

func (f *fakeStore) IsCombinationBackfilled(ctx context.Context, source, combinationKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backfilled[source+"|"+combinationKey], nil
}

func (f *fakeStore) MarkBackfilled(ctx context.Context, source, combinationKey string, jobsFound int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backfilled[source+"|"+combinationKey] = true
	f.marked = append(f.marked, source+"|"+combinationKey)
	f.jobsFound[source+"|"+combinationKey] = jobsFound
	return nil
}

func (f *fakeStore) UpsertJob(ctx context.Context, job models.Job) (uint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	return uint(f.upsertCalls), true, nil
}

func TestPlan_SweepsAndMarksNewCombination(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{name: "adzuna", results: []models.RawJob{{Title: "A"}, {Title: "B"}}}
	p := New(store, []sourceadapters.Adapter{adapter})

	combo := models.UserSearchQuery{Keywords: "golang", Location: "Berlin", CountryCode: "de"}
	results := p.Plan(context.Background(), combo)

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[0].JobsIngested)
	assert.True(t, store.backfilled["adzuna|"+combo.CombinationKey()])
	assert.Equal(t, 2, store.jobsFound["adzuna|"+combo.CombinationKey()])
}

func TestPlan_SkipsAlreadyBackfilledSource(t *testing.T) {
	store := newFakeStore()
	combo := models.UserSearchQuery{Keywords: "golang", Location: "Berlin", CountryCode: "de"}
	store.backfilled["adzuna|"+combo.CombinationKey()] = true
	adapter := &fakeAdapter{name: "adzuna", results: []models.RawJob{{Title: "A"}}}
	p := New(store, []sourceadapters.Adapter{adapter})

	results := p.Plan(context.Background(), combo)

	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.Equal(t, 0, store.upsertCalls)
}

func TestPlan_FailedFetchLeavesCombinationUnmarked(t *testing.T) {
	store := newFakeStore()
	combo := models.UserSearchQuery{Keywords: "golang", Location: "Berlin", CountryCode: "de"}
	adapter := &fakeAdapter{name: "adzuna", err: assert.AnError}
	p := New(store, []sourceadapters.Adapter{adapter})

	results := p.Plan(context.Background(), combo)

	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.False(t, store.backfilled["adzuna|"+combo.CombinationKey()])
}
