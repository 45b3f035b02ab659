package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myjobmatch/matchengine/backfill"
	"github.com/myjobmatch/matchengine/models"
	"github.com/myjobmatch/matchengine/scheduler"
	"github.com/myjobmatch/matchengine/sourceadapters"
)

type fakeBroker struct {
	events map[string]models.ProgressEvent
}

func (f *fakeBroker) Get(userID string) (models.ProgressEvent, bool) {
	e, ok := f.events[userID]
	return e, ok
}

type fakeStore struct {
	saved []models.UserSearchQuery
}

func (f *fakeStore) SaveUserSearchQuery(ctx context.Context, q models.UserSearchQuery) error {
	f.saved = append(f.saved, q)
	return nil
}

func (f *fakeStore) IsCombinationBackfilled(ctx context.Context, source, combinationKey string) (bool, error) {
	return true, nil // already backfilled: Plan() becomes a no-op for these tests
}

func (f *fakeStore) MarkBackfilled(ctx context.Context, source, combinationKey string, jobsFound int) error {
	return nil
}

func (f *fakeStore) UpsertJob(ctx context.Context, job models.Job) (uint, bool, error) { return 1, true, nil }

func (f *fakeStore) ListDistinctCombinations(ctx context.Context) ([]models.UserSearchQuery, error) {
	return nil, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *fakeBroker, *fakeStore, *[]string) {
	gin.SetMode(gin.TestMode)
	broker := &fakeBroker{events: make(map[string]models.ProgressEvent)}
	store := &fakeStore{}
	planner := backfill.New(store, []sourceadapters.Adapter{})
	sched := scheduler.New(store, noopEnricher{}, nil, scheduler.Options{})

	var started []string
	var cancelled []string
	h := NewMatchingHandler(broker, store, planner, sched,
		func(ctx context.Context, userID string, profile models.CVProfile, forceReanalyze, latestDayOnly bool) {
			started = append(started, userID)
		},
		func(userID string) { cancelled = append(cancelled, userID) },
	)

	r := gin.New()
	r.POST("/users/:user_id/matching/start", h.StartMatching)
	r.GET("/users/:user_id/matching/status", h.GetMatchingStatus)
	r.POST("/users/:user_id/matching/cancel", h.CancelMatching)
	r.POST("/users/:user_id/queries", h.RegisterUserQueries)
	r.POST("/scheduler/tick", h.SchedulerTick)

	return r, broker, store, &started
}

type noopEnricher struct{}

func (noopEnricher) RunBatch(ctx context.Context, limit int) (int, error) { return 0, nil }

func TestStartMatching_RejectsMissingEmbeddingText(t *testing.T) {
	r, _, _, _ := setupRouter(t)
	body := `{"profile":{"summary":"x"}}`
	req := httptest.NewRequest(http.MethodPost, "/users/u1/matching/start", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartMatching_AcceptsValidProfile(t *testing.T) {
	r, _, _, started := setupRouter(t)
	body := `{"profile":{"embedding_text":"golang backend engineer"}}`
	req := httptest.NewRequest(http.MethodPost, "/users/u1/matching/start", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, *started, "u1")
}

func TestGetMatchingStatus_ReturnsIdleWhenNeverRun(t *testing.T) {
	r, _, _, _ := setupRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/users/u1/matching/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"IDLE"`)
}

func TestRegisterUserQueries_SavesOneRowPerTitleLocationPair(t *testing.T) {
	r, _, store, _ := setupRouter(t)
	body := `{"titles":["data scientist","ml engineer"],"locations":["Berlin"],"country_code":"de"}`
	req := httptest.NewRequest(http.MethodPost, "/users/u1/queries", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, store.saved, 2)
}

func TestRegisterUserQueries_RequiresCountryCode(t *testing.T) {
	r, _, _, _ := setupRouter(t)
	body := `{"titles":["data scientist"]}`
	req := httptest.NewRequest(http.MethodPost, "/users/u1/queries", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSchedulerTick_ReturnsSummary(t *testing.T) {
	r, _, _, _ := setupRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/scheduler/tick", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
