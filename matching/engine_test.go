package matching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myjobmatch/matchengine/models"
	"github.com/myjobmatch/matchengine/store"
)

type fakeEngineStore struct {
	jobs []models.Job
	mu   sync.Mutex
	rows []models.UserJobMatch
}

func (f *fakeEngineStore) FindJobsForUser(ctx context.Context, userID string, filter store.JobFilter, pageSize int, visit func([]models.Job) (bool, error)) error {
	_, err := visit(f.jobs)
	return err
}

func (f *fakeEngineStore) UpsertUserJobMatch(ctx context.Context, row models.UserJobMatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeEngineStore) AnalyzedJobIDs(ctx context.Context, userID string, jobIDs []uint) (map[uint]bool, error) {
	return map[uint]bool{}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, jobID, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type failingAnalyzerLLM struct{}

func (failingAnalyzerLLM) AnalyzeMatch(ctx context.Context, profile models.CVProfile, job models.Job, skillOverlap string) (int, string, []string, []string, error) {
	return 0, "", nil, nil, errors.New("llm down")
}

type recordingBroker struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (b *recordingBroker) Set(userID string, event models.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroker) snapshot() []models.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.ProgressEvent, len(b.events))
	copy(out, b.events)
	return out
}

func jobsAcrossDays(n, perDay int) []models.Job {
	var jobs []models.Job
	id := uint(1)
	now := time.Now()
	for d := 0; d < n; d++ {
		day := now.AddDate(0, 0, -d)
		for i := 0; i < perDay; i++ {
			jobs = append(jobs, models.Job{JobID: id, DiscoveredDate: day, Title: "engineer", Description: "build things"})
			id++
		}
	}
	return jobs
}

func assertProgressNeverDecreases(t *testing.T, events []models.ProgressEvent) {
	t.Helper()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqualf(t, events[i].Progress, events[i-1].Progress,
			"progress moved backward at event %d (stage %s): %d -> %d", i, events[i].Stage, events[i-1].Progress, events[i].Progress)
	}
	assert.Equal(t, 100, events[len(events)-1].Progress)
}

func TestEngine_RunMatching_ProgressNeverDecreases(t *testing.T) {
	st := &fakeEngineStore{jobs: jobsAcrossDays(3, 4)}
	broker := &recordingBroker{}
	matcher := NewSemanticMatcher(10)
	analyzer := NewLLMAnalyzer(failingAnalyzerLLM{})
	engine := NewEngine(st, fakeEmbedder{}, analyzer, matcher, broker, 2, 2, 0, 2, 100)

	profile := models.CVProfile{UserID: "u1", EmbeddingText: "go backend engineer"}
	engine.RunMatching(context.Background(), "u1", profile, Options{})

	// Each failing candidate spends 3s in retryAnalysis' backoff (1s + 2s),
	// and the six chunks run one after another.
	require.Eventually(t, func() bool {
		events := broker.snapshot()
		return len(events) > 0 && events[len(events)-1].Terminal()
	}, 30*time.Second, 5*time.Millisecond)

	assertProgressNeverDecreases(t, broker.snapshot())
}

func TestEngine_RunMatching_ProgressNeverDecreasesOnCancel(t *testing.T) {
	st := &fakeEngineStore{jobs: jobsAcrossDays(2, 2)}
	broker := &recordingBroker{}
	matcher := NewSemanticMatcher(10)
	analyzer := NewLLMAnalyzer(failingAnalyzerLLM{})
	engine := NewEngine(st, fakeEmbedder{}, analyzer, matcher, broker, 2, 2, 0, 2, 100)

	// A cancelled context trips the run's cooperative cancellation check
	// at the first chunk boundary.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	profile := models.CVProfile{UserID: "u2", EmbeddingText: "go backend engineer"}
	engine.execute(ctx, "u2", profile, Options{})

	events := broker.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, models.StageInitializing, events[0].Stage)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Progress, events[i-1].Progress)
	}
}

func TestEngine_RunMatching_SecondCallIsNoOp(t *testing.T) {
	st := &fakeEngineStore{jobs: jobsAcrossDays(1, 1)}
	broker := &recordingBroker{}
	matcher := NewSemanticMatcher(10)
	analyzer := NewLLMAnalyzer(failingAnalyzerLLM{})
	engine := NewEngine(st, fakeEmbedder{}, analyzer, matcher, broker, 1, 1, 0, 2, 100)

	profile := models.CVProfile{UserID: "u3", EmbeddingText: "go backend engineer"}
	engine.RunMatching(context.Background(), "u3", profile, Options{})
	engine.RunMatching(context.Background(), "u3", profile, Options{})

	// The single failing candidate spends 3s in retryAnalysis' backoff.
	require.Eventually(t, func() bool {
		events := broker.snapshot()
		return len(events) > 0 && events[len(events)-1].Terminal()
	}, 10*time.Second, 5*time.Millisecond)

	initializing := 0
	for _, ev := range broker.snapshot() {
		if ev.Stage == models.StageInitializing {
			initializing++
		}
	}
	assert.Equal(t, 1, initializing, "second RunMatching call must not start another run")
}

func TestChunkProgress_MonotonicAcrossChunksAndSubSteps(t *testing.T) {
	total := 4
	prev := -1
	for i := 0; i < total; i++ {
		for sub := 0; sub < 4; sub++ {
			p := chunkProgress(i, total, sub)
			assert.GreaterOrEqual(t, p, prev)
			prev = p
		}
	}
	assert.Equal(t, progressChunksEnd, chunkProgress(total-1, total, 3))
}
