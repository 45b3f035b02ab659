// Package embedding provides the process-wide Embedder singleton: a pure
// function from text to a fixed-length vector, backed by the Vertex AI
// embedding model, with lazy initialization (the first caller blocks
// while the model loads; subsequent calls reuse it) and a small in-memory
// cache keyed by (job_id, model_version) so re-runs don't re-embed
// unchanged jobs.
package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/myjobmatch/matchengine/errs"
)

// Backend is the subset of gemini.Client the Embedder depends on.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

const initTimeout = 60 * time.Second

// Embedder is a process-wide singleton; construct once via New and share
// the pointer across the Matching Engine's worker pools.
type Embedder struct {
	backend      Backend
	modelVersion string

	mu        sync.RWMutex
	cache     map[string][]float32
	readyOnce sync.Once
	readyErr  error
	ready     chan struct{}
}

// New constructs an Embedder bound to backend. Construction itself is
// cheap; the expensive step (confirming the backend model is reachable)
// happens lazily on first Embed/EmbedBatch call, gated by initTimeout.
func New(backend Backend, modelVersion string) *Embedder {
	return &Embedder{
		backend:      backend,
		modelVersion: modelVersion,
		cache:        make(map[string][]float32),
		ready:        make(chan struct{}),
	}
}

// ensureReady blocks the first caller (up to initTimeout) while a warm-up
// embed call confirms the backend is reachable; later callers return
// immediately once that has happened once.
func (e *Embedder) ensureReady(ctx context.Context) error {
	started := false
	e.readyOnce.Do(func() {
		started = true
		go func() {
			_, err := e.backend.Embed(context.Background(), "warmup")
			e.readyErr = err
			close(e.ready)
		}()
	})
	if !started {
		select {
		case <-e.ready:
			return e.readyErr
		default:
		}
	}

	select {
	case <-e.ready:
		return e.readyErr
	case <-time.After(initTimeout):
		return errs.LLMUnavailable("embedder", fmt.Errorf("model did not become ready within %s", initTimeout))
	case <-ctx.Done():
		return errs.Cancelled
	}
}

func (e *Embedder) cacheKey(jobID string) string {
	return jobID + "|" + e.modelVersion
}

// Embed vectorizes a single cache key/text pair. jobID may be empty for
// ad-hoc text (e.g. a user profile) that should not be cached.
func (e *Embedder) Embed(ctx context.Context, jobID, text string) ([]float32, error) {
	if err := e.ensureReady(ctx); err != nil {
		return nil, err
	}

	if jobID != "" {
		e.mu.RLock()
		if v, ok := e.cache[e.cacheKey(jobID)]; ok {
			e.mu.RUnlock()
			return v, nil
		}
		e.mu.RUnlock()
	}

	v, err := e.backend.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if jobID != "" {
		e.mu.Lock()
		e.cache[e.cacheKey(jobID)] = v
		e.mu.Unlock()
	}
	return v, nil
}

// EmbedItem pairs a cache key with the text to embed, for batch calls.
type EmbedItem struct {
	JobID string
	Text  string
}

// EmbedBatch vectorizes each item, serving cached entries without a
// backend call and only sending the cache misses upstream.
func (e *Embedder) EmbedBatch(ctx context.Context, items []EmbedItem) ([][]float32, error) {
	if err := e.ensureReady(ctx); err != nil {
		return nil, err
	}

	out := make([][]float32, len(items))
	var missIdx []int
	var missTexts []string

	e.mu.RLock()
	for i, item := range items {
		if v, ok := e.cache[e.cacheKey(item.JobID)]; ok {
			out[i] = v
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, item.Text)
		}
	}
	e.mu.RUnlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.backend.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	for i, idx := range missIdx {
		out[idx] = vecs[i]
		if items[idx].JobID != "" {
			e.cache[e.cacheKey(items[idx].JobID)] = vecs[i]
		}
	}
	e.mu.Unlock()

	return out, nil
}
