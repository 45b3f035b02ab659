package matching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/myjobmatch/matchengine/errs"
	"github.com/myjobmatch/matchengine/logging"
	"github.com/myjobmatch/matchengine/models"
	"github.com/myjobmatch/matchengine/store"
)

var log = logging.Component("matching")

// Store is the subset of store.Store the Matching Engine depends on.
type Store interface {
	FindJobsForUser(ctx context.Context, userID string, filter store.JobFilter, pageSize int, visit func([]models.Job) (cont bool, err error)) error
	UpsertUserJobMatch(ctx context.Context, row models.UserJobMatch) error
	AnalyzedJobIDs(ctx context.Context, userID string, jobIDs []uint) (map[uint]bool, error)
}

// Embedder is the subset of embedding.Embedder the engine depends on.
type Embedder interface {
	Embed(ctx context.Context, jobID, text string) ([]float32, error)
}

// Broker is the subset of progress.Broker the engine depends on.
type Broker interface {
	Set(userID string, event models.ProgressEvent)
}

// Options configure one RunMatching invocation.
type Options struct {
	Locations        []string
	WorkArrangements []models.WorkArrangement
	Since            time.Time
	ForceReanalyze   bool
}

// Engine orchestrates the per-user two-stage matching pipeline. One
// Engine instance is shared process-wide; per-user state lives in the
// runs map guarded by mu, giving the guarantee that only one run per
// userID may be active at a time.
type Engine struct {
	store    Store
	embedder Embedder
	analyzer *LLMAnalyzer
	matcher  *SemanticMatcher
	broker   Broker

	embedWorkers int
	llmWorkers   int
	llmThreshold int
	chunkMax     int
	llmLimiter   *rate.Limiter

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	cancel context.CancelFunc
}

func NewEngine(store Store, embedder Embedder, analyzer *LLMAnalyzer, matcher *SemanticMatcher, broker Broker, embedWorkers, llmWorkers, llmThreshold, chunkMax int, llmRPS float64) *Engine {
	return &Engine{
		store:        store,
		embedder:     embedder,
		analyzer:     analyzer,
		matcher:      matcher,
		broker:       broker,
		embedWorkers: embedWorkers,
		llmWorkers:   llmWorkers,
		llmThreshold: llmThreshold,
		chunkMax:     chunkMax,
		llmLimiter:   rate.NewLimiter(rate.Limit(llmRPS), llmWorkers),
		runs:         make(map[string]*run),
	}
}

// RunMatching starts (or no-ops onto) a matching run for userID. A second
// call while a run is already active returns immediately without
// starting a new goroutine.
func (e *Engine) RunMatching(ctx context.Context, userID string, profile models.CVProfile, opts Options) {
	e.mu.Lock()
	if _, active := e.runs[userID]; active {
		e.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	e.runs[userID] = &run{cancel: cancel}
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.runs, userID)
			e.mu.Unlock()
		}()
		e.execute(runCtx, userID, profile, opts)
	}()
}

// Cancel transitions the named user's run to cancellation at the next
// sub-step boundary. In-flight LLM calls are allowed to finish so their
// spend isn't wasted; their results are still persisted.
func (e *Engine) Cancel(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runs[userID]; ok {
		r.cancel()
	}
}

// Progress band boundaries for the run as a whole. Chunk work (semantic
// filtering through analyzing) is spread evenly across
// [progressChunksStart, progressChunksEnd); chunkProgress subdivides each
// chunk's slice of that band across its four sub-steps so progress only
// ever moves forward within a run.
const (
	progressInitializing = 0
	progressLoadingModel = 3
	progressFetchingJobs = 7
	progressChunksStart  = 10
	progressChunksEnd    = 95
	progressDone         = 100
)

// chunkProgress returns the progress value for sub-step subStep (0 =
// embedding started, 1 = matches saved, 2 = analysis started, 3 = chunk
// complete) of chunk i out of total chunks.
func chunkProgress(i, total, subStep int) int {
	if total == 0 {
		return progressChunksEnd
	}
	span := progressChunksEnd - progressChunksStart
	start := progressChunksStart + span*i/total
	end := progressChunksStart + span*(i+1)/total
	if end < start {
		end = start
	}
	switch subStep {
	case 0:
		return start
	case 1:
		return start + (end-start)/3
	case 2:
		return start + 2*(end-start)/3
	default:
		return end
	}
}

func (e *Engine) emit(userID string, stage models.MatchingStage, status models.MatchingStatus, progress, chunksTotal, chunksCompleted, jobsConsidered, jobsAnalyzed, matchesSaved int, message, errMsg string) {
	e.broker.Set(userID, models.ProgressEvent{
		UserID:          userID,
		Stage:           stage,
		Status:          status,
		Progress:        progress,
		ChunksTotal:     chunksTotal,
		ChunksCompleted: chunksCompleted,
		JobsConsidered:  jobsConsidered,
		JobsAnalyzed:    jobsAnalyzed,
		MatchesSaved:    matchesSaved,
		Message:         message,
		Error:           errMsg,
		UpdatedAt:       time.Now(),
	})
}

func (e *Engine) execute(ctx context.Context, userID string, profile models.CVProfile, opts Options) {
	started := time.Now()
	e.emit(userID, models.StageInitializing, models.StatusRunning, progressInitializing, 0, 0, 0, 0, 0, "starting matching run", "")

	e.emit(userID, models.StageLoadingModel, models.StatusRunning, progressLoadingModel, 0, 0, 0, 0, 0, "warming embedder", "")
	userVector, err := e.embedder.Embed(ctx, "", profile.EmbeddingText)
	if err != nil {
		e.fail(userID, progressLoadingModel, 0, 0, 0, 0, 0, err)
		return
	}

	e.emit(userID, models.StageFetchingJobs, models.StatusRunning, progressFetchingJobs, 0, 0, 0, 0, 0, "fetching candidate jobs", "")
	chunks, err := e.collectChunks(ctx, userID, opts)
	if err != nil {
		e.fail(userID, progressFetchingJobs, 0, 0, 0, 0, 0, err)
		return
	}

	totalChunks := len(chunks)
	matchesSaved := 0
	jobsConsidered := 0
	jobsAnalyzed := 0
	cancelled := func(progress, chunksCompleted int) {
		e.emit(userID, models.StageError, models.StatusCancelled, progress, totalChunks, chunksCompleted, jobsConsidered, jobsAnalyzed, matchesSaved, "cancelled", "cancelled")
	}

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			e.emit(userID, models.StageError, models.StatusCancelled, chunkProgress(i, totalChunks, 0), totalChunks, i, jobsConsidered, jobsAnalyzed, matchesSaved, "cancelled", "cancelled")
			return
		}

		jobsConsidered += len(chunk)

		e.emit(userID, models.StageSemanticFiltering, models.StatusRunning, chunkProgress(i, totalChunks, 0), totalChunks, i, jobsConsidered, jobsAnalyzed, matchesSaved, fmt.Sprintf("embedding chunk %d/%d", i+1, totalChunks), "")
		jobVectors := e.embedChunk(ctx, chunk)

		scored := e.matcher.Filter(userVector, chunk, jobVectors, opts.Locations, opts.WorkArrangements)
		if ctx.Err() != nil {
			cancelled(chunkProgress(i, totalChunks, 0), i)
			return
		}

		e.emit(userID, models.StageSavingMatches, models.StatusRunning, chunkProgress(i, totalChunks, 1), totalChunks, i, jobsConsidered, jobsAnalyzed, matchesSaved, "saving semantic matches", "")
		for _, sj := range scored {
			if err := e.store.UpsertUserJobMatch(ctx, models.UserJobMatch{
				UserID:        userID,
				JobID:         sj.Job.JobID,
				SemanticScore: sj.Score,
				Status:        models.MatchStatusNew,
			}); err != nil {
				if ctx.Err() != nil {
					cancelled(chunkProgress(i, totalChunks, 1), i)
					return
				}
				e.fail(userID, chunkProgress(i, totalChunks, 1), totalChunks, i, jobsConsidered, jobsAnalyzed, matchesSaved, errs.Store("matching", err))
				return
			}
			matchesSaved++
		}
		if ctx.Err() != nil {
			cancelled(chunkProgress(i, totalChunks, 1), i)
			return
		}

		k := TopK(len(chunk))
		candidates := candidatesAboveThreshold(scored, e.llmThreshold, k)

		var alreadyAnalyzed map[uint]bool
		if !opts.ForceReanalyze {
			ids := make([]uint, len(candidates))
			for i, c := range candidates {
				ids[i] = c.Job.JobID
			}
			alreadyAnalyzed, err = e.store.AnalyzedJobIDs(ctx, userID, ids)
			if err != nil {
				e.fail(userID, chunkProgress(i, totalChunks, 1), totalChunks, i, jobsConsidered, jobsAnalyzed, matchesSaved, errs.Store("matching", err))
				return
			}
		}

		e.emit(userID, models.StageAnalyzing, models.StatusRunning, chunkProgress(i, totalChunks, 2), totalChunks, i, jobsConsidered, jobsAnalyzed, matchesSaved, fmt.Sprintf("analyzing top %d of chunk %d", len(candidates), i+1), "")
		jobsAnalyzed += e.analyzeChunk(ctx, userID, profile, candidates, alreadyAnalyzed)

		e.emit(userID, models.StageAnalyzing, models.StatusRunning, chunkProgress(i, totalChunks, 3), totalChunks, i+1, jobsConsidered, jobsAnalyzed, matchesSaved, fmt.Sprintf("chunk %d/%d complete", i+1, totalChunks), "")
	}

	log.Info().Str("user_id", userID).Dur("elapsed", time.Since(started)).Int("matches_saved", matchesSaved).Msg("matching run completed")
	e.emit(userID, models.StageDone, models.StatusCompleted, progressDone, totalChunks, totalChunks, jobsConsidered, jobsAnalyzed, matchesSaved, "done", "")
}

// fail reports a terminal failure, carrying forward the run's accumulated
// counters and progress so far rather than resetting them, since progress
// must never move backward within a run.
func (e *Engine) fail(userID string, progress, chunksTotal, chunksCompleted, jobsConsidered, jobsAnalyzed, matchesSaved int, err error) {
	logging.LogError(log, logging.Fields{UserID: userID, Component: "matching"}, err, "matching run failed")
	e.emit(userID, models.StageError, models.StatusFailed, progress, chunksTotal, chunksCompleted, jobsConsidered, jobsAnalyzed, matchesSaved, "", err.Error())
}

// collectChunks pages candidate jobs via the store and partitions them
// by discovered_date into day-sized chunks, newest first.
func (e *Engine) collectChunks(ctx context.Context, userID string, opts Options) ([][]models.Job, error) {
	byDay := make(map[string][]models.Job)
	var order []string

	filter := store.JobFilter{Since: opts.Since, Locations: opts.Locations, WorkArrangements: opts.WorkArrangements}
	err := e.store.FindJobsForUser(ctx, userID, filter, 200, func(page []models.Job) (bool, error) {
		for _, job := range page {
			day := job.DiscoveredDate.Format("2006-01-02")
			if _, ok := byDay[day]; !ok {
				order = append(order, day)
			}
			byDay[day] = append(byDay[day], job)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	sortStringsDesc(order)

	var chunks [][]models.Job
	for _, day := range order {
		jobs := byDay[day]
		for start := 0; start < len(jobs); start += e.chunkMax {
			end := start + e.chunkMax
			if end > len(jobs) {
				end = len(jobs)
			}
			chunks = append(chunks, jobs[start:end])
		}
	}
	return chunks, nil
}

func sortStringsDesc(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] < s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// embedChunk embeds every job in a chunk with up to embedWorkers
// goroutines bounded by a semaphore, the teacher's fetchPagesConcurrently
// pattern applied to embedding instead of HTTP fetches.
func (e *Engine) embedChunk(ctx context.Context, chunk []models.Job) map[uint][]float32 {
	out := make(map[uint][]float32, len(chunk))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.embedWorkers)

	for _, job := range chunk {
		wg.Add(1)
		go func(j models.Job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			text := j.SemanticSummary
			if text == "" {
				text = j.Title + " " + j.Description
			}
			vec, err := e.embedder.Embed(ctx, fmt.Sprint(j.JobID), text)
			if err != nil {
				log.Warn().Uint("job_id", j.JobID).Err(err).Msg("embedding failed, job dropped from this run")
				return
			}
			mu.Lock()
			out[j.JobID] = vec
			mu.Unlock()
		}(job)
	}
	wg.Wait()
	return out
}

// analyzeChunk runs the LLM Analyzer over candidates with up to
// llmWorkers goroutines sharing e.llmLimiter's token bucket. Already-
// analyzed rows are skipped unless alreadyAnalyzed is nil (which signals
// opts.force_reanalyze was set). Returns the number of candidates actually
// dispatched to the analyzer.
func (e *Engine) analyzeChunk(ctx context.Context, userID string, profile models.CVProfile, candidates []ScoredJob, alreadyAnalyzed map[uint]bool) int {
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.llmWorkers)
	dispatched := 0

	for _, c := range candidates {
		if alreadyAnalyzed != nil && alreadyAnalyzed[c.Job.JobID] {
			continue
		}
		dispatched++
		wg.Add(1)
		go func(sj ScoredJob) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := e.llmLimiter.Wait(ctx); err != nil {
				return
			}

			outcome := retryAnalysis(ctx, e.analyzer, profile, sj.Job)
			row := models.UserJobMatch{
				UserID:        userID,
				JobID:         sj.Job.JobID,
				SemanticScore: sj.Score,
			}
			if outcome.Available {
				score := outcome.Score
				row.ClaudeScore = &score
				row.Priority = outcome.Priority
				row.MatchReasoning = outcome.Reasoning
				row.KeyAlignments = models.StringSet(outcome.Alignments)
				row.PotentialGaps = models.StringSet(outcome.Gaps)
			} else {
				row.MatchReasoning = outcome.Reasoning
			}
			if err := e.store.UpsertUserJobMatch(context.WithoutCancel(ctx), row); err != nil {
				log.Warn().Uint("job_id", sj.Job.JobID).Err(err).Msg("failed to save analysis result")
			}
		}(c)
	}
	wg.Wait()
	return dispatched
}

// retryAnalysis runs the analyzer up to 3 times with exponential backoff
// (base 1s, cap 30s), returning the first successful outcome or the
// analyzer's own "unavailable" outcome if all fail. Analyze reports every
// failure the same way, so a response that still fails to parse after the
// client's repair pass is retried just like a transient failure. Each
// attempt runs on a context the run's cancellation does not reach, so an
// attempt already in flight completes; cancellation only cuts the backoff
// wait short.
func retryAnalysis(ctx context.Context, analyzer *LLMAnalyzer, profile models.CVProfile, job models.Job) AnalysisOutcome {
	delay := time.Second
	var outcome AnalysisOutcome
	for attempt := 0; attempt < 3; attempt++ {
		outcome = analyzer.Analyze(context.WithoutCancel(ctx), profile, job)
		if outcome.Available {
			return outcome
		}
		if attempt < 2 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return outcome
			}
			delay *= 2
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
		}
	}
	return outcome
}

func candidatesAboveThreshold(scored []ScoredJob, threshold, k int) []ScoredJob {
	var above []ScoredJob
	for _, sj := range scored {
		if sj.Score >= threshold {
			above = append(above, sj)
		}
	}
	if len(above) > k {
		above = above[:k]
	}
	return above
}
