package models

import "time"

// MatchingStage is one state in the per-user matching run state machine:
// IDLE -> INITIALIZING -> LOADING_MODEL -> FETCHING_JOBS ->
// SEMANTIC_FILTERING -> SAVING_MATCHES -> ANALYZING -> DONE|ERROR.
type MatchingStage string

const (
	StageIdle              MatchingStage = "IDLE"
	StageInitializing      MatchingStage = "INITIALIZING"
	StageLoadingModel      MatchingStage = "LOADING_MODEL"
	StageFetchingJobs      MatchingStage = "FETCHING_JOBS"
	StageSemanticFiltering MatchingStage = "SEMANTIC_FILTERING"
	StageSavingMatches     MatchingStage = "SAVING_MATCHES"
	StageAnalyzing         MatchingStage = "ANALYZING"
	StageDone              MatchingStage = "DONE"
	StageError             MatchingStage = "ERROR"
)

// MatchingStatus is the coarse run status surfaced alongside the stage.
type MatchingStatus string

const (
	StatusRunning   MatchingStatus = "running"
	StatusCompleted MatchingStatus = "completed"
	StatusFailed    MatchingStatus = "failed"
	StatusCancelled MatchingStatus = "cancelled"
)

// ProgressEvent is the shape returned by GetMatchingStatus and held by the
// progress broker. Chunk counters stay at zero until the first chunk
// enters SEMANTIC_FILTERING. Progress is a 0-100 summary of
// overall run completion and must never decrease within a single run.
type ProgressEvent struct {
	UserID   string         `json:"user_id"`
	Stage    MatchingStage  `json:"stage"`
	Status   MatchingStatus `json:"status"`
	Progress int            `json:"progress"`

	ChunksTotal     int `json:"chunks_total"`
	ChunksCompleted int `json:"chunks_completed"`
	JobsConsidered  int `json:"jobs_considered"`
	JobsAnalyzed    int `json:"jobs_analyzed"`
	MatchesSaved    int `json:"matches_saved"`

	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the run has reached a stage it will not leave.
func (p ProgressEvent) Terminal() bool {
	return p.Stage == StageDone || p.Stage == StageError
}
