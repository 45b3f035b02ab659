package models

import "time"

// Priority is derived from claude_score: ≥85 high, ≥65 medium, else low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// PriorityFromScore maps a 0-100 LLM score to its priority band.
func PriorityFromScore(score int) Priority {
	switch {
	case score >= 85:
		return PriorityHigh
	case score >= 65:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// MatchStatus tracks user-driven lifecycle state for a match row. Only the
// user (or an explicit user action) may move status; UpsertUserJobMatch
// must never downgrade it on a re-run.
type MatchStatus string

const (
	MatchStatusNew         MatchStatus = "new"
	MatchStatusViewed      MatchStatus = "viewed"
	MatchStatusShortlisted MatchStatus = "shortlisted"
	MatchStatusApplied     MatchStatus = "applied"
	MatchStatusHidden      MatchStatus = "hidden"
)

// statusRank gives each status a precedence so a conflicting upsert never
// silently reverts user progress (e.g. "shortlisted" back to "new").
var statusRank = map[MatchStatus]int{
	MatchStatusNew:         0,
	MatchStatusViewed:      1,
	MatchStatusShortlisted: 2,
	MatchStatusApplied:     3,
	MatchStatusHidden:      4,
}

// PreferredStatus returns whichever of the two statuses ranks higher, so
// the store can preserve user-managed progress across re-runs.
func PreferredStatus(existing, incoming MatchStatus) MatchStatus {
	if statusRank[incoming] > statusRank[existing] {
		return incoming
	}
	return existing
}

// UserJobMatch is the per-user analysis result row.
type UserJobMatch struct {
	UserJobMatchID uint `gorm:"primaryKey" json:"user_job_match_id"`

	UserID string `gorm:"uniqueIndex:idx_user_job;not null" json:"user_id"`
	JobID  uint   `gorm:"uniqueIndex:idx_user_job;not null" json:"job_id"`
	Job    *Job   `gorm:"foreignKey:JobID" json:"job,omitempty"`

	SemanticScore int  `json:"semantic_score"`
	ClaudeScore   *int `json:"claude_score,omitempty"`

	Priority        Priority    `json:"priority"`
	MatchReasoning  string      `json:"match_reasoning"`
	KeyAlignments   StringSet   `gorm:"serializer:json" json:"key_alignments,omitempty"`
	PotentialGaps   StringSet   `gorm:"serializer:json" json:"potential_gaps,omitempty"`
	Status          MatchStatus `json:"status"`
	MatchedDate     time.Time   `json:"matched_date"`
}

func (UserJobMatch) TableName() string { return "user_job_matches" }

// HasClaudeScore reports whether stage 2 has already run for this row.
func (m UserJobMatch) HasClaudeScore() bool {
	return m.ClaudeScore != nil
}
