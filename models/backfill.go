package models

import "time"

// BackfillTracking records that a (source, combination key) pair has
// already been swept at least once, so the backfill planner only plans
// work for combinations no user has ever triggered collection for.
type BackfillTracking struct {
	BackfillTrackingID uint `gorm:"primaryKey" json:"backfill_tracking_id"`

	Source         string `gorm:"uniqueIndex:idx_source_combination;not null" json:"source"`
	CombinationKey string `gorm:"uniqueIndex:idx_source_combination;not null" json:"combination_key"`

	JobsFound    int       `json:"jobs_found"`
	BackfilledAt time.Time `json:"backfilled_at"`
}

func (BackfillTracking) TableName() string { return "backfill_tracking" }
