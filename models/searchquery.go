package models

import "time"

// UserSearchQuery is one user-registered (keywords, location, country)
// tuple that the collector scheduler and backfill planner sweep against
// source adapters on the user's behalf.
type UserSearchQuery struct {
	UserSearchQueryID uint `gorm:"primaryKey" json:"user_search_query_id"`

	UserID      string `gorm:"index;not null" json:"user_id"`
	Keywords    string `gorm:"not null" json:"keywords"`
	Location    string `json:"location"`
	CountryCode string `gorm:"not null" json:"country_code"`

	CreatedAt time.Time `json:"-"`
}

func (UserSearchQuery) TableName() string { return "user_search_queries" }

// CombinationKey is the canonical (keywords, location, country) identity
// used to dedup global collection work across users who registered the
// same search: the scheduler fetches per combination, not per user.
func (q UserSearchQuery) CombinationKey() string {
	return q.Keywords + "|" + q.Location + "|" + q.CountryCode
}
