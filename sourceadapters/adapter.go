// Package sourceadapters implements one client per external job catalog,
// each normalizing upstream results into models.RawJob and declaring its
// own quota policy and rate limit, grounded on the teacher's
// tools.SearchWebTool (context-aware http.Client, query building,
// paginated fetch-until-exhausted loop).
package sourceadapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"golang.org/x/time/rate"

	"github.com/myjobmatch/matchengine/models"
)

// SearchCriteria is the explicit request record every adapter accepts
// rather than ad-hoc positional parameters.
type SearchCriteria struct {
	Keyword             string
	Location            string
	CountryCode         string
	RadiusKM            int
	PostedWithinHours    int
	MaxResults           int
	WorkArrangementHint  []models.WorkArrangement

	// ResolvedPostedWithinHours is set by the adapter to the nearest
	// window its upstream supports. Search receives the criteria by value
	// and does not return this field, so the caller does not see the
	// resolved value.
	ResolvedPostedWithinHours int
}

// QuotaPolicy describes an adapter's rate and volume limits so the
// Collector Scheduler can decide whether to call it this tick.
type QuotaPolicy struct {
	RequestsPerPeriod    int
	Period               time.Duration
	ResultsPerRequestMax int
	RemainingKnown       bool
	Remaining            int
}

// SourceErrorKind classifies adapter failures for retry decisions.
type SourceErrorKind string

const (
	SourceErrorTransient SourceErrorKind = "transient"
	SourceErrorRateLimit SourceErrorKind = "rate_limited"
	SourceErrorQuota     SourceErrorKind = "quota_exhausted"
	SourceErrorPermanent SourceErrorKind = "permanent"
)

// SourceError is the typed failure every adapter returns instead of a bare
// error, so the scheduler can branch on Kind/Retryable without string
// matching.
type SourceError struct {
	Source  string
	Kind    SourceErrorKind
	Message string
	Cause   error
}

func (e *SourceError) Error() string {
	if e.Cause != nil {
		return e.Source + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Source + ": " + e.Message
}

func (e *SourceError) Unwrap() error { return e.Cause }

func (e *SourceError) Retryable() bool {
	return e.Kind == SourceErrorTransient
}

// Adapter is implemented by every external job catalog client.
type Adapter interface {
	// Name identifies the adapter for quota bookkeeping and logging.
	Name() string
	// Search fetches results for criteria, returning how much quota was
	// consumed so the caller can update its QuotaPolicy bookkeeping.
	Search(ctx context.Context, criteria SearchCriteria) (results []models.RawJob, quotaUsed int, err error)
	// Quota returns the adapter's current policy snapshot.
	Quota() QuotaPolicy
}

// ExternalIDFromContent mirrors store.ExternalIDFromContent so an adapter
// can generate a stable id without importing the store package directly,
// for upstreams that expose no identifier of their own.
func ExternalIDFromContent(title, company, location string, posted time.Time) string {
	sum := sha256.Sum256([]byte(title + "|" + company + "|" + location + "|" + posted.Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])[:32]
}

// FilterByCountry drops results whose country doesn't match the
// requested one, for adapters whose upstream search ignores country.
// Results with no country code are kept.
func FilterByCountry(jobs []models.RawJob, countryCode string) []models.RawJob {
	if countryCode == "" {
		return jobs
	}
	out := jobs[:0:0]
	for _, j := range jobs {
		if j.CountryCode == "" || j.CountryCode == countryCode {
			out = append(out, j)
		}
	}
	return out
}

// newLimiter builds a token-bucket limiter from a QuotaPolicy's rate,
// shared by every adapter's per-adapter quota bucket.
func newLimiter(p QuotaPolicy) *rate.Limiter {
	if p.RequestsPerPeriod <= 0 || p.Period <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	perSecond := float64(p.RequestsPerPeriod) / p.Period.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), p.RequestsPerPeriod)
}
