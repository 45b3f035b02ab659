package sourceadapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/myjobmatch/matchengine/errs"
	"github.com/myjobmatch/matchengine/utils"
	"github.com/myjobmatch/matchengine/models"
)

// JSearchAdapter queries the JSearch RapidAPI catalog, which aggregates
// Google for Jobs results.
type JSearchAdapter struct {
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	policy  QuotaPolicy
}

func NewJSearchAdapter(apiKey string, httpTimeout time.Duration) *JSearchAdapter {
	policy := QuotaPolicy{
		RequestsPerPeriod:    200,
		Period:               30 * 24 * time.Hour,
		ResultsPerRequestMax: 10,
	}
	return &JSearchAdapter{
		apiKey:  apiKey,
		client:  utils.NewHTTPClient(httpTimeout),
		limiter: newLimiter(policy),
		policy:  policy,
	}
}

func (a *JSearchAdapter) Name() string       { return "jsearch" }
func (a *JSearchAdapter) Quota() QuotaPolicy { return a.policy }

type jsearchResponse struct {
	Data []jsearchJob `json:"data"`
}

type jsearchJob struct {
	JobID         string `json:"job_id"`
	JobTitle      string `json:"job_title"`
	EmployerName  string `json:"employer_name"`
	JobCity       string `json:"job_city"`
	JobCountry    string `json:"job_country"`
	JobDescription string `json:"job_description"`
	JobApplyLink  string `json:"job_apply_link"`
	JobPostedAtTimestamp int64 `json:"job_posted_at_timestamp"`
}

func (a *JSearchAdapter) Search(ctx context.Context, criteria SearchCriteria) ([]models.RawJob, int, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, 0, errs.Cancelled
		}
		return nil, 0, &SourceError{Source: a.Name(), Kind: SourceErrorRateLimit, Message: "rate limiter wait failed"}
	}

	criteria.ResolvedPostedWithinHours = roundToJSearchWindow(criteria.PostedWithinHours)

	params := url.Values{}
	params.Set("query", criteria.Keyword+" in "+criteria.Location)
	params.Set("date_posted", jsearchDatePosted(criteria.ResolvedPostedWithinHours))
	params.Set("num_pages", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://jsearch.p.rapidapi.com/search?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: "bad request", Cause: err}
	}
	req.Header.Set("x-rapidapi-key", a.apiKey)
	req.Header.Set("x-rapidapi-host", "jsearch.p.rapidapi.com")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, &SourceError{Source: a.Name(), Kind: SourceErrorTransient, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorQuota, Message: "quota exhausted"}
	}
	if resp.StatusCode >= 500 {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorTransient, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var parsed jsearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: "schema mismatch", Cause: err}
	}

	jobs := make([]models.RawJob, 0, len(parsed.Data))
	for _, r := range parsed.Data {
		jobs = append(jobs, models.RawJob{
			ExternalID:  r.JobID,
			Title:       r.JobTitle,
			Company:     r.EmployerName,
			Location:    r.JobCity,
			CountryCode: r.JobCountry,
			Description: r.JobDescription,
			URL:         r.JobApplyLink,
			PostedDate:  time.Unix(r.JobPostedAtTimestamp, 0),
		})
	}

	return FilterByCountry(jobs, criteria.CountryCode), 1, nil
}

func roundToJSearchWindow(hours int) int {
	switch {
	case hours <= 24:
		return 24
	case hours <= 72:
		return 72
	case hours <= 24*7:
		return 24 * 7
	case hours <= 24*30:
		return 24 * 30
	default:
		return 0
	}
}

func jsearchDatePosted(hours int) string {
	switch hours {
	case 24:
		return "today"
	case 72:
		return "3days"
	case 24 * 7:
		return "week"
	case 24 * 30:
		return "month"
	default:
		return "all"
	}
}
