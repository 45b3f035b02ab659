package sourceadapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/myjobmatch/matchengine/errs"
	"github.com/myjobmatch/matchengine/utils"
	"github.com/myjobmatch/matchengine/models"
)

// ActiveJobsAdapter queries the ActiveJobs DB RapidAPI catalog.
type ActiveJobsAdapter struct {
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	policy  QuotaPolicy
}

func NewActiveJobsAdapter(apiKey string, httpTimeout time.Duration) *ActiveJobsAdapter {
	policy := QuotaPolicy{
		RequestsPerPeriod:    100,
		Period:               24 * time.Hour,
		ResultsPerRequestMax: 100,
	}
	return &ActiveJobsAdapter{
		apiKey:  apiKey,
		client:  utils.NewHTTPClient(httpTimeout),
		limiter: newLimiter(policy),
		policy:  policy,
	}
}

func (a *ActiveJobsAdapter) Name() string       { return "activejobs" }
func (a *ActiveJobsAdapter) Quota() QuotaPolicy { return a.policy }

type activeJobsResult struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	OrganizationName string `json:"organization"`
	LocationsRaw    string `json:"locations_raw"`
	Description     string `json:"description_text"`
	URL             string `json:"url"`
	DatePosted      string `json:"date_posted"`
	CountriesDerived []string `json:"countries_derived"`
}

func (a *ActiveJobsAdapter) Search(ctx context.Context, criteria SearchCriteria) ([]models.RawJob, int, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, 0, errs.Cancelled
		}
		return nil, 0, &SourceError{Source: a.Name(), Kind: SourceErrorRateLimit, Message: "rate limiter wait failed"}
	}

	criteria.ResolvedPostedWithinHours = roundToDayWindow(criteria.PostedWithinHours)
	maxResults := criteria.MaxResults
	if maxResults <= 0 || maxResults > a.policy.ResultsPerRequestMax {
		maxResults = a.policy.ResultsPerRequestMax
	}

	params := url.Values{}
	params.Set("title_filter", criteria.Keyword)
	params.Set("location_filter", criteria.Location)
	params.Set("limit", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://active-jobs-db.p.rapidapi.com/active-ats-7d?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: "bad request", Cause: err}
	}
	req.Header.Set("x-rapidapi-key", a.apiKey)
	req.Header.Set("x-rapidapi-host", "active-jobs-db.p.rapidapi.com")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, &SourceError{Source: a.Name(), Kind: SourceErrorTransient, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorQuota, Message: "quota exhausted"}
	}
	if resp.StatusCode >= 500 {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorTransient, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var results []activeJobsResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: "schema mismatch", Cause: err}
	}

	jobs := make([]models.RawJob, 0, len(results))
	for _, r := range results {
		posted, _ := time.Parse(time.RFC3339, r.DatePosted)
		country := ""
		if len(r.CountriesDerived) > 0 {
			country = r.CountriesDerived[0]
		}
		id := r.ID
		if id == "" {
			id = ExternalIDFromContent(r.Title, r.OrganizationName, r.LocationsRaw, posted)
		}
		jobs = append(jobs, models.RawJob{
			ExternalID:  id,
			Title:       r.Title,
			Company:     r.OrganizationName,
			Location:    r.LocationsRaw,
			CountryCode: country,
			Description: r.Description,
			URL:         r.URL,
			PostedDate:  posted,
		})
	}

	return FilterByCountry(jobs, criteria.CountryCode), 1, nil
}

func roundToDayWindow(hours int) int {
	if hours <= 0 {
		return 24
	}
	return ((hours + 23) / 24) * 24
}
