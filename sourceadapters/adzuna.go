package sourceadapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/myjobmatch/matchengine/errs"
	"github.com/myjobmatch/matchengine/utils"
	"github.com/myjobmatch/matchengine/models"
)

// AdzunaAdapter queries the Adzuna job search API, the teacher's peer for
// a structured JSON catalog (as opposed to the PSE-scraped sources).
type AdzunaAdapter struct {
	appID   string
	appKey  string
	client  *http.Client
	limiter *rate.Limiter
	policy  QuotaPolicy
}

func NewAdzunaAdapter(appID, appKey string, httpTimeout time.Duration) *AdzunaAdapter {
	policy := QuotaPolicy{
		RequestsPerPeriod:    250,
		Period:               24 * time.Hour,
		ResultsPerRequestMax: 50,
	}
	return &AdzunaAdapter{
		appID:   appID,
		appKey:  appKey,
		client:  utils.NewHTTPClient(httpTimeout),
		limiter: newLimiter(policy),
		policy:  policy,
	}
}

func (a *AdzunaAdapter) Name() string     { return "adzuna" }
func (a *AdzunaAdapter) Quota() QuotaPolicy { return a.policy }

type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
}

type adzunaResult struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	RedirectURL string  `json:"redirect_url"`
	Created     string  `json:"created"`
	SalaryMin   float64 `json:"salary_min"`
	SalaryMax   float64 `json:"salary_max"`
	Company     struct {
		DisplayName string `json:"display_name"`
	} `json:"company"`
	Location struct {
		DisplayName string `json:"display_name"`
	} `json:"location"`
}

func (a *AdzunaAdapter) Search(ctx context.Context, criteria SearchCriteria) ([]models.RawJob, int, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, 0, errs.Cancelled
		}
		return nil, 0, &SourceError{Source: a.Name(), Kind: SourceErrorRateLimit, Message: "rate limiter wait failed"}
	}

	country := criteria.CountryCode
	if country == "" {
		country = "gb"
	}
	maxResults := criteria.MaxResults
	if maxResults <= 0 || maxResults > a.policy.ResultsPerRequestMax {
		maxResults = a.policy.ResultsPerRequestMax
	}
	criteria.ResolvedPostedWithinHours = roundToAdzunaWindow(criteria.PostedWithinHours)

	reqURL := fmt.Sprintf("https://api.adzuna.com/v1/api/jobs/%s/search/1", country)
	params := url.Values{}
	params.Set("app_id", a.appID)
	params.Set("app_key", a.appKey)
	params.Set("what", criteria.Keyword)
	params.Set("where", criteria.Location)
	params.Set("results_per_page", strconv.Itoa(maxResults))
	params.Set("max_days_old", strconv.Itoa(criteria.ResolvedPostedWithinHours/24+1))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: "bad request", Cause: err}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, &SourceError{Source: a.Name(), Kind: SourceErrorTransient, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorRateLimit, Message: "upstream rate limited"}
	}
	if resp.StatusCode >= 500 {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorTransient, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(body))}
	}

	var parsed adzunaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: "schema mismatch", Cause: err}
	}

	jobs := make([]models.RawJob, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		posted, _ := time.Parse(time.RFC3339, r.Created)
		jobs = append(jobs, models.RawJob{
			ExternalID:  r.ID,
			Title:       r.Title,
			Company:     r.Company.DisplayName,
			Location:    r.Location.DisplayName,
			CountryCode: country,
			Description: r.Description,
			URL:         r.RedirectURL,
			PostedDate:  posted,
		})
	}

	return FilterByCountry(jobs, criteria.CountryCode), 1, nil
}

// roundToAdzunaWindow rounds an hour window to Adzuna's day-granular
// max_days_old parameter, since Adzuna only accepts whole days. Search
// stores the result on its own copy of the criteria; it is not passed
// back to the caller.
func roundToAdzunaWindow(hours int) int {
	if hours <= 0 {
		return 24
	}
	days := (hours + 23) / 24
	return days * 24
}
