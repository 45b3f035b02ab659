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

// WebAdapter searches job-portal pages via Google Programmable Search
// Engine, adapted from the teacher's SearchWebTool: same site-filtered
// query construction, but returning models.RawJob instead of a tool-call
// JSON envelope. It requests only the first page (up to 10 hits) per
// portal site filter and stops early once MaxResults is reached; later
// pages are not fetched. There is no per-job detail fetch or LLM
// extraction step here —
// the Enricher derives structured fields later from the snippet/URL pair.
type WebAdapter struct {
	apiKey   string
	engineID string
	client   *http.Client
	limiter  *rate.Limiter
	policy   QuotaPolicy
}

func NewWebAdapter(apiKey, engineID string, httpTimeout time.Duration) *WebAdapter {
	policy := QuotaPolicy{
		RequestsPerPeriod:    100,
		Period:               24 * time.Hour,
		ResultsPerRequestMax: 10,
	}
	return &WebAdapter{
		apiKey:   apiKey,
		engineID: engineID,
		client:   utils.NewHTTPClient(httpTimeout),
		limiter:  newLimiter(policy),
		policy:   policy,
	}
}

func (a *WebAdapter) Name() string       { return "web" }
func (a *WebAdapter) Quota() QuotaPolicy { return a.policy }

var jobPortalSites = []string{
	"site:linkedin.com/jobs/view",
	"site:indeed.com/viewjob",
	"site:glassdoor.com/job-listing",
}

type pseResponse struct {
	Items []pseItem `json:"items"`
}

type pseItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

func (a *WebAdapter) Search(ctx context.Context, criteria SearchCriteria) ([]models.RawJob, int, error) {
	criteria.ResolvedPostedWithinHours = roundToDayWindow(criteria.PostedWithinHours)
	query := criteria.Keyword
	if criteria.Location != "" {
		query += " " + criteria.Location
	}

	var jobs []models.RawJob
	seen := make(map[string]bool)
	requestsUsed := 0

	for _, siteFilter := range jobPortalSites {
		siteQuery := query + " " + siteFilter
		items, used, err := a.searchPage(ctx, siteQuery, 1, 10)
		requestsUsed += used
		if err != nil {
			if se, ok := err.(*SourceError); ok && se.Kind == SourceErrorQuota {
				return jobs, requestsUsed, err
			}
			continue // partial-batch failure: keep what we already gathered
		}
		for _, item := range items {
			if seen[item.Link] {
				continue
			}
			seen[item.Link] = true
			jobs = append(jobs, models.RawJob{
				ExternalID:  ExternalIDFromContent(item.Title, "", item.Link, time.Time{}),
				Title:       item.Title,
				Description: item.Snippet,
				URL:         item.Link,
				CountryCode: criteria.CountryCode,
				PostedDate:  time.Now(),
			})
		}
		if len(jobs) >= criteria.MaxResults && criteria.MaxResults > 0 {
			break
		}
	}

	return FilterByCountry(jobs, criteria.CountryCode), requestsUsed, nil
}

func (a *WebAdapter) searchPage(ctx context.Context, query string, start, num int) ([]pseItem, int, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, 0, errs.Cancelled
		}
		return nil, 0, &SourceError{Source: a.Name(), Kind: SourceErrorRateLimit, Message: "rate limiter wait failed"}
	}

	params := url.Values{}
	params.Set("key", a.apiKey)
	params.Set("cx", a.engineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(num))
	params.Set("start", strconv.Itoa(start))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://www.googleapis.com/customsearch/v1?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: "bad request", Cause: err}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorTransient, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorQuota, Message: "daily quota exhausted"}
	}
	if resp.StatusCode >= 500 {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorTransient, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(body))}
	}

	var parsed pseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: "schema mismatch", Cause: err}
	}
	return parsed.Items, 1, nil
}
