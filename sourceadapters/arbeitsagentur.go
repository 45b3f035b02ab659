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

// ArbeitsagenturAdapter queries the German federal employment agency's
// Jobsuche API. It only ever returns German ("de") results, so the
// client-side country filter is effectively a no-op here but is still
// applied for consistency.
type ArbeitsagenturAdapter struct {
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	policy  QuotaPolicy
}

func NewArbeitsagenturAdapter(apiKey string, httpTimeout time.Duration) *ArbeitsagenturAdapter {
	policy := QuotaPolicy{
		RequestsPerPeriod:    600,
		Period:               time.Hour,
		ResultsPerRequestMax: 100,
	}
	return &ArbeitsagenturAdapter{
		apiKey:  apiKey,
		client:  utils.NewHTTPClient(httpTimeout),
		limiter: newLimiter(policy),
		policy:  policy,
	}
}

func (a *ArbeitsagenturAdapter) Name() string       { return "arbeitsagentur" }
func (a *ArbeitsagenturAdapter) Quota() QuotaPolicy { return a.policy }

type arbeitsagenturResponse struct {
	Stellenangebote []arbeitsagenturJob `json:"stellenangebote"`
}

type arbeitsagenturJob struct {
	RefNr       string `json:"refnr"`
	Titel       string `json:"titel"`
	Arbeitgeber string `json:"arbeitgeber"`
	Ort         string `json:"arbeitsort"`
	Eintrittsdatum string `json:"aktuelleVeroeffentlichungsdatum"`
}

func (a *ArbeitsagenturAdapter) Search(ctx context.Context, criteria SearchCriteria) ([]models.RawJob, int, error) {
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
	params.Set("was", criteria.Keyword)
	params.Set("wo", criteria.Location)
	params.Set("veroeffentlichtseit", strconv.Itoa(criteria.ResolvedPostedWithinHours/24))
	params.Set("size", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://rest.arbeitsagentur.de/jobboerse/jobsuche-service/pc/v4/jobs?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: "bad request", Cause: err}
	}
	req.Header.Set("X-API-Key", a.apiKey)

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
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var parsed arbeitsagenturResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 1, &SourceError{Source: a.Name(), Kind: SourceErrorPermanent, Message: "schema mismatch", Cause: err}
	}

	jobs := make([]models.RawJob, 0, len(parsed.Stellenangebote))
	for _, r := range parsed.Stellenangebote {
		posted, _ := time.Parse("2006-01-02", r.Eintrittsdatum)
		jobs = append(jobs, models.RawJob{
			ExternalID:  r.RefNr,
			Title:       r.Titel,
			Company:     r.Arbeitgeber,
			Location:    r.Ort,
			CountryCode: "de",
			URL:         "https://www.arbeitsagentur.de/jobsuche/jobdetail/" + r.RefNr,
			PostedDate:  posted,
		})
	}

	return FilterByCountry(jobs, criteria.CountryCode), 1, nil
}
