// Package utils holds the shared outbound HTTP client every source
// adapter builds from, so TLS floor, connection pooling and the
// catalog's user agent are set in one place instead of five.
package utils

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient builds the HTTP client source adapters use to call
// external job catalogs, tagging every outbound request with a fixed
// user agent and capping idle connections per host.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: UserAgentMiddleware(transport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// UserAgentMiddleware adds a user agent header to requests lacking one.
func UserAgentMiddleware(next http.RoundTripper) http.RoundTripper {
	return &userAgentTransport{next: next}
}

type userAgentTransport struct {
	next http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "myjobmatch-matchengine/1.0 (+collector)")
	}
	return t.next.RoundTrip(req)
}
