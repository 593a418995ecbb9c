// Package fetcher provides the HTTP client the protocol engines use
// for direct provider exchanges.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/layer-3/openid/ports"
)

const (
	// DefaultTimeout is the overall limit for one fetch, including
	// any redirects.
	DefaultTimeout = 20 * time.Second

	// maxRedirects caps redirect following on GET. Providers control
	// their redirect chains; the cap stops a hostile one from leading
	// us around forever.
	maxRedirects = 10

	// maxBodySize caps how much of a response body is read.
	maxBodySize = 1 << 20
)

// HTTPFetcher implements the Fetcher interface over net/http. Only
// http and https URLs are dispatched.
type HTTPFetcher struct {
	client *http.Client
}

// New creates a fetcher with the default timeout.
func New() *HTTPFetcher {
	return NewWithTimeout(DefaultTimeout)
}

// NewWithTimeout creates a fetcher with a custom overall timeout.
func NewWithTimeout(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

func checkScheme(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("unparseable url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("refusing non-http(s) url %q", rawURL)
	}
	return nil
}

// Get fetches a URL, following up to maxRedirects redirects.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) (*ports.FetchResult, error) {
	if err := checkScheme(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return f.do(req)
}

// Post sends a form-encoded body to a URL. Redirects are not followed:
// a direct OpenID endpoint answers in place.
func (f *HTTPFetcher) Post(ctx context.Context, rawURL, body string) (*ports.FetchResult, error) {
	if err := checkScheme(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(req)
}

func (f *HTTPFetcher) do(req *http.Request) (*ports.FetchResult, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading body from %s: %w", req.URL, err)
	}

	return &ports.FetchResult{
		Status:   resp.StatusCode,
		FinalURL: resp.Request.URL.String(),
		Body:     body,
	}, nil
}

var _ ports.Fetcher = (*HTTPFetcher)(nil)
