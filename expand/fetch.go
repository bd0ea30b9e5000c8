package expand

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/unclip/horosafe"
)

// MaxPageBytes caps a fetched full-view page.
const MaxPageBytes = 10 << 20

// Fetcher retrieves the full-view page behind an expand link.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher is a Fetcher over net/http. Inside a live tab the browser's
// own fetch is used instead so the session cookies apply.
type HTTPFetcher struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient sets the client. Default has a 30s timeout.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header. Empty keeps the default.
func WithUserAgent(ua string) FetcherOption {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.ua = ua
		}
	}
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *HTTPFetcher) { f.logger = l }
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; unclip/1.0)",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("expand: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("expand: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("expand: fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := horosafe.LimitedReadAll(resp.Body, MaxPageBytes)
	if err != nil {
		return nil, fmt.Errorf("expand: read body: %w", err)
	}

	f.logger.Debug("expand: fetched full view", "url", url, "status", resp.StatusCode, "size", len(body))
	return body, nil
}
