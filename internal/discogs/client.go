// Package discogs is a small client for the external catalog API used by
// catalog imports: listing the versions of a master and fetching release
// detail.
package discogs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/crates/internal/model"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.discogs.com"
	// DefaultTimeout bounds each HTTP call.
	DefaultTimeout = 30 * time.Second

	defaultUserAgent = "crates/1.0 +https://github.com/alfredjeanlab/crates"
)

// Waiter gates outgoing requests. *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// APIError is a non-2xx response that is neither a rate limit nor a 404.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Client talks to the catalog API over HTTP.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	limiter    Waiter
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends a personal access token with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a client for baseURL. Every request waits on limiter
// first; a nil limiter sends requests immediately.
func NewClient(baseURL string, limiter Waiter, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  defaultUserAgent,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListMasterVersions returns one page of the releases of a master. Pages
// are numbered from 1.
func (c *Client) ListMasterVersions(ctx context.Context, masterID int64, page, perPage int) (*VersionsPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}
	path := "/masters/" + strconv.FormatInt(masterID, 10) + "/versions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp VersionsPage
	if err := c.doJSON(ctx, path, "master", strconv.FormatInt(masterID, 10), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRelease fetches the detail record of a release.
func (c *Client) GetRelease(ctx context.Context, releaseID int64) (*Release, error) {
	var rel Release
	id := strconv.FormatInt(releaseID, 10)
	if err := c.doJSON(ctx, "/releases/"+id, "release", id, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// doJSON performs a GET and decodes the JSON body into result. kind and id
// name the resource in a NotFoundError.
func (c *Client) doJSON(ctx context.Context, path, kind, id string, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Discogs token="+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &model.RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &model.NotFoundError{Kind: kind, ID: id}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// parseRetryAfter reads a Retry-After value given either as seconds or as
// an HTTP date. Anything unparseable is treated as no hint.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
