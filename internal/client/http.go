package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/alfredjeanlab/crates/internal/catalog"
	"github.com/alfredjeanlab/crates/internal/model"
)

// HTTPClient implements CratesClient over the HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a client for baseURL (e.g. "http://localhost:8080").
// When token is non-empty it is sent as a Bearer token on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) CreateAlbum(ctx context.Context, in catalog.CreateAlbumInput) (*model.Album, error) {
	var album model.Album
	if err := c.doJSON(ctx, http.MethodPost, "/v1/albums", in, &album); err != nil {
		return nil, err
	}
	return &album, nil
}

func (c *HTTPClient) GetAlbum(ctx context.Context, id string) (*model.Album, error) {
	var album model.Album
	if err := c.doJSON(ctx, http.MethodGet, "/v1/albums/"+url.PathEscape(id), nil, &album); err != nil {
		return nil, err
	}
	return &album, nil
}

func (c *HTTPClient) UpdateAlbum(ctx context.Context, id string, in catalog.UpdateAlbumInput) (*model.Album, error) {
	var album model.Album
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/albums/"+url.PathEscape(id), in, &album); err != nil {
		return nil, err
	}
	return &album, nil
}

func (c *HTTPClient) ListPressings(ctx context.Context, albumID string) ([]*model.Pressing, error) {
	var resp struct {
		Pressings []*model.Pressing `json:"pressings"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/albums/"+url.PathEscape(albumID)+"/pressings", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pressings, nil
}

func (c *HTTPClient) RequestImport(ctx context.Context, albumID string) (*ImportAccepted, error) {
	var resp ImportAccepted
	if err := c.doJSON(ctx, http.MethodPost, "/v1/albums/"+url.PathEscape(albumID)+"/import", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) OutboxStats(ctx context.Context) (*OutboxStats, error) {
	var resp OutboxStats
	if err := c.doJSON(ctx, http.MethodGet, "/v1/outbox/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// APIError represents an error response from the server. A 404 matches
// model.ErrNotFound and a 400 matches model.ErrValidation.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case model.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case model.ErrValidation:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

// doJSON performs a request with an optional JSON body and decodes the JSON
// response into result, which may be nil.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
