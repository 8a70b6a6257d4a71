package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alfredjeanlab/crates/internal/catalog"
	"github.com/alfredjeanlab/crates/internal/model"
)

// testHandler captures the incoming request and returns a canned response.
type testHandler struct {
	method      string
	path        string
	rawPath     string
	body        string
	contentType string
	auth        string

	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

func newTestClient(t *testing.T, h http.Handler, token string) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", token)
}

func TestCreateAlbum(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusCreated,
		responseBody: `{"id":"alb-1","title":"Blue","artist":"Joni Mitchell","external_master_id":5512}`,
	}
	c := newTestClient(t, h, "tok")

	album, err := c.CreateAlbum(context.Background(), catalog.CreateAlbumInput{Title: "Blue", Artist: "Joni Mitchell", ExternalMasterID: 5512, Import: true})
	if err != nil {
		t.Fatalf("CreateAlbum: %v", err)
	}
	if h.method != http.MethodPost || h.path != "/v1/albums" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.contentType != "application/json" {
		t.Errorf("Content-Type = %q", h.contentType)
	}
	if h.auth != "Bearer tok" {
		t.Errorf("Authorization = %q", h.auth)
	}
	if !strings.Contains(h.body, `"import":true`) || !strings.Contains(h.body, `"external_master_id":5512`) {
		t.Errorf("body = %s", h.body)
	}
	if album.ID != "alb-1" || album.ExternalMasterID != 5512 {
		t.Errorf("album = %+v", album)
	}
}

func TestUpdateAlbum_OmitsUnsetFields(t *testing.T) {
	h := &testHandler{responseBody: `{"id":"alb-1","title":"Blue","artist":"Joni"}`}
	c := newTestClient(t, h, "")

	artist := "Joni"
	if _, err := c.UpdateAlbum(context.Background(), "alb-1", catalog.UpdateAlbumInput{Artist: &artist}); err != nil {
		t.Fatalf("UpdateAlbum: %v", err)
	}
	if h.method != http.MethodPatch || h.path != "/v1/albums/alb-1" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.body != `{"artist":"Joni"}` {
		t.Errorf("body = %s", h.body)
	}
	if h.auth != "" {
		t.Errorf("Authorization sent without a token: %q", h.auth)
	}
}

func TestGetAlbum_PathEscape(t *testing.T) {
	h := &testHandler{responseBody: `{"id":"a/b"}`}
	c := newTestClient(t, h, "")

	if _, err := c.GetAlbum(context.Background(), "a/b"); err != nil {
		t.Fatalf("GetAlbum: %v", err)
	}
	if h.rawPath != "/v1/albums/a%2Fb" {
		t.Errorf("raw path = %q", h.rawPath)
	}
}

func TestListPressings(t *testing.T) {
	h := &testHandler{responseBody: `{"pressings":[{"id":"prs-1","external_release_id":1001,"format":"vinyl"}],"total":1}`}
	c := newTestClient(t, h, "")

	ps, err := c.ListPressings(context.Background(), "alb-1")
	if err != nil {
		t.Fatalf("ListPressings: %v", err)
	}
	if h.path != "/v1/albums/alb-1/pressings" {
		t.Errorf("path = %q", h.path)
	}
	if len(ps) != 1 || ps[0].Format != model.FormatVinyl {
		t.Errorf("pressings = %+v", ps)
	}
}

func TestRequestImport(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusAccepted,
		responseBody: `{"event_id":"evt-1","destination":"/topic/catalog.import.requested"}`,
	}
	c := newTestClient(t, h, "")

	resp, err := c.RequestImport(context.Background(), "alb-1")
	if err != nil {
		t.Fatalf("RequestImport: %v", err)
	}
	if h.method != http.MethodPost || h.path != "/v1/albums/alb-1/import" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if resp.EventID != "evt-1" || resp.Destination != model.DestinationImportRequested {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOutboxStatsAndHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/outbox/stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"unprocessed":3,"processor":{"cycles":9,"published":12,"failed":1},"live_clients":2}`))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	c := newTestClient(t, mux, "")

	st, err := c.OutboxStats(context.Background())
	if err != nil {
		t.Fatalf("OutboxStats: %v", err)
	}
	if st.Unprocessed != 3 || st.Processor == nil || st.Processor.Published != 12 || st.LiveClients != 2 {
		t.Errorf("stats = %+v", st)
	}
	status, err := c.Health(context.Background())
	if err != nil || status != "ok" {
		t.Errorf("Health = %q, %v", status, err)
	}
}

func TestAPIErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		sentinel error
	}{
		{"NotFound", http.StatusNotFound, `{"error":"album alb-x not found"}`, "album alb-x not found", model.ErrNotFound},
		{"Validation", http.StatusBadRequest, `{"error":"validation failed: title: is required"}`, "validation failed: title: is required", model.ErrValidation},
		{"PlainBody", http.StatusBadGateway, `upstream down`, "upstream down", nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, &testHandler{statusCode: tc.status, responseBody: tc.body}, "")
			_, err := c.GetAlbum(context.Background(), "alb-x")

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tc.status || apiErr.Message != tc.wantMsg {
				t.Errorf("apiErr = %+v", apiErr)
			}
			if tc.sentinel != nil && !errors.Is(err, tc.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tc.sentinel)
			}
			if tc.sentinel == nil && (model.IsNotFound(err) || errors.Is(err, model.ErrValidation)) {
				t.Errorf("%d matched a taxonomy sentinel", tc.status)
			}
		})
	}
}
