package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alfredjeanlab/crates/internal/activity"
	"github.com/alfredjeanlab/crates/internal/catalog"
	"github.com/alfredjeanlab/crates/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests other than the health check and the
// secret-guarded push endpoint must carry Authorization: Bearer <token>.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/outbox/stats", s.handleOutboxStats)
	mux.HandleFunc("POST /v1/albums", s.handleCreateAlbum)
	mux.HandleFunc("GET /v1/albums/{id}", s.handleGetAlbum)
	mux.HandleFunc("PATCH /v1/albums/{id}", s.handleUpdateAlbum)
	mux.HandleFunc("POST /v1/albums/{id}/import", s.handleRequestImport)
	mux.HandleFunc("GET /v1/albums/{id}/pressings", s.handleListPressings)
	mux.Handle("POST /internal/activity/push", activity.PushHandler(s.secret, s.hub, s.logger))
	mux.Handle("GET /v1/activity/stream", activity.StreamHandler(s.hub))
	mux.Handle("GET /v1/activity/ws", activity.WebSocketHandler(s.hub, s.logger))
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleOutboxStats handles GET /v1/outbox/stats.
func (s *Server) handleOutboxStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Stats(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCreateAlbum handles POST /v1/albums.
func (s *Server) handleCreateAlbum(w http.ResponseWriter, r *http.Request) {
	var in catalog.CreateAlbumInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	album, err := s.catalog.CreateAlbum(r.Context(), in)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, album)
}

// handleGetAlbum handles GET /v1/albums/{id}.
func (s *Server) handleGetAlbum(w http.ResponseWriter, r *http.Request) {
	album, err := s.store.GetAlbum(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, album)
}

// handleUpdateAlbum handles PATCH /v1/albums/{id}.
func (s *Server) handleUpdateAlbum(w http.ResponseWriter, r *http.Request) {
	var in catalog.UpdateAlbumInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	album, err := s.catalog.UpdateAlbum(r.Context(), r.PathValue("id"), in)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, album)
}

// handleRequestImport handles POST /v1/albums/{id}/import. The import runs
// asynchronously in the consumer, so the response is 202 with the staged
// event id.
func (s *Server) handleRequestImport(w http.ResponseWriter, r *http.Request) {
	row, err := s.catalog.RequestImport(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"event_id":    row.ID,
		"destination": row.Destination,
	})
}

// handleListPressings handles GET /v1/albums/{id}/pressings.
func (s *Server) handleListPressings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetAlbum(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	pressings, err := s.store.ListPressings(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if pressings == nil {
		pressings = []*model.Pressing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pressings": pressings, "total": len(pressings)})
}

// writeStoreError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		fields := make(map[string]string, len(ve.Errors))
		for _, fe := range ve.Errors {
			fields[fe.Field] = fe.Message
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "fields": fields})
	case model.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("server: request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
