package activity

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// SecretHeader carries the shared secret on push requests.
const SecretHeader = "X-Activity-Secret"

// maxPushBody bounds a pushed notification.
const maxPushBody = 1 << 20

// Topic derives the hub topic of a pushed notification:
// "activity.<aggregate_type>.<verb>", or just "activity" when those fields
// are absent.
func Topic(body []byte) string {
	var head struct {
		AggregateType string `json:"aggregate_type"`
		Verb          string `json:"verb"`
	}
	if json.Unmarshal(body, &head) != nil || head.AggregateType == "" || head.Verb == "" {
		return "activity"
	}
	return "activity." + head.AggregateType + "." + head.Verb
}

// PushHandler accepts notifications on the internal push endpoint and
// broadcasts them to the hub. It answers 401 for a missing or wrong secret,
// 400 for a body that is not JSON and 204 otherwise.
func PushHandler(secret string, hub *Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(SecretHeader)
		if secret == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid activity secret")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
			return
		}
		if !json.Valid(body) {
			writeError(w, http.StatusBadRequest, "body is not valid JSON")
			return
		}

		topic := Topic(body)
		id := hub.Broadcast(topic, body)
		logger.Debug("activity: pushed", "id", id, "topic", topic, "clients", hub.Clients())
		w.WriteHeader(http.StatusNoContent)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
