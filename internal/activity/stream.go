package activity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	keepaliveInterval = 15 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingInterval    = (wsPongWait * 9) / 10
)

// topicsParam parses the comma-separated "topics" query parameter.
func topicsParam(r *http.Request) []string {
	var topics []string
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// replayFrom returns the Last-Event-ID of r, from the header or the
// "last_event_id" query parameter.
func replayFrom(r *http.Request) (uint64, bool) {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("last_event_id")
	}
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(v, 10, 64)
	return id, err == nil
}

// StreamHandler serves the feed as server-sent events.
func StreamHandler(hub *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		client := hub.Subscribe(topicsParam(r))
		defer hub.Unsubscribe(client)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		if lastID, ok := replayFrom(r); ok {
			for _, evt := range hub.EventsSince(lastID) {
				if client.Matches(evt.Topic) {
					writeSSEEvent(w, evt)
				}
			}
			flusher.Flush()
		}

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case evt := <-client.C():
				writeSSEEvent(w, evt)
				flusher.Flush()
			case <-keepalive.C:
				fmt.Fprint(w, ":keepalive\n\n")
				flusher.Flush()
			}
		}
	})
}

func writeSSEEvent(w http.ResponseWriter, evt *Event) {
	fmt.Fprintf(w, "id:%d\n", evt.ID)
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}

// wsFrame is the JSON frame sent to WebSocket clients.
type wsFrame struct {
	ID    uint64          `json:"id"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocketHandler serves the feed over a WebSocket. Each event is one JSON
// text frame. Client messages are read only to notice disconnects.
func WebSocketHandler(hub *Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("activity: websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		client := hub.Subscribe(topicsParam(r))
		defer hub.Unsubscribe(client)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			conn.SetReadLimit(4096)
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(wsPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(evt *Event) error {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteJSON(wsFrame{ID: evt.ID, Topic: evt.Topic, Data: evt.Data})
		}

		if lastID, ok := replayFrom(r); ok {
			for _, evt := range hub.EventsSince(lastID) {
				if client.Matches(evt.Topic) {
					if err := send(evt); err != nil {
						return
					}
				}
			}
		}

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case evt := <-client.C():
				if err := send(evt); err != nil {
					logger.Debug("activity: websocket write failed", "err", err)
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
