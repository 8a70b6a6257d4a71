// Package activity carries the live activity feed: a best-effort bridge from
// the broker to an internal push endpoint, and a hub that fans pushed
// notifications out to SSE and WebSocket clients.
package activity

import (
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultRingSize is the number of recent events kept for Last-Event-ID
// replay.
const DefaultRingSize = 500

// clientBuffer is the per-client queue; a full queue drops events for that
// client.
const clientBuffer = 64

// Event is one notification as seen by live clients.
type Event struct {
	ID    uint64
	Topic string
	Data  []byte
}

// Hub fans events out to connected clients without ever blocking the
// broadcaster.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	nextID  atomic.Uint64
	dropped atomic.Int64

	ringMu  sync.RWMutex
	ring    []Event
	ringPos int
	ringLen int
}

// Client is one live subscriber.
type Client struct {
	topics []string
	ch     chan *Event
}

// C delivers events for the client.
func (c *Client) C() <-chan *Event { return c.ch }

// NewHub creates a hub keeping size events for replay. A non-positive size
// uses DefaultRingSize.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		ring:    make([]Event, size),
	}
}

// Broadcast records an event and sends it to every matching client. It
// returns the event id.
func (h *Hub) Broadcast(topic string, data []byte) uint64 {
	evt := &Event{ID: h.nextID.Add(1), Topic: topic, Data: data}

	h.ringMu.Lock()
	h.ring[h.ringPos] = *evt
	h.ringPos = (h.ringPos + 1) % len(h.ring)
	if h.ringLen < len(h.ring) {
		h.ringLen++
	}
	h.ringMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.Matches(topic) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
	return evt.ID
}

// Subscribe registers a client for the given topic patterns (empty means
// all). Call Unsubscribe when done.
func (h *Hub) Subscribe(topics []string) *Client {
	c := &Client{topics: topics, ch: make(chan *Event, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Unsubscribe removes a client.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were dropped for slow clients.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// EventsSince returns buffered events with ID > lastID, oldest first.
func (h *Hub) EventsSince(lastID uint64) []*Event {
	h.ringMu.RLock()
	defer h.ringMu.RUnlock()

	var out []*Event
	start := h.ringPos - h.ringLen
	if start < 0 {
		start += len(h.ring)
	}
	for i := range h.ringLen {
		evt := h.ring[(start+i)%len(h.ring)]
		if evt.ID > lastID {
			out = append(out, &evt)
		}
	}
	return out
}

// Matches reports whether the client wants topic.
func (c *Client) Matches(topic string) bool {
	if len(c.topics) == 0 {
		return true
	}
	for _, p := range c.topics {
		if matchTopicPattern(p, topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches dot-separated topics. "*" matches one segment
// and a trailing ">" matches one or more.
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pat := strings.Split(pattern, ".")
	top := strings.Split(topic, ".")
	for i, p := range pat {
		if p == ">" {
			return i < len(top)
		}
		if i >= len(top) {
			return false
		}
		if p != "*" && p != top[i] {
			return false
		}
	}
	return len(pat) == len(top)
}
