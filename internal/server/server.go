// Package server exposes the catalog over HTTP and a gRPC health service.
package server

import (
	"context"
	"log/slog"

	"github.com/alfredjeanlab/crates/internal/activity"
	"github.com/alfredjeanlab/crates/internal/catalog"
	"github.com/alfredjeanlab/crates/internal/outbox"
	"github.com/alfredjeanlab/crates/internal/store"
)

// ProcessorStats reports the counters of a running outbox processor.
// *outbox.Processor satisfies it.
type ProcessorStats interface {
	Stats() outbox.Stats
}

// Options wires the server's collaborators. Hub and Processor are optional.
type Options struct {
	Store     store.Store
	Hub       *activity.Hub
	Processor ProcessorStats
	// ActivitySecret guards the internal push endpoint.
	ActivitySecret string
	Logger         *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	store     store.Store
	catalog   *catalog.Service
	hub       *activity.Hub
	processor ProcessorStats
	secret    string
	logger    *slog.Logger
}

// New creates a server. A nil hub gets a fresh one with the default ring
// size; a nil logger discards output.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Hub == nil {
		opts.Hub = activity.NewHub(0)
	}
	return &Server{
		store:     opts.Store,
		catalog:   catalog.NewService(opts.Store),
		hub:       opts.Hub,
		processor: opts.Processor,
		secret:    opts.ActivitySecret,
		logger:    opts.Logger,
	}
}

// Hub returns the activity hub that pushed notifications fan out through.
func (s *Server) Hub() *activity.Hub { return s.hub }

// OutboxStats is the body of GET /v1/outbox/stats.
type OutboxStats struct {
	Unprocessed int64         `json:"unprocessed"`
	Processor   *outbox.Stats `json:"processor,omitempty"`
	LiveClients int           `json:"live_clients"`
	Dropped     int64         `json:"live_dropped"`
}

// Stats collects the outbox backlog and processor counters.
func (s *Server) Stats(ctx context.Context) (OutboxStats, error) {
	n, err := s.store.CountUnprocessedEvents(ctx)
	if err != nil {
		return OutboxStats{}, err
	}
	st := OutboxStats{
		Unprocessed: n,
		LiveClients: s.hub.Clients(),
		Dropped:     s.hub.Dropped(),
	}
	if s.processor != nil {
		ps := s.processor.Stats()
		st.Processor = &ps
	}
	return st, nil
}
