// Package client talks to a running crates server: the HTTP/JSON API for
// catalog and outbox operations, and the gRPC health service.
package client

import (
	"context"

	"github.com/alfredjeanlab/crates/internal/catalog"
	"github.com/alfredjeanlab/crates/internal/model"
	"github.com/alfredjeanlab/crates/internal/outbox"
)

// CratesClient is the API surface the CLI uses against a remote server.
type CratesClient interface {
	CreateAlbum(ctx context.Context, in catalog.CreateAlbumInput) (*model.Album, error)
	GetAlbum(ctx context.Context, id string) (*model.Album, error)
	UpdateAlbum(ctx context.Context, id string, in catalog.UpdateAlbumInput) (*model.Album, error)
	ListPressings(ctx context.Context, albumID string) ([]*model.Pressing, error)
	RequestImport(ctx context.Context, albumID string) (*ImportAccepted, error)
	OutboxStats(ctx context.Context) (*OutboxStats, error)
	Health(ctx context.Context) (string, error)
	Close() error
}

// ImportAccepted is the response to an import request.
type ImportAccepted struct {
	EventID     string `json:"event_id"`
	Destination string `json:"destination"`
}

// OutboxStats is the response of GET /v1/outbox/stats.
type OutboxStats struct {
	Unprocessed int64         `json:"unprocessed"`
	Processor   *outbox.Stats `json:"processor,omitempty"`
	LiveClients int           `json:"live_clients"`
	Dropped     int64         `json:"live_dropped"`
}
