package store

import (
	"context"
	"time"

	"github.com/alfredjeanlab/crates/internal/model"
)

// OutboxStore persists events waiting to be published.
type OutboxStore interface {
	// AddEvent stages an outbox row for ev. It does not commit; inside
	// RunInTransaction the row shares the caller's transaction.
	AddEvent(ctx context.Context, ev model.DomainEvent, aggregateID, aggregateType, destination string) (*model.OutboxEvent, error)
	// GetUnprocessedEvents returns up to limit unprocessed rows, oldest first.
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	// ClaimUnprocessedEvents is GetUnprocessedEvents with row locks that skip
	// rows another transaction holds. Only meaningful inside RunInTransaction.
	ClaimUnprocessedEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	// MarkAsProcessed flags a row processed. Marking an already processed
	// row is a no-op.
	MarkAsProcessed(ctx context.Context, id string) error
	// DeleteProcessedEvents removes processed rows older than the given
	// number of days and returns how many were removed.
	DeleteProcessedEvents(ctx context.Context, olderThanDays int) (int64, error)
	DeleteProcessedEventsBefore(ctx context.Context, before time.Time) (int64, error)
	ListProcessedEvents(ctx context.Context, before time.Time) ([]*model.OutboxEvent, error)
	CountUnprocessedEvents(ctx context.Context) (int64, error)
}

// CatalogStore is the slice of the catalog the import workflow touches.
type CatalogStore interface {
	CreateAlbum(ctx context.Context, album *model.Album) error
	GetAlbum(ctx context.Context, id string) (*model.Album, error)
	// UpdateAlbum writes title, artist and external master id.
	UpdateAlbum(ctx context.Context, album *model.Album) error
	MarkAlbumImported(ctx context.Context, id string, at time.Time) error
	PressingExistsByExternalID(ctx context.Context, externalReleaseID int64) (bool, error)
	CreatePressing(ctx context.Context, pressing *model.Pressing) error
	ListPressings(ctx context.Context, albumID string) ([]*model.Pressing, error)
}

// Store is the unit of work: catalog writes and outbox rows staged inside
// one RunInTransaction commit or roll back together.
type Store interface {
	OutboxStore
	CatalogStore

	// RunInTransaction commits when fn returns nil and rolls back otherwise.
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	Close() error
}
