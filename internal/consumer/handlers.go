package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/crates/internal/events"
	"github.com/alfredjeanlab/crates/internal/importer"
	"github.com/alfredjeanlab/crates/internal/model"
)

// Importer runs catalog imports. *importer.Workflow satisfies it.
type Importer interface {
	Run(ctx context.Context, req model.ImportRequested) (importer.Summary, error)
}

// ImportHandler runs an import for each import-requested event. A request
// for an album that no longer exists is dropped.
func ImportHandler(imp Importer, logger *slog.Logger) HandlerFunc {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(ctx context.Context, msg events.Message) error {
		req, err := model.DecodeImportRequested(msg.Body)
		if err != nil {
			return err
		}
		sum, err := imp.Run(ctx, req)
		if model.IsNotFound(err) {
			logger.Warn("consumer: import target gone, dropping", "album_id", req.AlbumID, "err", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("import %s: %w", req.AlbumID, err)
		}
		logger.Info("consumer: import handled",
			"album_id", req.AlbumID,
			"skipped", sum.Skipped,
			"created", sum.Created,
			"failed", sum.Failed)
		return nil
	}
}

// LogHandler logs every message it sees.
func LogHandler(logger *slog.Logger) HandlerFunc {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(_ context.Context, msg events.Message) error {
		logger.Info("consumer: event",
			"destination", msg.Destination,
			"event_type", msg.Headers[model.HeaderEventType],
			"event_id", msg.Headers[model.HeaderEventID],
			"aggregate_id", msg.Headers[model.HeaderAggregateID],
			"bytes", len(msg.Body))
		return nil
	}
}

// AlbumCacheKey is the cache key of an album's read model.
func AlbumCacheKey(albumID string) string {
	return "catalog:album:" + albumID
}

// AlbumPressingsCacheKey is the cache key of an album's pressing list.
func AlbumPressingsCacheKey(albumID string) string {
	return "catalog:album:" + albumID + ":pressings"
}

// entityEvent is the part of entity events the cache invalidator reads.
type entityEvent struct {
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Entity        json.RawMessage `json:"entity"`
}

// CacheInvalidator drops cached album read models when albums change or
// gain pressings.
type CacheInvalidator struct {
	cache  cacheDeleter
	logger *slog.Logger
}

// NewCacheInvalidator creates an invalidator over a Redis client.
func NewCacheInvalidator(cache cacheDeleter, logger *slog.Logger) *CacheInvalidator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CacheInvalidator{cache: cache, logger: logger}
}

// Handle is a HandlerFunc.
func (c *CacheInvalidator) Handle(ctx context.Context, msg events.Message) error {
	var ev entityEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		return fmt.Errorf("decoding entity event: %w", err)
	}

	var keys []string
	switch ev.AggregateType {
	case model.AggregateAlbum:
		keys = []string{AlbumCacheKey(ev.AggregateID), AlbumPressingsCacheKey(ev.AggregateID)}
	case model.AggregatePressing:
		var p struct {
			AlbumID string `json:"album_id"`
		}
		if err := json.Unmarshal(ev.Entity, &p); err != nil || p.AlbumID == "" {
			return fmt.Errorf("pressing event %s has no album id", ev.AggregateID)
		}
		keys = []string{AlbumCacheKey(p.AlbumID), AlbumPressingsCacheKey(p.AlbumID)}
	default:
		c.logger.Debug("consumer: nothing to invalidate", "aggregate_type", ev.AggregateType)
		return nil
	}

	n, err := c.cache.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("invalidating %v: %w", keys, err)
	}
	c.logger.Debug("consumer: cache invalidated", "keys", keys, "deleted", n)
	return nil
}
