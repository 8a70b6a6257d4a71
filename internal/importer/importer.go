// Package importer pulls every release of an external master into the local
// catalog as pressings of an album.
//
// An import is safe to run again for the same album: an album with an
// import-completed marker is skipped outright, and releases already present
// locally are skipped one by one, so a rerun after a partial failure only
// creates what is still missing. A failure on one release never stops the
// rest of the batch.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/crates/internal/discogs"
	"github.com/alfredjeanlab/crates/internal/idgen"
	"github.com/alfredjeanlab/crates/internal/model"
	"github.com/alfredjeanlab/crates/internal/store"
)

// Defaults for Config.
const (
	DefaultPerPage = 100
	DefaultBackoff = 60 * time.Second
)

// Catalog is the external catalog API. *discogs.Client satisfies it.
type Catalog interface {
	ListMasterVersions(ctx context.Context, masterID int64, page, perPage int) (*discogs.VersionsPage, error)
	GetRelease(ctx context.Context, releaseID int64) (*discogs.Release, error)
}

// Config tunes an import.
type Config struct {
	// PerPage is the page size used when listing versions.
	PerPage int
	// Backoff is the minimum wait before retrying a rate-limited call. The
	// server's Retry-After hint wins when it is longer.
	Backoff time.Duration
}

// Summary counts what an import did.
type Summary struct {
	AlbumID  string `json:"album_id"`
	MasterID int64  `json:"master_id"`
	// Skipped is set when the album was already imported and nothing ran.
	Skipped  bool `json:"skipped,omitempty"`
	Created  int  `json:"created"`
	Existing int  `json:"existing"`
	Failed   int  `json:"failed"`
	// Complete is set when the album was marked imported by this run.
	Complete bool `json:"complete"`
}

// Counts is the summary in the form carried by the activity event.
func (s Summary) Counts() map[string]int {
	return map[string]int{
		"created":  s.Created,
		"existing": s.Existing,
		"failed":   s.Failed,
	}
}

// Workflow runs imports.
type Workflow struct {
	store   store.Store
	catalog Catalog
	cfg     Config
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	newID func() (string, error)
}

// New creates a workflow. A nil logger discards output.
func New(s store.Store, catalog Catalog, cfg Config, logger *slog.Logger) *Workflow {
	if cfg.PerPage <= 0 {
		cfg.PerPage = DefaultPerPage
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Workflow{
		store:   s,
		catalog: catalog,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   idgen.Pressing,
	}
}

// itemResult classifies the outcome for one release.
type itemResult int

const (
	itemCreated itemResult = iota
	itemExisting
	// itemSkipped failed for a reason a rerun will not fix (gone upstream,
	// unmappable).
	itemSkipped
	// itemFailed failed for a reason a rerun may fix (rate limit, network,
	// database).
	itemFailed
)

// Run imports the releases of req.MasterID into req.AlbumID. It returns an
// error only when the album cannot be loaded, the context ends, or the final
// summary cannot be written; per-release failures are counted and logged.
func (w *Workflow) Run(ctx context.Context, req model.ImportRequested) (Summary, error) {
	sum := Summary{AlbumID: req.AlbumID, MasterID: req.MasterID}
	log := w.logger.With("album_id", req.AlbumID, "master_id", req.MasterID)

	album, err := w.store.GetAlbum(ctx, req.AlbumID)
	if err != nil {
		return sum, fmt.Errorf("loading album: %w", err)
	}
	if album.Imported() {
		log.Info("importer: album already imported, skipping", "completed_at", album.ImportCompletedAt)
		sum.Skipped = true
		return sum, nil
	}

	retryable := false
	for page := 1; ; page++ {
		var versions *discogs.VersionsPage
		err := w.withRetry(ctx, log, func() error {
			var err error
			versions, err = w.catalog.ListMasterVersions(ctx, req.MasterID, page, w.cfg.PerPage)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			log.Error("importer: listing versions failed", "page", page, "err", err)
			// Nothing past this page is known; leave the album unmarked so a
			// rerun picks up the rest.
			retryable = true
			break
		}

		for _, v := range versions.Versions {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			switch w.importVersion(ctx, log, req.AlbumID, v) {
			case itemCreated:
				sum.Created++
			case itemExisting:
				sum.Existing++
			case itemSkipped:
				sum.Failed++
			case itemFailed:
				sum.Failed++
				retryable = true
			}
		}
		if versions.Pagination.Last() || len(versions.Versions) == 0 {
			break
		}
	}

	err = w.store.RunInTransaction(ctx, func(tx store.Store) error {
		if !retryable {
			if err := tx.MarkAlbumImported(ctx, req.AlbumID, w.now()); err != nil {
				return err
			}
		}
		summary := fmt.Sprintf("Imported %d pressings of %s (%d already present, %d failed)",
			sum.Created, album.Title, sum.Existing, sum.Failed)
		ev := model.NewActivity(model.AggregateAlbum, req.AlbumID, "imported", summary, sum.Counts())
		_, err := tx.AddEvent(ctx, ev, req.AlbumID, model.AggregateAlbum, model.DestinationActivity)
		return err
	})
	if err != nil {
		return sum, fmt.Errorf("recording import summary: %w", err)
	}
	sum.Complete = !retryable

	log.Info("importer: import finished",
		"created", sum.Created,
		"existing", sum.Existing,
		"failed", sum.Failed,
		"complete", sum.Complete)
	return sum, nil
}

func (w *Workflow) importVersion(ctx context.Context, log *slog.Logger, albumID string, v discogs.Version) itemResult {
	log = log.With("release_id", v.ID)

	exists, err := w.store.PressingExistsByExternalID(ctx, v.ID)
	if err != nil {
		log.Error("importer: existence check failed", "err", err)
		return itemFailed
	}
	if exists {
		return itemExisting
	}

	var rel *discogs.Release
	err = w.withRetry(ctx, log, func() error {
		var err error
		rel, err = w.catalog.GetRelease(ctx, v.ID)
		return err
	})
	switch {
	case model.IsNotFound(err):
		log.Warn("importer: release not found, skipping", "err", err)
		return itemSkipped
	case err != nil:
		log.Error("importer: fetching release failed, skipping", "err", err)
		return itemFailed
	}

	p := MapRelease(albumID, v, rel)
	if p.ID, err = w.newID(); err != nil {
		log.Error("importer: generating id failed", "err", err)
		return itemFailed
	}

	err = w.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.CreatePressing(ctx, p); err != nil {
			return err
		}
		ev, err := model.NewEntityCreated(model.AggregatePressing, p.ID, p)
		if err != nil {
			return err
		}
		_, err = tx.AddEvent(ctx, ev, p.ID, model.AggregatePressing, model.DestinationPressingCreated)
		return err
	})
	switch {
	case errors.Is(err, model.ErrValidation):
		log.Warn("importer: release rejected, skipping", "err", err)
		return itemSkipped
	case err != nil:
		log.Error("importer: creating pressing failed", "err", err)
		return itemFailed
	}
	log.Debug("importer: pressing created", "pressing_id", p.ID, "format", p.Format)
	return itemCreated
}

// withRetry runs call and, if it is rate limited, waits the longer of the
// configured backoff and the server's hint and runs it once more.
func (w *Workflow) withRetry(ctx context.Context, log *slog.Logger, call func() error) error {
	err := call()
	var rl *model.RateLimitedError
	if !errors.As(err, &rl) {
		return err
	}
	wait := max(w.cfg.Backoff, rl.RetryAfter)
	log.Warn("importer: rate limited, retrying once", "wait", wait)
	if err := w.sleep(ctx, wait); err != nil {
		return err
	}
	return call()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
