// Package outbox relays staged outbox rows to the broker.
//
// A Processor polls the store for unprocessed rows, publishes each one to the
// destination it was staged for, and marks it processed. Delivery is at least
// once: a row whose publish succeeded but whose mark failed is published again
// on a later cycle, so consumers must tolerate duplicates.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/crates/internal/events"
	"github.com/alfredjeanlab/crates/internal/model"
	"github.com/alfredjeanlab/crates/internal/store"
)

// Config tunes the polling loop.
type Config struct {
	// BatchSize is the most rows fetched per cycle.
	BatchSize int
	// BusyInterval is the sleep after a cycle that found work.
	BusyInterval time.Duration
	// IdleInterval is the sleep after an empty cycle or a failed fetch.
	IdleInterval time.Duration
	// CleanupEvery runs retention cleanup once per this many cycles. Zero
	// disables cleanup in Run.
	CleanupEvery int
	// RetentionDays is how long processed rows are kept.
	RetentionDays int
	// Claim fetches and marks each batch inside one transaction with row
	// locks, so several processors can share a table.
	Claim bool
}

// DefaultConfig returns the stock polling settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		BusyInterval:  time.Second,
		IdleInterval:  5 * time.Second,
		CleanupEvery:  100,
		RetentionDays: 7,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BusyInterval <= 0 {
		c.BusyInterval = d.BusyInterval
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = d.IdleInterval
	}
	if c.RetentionDays < 0 {
		c.RetentionDays = d.RetentionDays
	}
	return c
}

// Archiver receives processed rows before retention cleanup deletes them.
type Archiver interface {
	Archive(ctx context.Context, rows []*model.OutboxEvent) error
}

// Stats is a snapshot of the processor counters.
type Stats struct {
	Cycles    int64 `json:"cycles"`
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Cleaned   int64 `json:"cleaned"`
	Archived  int64 `json:"archived"`
}

// Processor moves outbox rows to the broker.
type Processor struct {
	store    store.Store
	pub      events.Publisher
	cfg      Config
	archiver Archiver
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool

	cycles    atomic.Int64
	published atomic.Int64
	failed    atomic.Int64
	cleaned   atomic.Int64
	archived  atomic.Int64
}

// Option configures a Processor.
type Option func(*Processor)

// WithArchiver archives processed rows before they are deleted.
func WithArchiver(a Archiver) Option {
	return func(p *Processor) { p.archiver = a }
}

// WithClock replaces the time source used for retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a processor. A nil logger discards output.
func NewProcessor(s store.Store, pub events.Publisher, cfg Config, logger *slog.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Processor{
		store:  s,
		pub:    pub,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Processor) Config() Config { return p.cfg }

// Stats returns the current counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Cycles:    p.cycles.Load(),
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Cleaned:   p.cleaned.Load(),
		Archived:  p.archived.Load(),
	}
}

// RunOnce processes one batch and returns how many rows were published and
// marked processed. Row failures are logged and leave the row unprocessed;
// only a failed fetch is returned as an error.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	if p.cfg.Claim {
		return p.runClaimed(ctx)
	}
	rows, err := p.store.GetUnprocessedEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	var done int
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		if err := p.publish(ctx, row); err != nil {
			continue
		}
		if err := p.store.MarkAsProcessed(ctx, row.ID); err != nil {
			p.failed.Add(1)
			p.logger.Error("outbox: mark processed failed", "id", row.ID, "err", err)
			continue
		}
		done++
	}
	p.logBatch(len(rows), done)
	return done, nil
}

// runClaimed locks the batch for the duration of one transaction. A failed
// mark aborts the transaction; the published rows in it are redelivered and
// none of the batch counts as processed.
func (p *Processor) runClaimed(ctx context.Context) (int, error) {
	var fetched, done int
	err := p.store.RunInTransaction(ctx, func(tx store.Store) error {
		rows, err := tx.ClaimUnprocessedEvents(ctx, p.cfg.BatchSize)
		if err != nil {
			return err
		}
		fetched = len(rows)
		for _, row := range rows {
			if ctx.Err() != nil {
				break
			}
			if err := p.publish(ctx, row); err != nil {
				continue
			}
			if err := tx.MarkAsProcessed(ctx, row.ID); err != nil {
				p.failed.Add(1)
				p.logger.Error("outbox: mark processed failed", "id", row.ID, "err", err)
				return err
			}
			done++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	p.logBatch(fetched, done)
	return done, nil
}

func (p *Processor) logBatch(fetched, processed int) {
	if fetched > 0 {
		p.logger.Debug("outbox: batch done", "fetched", fetched, "processed", processed)
	}
}

func (p *Processor) publish(ctx context.Context, row *model.OutboxEvent) error {
	if err := p.pub.Publish(ctx, row.Destination, row.Payload, row.Headers); err != nil {
		p.failed.Add(1)
		p.logger.Error("outbox: publish failed",
			"id", row.ID,
			"event_type", row.EventType,
			"destination", row.Destination,
			"transient", errors.Is(err, model.ErrTransientBroker),
			"err", err)
		return err
	}
	p.published.Add(1)
	p.logger.Debug("outbox: published", "id", row.ID, "destination", row.Destination)
	return nil
}

// Run polls until ctx is cancelled. It sleeps BusyInterval after a cycle that
// processed at least one row and IdleInterval otherwise, and runs Cleanup every CleanupEvery
// cycles.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("outbox: processor started",
		"batch_size", p.cfg.BatchSize,
		"busy_interval", p.cfg.BusyInterval,
		"idle_interval", p.cfg.IdleInterval,
		"claim", p.cfg.Claim)
	defer p.logger.Info("outbox: processor stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("outbox: fetch batch failed", "err", err)
		}
		cycle := p.cycles.Add(1)

		if p.cfg.CleanupEvery > 0 && cycle%int64(p.cfg.CleanupEvery) == 0 {
			if _, err := p.Cleanup(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox: cleanup failed", "err", err)
			}
		}

		if !p.sleep(ctx, p.nextInterval(n, err)) {
			return nil
		}
	}
}

func (p *Processor) nextInterval(n int, err error) time.Duration {
	if err == nil && n > 0 {
		return p.cfg.BusyInterval
	}
	return p.cfg.IdleInterval
}

// Cleanup deletes processed rows older than the retention window and returns
// how many were removed. With an archiver the rows are archived first, and a
// failed archive leaves them in place.
func (p *Processor) Cleanup(ctx context.Context) (int64, error) {
	if p.archiver == nil {
		n, err := p.store.DeleteProcessedEvents(ctx, p.cfg.RetentionDays)
		if err != nil {
			return 0, err
		}
		p.recordCleanup(n)
		return n, nil
	}

	cutoff := p.now().Add(-time.Duration(p.cfg.RetentionDays) * 24 * time.Hour)
	rows, err := p.store.ListProcessedEvents(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := p.archiver.Archive(ctx, rows); err != nil {
		return 0, err
	}
	p.archived.Add(int64(len(rows)))
	n, err := p.store.DeleteProcessedEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	p.recordCleanup(n)
	return n, nil
}

func (p *Processor) recordCleanup(n int64) {
	p.cleaned.Add(n)
	if n > 0 {
		p.logger.Info("outbox: cleaned processed events", "deleted", n, "retention_days", p.cfg.RetentionDays)
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
