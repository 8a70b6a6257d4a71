// Package consumer reacts to committed catalog events delivered by the
// broker.
//
// A Dispatcher maps destinations to handlers. Messages from every
// subscription are funnelled into one bounded queue that a single worker
// drains, so handlers run one at a time and a slow handler pushes back on
// the broker instead of piling up goroutines. Delivery is at least once;
// handlers must be idempotent.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alfredjeanlab/crates/internal/events"
	"github.com/alfredjeanlab/crates/internal/model"
)

// DefaultQueueSize bounds the queue between subscriptions and the worker.
const DefaultQueueSize = 64

// HandlerFunc handles one message. A returned error is logged; it does not
// stop the consumer.
type HandlerFunc func(ctx context.Context, msg events.Message) error

// Deduper remembers event ids that were handled successfully.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// Stats counts dispatch outcomes.
type Stats struct {
	Handled    int64 `json:"handled"`
	Failed     int64 `json:"failed"`
	Ignored    int64 `json:"ignored"`
	Duplicates int64 `json:"duplicates"`
}

// Dispatcher routes messages to handlers by destination.
type Dispatcher struct {
	mu        sync.RWMutex
	handlers  map[string]HandlerFunc
	order     []string
	queueSize int
	dedupe    Deduper
	logger    *slog.Logger

	handled    atomic.Int64
	failed     atomic.Int64
	ignored    atomic.Int64
	duplicates atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize sets the bound of the internal queue.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queueSize = n }
}

// WithDeduper skips messages whose event_id header was already handled.
func WithDeduper(dd Deduper) Option {
	return func(d *Dispatcher) { d.dedupe = dd }
}

// NewDispatcher creates an empty dispatcher. A nil logger discards output.
func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Dispatcher{
		handlers:  map[string]HandlerFunc{},
		queueSize: DefaultQueueSize,
		logger:    logger,
	}
	for _, o := range opts {
		o(d)
	}
	if d.queueSize <= 0 {
		d.queueSize = DefaultQueueSize
	}
	return d
}

// Handle registers fn for destination, replacing any earlier handler.
func (d *Dispatcher) Handle(destination string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[destination]; !ok {
		d.order = append(d.order, destination)
	}
	d.handlers[destination] = fn
}

// Destinations returns the registered destinations in registration order.
func (d *Dispatcher) Destinations() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...)
}

// Stats returns the dispatch counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Handled:    d.handled.Load(),
		Failed:     d.failed.Load(),
		Ignored:    d.ignored.Load(),
		Duplicates: d.duplicates.Load(),
	}
}

// Dispatch runs the handler registered for msg.Destination. Messages with no
// handler are logged and ignored. Handler errors are logged and returned.
func (d *Dispatcher) Dispatch(ctx context.Context, msg events.Message) error {
	d.mu.RLock()
	fn, ok := d.handlers[msg.Destination]
	d.mu.RUnlock()
	if !ok {
		d.ignored.Add(1)
		d.logger.Warn("consumer: no handler for destination", "destination", msg.Destination)
		return nil
	}

	eventID := msg.Headers[model.HeaderEventID]
	log := d.logger.With("destination", msg.Destination, "event_id", eventID, "event_type", msg.Headers[model.HeaderEventType])

	if d.dedupe != nil && eventID != "" {
		seen, err := d.dedupe.Seen(ctx, eventID)
		if err != nil {
			// Fall through; handlers tolerate repeats.
			log.Warn("consumer: dedupe lookup failed", "err", err)
		} else if seen {
			d.duplicates.Add(1)
			log.Debug("consumer: duplicate skipped")
			return nil
		}
	}

	if err := d.invoke(ctx, fn, msg); err != nil {
		d.failed.Add(1)
		log.Error("consumer: handler failed", "err", err)
		return err
	}
	d.handled.Add(1)

	if d.dedupe != nil && eventID != "" {
		if err := d.dedupe.Mark(ctx, eventID); err != nil {
			log.Warn("consumer: dedupe mark failed", "err", err)
		}
	}
	return nil
}

// invoke runs fn, turning a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, fn HandlerFunc, msg events.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, msg)
}

// Run subscribes to every registered destination and dispatches messages
// until ctx is cancelled or every subscription closes.
func (d *Dispatcher) Run(ctx context.Context, sub events.Subscriber) error {
	dests := d.Destinations()
	if len(dests) == 0 {
		return fmt.Errorf("consumer: no handlers registered")
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	queue := make(chan events.Message, d.queueSize)
	var wg sync.WaitGroup
	var cancels []func()
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	for _, dest := range dests {
		ch, cancel, err := sub.Subscribe(dest)
		if err != nil {
			return fmt.Errorf("consumer: subscribe %s: %w", dest, err)
		}
		cancels = append(cancels, cancel)

		wg.Add(1)
		go func() {
			defer wg.Done()
			forward(ctx, ch, queue)
		}()
	}
	go func() {
		wg.Wait()
		close(queue)
	}()

	d.logger.Info("consumer: started", "destinations", dests, "queue_size", d.queueSize)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("consumer: stopping")
			return nil
		case msg, ok := <-queue:
			if !ok {
				d.logger.Info("consumer: all subscriptions closed")
				return nil
			}
			_ = d.Dispatch(ctx, msg)
		}
	}
}

// forward copies one subscription into the shared queue, blocking while the
// queue is full.
func forward(ctx context.Context, ch <-chan events.Message, queue chan<- events.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case queue <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}
