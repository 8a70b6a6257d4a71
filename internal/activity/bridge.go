package activity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/crates/internal/events"
	"github.com/alfredjeanlab/crates/internal/model"
)

// DefaultBridgeTimeout bounds one push request.
const DefaultBridgeTimeout = 5 * time.Second

// Bridge forwards activity notifications from the broker to the push
// endpoint. Delivery is best effort: a failed push is logged and dropped.
type Bridge struct {
	pushURL string
	secret  string
	client  *http.Client
	logger  *slog.Logger

	forwarded atomic.Int64
	dropped   atomic.Int64
}

// BridgeStats counts bridge outcomes.
type BridgeStats struct {
	Forwarded int64 `json:"forwarded"`
	Dropped   int64 `json:"dropped"`
}

// NewBridge creates a bridge posting to pushURL. A nil client uses one with
// DefaultBridgeTimeout; a nil logger discards output.
func NewBridge(pushURL, secret string, client *http.Client, logger *slog.Logger) *Bridge {
	if client == nil {
		client = &http.Client{Timeout: DefaultBridgeTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{pushURL: pushURL, secret: secret, client: client, logger: logger}
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{Forwarded: b.forwarded.Load(), Dropped: b.dropped.Load()}
}

// Forward posts one notification. Anything but 204 is an error.
func (b *Bridge) Forward(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.pushURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, b.secret)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushing activity: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("pushing activity: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Handle forwards m and records the outcome. It never returns an error, so a
// failed push is not retried.
func (b *Bridge) Handle(ctx context.Context, m events.Message) error {
	if err := b.Forward(ctx, m.Body); err != nil {
		b.dropped.Add(1)
		b.logger.Warn("activity: push dropped",
			"event_id", m.Headers[model.HeaderEventID],
			"err", err)
		return nil
	}
	b.forwarded.Add(1)
	return nil
}

// Run forwards every message on the activity destination until ctx ends or
// the subscription closes.
func (b *Bridge) Run(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(model.DestinationActivity)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", model.DestinationActivity, err)
	}
	defer cancel()

	b.logger.Info("activity: bridge started", "push_url", b.pushURL)
	defer b.logger.Info("activity: bridge stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			_ = b.Handle(ctx, m)
		}
	}
}
