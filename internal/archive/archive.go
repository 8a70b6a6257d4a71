// Package archive writes processed outbox rows to long-term storage before
// retention cleanup removes them from the database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/alfredjeanlab/crates/internal/model"
)

// Destination stores one archive object under key.
type Destination interface {
	Write(ctx context.Context, key string, data []byte) error
}

// header is the first JSONL record of every archive object.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	EventCount int       `json:"event_count"`
}

// record wraps one JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes a header line followed by one line per row, in the
// order given.
func ExportJSONL(w io.Writer, rows []*model.OutboxEvent, at time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  at.UTC(),
		EventCount: len(rows),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, r := range rows {
		if err := enc.Encode(record{Type: "outbox_event", Data: r}); err != nil {
			return fmt.Errorf("encode event %s: %w", r.ID, err)
		}
	}
	return nil
}

// Archiver exports rows as one JSONL object and writes it to every
// destination.
type Archiver struct {
	destinations []Destination
	prefix       string
	logger       *slog.Logger
	now          func() time.Time
}

// New returns an archiver writing keys of the form
// "<prefix>/outbox-<timestamp>.jsonl".
func New(prefix string, logger *slog.Logger, destinations ...Destination) *Archiver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{
		destinations: destinations,
		prefix:       prefix,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Key returns the object key for an archive written at t.
func (a *Archiver) Key(t time.Time) string {
	return path.Join(a.prefix, "outbox-"+t.UTC().Format("20060102T150405.000000000Z")+".jsonl")
}

// Archive writes rows to every destination. It fails if any destination
// fails, so the caller keeps the rows for the next attempt.
func (a *Archiver) Archive(ctx context.Context, rows []*model.OutboxEvent) error {
	if len(rows) == 0 {
		return nil
	}
	if len(a.destinations) == 0 {
		return errors.New("archive: no destinations configured")
	}

	at := a.now()
	var buf bytes.Buffer
	if err := ExportJSONL(&buf, rows, at); err != nil {
		return err
	}
	key := a.Key(at)
	data := buf.Bytes()

	var errs []error
	for i, dest := range a.destinations {
		if err := dest.Write(ctx, key, data); err != nil {
			a.logger.Error("archive: destination write failed", "destination", i, "key", key, "err", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	a.logger.Info("archive: wrote processed events", "key", key, "events", len(rows), "bytes", len(data))
	return nil
}
