package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/crates/internal/model"
)

// outboxColumns is the column list used for SELECT statements on outbox_events.
const outboxColumns = `id, event_type, event_version, aggregate_id, aggregate_type,
	destination, payload, headers, metadata, created_at, processed, processed_at`

const albumColumns = `id, title, artist, external_master_id, import_completed_at, created_at, updated_at`

const pressingColumns = `id, album_id, external_release_id, title, format, speed, size,
	edition, label, catalog_number, country, year, barcodes, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryAddEvent(ctx context.Context, db executor, ev model.DomainEvent, aggregateID, aggregateType, destination string) (*model.OutboxEvent, error) {
	e, err := model.NewOutboxEvent(ev, aggregateID, aggregateType, destination)
	if err != nil {
		return nil, err
	}
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return nil, fmt.Errorf("marshaling headers: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	err = db.QueryRowContext(ctx, `
		INSERT INTO outbox_events (
			id, event_type, event_version, aggregate_id, aggregate_type,
			destination, payload, headers, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		e.ID, e.EventType, e.EventVersion, e.AggregateID, e.AggregateType,
		e.Destination, []byte(e.Payload), headers, metadata,
	).Scan(&e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}
	return e, nil
}

// queryGetUnprocessedEvents reads pending rows in creation order. seq breaks
// ties between rows sharing a created_at.
func queryGetUnprocessedEvents(ctx context.Context, db executor, limit int, lock bool) ([]*model.OutboxEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := `SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE processed = false
		ORDER BY created_at ASC, seq ASC
		LIMIT $1`
	if lock {
		q += ` FOR UPDATE SKIP LOCKED`
	}
	rows, err := db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOutboxEvents(rows)
}

func queryMarkAsProcessed(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE outbox_events SET processed = true, processed_at = NOW()
		WHERE id = $1 AND processed = false`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Nothing updated: either already processed, which is fine, or unknown.
	var exists bool
	if err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM outbox_events WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return &model.NotFoundError{Kind: "outbox event", ID: id}
	}
	return nil
}

func queryDeleteProcessedEvents(ctx context.Context, db executor, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, &model.ValidationError{Errors: []model.FieldError{{
			Field:   "older_than_days",
			Message: fmt.Sprintf("must not be negative, got %d", olderThanDays),
		}}}
	}
	res, err := db.ExecContext(ctx, `
		DELETE FROM outbox_events
		WHERE processed = true AND processed_at < NOW() - make_interval(days => $1)`,
		olderThanDays)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func queryDeleteProcessedEventsBefore(ctx context.Context, db executor, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM outbox_events
		WHERE processed = true AND processed_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func queryListProcessedEvents(ctx context.Context, db executor, before time.Time) ([]*model.OutboxEvent, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+outboxColumns+`
		FROM outbox_events
		WHERE processed = true AND processed_at < $1
		ORDER BY processed_at ASC`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOutboxEvents(rows)
}

func queryCountUnprocessedEvents(ctx context.Context, db executor) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_events WHERE processed = false`).Scan(&n)
	return n, err
}

func queryCreateAlbum(ctx context.Context, db executor, a *model.Album) error {
	if err := model.ValidateAlbum(a); err != nil {
		return err
	}
	return db.QueryRowContext(ctx, `
		INSERT INTO albums (id, title, artist, external_master_id, import_completed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		a.ID, a.Title, a.Artist, nullInt64(a.ExternalMasterID), nullTimePtr(a.ImportCompletedAt),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func queryGetAlbum(ctx context.Context, db executor, id string) (*model.Album, error) {
	row := db.QueryRowContext(ctx, `SELECT `+albumColumns+` FROM albums WHERE id = $1`, id)
	a, err := scanAlbum(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "album", ID: id}
	}
	return a, err
}

func queryUpdateAlbum(ctx context.Context, db executor, a *model.Album) error {
	if err := model.ValidateAlbum(a); err != nil {
		return err
	}
	err := db.QueryRowContext(ctx, `
		UPDATE albums SET title = $2, artist = $3, external_master_id = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Title, a.Artist, nullInt64(a.ExternalMasterID),
	).Scan(&a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotFoundError{Kind: "album", ID: a.ID}
	}
	return err
}

func queryMarkAlbumImported(ctx context.Context, db executor, id string, at time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE albums SET import_completed_at = $2, updated_at = NOW()
		WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &model.NotFoundError{Kind: "album", ID: id}
	}
	return nil
}

func queryPressingExistsByExternalID(ctx context.Context, db executor, externalReleaseID int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pressings WHERE external_release_id = $1)`,
		externalReleaseID).Scan(&exists)
	return exists, err
}

func queryCreatePressing(ctx context.Context, db executor, p *model.Pressing) error {
	if err := model.ValidatePressing(p); err != nil {
		return err
	}
	barcodes := p.Barcodes
	if barcodes == nil {
		barcodes = []string{}
	}
	return db.QueryRowContext(ctx, `
		INSERT INTO pressings (
			id, album_id, external_release_id, title, format, speed, size,
			edition, label, catalog_number, country, year, barcodes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`,
		p.ID,
		p.AlbumID,
		p.ExternalReleaseID,
		p.Title,
		string(p.Format),
		nullString(string(p.Speed)),
		nullString(string(p.Size)),
		nullString(string(p.Edition)),
		nullString(p.Label),
		nullString(p.CatalogNumber),
		nullString(p.Country),
		nullInt64(int64(p.Year)),
		pq.Array(barcodes),
	).Scan(&p.CreatedAt)
}

func queryListPressings(ctx context.Context, db executor, albumID string) ([]*model.Pressing, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+pressingColumns+`
		FROM pressings WHERE album_id = $1
		ORDER BY created_at ASC`, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPressings(rows)
}
