package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/crates/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanOutboxEvent scans a single row into a model.OutboxEvent.
func scanOutboxEvent(row scannable) (*model.OutboxEvent, error) {
	var (
		e           model.OutboxEvent
		payload     []byte
		headers     []byte
		metadata    []byte
		processedAt sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.EventType, &e.EventVersion, &e.AggregateID, &e.AggregateType,
		&e.Destination, &payload, &headers, &metadata, &e.CreatedAt,
		&e.Processed, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &e.Headers); err != nil {
			return nil, fmt.Errorf("decoding headers of %s: %w", e.ID, err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", e.ID, err)
		}
	}
	if processedAt.Valid {
		t := processedAt.Time
		e.ProcessedAt = &t
	}
	return &e, nil
}

// scanOutboxEvents scans multiple rows into a slice of model.OutboxEvent pointers.
func scanOutboxEvents(rows *sql.Rows) ([]*model.OutboxEvent, error) {
	var events []*model.OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func scanAlbum(row scannable) (*model.Album, error) {
	var (
		a          model.Album
		masterID   sql.NullInt64
		importedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Title, &a.Artist, &masterID, &importedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ExternalMasterID = masterID.Int64
	if importedAt.Valid {
		t := importedAt.Time
		a.ImportCompletedAt = &t
	}
	return &a, nil
}

func scanPressing(row scannable) (*model.Pressing, error) {
	var (
		p                                           model.Pressing
		format                                      string
		speed, size, edition, label, catno, country sql.NullString
		year                                        sql.NullInt64
	)
	err := row.Scan(
		&p.ID, &p.AlbumID, &p.ExternalReleaseID, &p.Title, &format, &speed, &size,
		&edition, &label, &catno, &country, &year, pq.Array(&p.Barcodes), &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Format = model.Format(format)
	p.Speed = model.Speed(speed.String)
	p.Size = model.Size(size.String)
	p.Edition = model.Edition(edition.String)
	p.Label = label.String
	p.CatalogNumber = catno.String
	p.Country = country.String
	p.Year = int(year.Int64)
	return &p, nil
}

func scanPressings(rows *sql.Rows) ([]*model.Pressing, error) {
	var pressings []*model.Pressing
	for rows.Next() {
		p, err := scanPressing(rows)
		if err != nil {
			return nil, err
		}
		pressings = append(pressings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pressings, nil
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullInt64 converts an int64 to sql.NullInt64; zero is null.
func nullInt64(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}
