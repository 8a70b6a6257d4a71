// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/crates/internal/model"
	"github.com/alfredjeanlab/crates/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) AddEvent(ctx context.Context, ev model.DomainEvent, aggregateID, aggregateType, destination string) (*model.OutboxEvent, error) {
	return queryAddEvent(ctx, s.db, ev, aggregateID, aggregateType, destination)
}

func (s *PostgresStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return queryGetUnprocessedEvents(ctx, s.db, limit, false)
}

// ClaimUnprocessedEvents outside a transaction holds its locks only for the
// duration of the statement; callers wanting a real claim use RunInTransaction.
func (s *PostgresStore) ClaimUnprocessedEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return queryGetUnprocessedEvents(ctx, s.db, limit, true)
}

func (s *PostgresStore) MarkAsProcessed(ctx context.Context, id string) error {
	return queryMarkAsProcessed(ctx, s.db, id)
}

func (s *PostgresStore) DeleteProcessedEvents(ctx context.Context, olderThanDays int) (int64, error) {
	return queryDeleteProcessedEvents(ctx, s.db, olderThanDays)
}

func (s *PostgresStore) DeleteProcessedEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	return queryDeleteProcessedEventsBefore(ctx, s.db, before)
}

func (s *PostgresStore) ListProcessedEvents(ctx context.Context, before time.Time) ([]*model.OutboxEvent, error) {
	return queryListProcessedEvents(ctx, s.db, before)
}

func (s *PostgresStore) CountUnprocessedEvents(ctx context.Context) (int64, error) {
	return queryCountUnprocessedEvents(ctx, s.db)
}

func (s *PostgresStore) CreateAlbum(ctx context.Context, album *model.Album) error {
	return queryCreateAlbum(ctx, s.db, album)
}

func (s *PostgresStore) GetAlbum(ctx context.Context, id string) (*model.Album, error) {
	return queryGetAlbum(ctx, s.db, id)
}

func (s *PostgresStore) UpdateAlbum(ctx context.Context, album *model.Album) error {
	return queryUpdateAlbum(ctx, s.db, album)
}

func (s *PostgresStore) MarkAlbumImported(ctx context.Context, id string, at time.Time) error {
	return queryMarkAlbumImported(ctx, s.db, id, at)
}

func (s *PostgresStore) PressingExistsByExternalID(ctx context.Context, externalReleaseID int64) (bool, error) {
	return queryPressingExistsByExternalID(ctx, s.db, externalReleaseID)
}

func (s *PostgresStore) CreatePressing(ctx context.Context, pressing *model.Pressing) error {
	return queryCreatePressing(ctx, s.db, pressing)
}

func (s *PostgresStore) ListPressings(ctx context.Context, albumID string) ([]*model.Pressing, error) {
	return queryListPressings(ctx, s.db, albumID)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
// Outbox rows staged through tx are discarded with the rollback.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) AddEvent(ctx context.Context, ev model.DomainEvent, aggregateID, aggregateType, destination string) (*model.OutboxEvent, error) {
	return queryAddEvent(ctx, s.tx, ev, aggregateID, aggregateType, destination)
}

func (s *txStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return queryGetUnprocessedEvents(ctx, s.tx, limit, false)
}

func (s *txStore) ClaimUnprocessedEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return queryGetUnprocessedEvents(ctx, s.tx, limit, true)
}

func (s *txStore) MarkAsProcessed(ctx context.Context, id string) error {
	return queryMarkAsProcessed(ctx, s.tx, id)
}

func (s *txStore) DeleteProcessedEvents(ctx context.Context, olderThanDays int) (int64, error) {
	return queryDeleteProcessedEvents(ctx, s.tx, olderThanDays)
}

func (s *txStore) DeleteProcessedEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	return queryDeleteProcessedEventsBefore(ctx, s.tx, before)
}

func (s *txStore) ListProcessedEvents(ctx context.Context, before time.Time) ([]*model.OutboxEvent, error) {
	return queryListProcessedEvents(ctx, s.tx, before)
}

func (s *txStore) CountUnprocessedEvents(ctx context.Context) (int64, error) {
	return queryCountUnprocessedEvents(ctx, s.tx)
}

func (s *txStore) CreateAlbum(ctx context.Context, album *model.Album) error {
	return queryCreateAlbum(ctx, s.tx, album)
}

func (s *txStore) GetAlbum(ctx context.Context, id string) (*model.Album, error) {
	return queryGetAlbum(ctx, s.tx, id)
}

func (s *txStore) UpdateAlbum(ctx context.Context, album *model.Album) error {
	return queryUpdateAlbum(ctx, s.tx, album)
}

func (s *txStore) MarkAlbumImported(ctx context.Context, id string, at time.Time) error {
	return queryMarkAlbumImported(ctx, s.tx, id, at)
}

func (s *txStore) PressingExistsByExternalID(ctx context.Context, externalReleaseID int64) (bool, error) {
	return queryPressingExistsByExternalID(ctx, s.tx, externalReleaseID)
}

func (s *txStore) CreatePressing(ctx context.Context, pressing *model.Pressing) error {
	return queryCreatePressing(ctx, s.tx, pressing)
}

func (s *txStore) ListPressings(ctx context.Context, albumID string) ([]*model.Pressing, error) {
	return queryListPressings(ctx, s.tx, albumID)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
