// Package memory implements store.Store in process memory. Transactions run
// against a copy of the state that replaces the original on commit, so a
// rollback discards every write the transaction made, outbox rows included.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/crates/internal/model"
	"github.com/alfredjeanlab/crates/internal/store"
)

type outboxRow struct {
	seq   int64
	event model.OutboxEvent
}

type state struct {
	seq       int64
	outbox    map[string]*outboxRow
	albums    map[string]model.Album
	pressings map[string]model.Pressing
}

func newState() *state {
	return &state{
		outbox:    map[string]*outboxRow{},
		albums:    map[string]model.Album{},
		pressings: map[string]model.Pressing{},
	}
}

func (st *state) clone() *state {
	c := &state{
		seq:       st.seq,
		outbox:    make(map[string]*outboxRow, len(st.outbox)),
		albums:    make(map[string]model.Album, len(st.albums)),
		pressings: make(map[string]model.Pressing, len(st.pressings)),
	}
	for k, r := range st.outbox {
		cp := *r
		c.outbox[k] = &cp
	}
	for k, v := range st.albums {
		c.albums[k] = v
	}
	for k, v := range st.pressings {
		c.pressings[k] = v
	}
	return c
}

// Store is an in-memory store.Store. The zero value is not usable; call New.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) view() *view {
	return &view{st: s.st, now: s.now}
}

func (s *Store) AddEvent(ctx context.Context, ev model.DomainEvent, aggregateID, aggregateType, destination string) (*model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().AddEvent(ctx, ev, aggregateID, aggregateType, destination)
}

func (s *Store) GetUnprocessedEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetUnprocessedEvents(ctx, limit)
}

func (s *Store) ClaimUnprocessedEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetUnprocessedEvents(ctx, limit)
}

func (s *Store) MarkAsProcessed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().MarkAsProcessed(ctx, id)
}

func (s *Store) DeleteProcessedEvents(ctx context.Context, olderThanDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteProcessedEvents(ctx, olderThanDays)
}

func (s *Store) DeleteProcessedEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteProcessedEventsBefore(ctx, before)
}

func (s *Store) ListProcessedEvents(ctx context.Context, before time.Time) ([]*model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListProcessedEvents(ctx, before)
}

func (s *Store) CountUnprocessedEvents(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CountUnprocessedEvents(ctx)
}

func (s *Store) CreateAlbum(ctx context.Context, album *model.Album) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateAlbum(ctx, album)
}

func (s *Store) GetAlbum(ctx context.Context, id string) (*model.Album, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetAlbum(ctx, id)
}

func (s *Store) UpdateAlbum(ctx context.Context, album *model.Album) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateAlbum(ctx, album)
}

func (s *Store) MarkAlbumImported(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().MarkAlbumImported(ctx, id, at)
}

func (s *Store) PressingExistsByExternalID(ctx context.Context, externalReleaseID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().PressingExistsByExternalID(ctx, externalReleaseID)
}

func (s *Store) CreatePressing(ctx context.Context, pressing *model.Pressing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreatePressing(ctx, pressing)
}

func (s *Store) ListPressings(ctx context.Context, albumID string) ([]*model.Pressing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListPressings(ctx, albumID)
}

// RunInTransaction holds the store lock for the whole of fn, so transactions
// are serialized. fn works on a copy that is installed only if fn succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &view{st: s.st.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *Store) Close() error { return nil }

// view operates on one state without locking. It is both the body of the
// locked Store methods and the store handed to transactions.
type view struct {
	st  *state
	now func() time.Time
}

var _ store.Store = (*view)(nil)

func (v *view) AddEvent(_ context.Context, ev model.DomainEvent, aggregateID, aggregateType, destination string) (*model.OutboxEvent, error) {
	e, err := model.NewOutboxEvent(ev, aggregateID, aggregateType, destination)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = v.now()
	v.st.seq++
	v.st.outbox[e.ID] = &outboxRow{seq: v.st.seq, event: *e}
	cp := *e
	return &cp, nil
}

// sortedRows returns matching rows in (created_at, seq) order.
func (v *view) sortedRows(match func(*outboxRow) bool) []*outboxRow {
	var rows []*outboxRow
	for _, r := range v.st.outbox {
		if match(r) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].event.CreatedAt.Equal(rows[j].event.CreatedAt) {
			return rows[i].event.CreatedAt.Before(rows[j].event.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	return rows
}

func (v *view) GetUnprocessedEvents(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows := v.sortedRows(func(r *outboxRow) bool { return !r.event.Processed })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]*model.OutboxEvent, len(rows))
	for i, r := range rows {
		cp := r.event
		out[i] = &cp
	}
	return out, nil
}

func (v *view) ClaimUnprocessedEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return v.GetUnprocessedEvents(ctx, limit)
}

func (v *view) MarkAsProcessed(_ context.Context, id string) error {
	r, ok := v.st.outbox[id]
	if !ok {
		return &model.NotFoundError{Kind: "outbox event", ID: id}
	}
	if r.event.Processed {
		return nil
	}
	at := v.now()
	r.event.Processed = true
	r.event.ProcessedAt = &at
	return nil
}

func (v *view) DeleteProcessedEvents(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, &model.ValidationError{Errors: []model.FieldError{{Field: "older_than_days", Message: "must not be negative"}}}
	}
	return v.DeleteProcessedEventsBefore(ctx, v.now().Add(-time.Duration(olderThanDays)*24*time.Hour))
}

func (v *view) DeleteProcessedEventsBefore(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for id, r := range v.st.outbox {
		if r.event.Processed && r.event.ProcessedAt != nil && r.event.ProcessedAt.Before(before) {
			delete(v.st.outbox, id)
			n++
		}
	}
	return n, nil
}

func (v *view) ListProcessedEvents(_ context.Context, before time.Time) ([]*model.OutboxEvent, error) {
	var out []*model.OutboxEvent
	for _, r := range v.st.outbox {
		if r.event.Processed && r.event.ProcessedAt != nil && r.event.ProcessedAt.Before(before) {
			cp := r.event
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.Before(*out[j].ProcessedAt) })
	return out, nil
}

func (v *view) CountUnprocessedEvents(context.Context) (int64, error) {
	var n int64
	for _, r := range v.st.outbox {
		if !r.event.Processed {
			n++
		}
	}
	return n, nil
}

func (v *view) CreateAlbum(_ context.Context, album *model.Album) error {
	if err := model.ValidateAlbum(album); err != nil {
		return err
	}
	now := v.now()
	album.CreatedAt, album.UpdatedAt = now, now
	v.st.albums[album.ID] = *album
	return nil
}

func (v *view) GetAlbum(_ context.Context, id string) (*model.Album, error) {
	a, ok := v.st.albums[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "album", ID: id}
	}
	return &a, nil
}

func (v *view) UpdateAlbum(_ context.Context, album *model.Album) error {
	if err := model.ValidateAlbum(album); err != nil {
		return err
	}
	cur, ok := v.st.albums[album.ID]
	if !ok {
		return &model.NotFoundError{Kind: "album", ID: album.ID}
	}
	cur.Title, cur.Artist, cur.ExternalMasterID = album.Title, album.Artist, album.ExternalMasterID
	cur.UpdatedAt = v.now()
	album.UpdatedAt = cur.UpdatedAt
	v.st.albums[album.ID] = cur
	return nil
}

func (v *view) MarkAlbumImported(_ context.Context, id string, at time.Time) error {
	a, ok := v.st.albums[id]
	if !ok {
		return &model.NotFoundError{Kind: "album", ID: id}
	}
	a.ImportCompletedAt = &at
	a.UpdatedAt = v.now()
	v.st.albums[id] = a
	return nil
}

func (v *view) PressingExistsByExternalID(_ context.Context, externalReleaseID int64) (bool, error) {
	for _, p := range v.st.pressings {
		if p.ExternalReleaseID == externalReleaseID {
			return true, nil
		}
	}
	return false, nil
}

func (v *view) CreatePressing(ctx context.Context, pressing *model.Pressing) error {
	if err := model.ValidatePressing(pressing); err != nil {
		return err
	}
	if _, ok := v.st.albums[pressing.AlbumID]; !ok {
		return &model.NotFoundError{Kind: "album", ID: pressing.AlbumID}
	}
	if exists, _ := v.PressingExistsByExternalID(ctx, pressing.ExternalReleaseID); exists {
		return &model.ValidationError{Errors: []model.FieldError{{
			Field:   "external_release_id",
			Message: "already imported",
		}}}
	}
	pressing.CreatedAt = v.now()
	v.st.pressings[pressing.ID] = *pressing
	return nil
}

func (v *view) ListPressings(_ context.Context, albumID string) ([]*model.Pressing, error) {
	var out []*model.Pressing
	for _, p := range v.st.pressings {
		if p.AlbumID == albumID {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ExternalReleaseID < out[j].ExternalReleaseID
	})
	return out, nil
}

// RunInTransaction on a view reuses the enclosing transaction.
func (v *view) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(v)
}

func (v *view) Close() error { return nil }
