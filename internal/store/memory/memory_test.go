package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alfredjeanlab/crates/internal/model"
	"github.com/alfredjeanlab/crates/internal/store"
)

var errBoom = errors.New("boom")

func addActivity(t *testing.T, s store.Store, aggregateID string) *model.OutboxEvent {
	t.Helper()
	e, err := s.AddEvent(context.Background(), model.NewActivity(model.AggregateAlbum, aggregateID, "touched", "", nil),
		aggregateID, model.AggregateAlbum, model.DestinationActivity)
	if err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	return e
}

func count(t *testing.T, s store.Store) int64 {
	t.Helper()
	n, err := s.CountUnprocessedEvents(context.Background())
	if err != nil {
		t.Fatalf("CountUnprocessedEvents: %v", err)
	}
	return n
}

func TestRunInTransaction_Atomicity(t *testing.T) {
	for _, tc := range []struct {
		name     string
		fail     bool
		wantRows int64
	}{
		{"Commit", false, 2},
		{"Rollback", true, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := New()
			ctx := context.Background()
			err := s.RunInTransaction(ctx, func(tx store.Store) error {
				a := &model.Album{ID: "alb-1", Title: "Blue", Artist: "Joni Mitchell"}
				if err := tx.CreateAlbum(ctx, a); err != nil {
					return err
				}
				addActivity(t, tx, a.ID)
				addActivity(t, tx, a.ID)
				if tc.fail {
					return errBoom
				}
				return nil
			})
			if tc.fail != errors.Is(err, errBoom) {
				t.Fatalf("RunInTransaction error = %v", err)
			}
			if got := count(t, s); got != tc.wantRows {
				t.Errorf("outbox rows = %d, want %d", got, tc.wantRows)
			}
			_, err = s.GetAlbum(ctx, "alb-1")
			if tc.fail && !model.IsNotFound(err) {
				t.Errorf("album survived rollback: %v", err)
			}
			if !tc.fail && err != nil {
				t.Errorf("album missing after commit: %v", err)
			}
		})
	}
}

func TestGetUnprocessedEvents_OrderAndFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	s.SetClock(func() time.Time { return tick })

	e1 := addActivity(t, s, "a")
	tick = base.Add(time.Second)
	e2 := addActivity(t, s, "a")
	e3 := addActivity(t, s, "a") // same created_at as e2; insertion order breaks the tie
	tick = base.Add(2 * time.Second)

	if err := s.MarkAsProcessed(ctx, e2.ID); err != nil {
		t.Fatalf("MarkAsProcessed: %v", err)
	}

	got, err := s.GetUnprocessedEvents(ctx, 10)
	if err != nil {
		t.Fatalf("GetUnprocessedEvents: %v", err)
	}
	if len(got) != 2 || got[0].ID != e1.ID || got[1].ID != e3.ID {
		t.Fatalf("got %v, want [%s %s]", ids(got), e1.ID, e3.ID)
	}
	for _, e := range got {
		if e.Processed {
			t.Errorf("returned processed row %s", e.ID)
		}
	}

	limited, _ := s.GetUnprocessedEvents(ctx, 1)
	if len(limited) != 1 || limited[0].ID != e1.ID {
		t.Errorf("limit 1 = %v", ids(limited))
	}
}

func TestMarkAsProcessed_Idempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := first
	s.SetClock(func() time.Time { return now })

	e := addActivity(t, s, "a")
	if err := s.MarkAsProcessed(ctx, e.ID); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	now = first.Add(time.Hour)
	if err := s.MarkAsProcessed(ctx, e.ID); err != nil {
		t.Fatalf("second mark: %v", err)
	}

	list, _ := s.ListProcessedEvents(ctx, now.Add(time.Hour))
	if len(list) != 1 || !list[0].ProcessedAt.Equal(first) {
		t.Fatalf("second mark changed processed_at: %+v", list)
	}

	if err := s.MarkAsProcessed(ctx, "missing"); !model.IsNotFound(err) {
		t.Errorf("unknown id: got %v", err)
	}
}

func TestDeleteProcessedEvents(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	old := addActivity(t, s, "a")
	_ = s.MarkAsProcessed(ctx, old.ID)
	pending := addActivity(t, s, "a")

	now = now.Add(8 * 24 * time.Hour)
	recent := addActivity(t, s, "a")
	_ = s.MarkAsProcessed(ctx, recent.ID)

	n, err := s.DeleteProcessedEvents(ctx, 7)
	if err != nil {
		t.Fatalf("DeleteProcessedEvents: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if err := s.MarkAsProcessed(ctx, old.ID); !model.IsNotFound(err) {
		t.Errorf("old row should be gone, got %v", err)
	}
	if got := count(t, s); got != 1 {
		t.Errorf("unprocessed = %d, want 1 (%s)", got, pending.ID)
	}
	if _, err := s.DeleteProcessedEvents(ctx, -1); !errors.Is(err, model.ErrValidation) {
		t.Errorf("negative days: %v", err)
	}
}

func TestCatalog(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateAlbum(ctx, &model.Album{ID: "alb-1", Title: "Blue", Artist: "Joni Mitchell", ExternalMasterID: 1}); err != nil {
		t.Fatalf("CreateAlbum: %v", err)
	}
	p := &model.Pressing{ID: "prs-1", AlbumID: "alb-1", ExternalReleaseID: 10, Format: model.FormatVinyl}
	if err := s.CreatePressing(ctx, p); err != nil {
		t.Fatalf("CreatePressing: %v", err)
	}
	dup := &model.Pressing{ID: "prs-2", AlbumID: "alb-1", ExternalReleaseID: 10, Format: model.FormatVinyl}
	if err := s.CreatePressing(ctx, dup); !errors.Is(err, model.ErrValidation) {
		t.Errorf("duplicate external id: %v", err)
	}
	orphan := &model.Pressing{ID: "prs-3", AlbumID: "nope", ExternalReleaseID: 11, Format: model.FormatVinyl}
	if err := s.CreatePressing(ctx, orphan); !model.IsNotFound(err) {
		t.Errorf("missing album: %v", err)
	}

	ok, _ := s.PressingExistsByExternalID(ctx, 10)
	if !ok {
		t.Error("expected pressing 10 to exist")
	}
	list, _ := s.ListPressings(ctx, "alb-1")
	if len(list) != 1 {
		t.Errorf("pressings = %d, want 1", len(list))
	}

	at := time.Now().UTC()
	if err := s.MarkAlbumImported(ctx, "alb-1", at); err != nil {
		t.Fatalf("MarkAlbumImported: %v", err)
	}
	a, _ := s.GetAlbum(ctx, "alb-1")
	if !a.Imported() {
		t.Error("album should be marked imported")
	}
}

func ids(events []*model.OutboxEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}
