package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/alfredjeanlab/crates/internal/model"
	"github.com/alfredjeanlab/crates/internal/store/memory"
)

func pending(t *testing.T, s *memory.Store) []*model.OutboxEvent {
	t.Helper()
	rows, err := s.GetUnprocessedEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("GetUnprocessedEvents: %v", err)
	}
	return rows
}

func TestCreateAlbum_StagesEvents(t *testing.T) {
	s := memory.New()
	svc := NewService(s)

	album, err := svc.CreateAlbum(context.Background(), CreateAlbumInput{
		Title: " Blue ", Artist: "Joni Mitchell", ExternalMasterID: 5512, Import: true,
	})
	if err != nil {
		t.Fatalf("CreateAlbum: %v", err)
	}
	if !strings.HasPrefix(album.ID, "alb-") || album.Title != "Blue" {
		t.Fatalf("album = %+v", album)
	}

	rows := pending(t, s)
	want := []string{model.DestinationAlbumCreated, model.DestinationActivity, model.DestinationImportRequested}
	if len(rows) != len(want) {
		t.Fatalf("staged %d rows, want %d", len(rows), len(want))
	}
	for i, d := range want {
		if rows[i].Destination != d {
			t.Errorf("row %d destination = %q, want %q", i, rows[i].Destination, d)
		}
		if rows[i].AggregateID != album.ID {
			t.Errorf("row %d aggregate = %q", i, rows[i].AggregateID)
		}
	}

	req, err := model.DecodeImportRequested(rows[2].Payload)
	if err != nil {
		t.Fatalf("DecodeImportRequested: %v", err)
	}
	if req.AlbumID != album.ID || req.MasterID != 5512 {
		t.Fatalf("import request = %+v", req)
	}
}

func TestCreateAlbum_InvalidWritesNothing(t *testing.T) {
	s := memory.New()
	svc := NewService(s)

	_, err := svc.CreateAlbum(context.Background(), CreateAlbumInput{Title: "", Artist: "Nobody"})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	_, err = svc.CreateAlbum(context.Background(), CreateAlbumInput{Title: "Blue", Artist: "Joni Mitchell", Import: true})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err = %v, want validation error for import without master", err)
	}
	if rows := pending(t, s); len(rows) != 0 {
		t.Fatalf("staged %d rows for rejected albums", len(rows))
	}
}

func TestUpdateAlbum(t *testing.T) {
	s := memory.New()
	svc := NewService(s)
	album, err := svc.CreateAlbum(context.Background(), CreateAlbumInput{Title: "Blue", Artist: "Joni"})
	if err != nil {
		t.Fatal(err)
	}
	before := len(pending(t, s))

	artist := "Joni Mitchell"
	title := "Blue"
	updated, err := svc.UpdateAlbum(context.Background(), album.ID, UpdateAlbumInput{Title: &title, Artist: &artist})
	if err != nil {
		t.Fatalf("UpdateAlbum: %v", err)
	}
	if updated.Artist != artist {
		t.Fatalf("artist = %q", updated.Artist)
	}

	rows := pending(t, s)
	if len(rows) != before+1 {
		t.Fatalf("staged %d new rows, want 1", len(rows)-before)
	}
	last := rows[len(rows)-1]
	if last.Destination != model.DestinationAlbumUpdated {
		t.Fatalf("destination = %q", last.Destination)
	}
	var ev model.EntityUpdated
	if err := json.Unmarshal(last.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if _, ok := ev.Changes["title"]; ok || ev.Changes["artist"] != artist {
		t.Fatalf("changes = %v, want only artist", ev.Changes)
	}

	// No-op update stages nothing.
	if _, err := svc.UpdateAlbum(context.Background(), album.ID, UpdateAlbumInput{Artist: &artist}); err != nil {
		t.Fatal(err)
	}
	if n := len(pending(t, s)); n != len(rows) {
		t.Fatalf("no-op update staged %d rows", n-len(rows))
	}

	if _, err := svc.UpdateAlbum(context.Background(), "alb-missing", UpdateAlbumInput{Artist: &artist}); !model.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestRequestImport(t *testing.T) {
	s := memory.New()
	svc := NewService(s)
	withMaster, _ := svc.CreateAlbum(context.Background(), CreateAlbumInput{Title: "Blue", Artist: "Joni Mitchell", ExternalMasterID: 5512})
	without, _ := svc.CreateAlbum(context.Background(), CreateAlbumInput{Title: "Court and Spark", Artist: "Joni Mitchell"})

	row, err := svc.RequestImport(context.Background(), withMaster.ID)
	if err != nil {
		t.Fatalf("RequestImport: %v", err)
	}
	if row.EventType != model.EventImportRequested || row.Destination != model.DestinationImportRequested {
		t.Fatalf("row = %+v", row)
	}
	if _, err := svc.RequestImport(context.Background(), without.ID); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if _, err := svc.RequestImport(context.Background(), "alb-missing"); !model.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}
