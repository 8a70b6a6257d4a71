// Package catalog holds the album mutations that feed the event pipeline.
// Every mutation and the outbox rows describing it commit in one
// transaction.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/crates/internal/idgen"
	"github.com/alfredjeanlab/crates/internal/model"
	"github.com/alfredjeanlab/crates/internal/store"
)

// Service performs catalog writes.
type Service struct {
	store store.Store
}

// NewService creates a catalog service over s.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// CreateAlbumInput holds the parameters for a new album.
type CreateAlbumInput struct {
	Title            string `json:"title"`
	Artist           string `json:"artist"`
	ExternalMasterID int64  `json:"external_master_id"`
	// Import stages an import request in the same transaction.
	Import bool `json:"import"`
}

// CreateAlbum persists an album with an album.created event, an activity
// notification and, when requested, an import request.
func (s *Service) CreateAlbum(ctx context.Context, in CreateAlbumInput) (*model.Album, error) {
	id, err := idgen.Album()
	if err != nil {
		return nil, err
	}
	album := &model.Album{
		ID:               id,
		Title:            strings.TrimSpace(in.Title),
		Artist:           strings.TrimSpace(in.Artist),
		ExternalMasterID: in.ExternalMasterID,
	}
	if in.Import && album.ExternalMasterID <= 0 {
		return nil, &model.ValidationError{Errors: []model.FieldError{{
			Field:   "external_master_id",
			Message: "is required to import",
		}}}
	}

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.CreateAlbum(ctx, album); err != nil {
			return err
		}
		created, err := model.NewEntityCreated(model.AggregateAlbum, album.ID, album)
		if err != nil {
			return err
		}
		if _, err := tx.AddEvent(ctx, created, album.ID, model.AggregateAlbum, model.DestinationAlbumCreated); err != nil {
			return err
		}
		activity := model.NewActivity(model.AggregateAlbum, album.ID, "created",
			fmt.Sprintf("Added %s by %s", album.Title, album.Artist), nil)
		if _, err := tx.AddEvent(ctx, activity, album.ID, model.AggregateAlbum, model.DestinationActivity); err != nil {
			return err
		}
		if in.Import {
			_, err := stageImport(ctx, tx, album)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return album, nil
}

// UpdateAlbumInput holds the fields to change. Nil fields are left alone.
type UpdateAlbumInput struct {
	Title            *string `json:"title,omitempty"`
	Artist           *string `json:"artist,omitempty"`
	ExternalMasterID *int64  `json:"external_master_id,omitempty"`
}

// UpdateAlbum applies in and stages an album.updated event listing the
// changed fields. An update that changes nothing stages nothing.
func (s *Service) UpdateAlbum(ctx context.Context, id string, in UpdateAlbumInput) (*model.Album, error) {
	var album *model.Album
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		album, err = tx.GetAlbum(ctx, id)
		if err != nil {
			return err
		}
		changes := map[string]any{}
		if in.Title != nil && strings.TrimSpace(*in.Title) != album.Title {
			album.Title = strings.TrimSpace(*in.Title)
			changes["title"] = album.Title
		}
		if in.Artist != nil && strings.TrimSpace(*in.Artist) != album.Artist {
			album.Artist = strings.TrimSpace(*in.Artist)
			changes["artist"] = album.Artist
		}
		if in.ExternalMasterID != nil && *in.ExternalMasterID != album.ExternalMasterID {
			album.ExternalMasterID = *in.ExternalMasterID
			changes["external_master_id"] = album.ExternalMasterID
		}
		if len(changes) == 0 {
			return nil
		}
		if err := tx.UpdateAlbum(ctx, album); err != nil {
			return err
		}
		ev, err := model.NewEntityUpdated(model.AggregateAlbum, album.ID, album, changes)
		if err != nil {
			return err
		}
		_, err = tx.AddEvent(ctx, ev, album.ID, model.AggregateAlbum, model.DestinationAlbumUpdated)
		return err
	})
	if err != nil {
		return nil, err
	}
	return album, nil
}

// RequestImport stages an import of the album's external master. The import
// itself runs when the consumer receives the event.
func (s *Service) RequestImport(ctx context.Context, albumID string) (*model.OutboxEvent, error) {
	var row *model.OutboxEvent
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		album, err := tx.GetAlbum(ctx, albumID)
		if err != nil {
			return err
		}
		if album.ExternalMasterID <= 0 {
			return &model.ValidationError{Errors: []model.FieldError{{
				Field:   "external_master_id",
				Message: "album has no external master to import from",
			}}}
		}
		row, err = stageImport(ctx, tx, album)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func stageImport(ctx context.Context, tx store.Store, album *model.Album) (*model.OutboxEvent, error) {
	return tx.AddEvent(ctx, model.NewImportRequested(album.ID, album.ExternalMasterID),
		album.ID, model.AggregateAlbum, model.DestinationImportRequested)
}
