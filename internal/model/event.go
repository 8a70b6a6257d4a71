package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types.
const (
	EventAlbumCreated    = "album.created"
	EventAlbumUpdated    = "album.updated"
	EventPressingCreated = "pressing.created"
	EventImportRequested = "import.requested"
	EventActivity        = "activity"
)

// DomainEvent is a business event that can be staged in the outbox. Concrete
// events are values; once built they are not modified.
type DomainEvent interface {
	EventType() string
	EventVersion() int
	OccurredAt() time.Time
	EventMetadata() map[string]string
}

// EventBase carries the fields every domain event shares. It is embedded so
// the fields flatten into the serialized payload.
type EventBase struct {
	Type          string            `json:"event_type"`
	Version       int               `json:"event_version"`
	Occurred      time.Time         `json:"occurred_at"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (b EventBase) EventType() string                { return b.Type }
func (b EventBase) EventVersion() int                { return b.Version }
func (b EventBase) OccurredAt() time.Time            { return b.Occurred }
func (b EventBase) EventMetadata() map[string]string { return b.Metadata }

func newBase(eventType, aggregateType, aggregateID string) EventBase {
	return EventBase{
		Type:          eventType,
		Version:       1,
		Occurred:      time.Now().UTC(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
	}
}

// EntityCreated announces a newly created catalog entity.
type EntityCreated struct {
	EventBase
	Entity json.RawMessage `json:"entity"`
}

// EntityUpdated announces a change to a catalog entity.
type EntityUpdated struct {
	EventBase
	Entity  json.RawMessage `json:"entity"`
	Changes map[string]any  `json:"changes,omitempty"`
}

// ActivityNotification feeds the live activity stream.
type ActivityNotification struct {
	EventBase
	Verb    string         `json:"verb"`
	Summary string         `json:"summary"`
	Counts  map[string]int `json:"counts,omitempty"`
}

// ImportRequested asks the consumer to import every release of an external
// master into the local album.
type ImportRequested struct {
	EventBase
	AlbumID  string `json:"album_id"`
	MasterID int64  `json:"master_id"`
}

// NewEntityCreated snapshots entity into an EntityCreated event of type
// "<aggregateType>.created".
func NewEntityCreated(aggregateType, aggregateID string, entity any) (EntityCreated, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return EntityCreated{}, fmt.Errorf("marshaling %s: %w", aggregateType, err)
	}
	return EntityCreated{
		EventBase: newBase(aggregateType+".created", aggregateType, aggregateID),
		Entity:    data,
	}, nil
}

// NewEntityUpdated snapshots entity and the changed fields into an
// EntityUpdated event of type "<aggregateType>.updated".
func NewEntityUpdated(aggregateType, aggregateID string, entity any, changes map[string]any) (EntityUpdated, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return EntityUpdated{}, fmt.Errorf("marshaling %s: %w", aggregateType, err)
	}
	return EntityUpdated{
		EventBase: newBase(aggregateType+".updated", aggregateType, aggregateID),
		Entity:    data,
		Changes:   changes,
	}, nil
}

// NewActivity builds an activity notification about an aggregate.
func NewActivity(aggregateType, aggregateID, verb, summary string, counts map[string]int) ActivityNotification {
	return ActivityNotification{
		EventBase: newBase(EventActivity, aggregateType, aggregateID),
		Verb:      verb,
		Summary:   summary,
		Counts:    counts,
	}
}

// NewImportRequested builds the trigger for a catalog import.
func NewImportRequested(albumID string, masterID int64) ImportRequested {
	return ImportRequested{
		EventBase: newBase(EventImportRequested, AggregateAlbum, albumID),
		AlbumID:   albumID,
		MasterID:  masterID,
	}
}

// DecodeImportRequested parses an ImportRequested payload.
func DecodeImportRequested(data []byte) (ImportRequested, error) {
	var ev ImportRequested
	if err := json.Unmarshal(data, &ev); err != nil {
		return ImportRequested{}, fmt.Errorf("decoding %s: %w", EventImportRequested, err)
	}
	if ev.AlbumID == "" || ev.MasterID <= 0 {
		ve := &ValidationError{}
		if ev.AlbumID == "" {
			ve.add("album_id", "is required")
		}
		if ev.MasterID <= 0 {
			ve.add("master_id", "must be positive, got %d", ev.MasterID)
		}
		return ImportRequested{}, ve
	}
	return ev, nil
}
