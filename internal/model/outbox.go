package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Header keys copied onto every outbox row and sent with the broker message.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderEventVersion  = "event_version"
	HeaderAggregateID   = "aggregate_id"
	HeaderAggregateType = "aggregate_type"
	HeaderContentType   = "content-type"
)

// OutboxEvent is a durable intent to publish. Everything except Processed and
// ProcessedAt is fixed once the row is inserted.
type OutboxEvent struct {
	ID            string            `json:"id"`
	EventType     string            `json:"event_type"`
	EventVersion  int               `json:"event_version"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Destination   string            `json:"destination"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers"`
	Metadata      map[string]string `json:"metadata"`
	CreatedAt     time.Time         `json:"created_at"`
	Processed     bool              `json:"processed"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty"`
}

// NewOutboxEvent serializes ev into an unsaved outbox row bound for
// destination. CreatedAt is left to the database.
func NewOutboxEvent(ev DomainEvent, aggregateID, aggregateType, destination string) (*OutboxEvent, error) {
	if destination == "" {
		return nil, &ValidationError{Errors: []FieldError{{Field: "destination", Message: "is required"}}}
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", ev.EventType(), err)
	}
	id := uuid.NewString()
	meta := make(map[string]string, len(ev.EventMetadata()))
	for k, v := range ev.EventMetadata() {
		meta[k] = v
	}
	return &OutboxEvent{
		ID:            id,
		EventType:     ev.EventType(),
		EventVersion:  ev.EventVersion(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Destination:   destination,
		Payload:       payload,
		Headers: map[string]string{
			HeaderEventID:       id,
			HeaderEventType:     ev.EventType(),
			HeaderEventVersion:  strconv.Itoa(ev.EventVersion()),
			HeaderAggregateID:   aggregateID,
			HeaderAggregateType: aggregateType,
			HeaderContentType:   "application/json",
		},
		Metadata: meta,
	}, nil
}
