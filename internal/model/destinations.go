package model

// Broker destinations. Topic-style names used verbatim by the STOMP and NATS
// transports and remapped by the MQTT transport.
const (
	DestinationAlbumCreated    = "/topic/catalog.album.created"
	DestinationAlbumUpdated    = "/topic/catalog.album.updated"
	DestinationPressingCreated = "/topic/catalog.pressing.created"
	DestinationImportRequested = "/topic/catalog.import.requested"
	DestinationActivity        = "/topic/activity"
)

// Aggregate types recorded on outbox rows.
const (
	AggregateAlbum    = "album"
	AggregatePressing = "pressing"
)
