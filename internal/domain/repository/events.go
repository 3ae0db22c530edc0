package repository

import (
	"context"
)

// DeliveryEvent is the message handed to the messaging front-end when an
// artifact is ready for a recipient. The URL is a presigned, time-limited
// link into the archive; Direct marks events whose artifact bypassed the
// archive (best-effort local delivery).
type DeliveryEvent struct {
	EventID   string `json:"event_id"`
	Recipient string `json:"recipient"`
	URL       string `json:"url"`
	Caption   string `json:"caption"`
	Kind      string `json:"kind"`
	Duration  int64  `json:"duration_secs"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Streaming bool   `json:"streaming"`
	Direct    bool   `json:"direct,omitempty"`
}

// EventPublisher publishes delivery events for the messaging front-end.
// Implementations should be provided by the infrastructure layer (e.g., RabbitMQ).
type EventPublisher interface {
	// PublishDelivery sends a delivery event to the bus.
	PublishDelivery(ctx context.Context, event DeliveryEvent) error

	// ConsumeDeliveries starts consuming delivery events, calling the
	// handler for each one. Used by front-end integrations; returns when
	// the context is cancelled or the channel closes.
	ConsumeDeliveries(ctx context.Context, handler func(event DeliveryEvent) error) error

	// Close gracefully closes the connection to the event bus.
	Close() error
}
