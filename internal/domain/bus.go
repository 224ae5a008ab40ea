package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (local) or NATS (distributed).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// Channel settings
	ChannelBufferSize int `mapstructure:"channelbuffersize"`

	// NATS settings
	NATSUrl           string `mapstructure:"natsurl"`
	NATSToken         string `mapstructure:"natstoken"`
	NATSMaxReconnects int    `mapstructure:"natsmaxreconnects"`
	NATSReconnectWait int    `mapstructure:"natsreconnectwait"` // seconds

	// NATSQueueGroup load-balances subscribers across nodes. Empty means
	// every node receives every message.
	NATSQueueGroup string `mapstructure:"natsqueuegroup"`
}

// Topic names for the fleet pipeline.
const (
	TopicRefuelRecorded    = "fleet.refuel.recorded"
	TopicSanitizeCompleted = "fleet.sanitize.completed"
	TopicHealthScored      = "fleet.health.scored"
)

// RefuelRecorded is the payload published after an event is persisted.
type RefuelRecorded struct {
	EventID   string `json:"eventId"`
	VehicleID string `json:"vehicleId"`
	Reading   int64  `json:"reading"`
	Amended   bool   `json:"amended"`

	// PreviousVehicleID is set when an amend moved the event off another
	// vehicle, whose history then needs repairing too.
	PreviousVehicleID string `json:"previousVehicleId,omitempty"`
}

// SanitizeCompleted is the payload published after a sanitizer pass.
type SanitizeCompleted struct {
	VehicleID  string `json:"vehicleId,omitempty"`
	FixedCount int    `json:"fixedCount"`
	Warnings   int    `json:"warnings"`
	DurationMs int64  `json:"durationMs"`
}

// HealthScored is the payload published after a fresh health report.
type HealthScored struct {
	OverallScore int            `json:"overallScore"`
	TableScores  map[string]int `json:"tableScores"`
	GeneratedAt  int64          `json:"generatedAt"`
}
