package telemetry

import (
	"context"
	"log"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Event kinds emitted by the sync engine.
const (
	KindSendFailed    = "send_failed"
	KindUploadFailed  = "upload_failed"
	KindFeedError     = "feed_error"
	KindFeedReconnect = "feed_reconnect"
)

// SyncEvent describes one degradation or failure observed by the engine.
type SyncEvent struct {
	Kind           string `json:"kind"`
	ConversationID int64  `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// SyncEnvelope is the wire form of a diagnostics event.
type SyncEnvelope struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	OccurredAt    string    `json:"occurred_at"`
	Service       string    `json:"service"`
	Environment   string    `json:"environment"`
	Payload       SyncEvent `json:"payload"`
}

// Emitter publishes sync diagnostics events. A nil emitter or publisher
// is safe to call: failures in the write path must never depend on the
// diagnostics channel.
type Emitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

func NewEmitter(publisher Publisher, routingKey, service, environment string) *Emitter {
	return &Emitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

func (e *Emitter) Emit(ctx context.Context, event SyncEvent) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := SyncEnvelope{
		SchemaVersion: 1,
		EventType:     "sync_events",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		Payload:       event,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("sync event publish failed: %v", err)
	}
}
