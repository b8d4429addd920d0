package stream

import (
	"github.com/specdesk/specdesk/internal/domain"
)

// EventType identifies one UI-bound reply event.
type EventType string

const (
	// EventChunk carries an incremental piece of the streaming reply.
	EventChunk EventType = "chunk"
	// EventUpdating surfaces a transient "updating X" status.
	EventUpdating EventType = "updating"
	// EventUpdated previews a delta before persistence completes.
	EventUpdated EventType = "updated"
	// EventDone ends the transaction; by the time it is emitted the
	// persisted message is visible in the refreshed message list.
	EventDone EventType = "done"
	// EventError ends the transaction with a failure.
	EventError EventType = "error"
)

// Event is one reply-transaction event delivered to the UI. Events are
// keyed by chat session so a stream that outlives a session switch can
// never render into a different session's view.
type Event struct {
	Type          EventType             `json:"type"`
	ChatSessionID string                `json:"chat_session_id"`
	Content       string                `json:"content,omitempty"`
	What          string                `json:"what,omitempty"`
	Delta         *domain.DeltaMetadata `json:"delta,omitempty"`
	MessageID     string                `json:"message_id,omitempty"`
	Error         string                `json:"error,omitempty"`
	// Persisted distinguishes "nothing happened" from "something may have
	// been persisted before failing" on error events.
	Persisted bool `json:"persisted,omitempty"`
}

// EventSink receives reply events for delivery to connected UI clients.
// Publish must not block the coordinator; sinks queue or drop internally.
type EventSink interface {
	Publish(event Event)
}
