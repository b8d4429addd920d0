// Package agent provides the client for the external refiner agent
// service, which produces streamed reply transactions over SSE.
package agent

import (
	"github.com/specdesk/specdesk/internal/domain"
)

// FrameType identifies one logical frame on the reply stream.
type FrameType string

const (
	// FrameChunk carries an incremental piece of reply text.
	FrameChunk FrameType = "chunk"
	// FrameUpdating signals the agent has started updating a named target.
	FrameUpdating FrameType = "updating"
	// FrameUpdated previews a delta before the message is persisted.
	FrameUpdated FrameType = "updated"
	// FrameDone ends the transaction and carries the persisted message ID.
	FrameDone FrameType = "done"
	// FrameError aborts the transaction.
	FrameError FrameType = "error"
)

// Frame is one typed event from the reply stream. Only the fields for the
// frame's type are populated.
type Frame struct {
	Type FrameType

	// Content is set for chunk frames.
	Content string
	// What names the update target for updating/updated frames.
	What string
	// Delta is set for updated frames.
	Delta *domain.DeltaMetadata
	// MessageID is set for done frames.
	MessageID string
	// ErrorMessage is set for error frames.
	ErrorMessage string
}

// ReplyRequest asks the refiner agent to produce one reply for a chat
// session.
type ReplyRequest struct {
	ChatSessionID string           `json:"chat_session_id"`
	ProjectID     string           `json:"project_id"`
	Messages      []domain.Message `json:"-"`
}

// CompletedReply is the result of the synchronous (non-streaming) reply
// endpoint, used only when the streaming channel fails to open.
type CompletedReply struct {
	MessageID string                `json:"message_id"`
	Content   string                `json:"content"`
	Delta     *domain.DeltaMetadata `json:"delta,omitempty"`
}

// chunkPayload, statusPayload, donePayload and errorPayload mirror the
// wire format of each frame's data field.
type chunkPayload struct {
	Content string `json:"content"`
}

type statusPayload struct {
	What  string                `json:"what"`
	Delta *domain.DeltaMetadata `json:"delta,omitempty"`
}

type donePayload struct {
	MessageID string `json:"message_id"`
}

type errorPayload struct {
	Error string `json:"error"`
}
