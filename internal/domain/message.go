// Package domain defines the core entities of the specification editor.
package domain

import (
	"sort"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
	RoleAgent  Role = "agent"
)

// Message is one entry in a chat session's durable, append-only log.
// Messages are immutable once persisted. Chronological order is defined
// by CreatedAt (with ID as tiebreak), never by slice position.
type Message struct {
	ID            string
	ChatSessionID string
	Role          Role
	Content       string
	Metadata      *DeltaMetadata
	CreatedAt     time.Time
}

// SortMessages orders messages chronologically in place. CreatedAt is the
// primary key; equal timestamps fall back to ID so the order is total.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
