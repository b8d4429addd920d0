// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/specdesk/specdesk/internal/domain"
)

// Repository defines the persistence operations the editor core needs.
// The message log is append-only: messages are never updated or deleted.
type Repository interface {
	// CreateChatSession persists a new chat session.
	CreateChatSession(ctx context.Context, session *domain.ChatSession) error

	// GetChatSession retrieves a chat session by ID. Returns nil, nil when
	// the session does not exist.
	GetChatSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// AppendMessage appends one immutable message to a session's log.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns all messages for a session ordered by
	// created_at ascending (id as tiebreak).
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// CreateIssue persists a new flagged issue.
	CreateIssue(ctx context.Context, issue *domain.Issue) error

	// GetIssue retrieves an issue by ID. Returns nil, nil when absent.
	GetIssue(ctx context.Context, issueID string) (*domain.Issue, error)

	// UpdateIssueResolution sets the resolution status of an issue.
	// Retries internally on SQLITE_BUSY.
	UpdateIssueResolution(ctx context.Context, issueID string, status domain.ResolutionStatus) error

	// GetSpecDocument retrieves the current specification for a project.
	// Returns nil, nil when the project has no specification yet.
	GetSpecDocument(ctx context.Context, projectID string) (*domain.SpecDocument, error)

	// PutSpecDocument upserts the specification for a project.
	PutSpecDocument(ctx context.Context, doc *domain.SpecDocument) error

	// GetWorldModel retrieves the current world model for a project.
	// Returns nil, nil when the project has no world model yet.
	GetWorldModel(ctx context.Context, projectID string) (*domain.WorldModelDocument, error)

	// PutWorldModel upserts the world model for a project.
	PutWorldModel(ctx context.Context, doc *domain.WorldModelDocument) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
