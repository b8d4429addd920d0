package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/specdesk/specdesk/internal/domain"
	"github.com/specdesk/specdesk/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_project ON chat_sessions(project_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(chat_session_id, created_at);

	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		run_id TEXT,
		candidate_ids_json TEXT,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		description TEXT NOT NULL,
		resolution_status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project_id);

	CREATE TABLE IF NOT EXISTS spec_documents (
		project_id TEXT PRIMARY KEY,
		content_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_model_documents (
		project_id TEXT PRIMARY KEY,
		content_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateChatSession persists a new chat session.
func (s *SQLiteStore) CreateChatSession(ctx context.Context, session *domain.ChatSession) error {
	query := `INSERT INTO chat_sessions (id, project_id, title, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.ProjectID, session.Title, session.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("chat session %s: %w", session.ID, errdefs.ErrAlreadyExists)
		}
		return fmt.Errorf("insert chat session: %w", err)
	}
	return nil
}

// GetChatSession retrieves a chat session by ID.
func (s *SQLiteStore) GetChatSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	query := `SELECT id, project_id, title, created_at FROM chat_sessions WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, sessionID)

	var session domain.ChatSession
	var createdAt int64
	err := row.Scan(&session.ID, &session.ProjectID, &session.Title, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session row: %w", err)
	}
	session.CreatedAt = time.Unix(createdAt, 0)
	return &session, nil
}

// AppendMessage appends one immutable message to a session's log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	var metadataJSON interface{}
	if msg.Metadata != nil {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal message metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	query := `
	INSERT INTO messages (id, chat_session_id, role, content, metadata_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ChatSessionID, string(msg.Role), msg.Content,
		metadataJSON, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns all messages for a session ordered chronologically.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	query := `
		SELECT id, chat_session_id, role, content, metadata_json, created_at
		FROM messages WHERE chat_session_id = ?
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var metadataJSON sql.NullString
		var createdAt int64

		if err := rows.Scan(&msg.ID, &msg.ChatSessionID, &role, &msg.Content, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt)

		if metadataJSON.Valid && metadataJSON.String != "" {
			var meta domain.DeltaMetadata
			if err := json.Unmarshal([]byte(metadataJSON.String), &meta); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for message %s: %w", msg.ID, err)
			}
			msg.Metadata = &meta
		}
		msgs = append(msgs, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// CreateIssue persists a new flagged issue.
func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *domain.Issue) error {
	var candidateIDs interface{}
	if len(issue.CandidateIDs) > 0 {
		data, err := json.Marshal(issue.CandidateIDs)
		if err != nil {
			return fmt.Errorf("marshal candidate ids: %w", err)
		}
		candidateIDs = string(data)
	}

	var runID interface{}
	if issue.RunID != "" {
		runID = issue.RunID
	}

	query := `
	INSERT INTO issues (id, project_id, run_id, candidate_ids_json, type, severity, description, resolution_status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		issue.ID, issue.ProjectID, runID, candidateIDs,
		issue.Type, string(issue.Severity), issue.Description,
		string(issue.ResolutionStatus), issue.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

// GetIssue retrieves an issue by ID.
func (s *SQLiteStore) GetIssue(ctx context.Context, issueID string) (*domain.Issue, error) {
	query := `
		SELECT id, project_id, run_id, candidate_ids_json, type, severity, description, resolution_status, created_at
		FROM issues WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, issueID)

	var issue domain.Issue
	var runID, candidateIDs sql.NullString
	var severity, status string
	var createdAt int64

	err := row.Scan(
		&issue.ID, &issue.ProjectID, &runID, &candidateIDs,
		&issue.Type, &severity, &issue.Description, &status, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan issue row: %w", err)
	}

	issue.RunID = runID.String
	issue.Severity = domain.Severity(severity)
	issue.ResolutionStatus = domain.ResolutionStatus(status)
	issue.CreatedAt = time.Unix(createdAt, 0)

	if candidateIDs.Valid && candidateIDs.String != "" {
		if err := json.Unmarshal([]byte(candidateIDs.String), &issue.CandidateIDs); err != nil {
			return nil, fmt.Errorf("unmarshal candidate ids for issue %s: %w", issue.ID, err)
		}
	}
	return &issue, nil
}

// UpdateIssueResolution sets the resolution status of an issue. Retries
// with exponential backoff on SQLITE_BUSY since resolution races with the
// executor's own writes.
func (s *SQLiteStore) UpdateIssueResolution(ctx context.Context, issueID string, status domain.ResolutionStatus) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		lastErr = s.updateIssueResolutionOnce(ctx, issueID, status)
		if lastErr == nil {
			return nil
		}
		if !shared.IsSQLiteBusy(lastErr) {
			return lastErr
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("UpdateIssueResolution hit SQLITE_BUSY, retrying",
				"issue_id", issueID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("update issue resolution for %s after %d attempts: %w", issueID, maxRetries, lastErr)
}

func (s *SQLiteStore) updateIssueResolutionOnce(ctx context.Context, issueID string, status domain.ResolutionStatus) error {
	query := `UPDATE issues SET resolution_status = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, string(status), issueID)
	if err != nil {
		return fmt.Errorf("update issue resolution: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("issue %s: %w", issueID, errdefs.ErrNotFound)
	}
	return nil
}

// GetSpecDocument retrieves the current specification for a project.
func (s *SQLiteStore) GetSpecDocument(ctx context.Context, projectID string) (*domain.SpecDocument, error) {
	query := `SELECT project_id, content_json, version, updated_at FROM spec_documents WHERE project_id = ?`
	row := s.db.QueryRowContext(ctx, query, projectID)

	var doc domain.SpecDocument
	var content string
	var updatedAt int64
	err := row.Scan(&doc.ProjectID, &content, &doc.Version, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan spec document row: %w", err)
	}
	doc.Content = json.RawMessage(content)
	doc.UpdatedAt = time.Unix(updatedAt, 0)
	return &doc, nil
}

// PutSpecDocument upserts the specification for a project.
func (s *SQLiteStore) PutSpecDocument(ctx context.Context, doc *domain.SpecDocument) error {
	query := `
	INSERT INTO spec_documents (project_id, content_json, version, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(project_id) DO UPDATE SET
		content_json = excluded.content_json,
		version = excluded.version,
		updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		doc.ProjectID, string(doc.Content), doc.Version, doc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert spec document: %w", err)
	}
	return nil
}

// GetWorldModel retrieves the current world model for a project.
func (s *SQLiteStore) GetWorldModel(ctx context.Context, projectID string) (*domain.WorldModelDocument, error) {
	query := `SELECT project_id, content_json, version, updated_at FROM world_model_documents WHERE project_id = ?`
	row := s.db.QueryRowContext(ctx, query, projectID)

	var doc domain.WorldModelDocument
	var content string
	var updatedAt int64
	err := row.Scan(&doc.ProjectID, &content, &doc.Version, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan world model row: %w", err)
	}
	doc.Content = json.RawMessage(content)
	doc.UpdatedAt = time.Unix(updatedAt, 0)
	return &doc, nil
}

// PutWorldModel upserts the world model for a project.
func (s *SQLiteStore) PutWorldModel(ctx context.Context, doc *domain.WorldModelDocument) error {
	query := `
	INSERT INTO world_model_documents (project_id, content_json, version, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(project_id) DO UPDATE SET
		content_json = excluded.content_json,
		version = excluded.version,
		updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		doc.ProjectID, string(doc.Content), doc.Version, doc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert world model: %w", err)
	}
	return nil
}
