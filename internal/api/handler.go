// Package api provides HTTP handlers for the specification editor API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/specdesk/specdesk/internal/domain"
	"github.com/specdesk/specdesk/internal/highlight"
	"github.com/specdesk/specdesk/internal/identity"
	"github.com/specdesk/specdesk/internal/readmodel"
	"github.com/specdesk/specdesk/internal/remediation"
	"github.com/specdesk/specdesk/internal/store"
	"github.com/specdesk/specdesk/internal/stream"
)

// Handler provides the HTTP handlers and their shared dependencies.
type Handler struct {
	repo        store.Repository
	cache       *readmodel.Cache
	coordinator *stream.Coordinator
	gate        *remediation.Gate
	executor    *remediation.ExecutorClient
	rateLimiter *RateLimiter
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(
	repo store.Repository,
	cache *readmodel.Cache,
	coordinator *stream.Coordinator,
	gate *remediation.Gate,
	executor *remediation.ExecutorClient,
	rateLimiter *RateLimiter,
) *Handler {
	return &Handler{
		repo:        repo,
		cache:       cache,
		coordinator: coordinator,
		gate:        gate,
		executor:    executor,
		rateLimiter: rateLimiter,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type sessionResponse struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

func toSessionResponse(s *domain.ChatSession) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		ProjectID: s.ProjectID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
	}
}

type messageResponse struct {
	ID            string                `json:"id"`
	ChatSessionID string                `json:"chat_session_id"`
	Role          domain.Role           `json:"role"`
	Content       string                `json:"content"`
	Metadata      *domain.DeltaMetadata `json:"metadata,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}

func toMessageResponses(msgs []domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:            m.ID,
			ChatSessionID: m.ChatSessionID,
			Role:          m.Role,
			Content:       m.Content,
			Metadata:      m.Metadata,
			CreatedAt:     m.CreatedAt,
		})
	}
	return out
}

// CreateSession handles POST /api/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"project_id"`
		Title     string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		Error(w, http.StatusBadRequest, "project_id is required")
		return
	}

	session := &domain.ChatSession{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		Title:     req.Title,
		CreatedAt: time.Now(),
	}
	if err := h.repo.CreateChatSession(r.Context(), session); err != nil {
		if errdefs.IsAlreadyExists(err) {
			Error(w, http.StatusConflict, "session already exists")
			return
		}
		slog.Error("failed to create chat session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	JSON(w, http.StatusCreated, toSessionResponse(session))
}

// GetSession handles GET /api/sessions/{sessionID}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, toSessionResponse(session))
}

// ListMessages handles GET /api/sessions/{sessionID}/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	msgs, err := h.cache.RefreshMessages(r.Context(), session.ID)
	if err != nil {
		slog.Error("failed to list messages", "session_id", session.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"messages": toMessageResponses(msgs),
	})
}

// PostMessage handles POST /api/sessions/{sessionID}/messages. Appending
// a user message is what triggers a reply transaction; the observation of
// the refreshed list decides whether one actually starts.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	msg := &domain.Message{
		ID:            uuid.NewString(),
		ChatSessionID: session.ID,
		Role:          domain.RoleUser,
		Content:       req.Content,
		CreatedAt:     time.Now(),
	}
	if err := h.repo.AppendMessage(r.Context(), msg); err != nil {
		slog.Error("failed to append message", "session_id", session.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to append message")
		return
	}

	msgs, err := h.cache.RefreshMessages(r.Context(), session.ID)
	if err != nil {
		slog.Error("failed to refresh messages after append", "session_id", session.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to refresh messages")
		return
	}
	started := h.coordinator.ObserveMessages(session.ID, session.ProjectID, msgs)

	JSON(w, http.StatusAccepted, map[string]interface{}{
		"message":       toMessageResponses([]domain.Message{*msg})[0],
		"reply_started": started,
	})
}

// GetHighlights handles GET /api/sessions/{sessionID}/highlights. The
// highlight map is recomputed from the full message list on every call.
func (h *Handler) GetHighlights(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	msgs, err := h.cache.RefreshMessages(r.Context(), session.ID)
	if err != nil {
		slog.Error("failed to load messages for highlights", "session_id", session.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to compute highlights")
		return
	}

	indices := highlight.Compute(msgs)
	tiers := highlight.Tiers(indices)

	type item struct {
		Index int            `json:"index"`
		Tier  highlight.Tier `json:"tier"`
	}
	items := make(map[string]item, len(indices))
	for key, idx := range indices {
		items[key] = item{Index: idx, Tier: tiers[key]}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"highlights": items,
		"max_index":  highlight.MaxIndex(indices),
	})
}

// GetTranscript handles GET /api/sessions/{sessionID}/transcript: the
// transient state of any in-flight reply transaction.
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session id is required")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"state": h.coordinator.StateOf(sessionID),
		"text":  h.coordinator.Transcript(sessionID),
	})
}

type documentResponse struct {
	ProjectID string          `json:"project_id"`
	Content   json.RawMessage `json:"content"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GetSpec handles GET /api/projects/{projectID}/spec.
func (h *Handler) GetSpec(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	doc, err := h.cache.Spec(r.Context(), projectID)
	if err != nil {
		slog.Error("failed to load spec", "project_id", projectID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load specification")
		return
	}
	if doc == nil {
		Error(w, http.StatusNotFound, "specification not found")
		return
	}
	JSON(w, http.StatusOK, documentResponse{
		ProjectID: doc.ProjectID,
		Content:   doc.Content,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	})
}

// GetWorldModel handles GET /api/projects/{projectID}/world-model.
func (h *Handler) GetWorldModel(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	doc, err := h.cache.WorldModel(r.Context(), projectID)
	if err != nil {
		slog.Error("failed to load world model", "project_id", projectID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load world model")
		return
	}
	if doc == nil {
		Error(w, http.StatusNotFound, "world model not found")
		return
	}
	JSON(w, http.StatusOK, documentResponse{
		ProjectID: doc.ProjectID,
		Content:   doc.Content,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	})
}

type issueResponse struct {
	ID               string                  `json:"id"`
	ProjectID        string                  `json:"project_id"`
	RunID            string                  `json:"run_id,omitempty"`
	CandidateIDs     []string                `json:"candidate_ids,omitempty"`
	Type             string                  `json:"type"`
	Severity         domain.Severity         `json:"severity"`
	Description      string                  `json:"description"`
	ResolutionStatus domain.ResolutionStatus `json:"resolution_status"`
	CreatedAt        time.Time               `json:"created_at"`
}

func toIssueResponse(i *domain.Issue) issueResponse {
	return issueResponse{
		ID:               i.ID,
		ProjectID:        i.ProjectID,
		RunID:            i.RunID,
		CandidateIDs:     i.CandidateIDs,
		Type:             i.Type,
		Severity:         i.Severity,
		Description:      i.Description,
		ResolutionStatus: i.ResolutionStatus,
		CreatedAt:        i.CreatedAt,
	}
}

func validSeverity(s domain.Severity) bool {
	switch s {
	case domain.SeverityMinor, domain.SeverityImportant, domain.SeverityCatastrophic:
		return true
	}
	return false
}

// CreateIssue handles POST /api/issues.
func (h *Handler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID    string          `json:"project_id"`
		RunID        string          `json:"run_id"`
		CandidateIDs []string        `json:"candidate_ids"`
		Type         string          `json:"type"`
		Severity     domain.Severity `json:"severity"`
		Description  string          `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		Error(w, http.StatusBadRequest, "project_id is required")
		return
	}
	if !validSeverity(req.Severity) {
		Error(w, http.StatusBadRequest, "severity must be minor, important, or catastrophic")
		return
	}

	issue := &domain.Issue{
		ID:               uuid.NewString(),
		ProjectID:        req.ProjectID,
		RunID:            req.RunID,
		CandidateIDs:     req.CandidateIDs,
		Type:             req.Type,
		Severity:         req.Severity,
		Description:      req.Description,
		ResolutionStatus: domain.ResolutionOpen,
		CreatedAt:        time.Now(),
	}
	if err := h.repo.CreateIssue(r.Context(), issue); err != nil {
		slog.Error("failed to create issue", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create issue")
		return
	}

	JSON(w, http.StatusCreated, toIssueResponse(issue))
}

// GetIssue handles GET /api/issues/{issueID}.
func (h *Handler) GetIssue(w http.ResponseWriter, r *http.Request) {
	issueID := chi.URLParam(r, "issueID")
	issue, err := h.repo.GetIssue(r.Context(), issueID)
	if err != nil {
		slog.Error("failed to load issue", "issue_id", issueID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load issue")
		return
	}
	if issue == nil {
		Error(w, http.StatusNotFound, "issue not found")
		return
	}
	JSON(w, http.StatusOK, toIssueResponse(issue))
}

// RemediateIssue handles POST /api/issues/{issueID}/remediate: resolve
// the requested action against the issue's context, gate the dispatch,
// and hand the effective action to the executor.
func (h *Handler) RemediateIssue(w http.ResponseWriter, r *http.Request) {
	issueID := chi.URLParam(r, "issueID")
	issue, err := h.repo.GetIssue(r.Context(), issueID)
	if err != nil {
		slog.Error("failed to load issue", "issue_id", issueID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load issue")
		return
	}
	if issue == nil {
		Error(w, http.StatusNotFound, "issue not found")
		return
	}
	if issue.ResolutionStatus != domain.ResolutionOpen {
		Error(w, http.StatusConflict, "issue is already "+string(issue.ResolutionStatus))
		return
	}

	var req struct {
		Action   domain.RemediationAction `json:"action"`
		Metadata map[string]string        `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := remediation.Resolve(*issue, req.Action)
	if err != nil {
		if errdefs.IsInvalidArgument(err) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to resolve remediation action", "issue_id", issueID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to resolve action")
		return
	}

	decision, err := h.gate.Evaluate(r.Context(), *issue, result)
	if err != nil {
		slog.Error("remediation policy evaluation failed", "issue_id", issueID, "error", err)
		Error(w, http.StatusInternalServerError, "policy evaluation failed")
		return
	}

	resp := map[string]interface{}{
		"decision":         decision,
		"effective_action": result.EffectiveAction,
		"original_action":  result.OriginalAction,
		"upgraded":         result.Upgraded,
	}
	if result.Message != "" {
		resp["message"] = result.Message
	}

	switch decision {
	case remediation.DecisionBlock:
		JSON(w, http.StatusForbidden, resp)
		return
	case remediation.DecisionRequireApproval:
		// Not dispatched; the issue stays open until a human signs off.
		JSON(w, http.StatusAccepted, resp)
		return
	}

	dispatched, err := h.executor.Dispatch(r.Context(), remediation.DispatchRequest{
		IssueID:         issue.ID,
		EffectiveAction: result.EffectiveAction,
		Metadata:        req.Metadata,
	})
	if err != nil {
		if errdefs.IsUnavailable(err) {
			Error(w, http.StatusBadGateway, "remediation executor unavailable")
			return
		}
		slog.Error("remediation dispatch failed", "issue_id", issueID, "error", err)
		Error(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	status := domain.ResolutionResolved
	if result.EffectiveAction == domain.ActionInvalidateCandidates {
		status = domain.ResolutionInvalidated
	}
	if err := h.repo.UpdateIssueResolution(r.Context(), issue.ID, status); err != nil {
		slog.Error("failed to update issue resolution", "issue_id", issueID, "error", err)
		Error(w, http.StatusInternalServerError, "dispatched but failed to record resolution")
		return
	}

	resp["dispatch_status"] = dispatched.Status
	resp["resolution_status"] = status
	JSON(w, http.StatusOK, resp)
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadSession resolves the sessionID route parameter, writing the error
// response itself when the session is missing or the lookup fails.
func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (*domain.ChatSession, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session id is required")
		return nil, false
	}
	session, err := h.repo.GetChatSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to load chat session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	if session == nil {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}
