package live

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/specdesk/specdesk/internal/stream"
)

// PanelNotification tells a connected panel which read model changed and
// should be refetched.
type PanelNotification struct {
	Type          string `json:"type"`
	ProjectID     string `json:"project_id"`
	ChatSessionID string `json:"chat_session_id,omitempty"`
}

const (
	NotifyHighlightsChanged   = "highlights_changed"
	NotifySpecRefreshed       = "spec_refreshed"
	NotifyWorldModelRefreshed = "world_model_refreshed"
)

// PanelHandler pushes refresh notifications to spec and world-model
// panels over WebSocket, keyed by project.
type PanelHandler struct {
	allowedOrigin string
	isDev         bool

	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{} // project ID -> connections
}

// NewPanelHandler creates a panel notification handler.
func NewPanelHandler(allowedOrigin string, isDev bool) *PanelHandler {
	return &PanelHandler{
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		conns:         make(map[string]map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and keeps it registered for the
// project's notifications until the client goes away. The read loop
// exists only to detect disconnection; panels never send payloads.
func (h *PanelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		http.Error(w, "project_id is required", http.StatusBadRequest)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept panel WebSocket", "error", err, "project_id", projectID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "done"); closeErr != nil {
			slog.Debug("failed to close panel websocket", "error", closeErr, "project_id", projectID)
		}
	}()

	h.register(projectID, ws)
	defer h.unregister(projectID, ws)

	slog.Info("panel connected", "project_id", projectID, "ip", r.RemoteAddr)

	ctx := r.Context()
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

func (h *PanelHandler) register(projectID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[projectID]; !ok {
		h.conns[projectID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[projectID][ws] = struct{}{}
}

func (h *PanelHandler) unregister(projectID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[projectID]; ok {
		delete(set, ws)
		if len(set) == 0 {
			delete(h.conns, projectID)
		}
	}
}

// Broadcast sends a notification to every panel watching the project.
func (h *PanelHandler) Broadcast(ctx context.Context, n PanelNotification) {
	h.mu.RLock()
	set, ok := h.conns[n.ProjectID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	conns := make([]*websocket.Conn, 0, len(set))
	for ws := range set {
		conns = append(conns, ws)
	}
	h.mu.RUnlock()

	for _, ws := range conns {
		if err := wsjson.Write(ctx, ws, n); err != nil {
			slog.Debug("panel notification write failed", "error", err, "project_id", n.ProjectID)
		}
	}
}

func (h *PanelHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // Non-browser client
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	allowed, err := url.Parse(h.allowedOrigin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, allowed.Host)
}

// PanelSink adapts reply events into panel notifications: updated frames
// and completed replies mean the panels' read models may be stale.
type PanelSink struct {
	panels    *PanelHandler
	projectOf func(sessionID string) string
}

// NewPanelSink creates a sink that notifies panels. projectOf maps a
// chat session to its project; sessions with no known project are
// skipped.
func NewPanelSink(panels *PanelHandler, projectOf func(sessionID string) string) *PanelSink {
	return &PanelSink{panels: panels, projectOf: projectOf}
}

// Publish implements stream.EventSink.
func (s *PanelSink) Publish(ev stream.Event) {
	projectID := s.projectOf(ev.ChatSessionID)
	if projectID == "" {
		return
	}

	ctx := context.Background()
	switch ev.Type {
	case stream.EventUpdated:
		switch ev.What {
		case "spec":
			s.panels.Broadcast(ctx, PanelNotification{
				Type:          NotifySpecRefreshed,
				ProjectID:     projectID,
				ChatSessionID: ev.ChatSessionID,
			})
		case "world_model":
			s.panels.Broadcast(ctx, PanelNotification{
				Type:          NotifyWorldModelRefreshed,
				ProjectID:     projectID,
				ChatSessionID: ev.ChatSessionID,
			})
		}
	case stream.EventDone:
		// A completed reply may carry deltas that shift every highlight
		// tier, so panels recompute regardless of what changed.
		s.panels.Broadcast(ctx, PanelNotification{
			Type:          NotifyHighlightsChanged,
			ProjectID:     projectID,
			ChatSessionID: ev.ChatSessionID,
		})
	}
}

// MultiSink publishes each event to every wrapped sink in order.
type MultiSink []stream.EventSink

// Publish implements stream.EventSink.
func (m MultiSink) Publish(ev stream.Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}
