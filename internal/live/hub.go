// Package live delivers reply events and panel notifications to
// connected UI clients.
package live

import (
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/specdesk/specdesk/internal/stream"
)

// Connection represents a single SSE client subscribed to one chat
// session's reply events.
type Connection struct {
	ID            int64
	ChatSessionID string
	ConnectedAt   time.Time
	LastEventID   int64
	Writer        http.ResponseWriter
	Flusher       http.Flusher
	Done          chan struct{}
	mu            sync.Mutex
}

// replayQueue buffers recent events per chat session so a client that
// reconnects with Last-Event-ID can recover what it missed. Each session
// gets its own bounded list so one session's burst cannot evict another's
// events.
type replayQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List // chat session ID -> queued events
	maxSize int
}

type queuedEvent struct {
	EventID int64
	Event   stream.Event
}

func newReplayQueue(maxSize int) *replayQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &replayQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

func (q *replayQueue) enqueue(sessionID string, eventID int64, ev stream.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queues[sessionID]; !ok {
		q.queues[sessionID] = list.New()
	}
	l := q.queues[sessionID]
	l.PushBack(&queuedEvent{EventID: eventID, Event: ev})
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

func (q *replayQueue) missed(sessionID string, afterEventID int64) []*queuedEvent {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[sessionID]
	if !ok {
		return nil
	}
	var out []*queuedEvent
	for e := l.Front(); e != nil; e = e.Next() {
		qe := e.Value.(*queuedEvent)
		if qe.EventID > afterEventID {
			out = append(out, qe)
		}
	}
	return out
}

func (q *replayQueue) prune(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, sessionID)
}

// HubConfig tunes the SSE hub.
type HubConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
	ReplayQueueSize   int
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		KeepaliveInterval: 10 * time.Second,
		RetryDelay:        5 * time.Second,
		ReplayQueueSize:   100,
	}
}

// SessionActivator is notified when a client subscribes to a session's
// events, i.e. the UI made that session active.
type SessionActivator interface {
	ResetConsumed(sessionID string)
}

// Hub fans reply events out to SSE clients per chat session. It is the
// coordinator's EventSink in production.
type Hub struct {
	cfg       HubConfig
	activator SessionActivator

	connectionsMu sync.RWMutex
	connections   map[string]map[int64]*Connection // chat session ID -> connection ID -> connection
	queue         *replayQueue

	counterMu    sync.Mutex
	eventCounter int64
	connectionID int64
}

// NewHub creates an SSE hub. activator may be nil.
func NewHub(cfg HubConfig, activator SessionActivator) *Hub {
	def := DefaultHubConfig()
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.ReplayQueueSize <= 0 {
		cfg.ReplayQueueSize = def.ReplayQueueSize
	}
	return &Hub{
		cfg:         cfg,
		activator:   activator,
		connections: make(map[string]map[int64]*Connection),
		queue:       newReplayQueue(cfg.ReplayQueueSize),
	}
}

// SetActivator wires the activator after construction. The hub is the
// coordinator's sink and the coordinator is the hub's activator, so one
// of the two references is set late.
func (h *Hub) SetActivator(activator SessionActivator) {
	h.activator = activator
}

// Publish implements stream.EventSink: assign an event ID, queue the
// event for replay, and fan it out to every connection subscribed to its
// chat session.
func (h *Hub) Publish(ev stream.Event) {
	h.counterMu.Lock()
	h.eventCounter++
	eventID := h.eventCounter
	h.counterMu.Unlock()

	h.queue.enqueue(ev.ChatSessionID, eventID, ev)

	h.connectionsMu.RLock()
	sessionConns, exists := h.connections[ev.ChatSessionID]
	if !exists {
		h.connectionsMu.RUnlock()
		return
	}
	// Snapshot connections to avoid holding RLock during writes.
	conns := make([]*Connection, 0, len(sessionConns))
	for _, c := range sessionConns {
		conns = append(conns, c)
	}
	h.connectionsMu.RUnlock()

	for _, conn := range conns {
		h.sendToConnection(conn, eventID, ev)
	}
}

func (h *Hub) sendToConnection(conn *Connection, eventID int64, ev stream.Event) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	select {
	case <-conn.Done:
		return // Connection closed
	default:
	}

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal SSE event", "error", err, "conn_id", conn.ID)
		return
	}

	if err := writeSSEWithID(conn.Writer, eventID, string(ev.Type), string(data)); err != nil {
		slog.Error("failed to write to SSE connection",
			"error", err,
			"conn_id", conn.ID,
			"chat_session_id", conn.ChatSessionID,
		)
		return
	}

	conn.Flusher.Flush()
	conn.LastEventID = eventID
}

// HandleEvents serves GET /api/sessions/{sessionID}/events as an SSE
// stream of reply events, with Last-Event-ID replay and keepalive pings.
//
//nolint:gocyclo // SSE lifecycle handling intentionally keeps branches together.
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, `{"error": "session id is required"}`, http.StatusBadRequest)
		return
	}

	// Subscribing marks this session active for the client; the consumed
	// marker is reset so the session's list is re-evaluated from actual
	// state.
	if h.activator != nil {
		h.activator.ResetConsumed(sessionID)
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			slog.Info("SSE client reconnecting with Last-Event-ID",
				"chat_session_id", sessionID,
				"last_event_id", lastEventID,
			)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.RetryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "chat_session_id", sessionID)
		return
	}
	flusher.Flush()

	h.counterMu.Lock()
	h.connectionID++
	connID := h.connectionID
	h.counterMu.Unlock()

	conn := &Connection{
		ID:            connID,
		ChatSessionID: sessionID,
		ConnectedAt:   time.Now(),
		LastEventID:   lastEventID,
		Writer:        w,
		Flusher:       flusher,
		Done:          make(chan struct{}),
	}

	h.connectionsMu.Lock()
	if _, exists := h.connections[sessionID]; !exists {
		h.connections[sessionID] = make(map[int64]*Connection)
	}
	h.connections[sessionID][connID] = conn
	h.connectionsMu.Unlock()

	defer func() {
		h.connectionsMu.Lock()
		if sessionConns, exists := h.connections[sessionID]; exists {
			delete(sessionConns, connID)
			if len(sessionConns) == 0 {
				delete(h.connections, sessionID)
			}
		}
		h.connectionsMu.Unlock()
		// Drop the replay queue when the last subscriber leaves.
		h.connectionsMu.RLock()
		_, stillSubscribed := h.connections[sessionID]
		h.connectionsMu.RUnlock()
		if !stillSubscribed {
			h.queue.prune(sessionID)
		}
		slog.Info("SSE connection closed", "chat_session_id", sessionID, "conn_id", connID)
	}()

	if lastEventID > 0 {
		missed := h.queue.missed(sessionID, lastEventID)
		if len(missed) > 0 {
			slog.Info("sending missed events",
				"chat_session_id", sessionID,
				"count", len(missed),
			)
			for _, qe := range missed {
				h.sendToConnection(conn, qe.EventID, qe.Event)
			}
		}
	}

	connectedData := fmt.Sprintf(`{"status":"connected","chat_session_id":"%s"}`, sessionID)
	conn.mu.Lock()
	err := writeSSE(w, "connected", connectedData)
	conn.mu.Unlock()
	if err != nil {
		slog.Warn("failed to write SSE connected event", "error", err, "chat_session_id", sessionID)
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(h.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "chat_session_id", sessionID, "conn_id", connID)
			return
		case <-conn.Done:
			return
		case <-keepalive.C:
			conn.mu.Lock()
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				conn.mu.Unlock()
				slog.Warn("failed to write SSE keepalive ping", "error", err, "chat_session_id", sessionID)
				return
			}
			flusher.Flush()
			conn.mu.Unlock()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
