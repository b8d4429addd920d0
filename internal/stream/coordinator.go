// Package stream coordinates agent reply transactions per chat session.
//
// A reply transaction is single-flight per session: the guard is checked
// and set under one lock, synchronously with the event that would start a
// duplicate, so rapid re-observations of the same message list can never
// race a second stream into existence.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/specdesk/specdesk/internal/agent"
	"github.com/specdesk/specdesk/internal/domain"
)

// State names a phase of a reply transaction.
type State string

const (
	StateIdle        State = "idle"
	StateStarting    State = "starting"
	StateStreaming   State = "streaming"
	StateReconciling State = "reconciling"
	StateError       State = "error"
	StateDone        State = "done"
)

// Refresher invalidates and refetches the three read models during
// reconciliation. All operations are at-least-once and idempotent.
type Refresher interface {
	RefreshMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	RefreshSpec(ctx context.Context, projectID string) error
	RefreshWorldModel(ctx context.Context, projectID string) error
}

// Config tunes reconciliation behavior.
type Config struct {
	// ReconcilePollInterval is the delay between message-list refreshes
	// while waiting for the done-frame message to become visible.
	ReconcilePollInterval time.Duration
	// ReconcileTimeout bounds that wait. On timeout the transaction
	// completes anyway; the UI will converge on its next refresh.
	ReconcileTimeout time.Duration
}

// DefaultConfig returns default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		ReconcilePollInterval: 100 * time.Millisecond,
		ReconcileTimeout:      10 * time.Second,
	}
}

// Coordinator owns the reply state machine for every chat session.
type Coordinator struct {
	agent     agent.Streamer
	refresher Refresher
	sink      EventSink
	cfg       Config
	logger    *slog.Logger

	mu       sync.Mutex
	active   map[string]*reply  // sessionID -> in-flight transaction
	consumed map[string]string  // sessionID -> last user message ID that triggered a reply
}

// reply is the transient state of one in-flight transaction. It is
// destroyed on completion, error, or cancellation; nothing here is
// persisted.
type reply struct {
	sessionID string
	projectID string
	state     State
	text      strings.Builder
	cancel    context.CancelFunc
}

// NewCoordinator creates a coordinator wired to the agent client, the
// read-model refresher, and the UI event sink.
func NewCoordinator(streamer agent.Streamer, refresher Refresher, sink EventSink, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconcilePollInterval <= 0 {
		cfg.ReconcilePollInterval = DefaultConfig().ReconcilePollInterval
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = DefaultConfig().ReconcileTimeout
	}
	return &Coordinator{
		agent:     streamer,
		refresher: refresher,
		sink:      sink,
		cfg:       cfg,
		logger:    logger,
		active:    make(map[string]*reply),
		consumed:  make(map[string]string),
	}
}

// ObserveMessages evaluates a freshly observed message list for a session
// and starts a reply when its newest entry is a user message that has not
// been consumed yet. The guard, the consumed marker, and the transaction
// registration are updated under one lock so re-observation of the same
// list (after an unrelated cache refresh) cannot re-trigger.
func (c *Coordinator) ObserveMessages(sessionID, projectID string, msgs []domain.Message) bool {
	if len(msgs) == 0 {
		return false
	}
	ordered := make([]domain.Message, len(msgs))
	copy(ordered, msgs)
	domain.SortMessages(ordered)
	last := ordered[len(ordered)-1]
	if last.Role != domain.RoleUser {
		return false
	}

	c.mu.Lock()
	if c.consumed[sessionID] == last.ID {
		c.mu.Unlock()
		return false
	}
	started := c.startLocked(sessionID, projectID)
	if started {
		c.consumed[sessionID] = last.ID
	}
	c.mu.Unlock()
	return started
}

// StartReply begins a reply transaction for a session. It is a no-op
// returning false when a transaction is already in flight for that
// session.
func (c *Coordinator) StartReply(sessionID, projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(sessionID, projectID)
}

func (c *Coordinator) startLocked(sessionID, projectID string) bool {
	if _, exists := c.active[sessionID]; exists {
		// Duplicate trigger, silently suppressed.
		c.logger.Debug("reply already in flight, trigger suppressed", "session_id", sessionID)
		return false
	}

	// The transaction outlives the triggering request.
	ctx, cancel := context.WithCancel(context.Background())
	r := &reply{
		sessionID: sessionID,
		projectID: projectID,
		state:     StateStarting,
		cancel:    cancel,
	}
	c.active[sessionID] = r

	go c.run(ctx, r)
	return true
}

// StateOf reports the current transaction state for a session.
func (c *Coordinator) StateOf(sessionID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.active[sessionID]; ok {
		return r.state
	}
	return StateIdle
}

// Transcript returns the accumulated reply text of an in-flight
// transaction, empty when none is active. The UI renders this as the
// transient streaming bubble.
func (c *Coordinator) Transcript(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.active[sessionID]; ok {
		return r.text.String()
	}
	return ""
}

// ResetConsumed clears the consumed-message marker for a session. Called
// when the UI switches its active session, so the new session's list is
// re-evaluated from actual state. In-flight transactions for other
// sessions keep running; their events stay keyed to their own session and
// are never rendered elsewhere.
func (c *Coordinator) ResetConsumed(sessionID string) {
	c.mu.Lock()
	delete(c.consumed, sessionID)
	c.mu.Unlock()
}

// Shutdown cancels every in-flight transaction.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.active {
		r.cancel()
	}
}

func (c *Coordinator) run(ctx context.Context, r *reply) {
	defer r.cancel()

	history, err := c.refresher.RefreshMessages(ctx, r.sessionID)
	if err != nil {
		c.logger.Warn("failed to load history for reply", "session_id", r.sessionID, "error", err)
		// Proceed with an empty history rather than failing the reply.
	}

	req := agent.ReplyRequest{
		ChatSessionID: r.sessionID,
		ProjectID:     r.projectID,
		Messages:      history,
	}

	frames, err := c.agent.Reply(ctx, req)
	if err != nil {
		// Channel failed to open: fall back once to the synchronous
		// endpoint before surfacing an error.
		c.logger.Warn("reply stream failed to open, falling back to synchronous endpoint",
			"session_id", r.sessionID, "error", err)
		completed, ferr := c.agent.Complete(ctx, req)
		if ferr != nil {
			c.fail(ctx, r, ferr, false)
			return
		}
		c.setState(r, StateStreaming)
		c.append(r, completed.Content)
		c.sink.Publish(Event{
			Type:          EventChunk,
			ChatSessionID: r.sessionID,
			Content:       completed.Content,
		})
		c.reconcile(ctx, r, completed.MessageID)
		return
	}

	c.setState(r, StateStreaming)
	for frame, err := range frames {
		if err != nil {
			// Mid-stream failure: the server may have persisted a
			// message before the drop.
			c.fail(ctx, r, err, true)
			return
		}
		switch frame.Type {
		case agent.FrameChunk:
			c.append(r, frame.Content)
			c.sink.Publish(Event{
				Type:          EventChunk,
				ChatSessionID: r.sessionID,
				Content:       frame.Content,
			})
		case agent.FrameUpdating:
			c.sink.Publish(Event{
				Type:          EventUpdating,
				ChatSessionID: r.sessionID,
				What:          frame.What,
			})
		case agent.FrameUpdated:
			c.sink.Publish(Event{
				Type:          EventUpdated,
				ChatSessionID: r.sessionID,
				What:          frame.What,
				Delta:         frame.Delta,
			})
		case agent.FrameDone:
			c.reconcile(ctx, r, frame.MessageID)
			return
		case agent.FrameError:
			c.fail(ctx, r, errors.New(frame.ErrorMessage), true)
			return
		}
	}

	// The client yields an error for truncated streams, so falling out of
	// the loop without a terminal frame should not happen. Treat it as
	// one anyway.
	c.fail(ctx, r, agent.ErrStreamTruncated, true)
}

// reconcile refreshes the three read models in order (messages, then
// specification, then world model) and publishes the done event only once
// the persisted message is visible, so the UI never shows a gap between
// the streaming bubble and the durable message.
func (c *Coordinator) reconcile(ctx context.Context, r *reply, messageID string) {
	c.setState(r, StateReconciling)

	deadline := time.Now().Add(c.cfg.ReconcileTimeout)
	for {
		msgs, err := c.refresher.RefreshMessages(ctx, r.sessionID)
		if err != nil {
			c.logger.Warn("message refresh failed during reconcile",
				"session_id", r.sessionID, "error", err)
		} else if containsMessage(msgs, messageID) {
			break
		}
		if time.Now().After(deadline) {
			c.logger.Warn("persisted message not observed before reconcile timeout",
				"session_id", r.sessionID, "message_id", messageID)
			break
		}
		select {
		case <-ctx.Done():
			c.fail(ctx, r, ctx.Err(), true)
			return
		case <-time.After(c.cfg.ReconcilePollInterval):
		}
	}

	if err := c.refresher.RefreshSpec(ctx, r.projectID); err != nil {
		c.logger.Warn("spec refresh failed during reconcile", "project_id", r.projectID, "error", err)
	}
	if err := c.refresher.RefreshWorldModel(ctx, r.projectID); err != nil {
		c.logger.Warn("world model refresh failed during reconcile", "project_id", r.projectID, "error", err)
	}

	c.sink.Publish(Event{
		Type:          EventDone,
		ChatSessionID: r.sessionID,
		MessageID:     messageID,
	})

	c.setState(r, StateDone)
	c.finish(r)
	c.logger.Info("reply transaction completed",
		"session_id", r.sessionID, "message_id", messageID)
}

// fail ends the transaction on an error: the accumulated text is cleared,
// the error surfaced, and the message list refreshed so any state the
// server did persist before failing is still shown.
func (c *Coordinator) fail(ctx context.Context, r *reply, err error, mayHavePersisted bool) {
	c.mu.Lock()
	r.text.Reset()
	r.state = StateError
	c.mu.Unlock()

	c.logger.Error("reply transaction failed",
		"session_id", r.sessionID, "persisted", mayHavePersisted, "error", err)

	c.sink.Publish(Event{
		Type:          EventError,
		ChatSessionID: r.sessionID,
		Error:         err.Error(),
		Persisted:     mayHavePersisted,
	})

	if _, rerr := c.refresher.RefreshMessages(ctx, r.sessionID); rerr != nil {
		c.logger.Warn("message refresh failed after reply error",
			"session_id", r.sessionID, "error", rerr)
	}

	c.finish(r)
}

// finish destroys the transient transaction state and returns the session
// to idle.
func (c *Coordinator) finish(r *reply) {
	c.mu.Lock()
	delete(c.active, r.sessionID)
	c.mu.Unlock()
}

func (c *Coordinator) setState(r *reply, s State) {
	c.mu.Lock()
	r.state = s
	c.mu.Unlock()
}

func (c *Coordinator) append(r *reply, text string) {
	c.mu.Lock()
	r.text.WriteString(text)
	c.mu.Unlock()
}

func containsMessage(msgs []domain.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
