package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/containerd/errdefs"
)

// ErrStreamTruncated reports a reply stream that ended without a done or
// error frame, typically a dropped connection. The server may have
// persisted a message before the drop, so callers must refresh the
// message list rather than assume nothing happened.
var ErrStreamTruncated = fmt.Errorf("reply stream ended without done or error frame: %w", errdefs.ErrUnavailable)

// SSEClient talks to the refiner agent service over HTTP. Streaming
// replies arrive as server-sent events; the synchronous endpoint returns
// one complete reply.
type SSEClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// SSEClientConfig holds configuration for the agent client.
type SSEClientConfig struct {
	Endpoint       string
	StreamTimeout  time.Duration
	RequestTimeout time.Duration
}

// DefaultSSEClientConfig returns default configuration.
func DefaultSSEClientConfig() SSEClientConfig {
	return SSEClientConfig{
		StreamTimeout:  5 * time.Minute,
		RequestTimeout: 60 * time.Second,
	}
}

// NewSSEClient creates a client for the refiner agent at endpoint.
func NewSSEClient(endpoint string, logger *slog.Logger) *SSEClient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultSSEClientConfig()
	return &SSEClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: cfg.StreamTimeout,
		},
		logger: logger,
	}
}

// Reply opens the streaming reply channel and yields frames in delivery
// order. Unknown frame types are skipped; the transport may split logical
// frames across packets, which the line scanner reassembles.
func (c *SSEClient) Reply(ctx context.Context, req ReplyRequest) (iter.Seq2[*Frame, error], error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal reply request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/reply/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Chat-Session-ID", req.ChatSessionID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open reply stream: %w (%w)", err, errdefs.ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close stream response body", "error", closeErr)
		}
		return nil, fmt.Errorf("agent returned status %d: %s (%w)", resp.StatusCode, string(data), errdefs.ErrUnavailable)
	}

	return func(yield func(*Frame, error) bool) {
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				c.logger.Debug("failed to close stream response body", "error", closeErr)
			}
		}()

		terminal := false
		err := parseSSE(resp.Body, func(event, data string) bool {
			frame, ok := decodeFrame(event, data, c.logger)
			if !ok {
				return true // unknown or malformed frame, keep reading
			}
			if frame.Type == FrameDone || frame.Type == FrameError {
				terminal = true
			}
			return yield(frame, nil)
		})
		if err != nil {
			yield(nil, fmt.Errorf("read reply stream: %w", err))
			return
		}
		if !terminal {
			yield(nil, ErrStreamTruncated)
		}
	}, nil
}

// Complete requests one full reply from the synchronous endpoint.
func (c *SSEClient) Complete(ctx context.Context, req ReplyRequest) (*CompletedReply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal reply request: %w", err)
	}

	cfg := DefaultSSEClientConfig()
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/reply", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create reply request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synchronous reply failed: %w (%w)", err, errdefs.ErrUnavailable)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close reply response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, string(data))
	}

	var reply CompletedReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return &reply, nil
}

// decodeFrame converts one SSE event into a typed frame. Unknown event
// types are tolerated (ok=false) so the channel can evolve without
// breaking older consumers.
func decodeFrame(event, data string, logger *slog.Logger) (*Frame, bool) {
	switch FrameType(event) {
	case FrameChunk:
		var p chunkPayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			logger.Warn("failed to decode chunk frame", "error", err)
			return nil, false
		}
		return &Frame{Type: FrameChunk, Content: p.Content}, true
	case FrameUpdating:
		var p statusPayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			logger.Warn("failed to decode updating frame", "error", err)
			return nil, false
		}
		return &Frame{Type: FrameUpdating, What: p.What}, true
	case FrameUpdated:
		var p statusPayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			logger.Warn("failed to decode updated frame", "error", err)
			return nil, false
		}
		return &Frame{Type: FrameUpdated, What: p.What, Delta: p.Delta}, true
	case FrameDone:
		var p donePayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			logger.Warn("failed to decode done frame", "error", err)
			return nil, false
		}
		return &Frame{Type: FrameDone, MessageID: p.MessageID}, true
	case FrameError:
		var p errorPayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			logger.Warn("failed to decode error frame", "error", err)
			return nil, false
		}
		return &Frame{Type: FrameError, ErrorMessage: p.Error}, true
	default:
		logger.Debug("ignoring unknown frame type", "event", event)
		return nil, false
	}
}

// parseSSE reads an SSE byte stream and invokes handle for each complete
// logical event. Frame boundaries are blank lines, not transport packet
// boundaries. handle returns false to stop early.
func parseSSE(r io.Reader, handle func(event, data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event, data string
	flush := func() bool {
		if event == "" && data == "" {
			return true
		}
		keep := handle(event, data)
		event, data = "", ""
		return keep
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if !flush() {
				return nil
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data != "" {
				data += "\n" + chunk
			} else {
				data = chunk
			}
		}
		// Comment lines (":") and other fields are ignored.
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}
