package remediation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/specdesk/specdesk/internal/domain"
)

// DispatchRequest is the payload sent to the external remediation
// executor. EffectiveAction always comes from the resolver, never from
// the caller's original request.
type DispatchRequest struct {
	IssueID         string                   `json:"issue_id"`
	EffectiveAction domain.RemediationAction `json:"effective_action"`
	Metadata        map[string]string        `json:"metadata,omitempty"`
}

// DispatchResponse is the executor's acknowledgment.
type DispatchResponse struct {
	Status         string                   `json:"status"`
	Message        string                   `json:"message,omitempty"`
	OriginalAction domain.RemediationAction `json:"original_action,omitempty"`
	Upgraded       bool                     `json:"upgraded,omitempty"`
}

// ExecutorClient posts dispatch requests to the remediation executor.
type ExecutorClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewExecutorClient creates a client for the executor at endpoint.
func NewExecutorClient(endpoint string, logger *slog.Logger) *ExecutorClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutorClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Dispatch sends the resolved action to the executor.
func (c *ExecutorClient) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/dispatch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dispatch to executor: %w (%w)", err, errdefs.ErrUnavailable)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close dispatch response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("executor returned status %d: %s", resp.StatusCode, string(data))
	}

	var out DispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode dispatch response: %w", err)
	}

	c.logger.Info("remediation dispatched",
		"issue_id", req.IssueID,
		"effective_action", req.EffectiveAction,
		"status", out.Status,
	)
	return &out, nil
}
