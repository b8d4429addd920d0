package remediation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specdesk/specdesk/internal/domain"
)

func TestExecutorClient_Dispatch(t *testing.T) {
	var received DispatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/dispatch", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	c := NewExecutorClient(srv.URL, nil)
	resp, err := c.Dispatch(t.Context(), DispatchRequest{
		IssueID:         "i1",
		EffectiveAction: domain.ActionFullRerun,
		Metadata:        map[string]string{"reason": "missing run"},
	})
	require.NoError(t, err)

	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "i1", received.IssueID)
	assert.Equal(t, domain.ActionFullRerun, received.EffectiveAction)
	assert.Equal(t, "missing run", received.Metadata["reason"])
}

func TestExecutorClient_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad action"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewExecutorClient(srv.URL, nil)
	_, err := c.Dispatch(t.Context(), DispatchRequest{IssueID: "i1", EffectiveAction: domain.ActionFullRerun})
	assert.Error(t, err)
}

func TestExecutorClient_TransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // Closed before the request is made.

	c := NewExecutorClient(srv.URL, nil)
	_, err := c.Dispatch(t.Context(), DispatchRequest{IssueID: "i1", EffectiveAction: domain.ActionFullRerun})
	require.Error(t, err)
	assert.True(t, errdefs.IsUnavailable(err))
}
