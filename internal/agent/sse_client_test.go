package agent

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
)

func collectFrames(t *testing.T, c *SSEClient) ([]*Frame, error) {
	t.Helper()
	frames, err := c.Reply(t.Context(), ReplyRequest{ChatSessionID: "s1", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Reply failed to open: %v", err)
	}
	var out []*Frame
	for frame, err := range frames {
		if err != nil {
			return out, err
		}
		out = append(out, frame)
	}
	return out, nil
}

func TestSSEClient_ReplyStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reply/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept header = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: chunk\ndata: {\"content\":\"hel\"}\n\n"))
		_, _ = w.Write([]byte("event: chunk\ndata: {\"content\":\"lo\"}\n\n"))
		_, _ = w.Write([]byte("event: updating\ndata: {\"what\":\"spec\"}\n\n"))
		_, _ = w.Write([]byte("event: done\ndata: {\"message_id\":\"m1\"}\n\n"))
	}))
	defer srv.Close()

	c := NewSSEClient(srv.URL, nil)
	frames, err := collectFrames(t, c)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}
	if frames[0].Content != "hel" || frames[1].Content != "lo" {
		t.Errorf("chunk contents = %q, %q", frames[0].Content, frames[1].Content)
	}
	if frames[2].Type != FrameUpdating || frames[2].What != "spec" {
		t.Errorf("frame 2 = %+v, want updating spec", frames[2])
	}
	if frames[3].Type != FrameDone || frames[3].MessageID != "m1" {
		t.Errorf("frame 3 = %+v, want done m1", frames[3])
	}
}

func TestSSEClient_FramesSplitAcrossWrites(t *testing.T) {
	// One logical frame delivered byte by byte across flushes: the frame
	// boundary is the blank line, never the packet boundary.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		payload := "event: chunk\ndata: {\"content\":\"split across packets\"}\n\nevent: done\ndata: {\"message_id\":\"m2\"}\n\n"
		for _, b := range []byte(payload) {
			_, _ = w.Write([]byte{b})
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := NewSSEClient(srv.URL, nil)
	frames, err := collectFrames(t, c)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Content != "split across packets" {
		t.Errorf("chunk content = %q", frames[0].Content)
	}
	if frames[1].MessageID != "m2" {
		t.Errorf("done message_id = %q", frames[1].MessageID)
	}
}

func TestSSEClient_UnknownFrameTypesTolerated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: telemetry\ndata: {\"tokens\":42}\n\n"))
		_, _ = w.Write([]byte("event: chunk\ndata: {\"content\":\"ok\"}\n\n"))
		_, _ = w.Write([]byte("event: done\ndata: {\"message_id\":\"m3\"}\n\n"))
	}))
	defer srv.Close()

	c := NewSSEClient(srv.URL, nil)
	frames, err := collectFrames(t, c)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (unknown frame skipped)", len(frames))
	}
	if frames[0].Content != "ok" {
		t.Errorf("chunk content = %q", frames[0].Content)
	}
}

func TestSSEClient_TruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Stream ends after a chunk with no done or error frame.
		_, _ = w.Write([]byte("event: chunk\ndata: {\"content\":\"partial\"}\n\n"))
	}))
	defer srv.Close()

	c := NewSSEClient(srv.URL, nil)
	frames, err := collectFrames(t, c)

	if !errors.Is(err, ErrStreamTruncated) {
		t.Fatalf("error = %v, want ErrStreamTruncated", err)
	}
	if !errdefs.IsUnavailable(err) {
		t.Error("truncated stream error does not map to unavailable")
	}
	if len(frames) != 1 || frames[0].Content != "partial" {
		t.Errorf("frames before truncation = %+v", frames)
	}
}

func TestSSEClient_OpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewSSEClient(srv.URL, nil)
	_, err := c.Reply(t.Context(), ReplyRequest{ChatSessionID: "s1"})
	if err == nil {
		t.Fatal("Reply succeeded against a failing endpoint")
	}
	if !errdefs.IsUnavailable(err) {
		t.Errorf("open failure error = %v, want unavailable", err)
	}
}

func TestSSEClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reply" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"m7","content":"full reply"}`))
	}))
	defer srv.Close()

	c := NewSSEClient(srv.URL, nil)
	reply, err := c.Complete(t.Context(), ReplyRequest{ChatSessionID: "s1"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if reply.MessageID != "m7" || reply.Content != "full reply" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestParseSSE_MultiLineData(t *testing.T) {
	input := "event: chunk\ndata: line one\ndata: line two\n\n"
	var gotEvent, gotData string
	err := parseSSE(strings.NewReader(input), func(event, data string) bool {
		gotEvent, gotData = event, data
		return true
	})
	if err != nil {
		t.Fatalf("parseSSE error: %v", err)
	}
	if gotEvent != "chunk" {
		t.Errorf("event = %q", gotEvent)
	}
	if gotData != "line one\nline two" {
		t.Errorf("data = %q", gotData)
	}
}
