package agent

import (
	"context"
	"iter"
)

// Streamer defines how the editor core talks to the refiner agent.
//
// Reply opens the streaming channel for one reply transaction. The
// returned error covers channel-open failures only; errors surfaced
// through the sequence are mid-stream failures. The channel contract
// guarantees the done frame arrives only after every chunk frame of the
// transaction.
//
// Complete is the synchronous fallback used when the channel cannot be
// opened.
type Streamer interface {
	Reply(ctx context.Context, req ReplyRequest) (iter.Seq2[*Frame, error], error)
	Complete(ctx context.Context, req ReplyRequest) (*CompletedReply, error)
}

// Ensure SSEClient implements Streamer.
var _ Streamer = (*SSEClient)(nil)
