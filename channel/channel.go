// Package channel provides the durable, ordered, append-only message
// channel the orchestrator and responders communicate over. One channel per
// conversation and one per responder identity; ordering is guaranteed
// within a channel only (append order = delivery order).
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/parley/types"
)

// ConversationKey returns the channel key carrying a conversation's traffic.
func ConversationKey(conversationID string) string {
	return "conversation:" + conversationID
}

// ResponderKey returns the channel key acting as a responder's inbox.
func ResponderKey(responderID string) string {
	return "responder:" + responderID
}

// SequencedEnvelope pairs an envelope with its channel sequence id.
// Sequence ids are strictly increasing per channel, starting at 1.
type SequencedEnvelope struct {
	Seq      int64          `json:"seq"`
	Envelope types.Envelope `json:"envelope"`
}

// Channel is the transport contract. Implementations need not retry:
// an unreachable channel degrades to a timeout at the caller, which the
// reliability layer already handles.
type Channel interface {
	// Append adds an envelope to the channel and returns its sequence id.
	Append(ctx context.Context, key string, env types.Envelope) (int64, error)

	// TailBlocking returns envelopes with sequence id > sinceSeq, blocking
	// up to timeout when none are available yet. A timeout with no new
	// envelopes returns an empty slice and no error.
	TailBlocking(ctx context.Context, key string, sinceSeq int64, timeout time.Duration) ([]SequencedEnvelope, error)

	// RangeRead returns up to count envelopes with sequence id >= fromSeq.
	// Entries trimmed by retention are silently absent.
	RangeRead(ctx context.Context, key string, fromSeq int64, count int) ([]SequencedEnvelope, error)

	// Ping reports transport health.
	Ping(ctx context.Context) error

	Close() error
}

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("channel closed")
