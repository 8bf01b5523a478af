package orchestrator

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

// EventKind discriminates turn lifecycle events.
type EventKind string

const (
	EventBidsEvaluated     EventKind = "bids-evaluated"
	EventTurnCompleted     EventKind = "turn-completed"
	EventTurnFailed        EventKind = "turn-failed"
	EventConversationEnded EventKind = "conversation-ended"
)

// Event is one turn lifecycle notification.
type Event struct {
	Kind           EventKind        `json:"kind"`
	ConversationID string           `json:"conversation_id"`
	Turn           int              `json:"turn"`
	SpeakerID      string           `json:"speaker_id,omitempty"`
	BidResult      *types.BidResult `json:"bid_result,omitempty"`
	EndReason      types.EndReason  `json:"end_reason,omitempty"`
	Err            string           `json:"error,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Bus fans events out to subscribers over bounded buffered channels.
// Publishing never blocks the turn loop: when a subscriber's buffer is
// full the oldest event is dropped to make room.
type Bus struct {
	buffer int
	logger *zap.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		buffer: buffer,
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe returns an event channel and a cancel function. The channel is
// closed on cancel or bus close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers the event to all subscribers, dropping the oldest
// buffered event of any subscriber that has fallen behind.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// full: drop oldest, then try once more
		select {
		case <-ch:
			b.logger.Debug("event dropped for slow subscriber",
				zap.String("kind", string(ev.Kind)),
				zap.String("conversation_id", ev.ConversationID))
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
