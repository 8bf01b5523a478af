package channel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

// MemoryConfig configures the in-memory channel.
type MemoryConfig struct {
	// MaxLen bounds retention per channel key; oldest entries are trimmed
	// on append. <= 0 means 1024.
	MaxLen int
}

// MemoryChannel is a process-local Channel implementation. Suitable for
// tests and single-process deployments.
type MemoryChannel struct {
	cfg    MemoryConfig
	logger *zap.Logger

	mu      sync.Mutex
	streams map[string]*memStream
	closed  bool
}

type memStream struct {
	nextSeq int64
	entries []SequencedEnvelope
	// notify is closed and replaced on every append so blocked tails wake.
	notify chan struct{}
}

// NewMemoryChannel creates an in-memory channel.
func NewMemoryChannel(cfg MemoryConfig, logger *zap.Logger) *MemoryChannel {
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 1024
	}
	return &MemoryChannel{
		cfg:     cfg,
		logger:  logger,
		streams: make(map[string]*memStream),
	}
}

func (c *MemoryChannel) stream(key string) *memStream {
	s, ok := c.streams[key]
	if !ok {
		s = &memStream{nextSeq: 1, notify: make(chan struct{})}
		c.streams[key] = s
	}
	return s
}

// Append implements Channel.Append.
func (c *MemoryChannel) Append(ctx context.Context, key string, env types.Envelope) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}

	s := c.stream(key)
	seq := s.nextSeq
	s.nextSeq++
	s.entries = append(s.entries, SequencedEnvelope{Seq: seq, Envelope: env})

	if len(s.entries) > c.cfg.MaxLen {
		trim := len(s.entries) - c.cfg.MaxLen
		s.entries = append([]SequencedEnvelope(nil), s.entries[trim:]...)
	}

	close(s.notify)
	s.notify = make(chan struct{})

	return seq, nil
}

// TailBlocking implements Channel.TailBlocking.
func (c *MemoryChannel) TailBlocking(ctx context.Context, key string, sinceSeq int64, timeout time.Duration) ([]SequencedEnvelope, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		s := c.stream(key)
		out := collectAfter(s.entries, sinceSeq, 0)
		notify := s.notify
		c.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-notify:
			// new entries appended, loop and re-read
		}
	}
}

// RangeRead implements Channel.RangeRead.
func (c *MemoryChannel) RangeRead(ctx context.Context, key string, fromSeq int64, count int) ([]SequencedEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	s := c.stream(key)
	return collectAfter(s.entries, fromSeq-1, count), nil
}

// collectAfter returns entries with seq > sinceSeq, up to count (0 = all).
func collectAfter(entries []SequencedEnvelope, sinceSeq int64, count int) []SequencedEnvelope {
	out := make([]SequencedEnvelope, 0, len(entries))
	for _, e := range entries {
		if e.Seq > sinceSeq {
			out = append(out, e)
			if count > 0 && len(out) >= count {
				break
			}
		}
	}
	return out
}

// Ping implements Channel.Ping.
func (c *MemoryChannel) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Channel.Close. Blocked tails return on their timeout.
func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

var _ Channel = (*MemoryChannel)(nil)
