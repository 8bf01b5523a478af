// Package reliability implements the scheduler's failure-containment
// layer: per-responder circuit breaking, retry with exponential backoff,
// token budget accounting, termination detection, and cascading deadlines.
package reliability

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

// BreakerState is the circuit breaker state for one responder.
type BreakerState int

const (
	// StateClosed allows calls through.
	StateClosed BreakerState = iota
	// StateOpen short-circuits all calls until the reset window elapses.
	StateOpen
	// StateHalfOpen admits probe calls after the reset window.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures per-responder circuit breakers.
type BreakerConfig struct {
	// Threshold is the consecutive-failure count that opens the breaker.
	Threshold int `yaml:"threshold" json:"threshold"`

	// ResetTimeout is how long an open breaker blocks calls before
	// admitting a half-open probe.
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`

	// HalfOpenMaxCalls limits concurrent probes in half-open state.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" json:"half_open_max_calls"`

	// OnStateChange is invoked on every transition.
	OnStateChange func(responderID string, from, to BreakerState) `yaml:"-" json:"-"`
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c BreakerConfig) normalized() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

// BreakerSnapshot is a point-in-time view of one breaker.
type BreakerSnapshot struct {
	ResponderID  string       `json:"responder_id"`
	State        BreakerState `json:"state"`
	FailureCount int          `json:"failure_count"`
	LastFailure  time.Time    `json:"last_failure,omitempty"`
}

// Breaker tracks consecutive failures for a single responder. Each breaker
// has its own lock; the table never serializes unrelated responders.
type Breaker struct {
	responderID string
	cfg         BreakerConfig
	logger      *zap.Logger

	mu            sync.Mutex
	state         BreakerState
	failureCount  int
	lastFailure   time.Time
	halfOpenCalls int
}

func newBreaker(responderID string, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	return &Breaker{
		responderID: responderID,
		cfg:         cfg,
		logger:      logger,
		state:       StateClosed,
	}
}

// Allow reports whether a call may proceed. An open breaker inside its
// reset window returns a CircuitOpen error without contacting the
// responder. After the window the breaker shifts to half-open and admits
// a bounded number of probes.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailure) >= b.cfg.ResetTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenCalls = 1
			return nil
		}
		return types.NewCircuitOpenError(b.responderID)

	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return types.NewCircuitOpenError(b.responderID)
		}
		b.halfOpenCalls++
		return nil

	default:
		return types.NewCircuitOpenError(b.responderID)
	}
}

// Record feeds a call outcome into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		switch b.state {
		case StateHalfOpen:
			b.logger.Info("circuit closed after successful probe",
				zap.String("responder_id", b.responderID))
			b.setState(StateClosed)
		}
		b.failureCount = 0
		b.halfOpenCalls = 0
		return
	}

	b.failureCount++
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.Threshold {
			b.logger.Warn("circuit opened",
				zap.String("responder_id", b.responderID),
				zap.Int("failure_count", b.failureCount))
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("circuit re-opened after failed probe",
			zap.String("responder_id", b.responderID))
		b.setState(StateOpen)
		b.halfOpenCalls = 0
	}
}

// Call runs fn through the breaker: Allow, invoke, Record. A context error
// from fn counts as a failure.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err == nil)
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker's observable state.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		ResponderID:  b.responderID,
		State:        b.state,
		FailureCount: b.failureCount,
		LastFailure:  b.lastFailure,
	}
}

// Reset forces the breaker closed and zeroes its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failureCount = 0
	b.halfOpenCalls = 0
}

// setState must be called with b.mu held.
func (b *Breaker) setState(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(b.responderID, from, to)
	}
}

// BreakerTable holds one breaker per responder id, created lazily.
// The table lock only guards map access; call outcomes are recorded under
// each breaker's own lock so responders never contend with each other.
type BreakerTable struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakerTable creates a table with the given per-breaker config.
func NewBreakerTable(cfg BreakerConfig, logger *zap.Logger) *BreakerTable {
	return &BreakerTable{
		cfg:      cfg.normalized(),
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for a responder id, creating it on first use.
func (t *BreakerTable) For(responderID string) *Breaker {
	t.mu.RLock()
	b, ok := t.breakers[responderID]
	t.mu.RUnlock()
	if ok {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok = t.breakers[responderID]; ok {
		return b
	}
	b = newBreaker(responderID, t.cfg, t.logger)
	t.breakers[responderID] = b
	return b
}

// Snapshots returns the state of every tracked breaker.
func (t *BreakerTable) Snapshots() []BreakerSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]BreakerSnapshot, 0, len(t.breakers))
	for _, b := range t.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
