package reliability

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

// RetryPolicy configures retry-with-exponential-backoff.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// InitialDelay seeds the backoff sequence.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the backoff sequence.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the exponential growth factor.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// JitterMax bounds the random jitter added to every delay.
	JitterMax time.Duration `yaml:"jitter_max" json:"jitter_max"`
}

// DefaultRetryPolicy returns the default policy: 3 retries, 100ms initial
// delay doubling up to 5s, with up to 100ms of jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		JitterMax:    100 * time.Millisecond,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.JitterMax < 0 {
		p.JitterMax = 0
	}
	return p
}

// Delay returns the backoff delay before retry attempt i (0-based),
// excluding jitter: min(initialDelay * multiplier^i, maxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Retryer re-runs operations flagged retryable (timeouts, rate limits,
// transient unavailability). Non-retryable errors and retry exhaustion
// propagate to the caller unchanged.
type Retryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryer creates a retryer with the given policy.
func NewRetryer(policy RetryPolicy, logger *zap.Logger) *Retryer {
	return &Retryer{policy: policy.normalized(), logger: logger}
}

// Do runs fn, retrying on retryable errors with backoff and jitter.
func (r *Retryer) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("operation recovered",
					zap.String("operation", operation),
					zap.Int("attempt", attempt))
			}
			return nil
		}

		if !types.IsRetryable(lastErr) {
			r.logger.Debug("error not retryable",
				zap.String("operation", operation),
				zap.Error(lastErr))
			return lastErr
		}

		if attempt >= r.policy.MaxRetries {
			r.logger.Warn("retries exhausted",
				zap.String("operation", operation),
				zap.Int("attempts", attempt+1),
				zap.Error(lastErr))
			return lastErr
		}

		delay := r.policy.Delay(attempt)
		if r.policy.JitterMax > 0 {
			delay += time.Duration(rand.Int63n(int64(r.policy.JitterMax)))
		}

		r.logger.Debug("retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return types.NewTimeoutError(operation, delay).WithCause(ctx.Err())
		case <-time.After(delay):
		}
	}
}

// DoWithResult is a type-safe wrapper around Retryer.Do for operations
// that return a value.
func DoWithResult[T any](ctx context.Context, r *Retryer, operation string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, operation, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
