package responder

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/BaSui01/parley/types"
)

// RateLimited wraps a responder with a token-bucket request limiter so a
// hot scheduler cannot hammer one backend. Waiting counts against the
// caller's deadline; a deadline hit while queued surfaces as a timeout and
// flows through the normal reliability path.
type RateLimited struct {
	inner   Responder
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with the given requests-per-second limit and
// burst size.
func NewRateLimited(inner Responder, rps float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// ID implements Responder.
func (r *RateLimited) ID() string { return r.inner.ID() }

// Bid implements Responder.
func (r *RateLimited) Bid(ctx context.Context, cc types.CompactContext) (types.Bid, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return types.Bid{}, types.NewError(types.ErrRateLimited, "bid rate limited").
			WithResponder(r.inner.ID()).WithRetryable(true).WithCause(err)
	}
	return r.inner.Bid(ctx, cc)
}

// Respond implements Responder.
func (r *RateLimited) Respond(ctx context.Context, cc types.CompactContext) (types.Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return types.Response{}, types.NewError(types.ErrRateLimited, "respond rate limited").
			WithResponder(r.inner.ID()).WithRetryable(true).WithCause(err)
	}
	return r.inner.Respond(ctx, cc)
}

// HealthCheck implements Responder. Health checks bypass the limiter.
func (r *RateLimited) HealthCheck(ctx context.Context) bool {
	return r.inner.HealthCheck(ctx)
}

var _ Responder = (*RateLimited)(nil)
