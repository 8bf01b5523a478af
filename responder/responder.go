// Package responder defines the capability contract each AI participant
// exposes to the scheduler. The orchestrator depends only on this
// abstraction, never on a concrete content-generation backend.
package responder

import (
	"context"

	"github.com/BaSui01/parley/types"
)

// Responder is the contract consumed by the turn orchestrator. Deadlines
// are carried on the context; implementations must respect cancellation
// and be safely callable concurrently for different conversations.
type Responder interface {
	// ID returns the stable responder identity.
	ID() string

	// Bid produces a bid for the given context before the context deadline.
	Bid(ctx context.Context, cc types.CompactContext) (types.Bid, error)

	// Respond produces a full reply for the given context before the
	// context deadline.
	Respond(ctx context.Context, cc types.CompactContext) (types.Response, error)

	// HealthCheck reports liveness.
	HealthCheck(ctx context.Context) bool
}
