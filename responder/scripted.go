package responder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/parley/types"
)

// Scripted is a programmable responder used in tests and demos. Each field
// can be overridden; unset fields fall back to fixed defaults.
type Scripted struct {
	Name        string
	BidFunc     func(ctx context.Context, cc types.CompactContext) (types.Bid, error)
	RespondFunc func(ctx context.Context, cc types.CompactContext) (types.Response, error)
	Healthy     bool
	Latency     time.Duration
}

// NewScripted creates a healthy scripted responder with the given id.
func NewScripted(name string) *Scripted {
	return &Scripted{Name: name, Healthy: true}
}

// ID implements Responder.
func (s *Scripted) ID() string { return s.Name }

func (s *Scripted) wait(ctx context.Context) error {
	if s.Latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.Latency):
		return nil
	}
}

// Bid implements Responder.
func (s *Scripted) Bid(ctx context.Context, cc types.CompactContext) (types.Bid, error) {
	if err := s.wait(ctx); err != nil {
		return types.Bid{}, err
	}
	if s.BidFunc != nil {
		return s.BidFunc(ctx, cc)
	}
	return types.Bid{
		ID:             uuid.New().String(),
		ConversationID: cc.ConversationID,
		Turn:           cc.Turn,
		ResponderID:    s.Name,
		Relevance:      0.5,
		Confidence:     0.5,
		Novelty:        0.5,
		Urgency:        0.5,
		Decision:       types.DecisionBid,
		SubmittedAt:    time.Now(),
	}, nil
}

// Respond implements Responder.
func (s *Scripted) Respond(ctx context.Context, cc types.CompactContext) (types.Response, error) {
	if err := s.wait(ctx); err != nil {
		return types.Response{}, err
	}
	if s.RespondFunc != nil {
		return s.RespondFunc(ctx, cc)
	}
	return types.Response{
		Content:      "contribution from " + s.Name,
		Usage:        types.TokenUsage{Input: 50, Output: 20},
		Model:        "scripted",
		FinishReason: "stop",
	}, nil
}

// HealthCheck implements Responder.
func (s *Scripted) HealthCheck(ctx context.Context) bool { return s.Healthy }

var _ Responder = (*Scripted)(nil)
