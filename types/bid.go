package types

import (
	"fmt"
	"time"
)

// BidDecision is a responder's declared intent for the next turn.
type BidDecision string

const (
	// DecisionBid competes for the turn with the attached scores.
	DecisionBid BidDecision = "bid"
	// DecisionPass declines the turn. Pass bids never win.
	DecisionPass BidDecision = "pass"
	// DecisionDefer nominates another responder without competing.
	DecisionDefer BidDecision = "defer"
)

// Bid is a responder's self-reported signal of willingness to take the
// next turn. All four scores live in [0,1].
type Bid struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Turn           int         `json:"turn"`
	ResponderID    string      `json:"responder_id"`
	Relevance      float64     `json:"relevance"`
	Confidence     float64     `json:"confidence"`
	Novelty        float64     `json:"novelty"`
	Urgency        float64     `json:"urgency"`
	Decision       BidDecision `json:"decision"`
	DeferTarget    string      `json:"defer_target,omitempty"`
	SubmittedAt    time.Time   `json:"submitted_at"`
}

// Validate checks score ranges and decision consistency.
func (b *Bid) Validate() error {
	for _, s := range []struct {
		name  string
		value float64
	}{
		{"relevance", b.Relevance},
		{"confidence", b.Confidence},
		{"novelty", b.Novelty},
		{"urgency", b.Urgency},
	} {
		if s.value < 0 || s.value > 1 {
			return NewMalformedMessageError(fmt.Sprintf("bid %s score %.3f outside [0,1]", s.name, s.value))
		}
	}
	switch b.Decision {
	case DecisionBid, DecisionPass:
	case DecisionDefer:
		if b.DeferTarget == "" {
			return NewMalformedMessageError("defer bid missing target")
		}
	default:
		return NewMalformedMessageError(fmt.Sprintf("unknown bid decision %q", b.Decision))
	}
	return nil
}

// ImplicitPass builds the zero-score pass bid the orchestrator substitutes
// for a responder that timed out, errored, or whose breaker is open.
func ImplicitPass(conversationID string, turn int, responderID string) Bid {
	return Bid{
		ConversationID: conversationID,
		Turn:           turn,
		ResponderID:    responderID,
		Decision:       DecisionPass,
		SubmittedAt:    time.Now(),
	}
}

// BidResult is the evaluator's verdict for one turn.
type BidResult struct {
	WinnerID    string             `json:"winner_id"`
	Scores      map[string]float64 `json:"scores"`
	Adjustments map[string]float64 `json:"adjustments"`
	TieBreak    string             `json:"tie_break,omitempty"`
}
