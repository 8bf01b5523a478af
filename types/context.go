package types

// TurnRef is a condensed reference to one completed turn.
type TurnRef struct {
	Turn        int    `json:"turn"`
	ResponderID string `json:"responder_id"`
	KeyPoint    string `json:"key_point"`
}

// CompactContext is the bounded rolling context routed to responders.
// It is an immutable value: every update produces a new CompactContext and
// never mutates the old one, so snapshots are safe to hand to
// concurrently-running responders.
type CompactContext struct {
	ConversationID string    `json:"conversation_id"`
	Turn           int       `json:"turn"`
	Summary        string    `json:"summary,omitempty"`
	Recent         []TurnRef `json:"recent,omitempty"` // most-recent-last
	Topic          string    `json:"topic"`
	Goal           string    `json:"goal,omitempty"`
	ParticipantIDs []string  `json:"participant_ids,omitempty"`
}

// TokenUsage reports input/output tokens consumed by a responder call.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Total returns input + output tokens.
func (u TokenUsage) Total() int { return u.Input + u.Output }

// Response is what a responder returns for a response request.
type Response struct {
	Content      string     `json:"content"`
	Usage        TokenUsage `json:"usage"`
	Model        string     `json:"model,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
}
