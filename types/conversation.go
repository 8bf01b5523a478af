package types

import "time"

// ConversationStatus represents the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusPending   ConversationStatus = "pending"
	StatusActive    ConversationStatus = "active"
	StatusPaused    ConversationStatus = "paused"
	StatusCompleted ConversationStatus = "completed"
	StatusCancelled ConversationStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s ConversationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// EndReason explains why a conversation stopped. Every terminated
// conversation carries exactly one reason; silent termination is disallowed.
type EndReason string

const (
	EndGoalAchieved   EndReason = "goal_achieved"
	EndMaxTurns       EndReason = "max_turns"
	EndBudgetExceeded EndReason = "budget_exceeded"
	EndStagnation     EndReason = "stagnation"
	EndCancelled      EndReason = "cancelled"
	EndError          EndReason = "error"
)

// ParticipantRole determines what a participant may do in a conversation.
// Only active participants may bid and speak.
type ParticipantRole string

const (
	RoleActive     ParticipantRole = "active"
	RoleObserver   ParticipantRole = "observer"
	RoleConsultant ParticipantRole = "consultant"
	RoleModerator  ParticipantRole = "moderator"
)

// ParticipantStats accumulates per-participant scheduling history.
// TurnsTaken only increases when the participant was the evaluated winner.
type ParticipantStats struct {
	TurnsTaken       int     `json:"turns_taken"`
	ConsecutiveTurns int     `json:"consecutive_turns"`
	TokensUsed       int     `json:"tokens_used"`
	LastSpokeTurn    int     `json:"last_spoke_turn"` // -1 if never spoke
	BidsSubmitted    int     `json:"bids_submitted"`
	AvgBidScore      float64 `json:"avg_bid_score"`
}

// Participant is a responder enrolled in a conversation. Persona is the
// behavioral role ("critic", "synthesizer", ...) used for context routing;
// it is independent of the scheduling Role.
type Participant struct {
	ResponderID string           `json:"responder_id"`
	Role        ParticipantRole  `json:"role"`
	Persona     string           `json:"persona,omitempty"`
	JoinedAt    time.Time        `json:"joined_at"`
	Stats       ParticipantStats `json:"stats"`
}

// TokenBudget tracks conversation-wide and per-responder token limits.
// A zero limit means unlimited for that scope.
type TokenBudget struct {
	ConversationLimit int            `json:"conversation_limit"`
	ConversationUsed  int            `json:"conversation_used"`
	PerResponderLimit int            `json:"per_responder_limit"`
	ResponderUsed     map[string]int `json:"responder_used,omitempty"`
}

// Conversation is the whole scheduling unit. It is mutated only by the
// orchestrator and persisted as a single value (get/put, never partial).
type Conversation struct {
	ID             string             `json:"id"`
	Topic          string             `json:"topic"`
	Goal           string             `json:"goal,omitempty"`
	MaxTurns       int                `json:"max_turns"`
	Status         ConversationStatus `json:"status"`
	CurrentTurn    int                `json:"current_turn"`
	CurrentSpeaker string             `json:"current_speaker,omitempty"`
	Participants   []Participant      `json:"participants"`
	Budget         TokenBudget        `json:"budget"`
	BiddingEnabled bool               `json:"bidding_enabled"`
	EndReason      EndReason          `json:"end_reason,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ActiveParticipants returns the participants allowed to bid and speak,
// in roster order.
func (c *Conversation) ActiveParticipants() []Participant {
	out := make([]Participant, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.Role == RoleActive {
			out = append(out, p)
		}
	}
	return out
}

// Participant returns a pointer into the roster for the given responder id,
// or nil if the responder is not enrolled.
func (c *Conversation) Participant(responderID string) *Participant {
	for i := range c.Participants {
		if c.Participants[i].ResponderID == responderID {
			return &c.Participants[i]
		}
	}
	return nil
}

// ParticipantIDs returns the responder ids in roster order.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.ResponderID
	}
	return ids
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate persisted state through aliased slices or maps.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Participants = make([]Participant, len(c.Participants))
	copy(cp.Participants, c.Participants)
	if c.Budget.ResponderUsed != nil {
		cp.Budget.ResponderUsed = make(map[string]int, len(c.Budget.ResponderUsed))
		for k, v := range c.Budget.ResponderUsed {
			cp.Budget.ResponderUsed[k] = v
		}
	}
	return &cp
}
