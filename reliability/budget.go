package reliability

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

// BudgetConfig configures one conversation's token budget ledger.
// A zero limit means unlimited for that scope.
type BudgetConfig struct {
	ConversationLimit int `yaml:"conversation_limit" json:"conversation_limit"`
	PerResponderLimit int `yaml:"per_responder_limit" json:"per_responder_limit"`
}

// Ledger tracks token usage per responder and for the whole conversation.
// Recorded usage is monotonic: it never decreases. One ledger exists per
// conversation, so its single lock never spans conversations.
type Ledger struct {
	cfg    BudgetConfig
	logger *zap.Logger

	mu           sync.Mutex
	total        int
	perResponder map[string]int
}

// NewLedger creates an empty ledger.
func NewLedger(cfg BudgetConfig, logger *zap.Logger) *Ledger {
	return &Ledger{
		cfg:          cfg,
		logger:       logger,
		perResponder: make(map[string]int),
	}
}

// Restore seeds the ledger from persisted budget state, e.g. after the
// orchestrator reloads a conversation.
func (l *Ledger) Restore(budget types.TokenBudget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = budget.ConversationUsed
	l.perResponder = make(map[string]int, len(budget.ResponderUsed))
	for id, used := range budget.ResponderUsed {
		l.perResponder[id] = used
	}
}

// CanProceed reports whether a call estimated at estimateTokens would stay
// within both the responder's and the conversation's limit.
func (l *Ledger) CanProceed(responderID string, estimateTokens int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.ConversationLimit > 0 && l.total+estimateTokens > l.cfg.ConversationLimit {
		return false
	}
	if l.cfg.PerResponderLimit > 0 && l.perResponder[responderID]+estimateTokens > l.cfg.PerResponderLimit {
		return false
	}
	return true
}

// Record adds usage for a responder. Negative amounts are ignored so the
// ledger stays monotonic.
func (l *Ledger) Record(responderID string, tokens int) {
	if tokens <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.total += tokens
	l.perResponder[responderID] += tokens

	l.logger.Debug("token usage recorded",
		zap.String("responder_id", responderID),
		zap.Int("tokens", tokens),
		zap.Int("conversation_total", l.total))
}

// Exhausted reports whether the conversation-wide limit has been reached.
// Evaluated before starting a turn: budget exhaustion is a first-class
// termination reason, not an exception.
func (l *Ledger) Exhausted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg.ConversationLimit > 0 && l.total >= l.cfg.ConversationLimit
}

// Snapshot returns the ledger as a persistable TokenBudget value.
func (l *Ledger) Snapshot() types.TokenBudget {
	l.mu.Lock()
	defer l.mu.Unlock()

	used := make(map[string]int, len(l.perResponder))
	for id, v := range l.perResponder {
		used[id] = v
	}
	return types.TokenBudget{
		ConversationLimit: l.cfg.ConversationLimit,
		ConversationUsed:  l.total,
		PerResponderLimit: l.cfg.PerResponderLimit,
		ResponderUsed:     used,
	}
}
