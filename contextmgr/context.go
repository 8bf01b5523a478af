// Package contextmgr maintains the bounded rolling context shared across
// responders: a periodically regenerated summary plus a recent-turn
// window, with role-based routing to cap downstream prompt sizes.
package contextmgr

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

// Config configures the context manager.
type Config struct {
	// MaxRecentTurns bounds the recent-turn window.
	MaxRecentTurns int `yaml:"max_recent_turns" json:"max_recent_turns"`

	// MaxKeyPointLength hard-truncates condensed turn key points.
	MaxKeyPointLength int `yaml:"max_key_point_length" json:"max_key_point_length"`

	// SummarizeEveryNTurns triggers re-summarization when the turn number
	// is a multiple of N.
	SummarizeEveryNTurns int `yaml:"summarize_every_n_turns" json:"summarize_every_n_turns"`

	// MaxSummaryLength bounds the rolling summary.
	MaxSummaryLength int `yaml:"max_summary_length" json:"max_summary_length"`
}

// DefaultConfig returns the default context configuration.
func DefaultConfig() Config {
	return Config{
		MaxRecentTurns:       5,
		MaxKeyPointLength:    200,
		SummarizeEveryNTurns: 5,
		MaxSummaryLength:     2000,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxRecentTurns <= 0 {
		c.MaxRecentTurns = def.MaxRecentTurns
	}
	if c.MaxKeyPointLength <= 0 {
		c.MaxKeyPointLength = def.MaxKeyPointLength
	}
	if c.SummarizeEveryNTurns <= 0 {
		c.SummarizeEveryNTurns = def.SummarizeEveryNTurns
	}
	if c.MaxSummaryLength <= 0 {
		c.MaxSummaryLength = def.MaxSummaryLength
	}
	return c
}

// Summarizer compresses the prior summary plus the recent window into a
// new rolling summary. Optional; when nil the prior summary is carried
// forward unchanged.
type Summarizer interface {
	Summarize(ctx context.Context, prior string, recent []types.TurnRef) (string, error)
}

// Manager produces and evolves CompactContext values. All methods treat
// contexts as immutable: Update returns a new value and never mutates its
// input, so snapshots already handed to responders stay valid.
type Manager struct {
	cfg        Config
	summarizer Summarizer
	estimator  *Estimator
	logger     *zap.Logger
}

// NewManager creates a context manager. summarizer may be nil.
func NewManager(cfg Config, summarizer Summarizer, estimator *Estimator, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg.normalized(),
		summarizer: summarizer,
		estimator:  estimator,
		logger:     logger,
	}
}

// CreateInitial builds the empty context for a new conversation.
func (m *Manager) CreateInitial(conversationID, topic, goal string, participantIDs []string) types.CompactContext {
	ids := make([]string, len(participantIDs))
	copy(ids, participantIDs)
	return types.CompactContext{
		ConversationID: conversationID,
		Topic:          topic,
		Goal:           goal,
		ParticipantIDs: ids,
	}
}

// Update folds a completed turn into the context and returns the new
// value. Summarization runs only on turns where
// turn mod SummarizeEveryNTurns == 0; between those points the summary is
// carried forward unchanged. A summarizer failure keeps the prior summary.
func (m *Manager) Update(ctx context.Context, cc types.CompactContext, turn int, responderID, content string) types.CompactContext {
	next := cc
	next.Turn = turn

	ref := types.TurnRef{
		Turn:        turn,
		ResponderID: responderID,
		KeyPoint:    condense(content, m.cfg.MaxKeyPointLength),
	}

	window := make([]types.TurnRef, 0, len(cc.Recent)+1)
	window = append(window, cc.Recent...)
	window = append(window, ref)
	if len(window) > m.cfg.MaxRecentTurns {
		window = window[len(window)-m.cfg.MaxRecentTurns:]
	}
	next.Recent = window

	if m.summarizer != nil && turn > 0 && turn%m.cfg.SummarizeEveryNTurns == 0 {
		summary, err := m.summarizer.Summarize(ctx, cc.Summary, window)
		if err != nil {
			m.logger.Warn("summarization failed, keeping prior summary",
				zap.String("conversation_id", cc.ConversationID),
				zap.Int("turn", turn),
				zap.Error(err))
		} else {
			next.Summary = truncate(summary, m.cfg.MaxSummaryLength)
		}
	}

	return next
}

// EstimateTokens returns a rough token estimate for a context, used by the
// budget ledger before a request is issued.
func (m *Manager) EstimateTokens(cc types.CompactContext) int {
	return m.estimator.EstimateContext(cc)
}

// condense takes the first one or two sentences of content, hard-truncated
// to maxLen with an ellipsis marker. Truncation prefers a sentence
// boundary, then a word boundary.
func condense(content string, maxLen int) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}

	sentences := splitSentences(content)
	keyPoint := sentences[0]
	if len(sentences) > 1 && len(keyPoint)+len(sentences[1])+1 <= maxLen {
		keyPoint = keyPoint + " " + sentences[1]
	}

	return truncate(keyPoint, maxLen)
}

// splitSentences breaks content on sentence-ending punctuation followed by
// whitespace, keeping the punctuation.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s)-1; i++ {
		if (s[i] == '.' || s[i] == '!' || s[i] == '?') && (s[i+1] == ' ' || s[i+1] == '\n' || s[i+1] == '\t') {
			out = append(out, strings.TrimSpace(s[start:i+1]))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	if len(out) == 0 {
		out = []string{s}
	}
	return out
}

// truncate cuts s to at most maxLen bytes with an ellipsis, never
// splitting a multi-byte rune. Backs up to the last space when one is
// close enough.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	const ellipsis = "…"
	cut := maxLen - len(ellipsis)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if idx := strings.LastIndexByte(s[:cut], ' '); idx > maxLen/2 {
		cut = idx
	}
	return strings.TrimSpace(s[:cut]) + ellipsis
}
