package reliability

import (
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

// TerminationConfig configures the end-of-conversation detector.
type TerminationConfig struct {
	// CompletionPhrases end the conversation when present in the latest
	// content (case-insensitive substring match).
	CompletionPhrases []string `yaml:"completion_phrases" json:"completion_phrases"`

	// GoalMatch ends the conversation when the latest content mentions
	// the conversation goal text.
	GoalMatch bool `yaml:"goal_match" json:"goal_match"`

	// StagnationWindow is how many trailing responses to compare pairwise.
	StagnationWindow int `yaml:"stagnation_window" json:"stagnation_window"`

	// SimilarityThreshold is the Jaccard similarity above which a pair of
	// responses counts as near-duplicate.
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
}

// DefaultTerminationConfig returns the default detector configuration.
func DefaultTerminationConfig() TerminationConfig {
	return TerminationConfig{
		CompletionPhrases: []string{
			"we have reached a conclusion",
			"this concludes our discussion",
			"nothing further to add",
			"consensus reached",
		},
		GoalMatch:           true,
		StagnationWindow:    3,
		SimilarityThreshold: 0.8,
	}
}

func (c TerminationConfig) normalized() TerminationConfig {
	if c.StagnationWindow <= 1 {
		c.StagnationWindow = 3
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		c.SimilarityThreshold = 0.8
	}
	return c
}

// Detector evaluates three independent stop signals after each turn:
// explicit completion phrases, goal mention, and response stagnation.
// Any one signal suffices; the reason is reported, never swallowed.
// One detector exists per conversation and is not safe for concurrent use;
// the turn loop is single-threaded per conversation.
type Detector struct {
	cfg    TerminationConfig
	logger *zap.Logger

	mu     sync.Mutex
	recent []string
}

// NewDetector creates a detector for one conversation.
func NewDetector(cfg TerminationConfig, logger *zap.Logger) *Detector {
	return &Detector{cfg: cfg.normalized(), logger: logger}
}

// Observe folds a completed turn's content into the stagnation window.
func (d *Detector) Observe(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recent = append(d.recent, content)
	if len(d.recent) > d.cfg.StagnationWindow {
		d.recent = d.recent[len(d.recent)-d.cfg.StagnationWindow:]
	}
}

// Check evaluates the stop signals against the latest content. The latest
// content must already have been Observed.
func (d *Detector) Check(goal, latest string) (types.EndReason, bool) {
	lower := strings.ToLower(latest)

	for _, phrase := range d.cfg.CompletionPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			d.logger.Info("completion phrase detected", zap.String("phrase", phrase))
			return types.EndGoalAchieved, true
		}
	}

	if d.cfg.GoalMatch && goal != "" && strings.Contains(lower, strings.ToLower(goal)) {
		d.logger.Info("goal text mentioned in response")
		return types.EndGoalAchieved, true
	}

	if d.stagnant() {
		d.logger.Info("stagnation detected",
			zap.Int("window", d.cfg.StagnationWindow),
			zap.Float64("threshold", d.cfg.SimilarityThreshold))
		return types.EndStagnation, true
	}

	return "", false
}

// stagnant compares the trailing window pairwise by word-set Jaccard
// similarity; stagnation is flagged when more than half of the pairs
// exceed the threshold.
func (d *Detector) stagnant() bool {
	d.mu.Lock()
	window := make([]string, len(d.recent))
	copy(window, d.recent)
	d.mu.Unlock()

	if len(window) < d.cfg.StagnationWindow {
		return false
	}

	sets := make([]map[string]struct{}, len(window))
	for i, content := range window {
		sets[i] = wordSet(content)
	}

	pairs, similar := 0, 0
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			pairs++
			if jaccard(sets[i], sets[j]) > d.cfg.SimilarityThreshold {
				similar++
			}
		}
	}
	return pairs > 0 && float64(similar)/float64(pairs) > 0.5
}

// wordSet lowercases and splits content into its unique words.
func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		set[w] = struct{}{}
	}
	return set
}

// jaccard computes |a∩b| / |a∪b|; two empty sets count as identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
