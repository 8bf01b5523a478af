// Package bidding converts a batch of bids into a single winner using a
// weighted multi-factor score plus fairness adjustments and a pluggable
// tie-break policy.
package bidding

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

// Weights are the multipliers applied to the four bid scores. They need
// not sum to 1.
type Weights struct {
	Relevance  float64 `yaml:"relevance" json:"relevance"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
	Novelty    float64 `yaml:"novelty" json:"novelty"`
	Urgency    float64 `yaml:"urgency" json:"urgency"`
}

// DefaultWeights returns the default scoring weights.
func DefaultWeights() Weights {
	return Weights{Relevance: 0.35, Confidence: 0.25, Novelty: 0.20, Urgency: 0.20}
}

// Config configures the evaluator.
type Config struct {
	Weights Weights `yaml:"weights" json:"weights"`

	// CooldownTurns is the recency-penalty horizon: a responder that spoke
	// within the last CooldownTurns turns is penalized proportionally.
	CooldownTurns int `yaml:"cooldown_turns" json:"cooldown_turns"`

	// RecencyPenaltyWeight scales the recency penalty.
	RecencyPenaltyWeight float64 `yaml:"recency_penalty_weight" json:"recency_penalty_weight"`

	// BalanceWeight scales the participation bonus. The bonus is negative
	// for overrepresented responders.
	BalanceWeight float64 `yaml:"balance_weight" json:"balance_weight"`

	// DeferBonus is added to a defer target's final score.
	DeferBonus float64 `yaml:"defer_bonus" json:"defer_bonus"`

	// MaxConsecutiveTurns excludes the current speaker once it has held
	// the floor this many turns in a row. 0 disables the cap.
	MaxConsecutiveTurns int `yaml:"max_consecutive_turns" json:"max_consecutive_turns"`

	// Epsilon is the score distance within which bids count as tied.
	Epsilon float64 `yaml:"epsilon" json:"epsilon"`

	// TieBreak names the tie-break policy: "random", "least_recent",
	// or "first_come".
	TieBreak string `yaml:"tie_break" json:"tie_break"`
}

// DefaultConfig returns the default evaluator configuration.
func DefaultConfig() Config {
	return Config{
		Weights:              DefaultWeights(),
		CooldownTurns:        3,
		RecencyPenaltyWeight: 0.15,
		BalanceWeight:        0.10,
		DeferBonus:           0.10,
		Epsilon:              0.001,
		TieBreak:             PolicyRandom,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	zero := Weights{}
	if c.Weights == zero {
		c.Weights = def.Weights
	}
	if c.CooldownTurns <= 0 {
		c.CooldownTurns = def.CooldownTurns
	}
	if c.Epsilon <= 0 {
		c.Epsilon = def.Epsilon
	}
	if c.TieBreak == "" {
		c.TieBreak = def.TieBreak
	}
	return c
}

// Input is one turn's evaluation request. Missing responders must already
// have been converted to implicit pass bids by the orchestrator.
type Input struct {
	Bids           []types.Bid
	Stats          map[string]types.ParticipantStats
	CurrentTurn    int
	CurrentSpeaker string
}

// Evaluator scores bids and picks a winner.
type Evaluator struct {
	cfg      Config
	tieBreak TieBreak
	logger   *zap.Logger
}

// NewEvaluator creates an evaluator. An unknown tie-break name falls back
// to uniform random.
func NewEvaluator(cfg Config, logger *zap.Logger) *Evaluator {
	cfg = cfg.normalized()
	return &Evaluator{
		cfg:      cfg,
		tieBreak: policyByName(cfg.TieBreak),
		logger:   logger,
	}
}

// Evaluate converts the bid set into a BidResult. It returns a
// NoValidBids error when zero responders remain eligible; the caller must
// fall back to round-robin rather than stalling.
func (e *Evaluator) Evaluate(in Input) (types.BidResult, error) {
	scores := make(map[string]float64)
	adjustments := make(map[string]float64)
	eligible := make(map[string]types.Bid)

	avgTurns := averageTurns(in.Stats)

	for _, bid := range in.Bids {
		if bid.Decision != types.DecisionBid {
			continue
		}
		if e.excluded(bid.ResponderID, in) {
			e.logger.Debug("responder excluded by hard constraint",
				zap.String("responder_id", bid.ResponderID),
				zap.Int("turn", in.CurrentTurn))
			continue
		}

		base := bid.Relevance*e.cfg.Weights.Relevance +
			bid.Confidence*e.cfg.Weights.Confidence +
			bid.Novelty*e.cfg.Weights.Novelty +
			bid.Urgency*e.cfg.Weights.Urgency

		stats := in.Stats[bid.ResponderID]
		adj := e.participationBonus(stats, avgTurns) - e.recencyPenalty(stats, in.CurrentTurn)

		scores[bid.ResponderID] = base + adj
		adjustments[bid.ResponderID] = adj
		eligible[bid.ResponderID] = bid
	}

	// defer decisions boost their target without competing themselves
	for _, bid := range in.Bids {
		if bid.Decision != types.DecisionDefer || bid.DeferTarget == "" {
			continue
		}
		if _, ok := scores[bid.DeferTarget]; !ok {
			continue
		}
		scores[bid.DeferTarget] += e.cfg.DeferBonus
		adjustments[bid.DeferTarget] += e.cfg.DeferBonus
	}

	if len(scores) == 0 {
		return types.BidResult{}, types.NewNoValidBidsError()
	}

	winner, method := e.pickWinner(scores, eligible, in)

	return types.BidResult{
		WinnerID:    winner,
		Scores:      scores,
		Adjustments: adjustments,
		TieBreak:    method,
	}, nil
}

// excluded applies hard constraints independent of score.
func (e *Evaluator) excluded(responderID string, in Input) bool {
	if e.cfg.MaxConsecutiveTurns <= 0 {
		return false
	}
	if responderID != in.CurrentSpeaker {
		return false
	}
	return in.Stats[responderID].ConsecutiveTurns >= e.cfg.MaxConsecutiveTurns
}

// recencyPenalty = clamp(1 - turnsSinceLastSpoke/cooldown, 0, 1) * weight.
func (e *Evaluator) recencyPenalty(stats types.ParticipantStats, currentTurn int) float64 {
	if stats.LastSpokeTurn < 0 || stats.TurnsTaken == 0 {
		return 0
	}
	since := float64(currentTurn - stats.LastSpokeTurn)
	factor := 1 - since/float64(e.cfg.CooldownTurns)
	factor = math.Max(0, math.Min(1, factor))
	return factor * e.cfg.RecencyPenaltyWeight
}

// participationBonus = (1 - turnsTaken/avgTurns) * weight; negative for
// overrepresented responders.
func (e *Evaluator) participationBonus(stats types.ParticipantStats, avgTurns float64) float64 {
	if avgTurns <= 0 {
		return 0
	}
	return (1 - float64(stats.TurnsTaken)/avgTurns) * e.cfg.BalanceWeight
}

func averageTurns(stats map[string]types.ParticipantStats) float64 {
	if len(stats) == 0 {
		return 0
	}
	total := 0
	for _, s := range stats {
		total += s.TurnsTaken
	}
	return float64(total) / float64(len(stats))
}

// pickWinner finds the top score and resolves ties within epsilon through
// the configured policy. Candidates are sorted so policies see a stable
// order regardless of map iteration.
func (e *Evaluator) pickWinner(scores map[string]float64, bids map[string]types.Bid, in Input) (string, string) {
	best := math.Inf(-1)
	for _, s := range scores {
		if s > best {
			best = s
		}
	}

	tied := make([]string, 0, 2)
	for id, s := range scores {
		if best-s <= e.cfg.Epsilon {
			tied = append(tied, id)
		}
	}
	sort.Strings(tied)

	if len(tied) == 1 {
		return tied[0], ""
	}

	winner := e.tieBreak.Pick(tied, bids, in)
	e.logger.Debug("tie broken",
		zap.Strings("tied", tied),
		zap.String("winner", winner),
		zap.String("method", e.tieBreak.Name()))
	return winner, e.tieBreak.Name()
}
