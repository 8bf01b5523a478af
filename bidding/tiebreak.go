package bidding

import (
	"math/rand"

	"github.com/BaSui01/parley/types"
)

// Tie-break policy names accepted in Config.TieBreak.
const (
	PolicyRandom      = "random"
	PolicyLeastRecent = "least_recent"
	PolicyFirstCome   = "first_come"
)

// TieBreak resolves a set of responders whose final scores are within
// epsilon of each other. Pick receives the tied ids in sorted order.
type TieBreak interface {
	Name() string
	Pick(tied []string, bids map[string]types.Bid, in Input) string
}

func policyByName(name string) TieBreak {
	switch name {
	case PolicyLeastRecent:
		return leastRecent{}
	case PolicyFirstCome:
		return firstCome{}
	default:
		return random{}
	}
}

// random selects uniformly among the tied responders.
type random struct{}

func (random) Name() string { return PolicyRandom }

func (random) Pick(tied []string, _ map[string]types.Bid, _ Input) string {
	return tied[rand.Intn(len(tied))]
}

// leastRecent prefers the responder that has gone longest without
// speaking; responders that never spoke win over everyone.
type leastRecent struct{}

func (leastRecent) Name() string { return PolicyLeastRecent }

func (leastRecent) Pick(tied []string, _ map[string]types.Bid, in Input) string {
	winner := tied[0]
	winnerSpoke := lastSpoke(in, winner)
	for _, id := range tied[1:] {
		if lastSpoke(in, id) < winnerSpoke {
			winner = id
			winnerSpoke = lastSpoke(in, id)
		}
	}
	return winner
}

func lastSpoke(in Input, id string) int {
	stats, ok := in.Stats[id]
	if !ok || stats.LastSpokeTurn < 0 {
		return -1
	}
	return stats.LastSpokeTurn
}

// firstCome prefers the earliest submitted bid.
type firstCome struct{}

func (firstCome) Name() string { return PolicyFirstCome }

func (firstCome) Pick(tied []string, bids map[string]types.Bid, _ Input) string {
	winner := tied[0]
	for _, id := range tied[1:] {
		if bids[id].SubmittedAt.Before(bids[winner].SubmittedAt) {
			winner = id
		}
	}
	return winner
}
