package orchestrator

import "github.com/BaSui01/parley/types"

// nextRoundRobin picks the next active participant in roster order after
// the current speaker. Used when bidding is disabled and as the fallback
// when evaluation yields no valid bids. Returns "" when no participant is
// active.
func nextRoundRobin(conv *types.Conversation) string {
	active := conv.ActiveParticipants()
	if len(active) == 0 {
		return ""
	}
	if conv.CurrentSpeaker == "" {
		return active[0].ResponderID
	}
	for i, p := range active {
		if p.ResponderID == conv.CurrentSpeaker {
			return active[(i+1)%len(active)].ResponderID
		}
	}
	// current speaker no longer active (role change mid-conversation)
	return active[0].ResponderID
}
