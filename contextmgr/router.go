package contextmgr

import "github.com/BaSui01/parley/types"

// RoutePolicy describes how much context a responder role receives.
type RoutePolicy struct {
	// IncludeSummary forwards the rolling summary.
	IncludeSummary bool `yaml:"include_summary" json:"include_summary"`

	// RecentTurns caps the recent-turn window; 0 forwards nothing,
	// negative forwards the whole window.
	RecentTurns int `yaml:"recent_turns" json:"recent_turns"`

	// IncludeRoster forwards the participant id list.
	IncludeRoster bool `yaml:"include_roster" json:"include_roster"`
}

// Built-in role policies. Critics react to the latest statement only;
// synthesizers need the full picture.
var rolePolicies = map[string]RoutePolicy{
	"critic":      {IncludeSummary: false, RecentTurns: 1, IncludeRoster: false},
	"synthesizer": {IncludeSummary: true, RecentTurns: 10, IncludeRoster: true},
	"moderator":   {IncludeSummary: true, RecentTurns: -1, IncludeRoster: true},
	"default":     {IncludeSummary: true, RecentTurns: 3, IncludeRoster: false},
}

// RouteForRole reduces a context per the role's policy, bounding the
// prompt size sent downstream. Unknown roles fall back to the default
// policy. The input context is never mutated.
func (m *Manager) RouteForRole(cc types.CompactContext, role string) types.CompactContext {
	policy, ok := rolePolicies[role]
	if !ok {
		policy = rolePolicies["default"]
	}

	routed := cc

	if !policy.IncludeSummary {
		routed.Summary = ""
	}
	if !policy.IncludeRoster {
		routed.ParticipantIDs = nil
	}

	switch {
	case policy.RecentTurns == 0:
		routed.Recent = nil
	case policy.RecentTurns > 0 && len(cc.Recent) > policy.RecentTurns:
		window := make([]types.TurnRef, policy.RecentTurns)
		copy(window, cc.Recent[len(cc.Recent)-policy.RecentTurns:])
		routed.Recent = window
	}

	return routed
}
