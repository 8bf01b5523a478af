package reliability

import (
	"context"
	"time"
)

// Deadlines holds the cascading per-turn deadlines. Inner deadlines are
// always clamped to the remaining outer budget.
type Deadlines struct {
	Turn      time.Duration `yaml:"turn" json:"turn"`
	Bid       time.Duration `yaml:"bid" json:"bid"`
	Response  time.Duration `yaml:"response" json:"response"`
	Summarize time.Duration `yaml:"summarize" json:"summarize"`
}

// DefaultDeadlines returns the default cascading deadlines.
func DefaultDeadlines() Deadlines {
	return Deadlines{
		Turn:      60 * time.Second,
		Bid:       5 * time.Second,
		Response:  30 * time.Second,
		Summarize: 10 * time.Second,
	}
}

func (d Deadlines) normalized() Deadlines {
	def := DefaultDeadlines()
	if d.Turn <= 0 {
		d.Turn = def.Turn
	}
	if d.Bid <= 0 {
		d.Bid = def.Bid
	}
	if d.Response <= 0 {
		d.Response = def.Response
	}
	if d.Summarize <= 0 {
		d.Summarize = def.Summarize
	}
	// inner deadlines never exceed the turn budget
	if d.Bid > d.Turn {
		d.Bid = d.Turn
	}
	if d.Response > d.Turn {
		d.Response = d.Turn
	}
	if d.Summarize > d.Turn {
		d.Summarize = d.Turn
	}
	return d
}

// Normalize applies defaults and clamps inner deadlines to the turn budget.
func (d Deadlines) Normalize() Deadlines { return d.normalized() }

// Within derives a child context bounded by min(d, remaining budget of
// parent). This is the cascade step: an inner phase can never outlive the
// outer turn deadline.
func Within(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d {
			d = remaining
		}
	}
	if d < 0 {
		d = 0
	}
	return context.WithTimeout(parent, d)
}
