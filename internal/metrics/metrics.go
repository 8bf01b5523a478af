// Package metrics exposes the scheduler's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector bundles every metric the scheduler emits. Construct one per
// process; pass a dedicated registry in tests to avoid duplicate
// registration.
type Collector struct {
	registry prometheus.Registerer

	turnsTotal         *prometheus.CounterVec
	turnDuration       prometheus.Histogram
	bidsTotal          *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	tokensTotal        *prometheus.CounterVec
	conversationsEnded *prometheus.CounterVec
}

// NewCollector registers all collectors on reg. A nil reg gets a private
// registry, which keeps tests isolated.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "turns_total",
			Help:      "Completed turn attempts by outcome.",
		}, []string{"outcome"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parley",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of one full turn.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		bidsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "bids_total",
			Help:      "Bids collected by decision, including implicit passes.",
		}, []string{"decision"}),
		breakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by responder and new state.",
		}, []string{"responder", "state"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "tokens_total",
			Help:      "Tokens consumed by responder.",
		}, []string{"responder"}),
		conversationsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "conversations_ended_total",
			Help:      "Conversations terminated by reason.",
		}, []string{"reason"}),
	}
}

// ObserveTurn records one turn attempt.
func (c *Collector) ObserveTurn(outcome string, elapsed time.Duration) {
	c.turnsTotal.WithLabelValues(outcome).Inc()
	c.turnDuration.Observe(elapsed.Seconds())
}

// RecordBid counts one collected bid.
func (c *Collector) RecordBid(decision string) {
	c.bidsTotal.WithLabelValues(decision).Inc()
}

// RecordBreakerTransition counts a breaker state change.
func (c *Collector) RecordBreakerTransition(responderID, state string) {
	c.breakerTransitions.WithLabelValues(responderID, state).Inc()
}

// AddTokens accumulates token usage for a responder.
func (c *Collector) AddTokens(responderID string, tokens int) {
	if tokens > 0 {
		c.tokensTotal.WithLabelValues(responderID).Add(float64(tokens))
	}
}

// ConversationEnded counts a terminated conversation.
func (c *Collector) ConversationEnded(reason string) {
	c.conversationsEnded.WithLabelValues(reason).Inc()
}
