package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveTurn("completed", 120*time.Millisecond)
	c.ObserveTurn("completed", 80*time.Millisecond)
	c.ObserveTurn("failed", 10*time.Millisecond)
	c.RecordBid("bid")
	c.RecordBid("pass")
	c.RecordBreakerTransition("alice", "open")
	c.AddTokens("alice", 120)
	c.AddTokens("alice", -5) // ignored
	c.ConversationEnded("stagnation")

	assert.InDelta(t, 2, testutil.ToFloat64(c.turnsTotal.WithLabelValues("completed")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(c.turnsTotal.WithLabelValues("failed")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(c.bidsTotal.WithLabelValues("pass")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(c.breakerTransitions.WithLabelValues("alice", "open")), 0.001)
	assert.InDelta(t, 120, testutil.ToFloat64(c.tokensTotal.WithLabelValues("alice")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(c.conversationsEnded.WithLabelValues("stagnation")), 0.001)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewCollectorNilRegistry(t *testing.T) {
	// two collectors with private registries must not collide
	a := NewCollector(nil)
	b := NewCollector(nil)
	a.RecordBid("bid")
	b.RecordBid("bid")
}
