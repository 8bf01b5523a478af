package parley

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/parley/orchestrator"
	"github.com/BaSui01/parley/responder"
	"github.com/BaSui01/parley/types"
)

func TestNewWithDefaults(t *testing.T) {
	alice := responder.NewScripted("alice")
	alice.RespondFunc = func(_ context.Context, _ types.CompactContext) (types.Response, error) {
		return types.Response{
			Content: "we have reached a conclusion.",
			Usage:   types.TokenUsage{Output: 8},
		}, nil
	}

	sched, err := New(WithResponders(alice))
	require.NoError(t, err)
	defer sched.Close()

	ctx := context.Background()
	conv, err := sched.CreateConversation(ctx, orchestrator.CreateRequest{
		Topic: "smoke test",
		Participants: []orchestrator.ParticipantSpec{
			{ResponderID: "alice", Role: types.RoleActive},
		},
		BiddingEnabled: true,
	})
	require.NoError(t, err)

	result, err := sched.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", result.SpeakerID)
	assert.True(t, result.Ended)
	assert.Equal(t, types.EndGoalAchieved, result.EndReason)
}
