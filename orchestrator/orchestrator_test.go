package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/parley/channel"
	"github.com/BaSui01/parley/persistence"
	"github.com/BaSui01/parley/responder"
	"github.com/BaSui01/parley/types"
)

type fixture struct {
	orch     *Orchestrator
	store    *persistence.MemoryStore
	channel  *channel.MemoryChannel
	registry *responder.Registry
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Deadlines.Turn = 5 * time.Second
	cfg.Deadlines.Bid = 200 * time.Millisecond
	cfg.Deadlines.Response = time.Second
	cfg.Retry.MaxRetries = 0
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.JitterMax = 0
	return cfg
}

func newFixture(t *testing.T, cfg Config, responders ...responder.Responder) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		store:    persistence.NewMemoryStore(),
		channel:  channel.NewMemoryChannel(channel.MemoryConfig{}, logger),
		registry: responder.NewRegistry(logger),
	}
	for _, r := range responders {
		f.registry.Register(r)
	}
	f.orch = New(cfg, Deps{
		Store:    f.store,
		Channel:  f.channel,
		Registry: f.registry,
		Logger:   logger,
	})
	t.Cleanup(func() {
		f.orch.Close()
		f.channel.Close()
		f.store.Close()
	})
	return f
}

// bidder builds a scripted responder with fixed bid scores and content.
func bidder(id string, score float64, content string) *responder.Scripted {
	s := responder.NewScripted(id)
	s.BidFunc = func(_ context.Context, _ types.CompactContext) (types.Bid, error) {
		return types.Bid{
			Relevance:  score,
			Confidence: score,
			Novelty:    score,
			Urgency:    score,
			Decision:   types.DecisionBid,
		}, nil
	}
	s.RespondFunc = func(_ context.Context, _ types.CompactContext) (types.Response, error) {
		return types.Response{
			Content: content,
			Usage:   types.TokenUsage{Input: 50, Output: 20},
		}, nil
	}
	return s
}

func passer(id string) *responder.Scripted {
	s := responder.NewScripted(id)
	s.BidFunc = func(_ context.Context, _ types.CompactContext) (types.Bid, error) {
		return types.Bid{Decision: types.DecisionPass}, nil
	}
	return s
}

func specs(ids ...string) []ParticipantSpec {
	out := make([]ParticipantSpec, len(ids))
	for i, id := range ids {
		out[i] = ParticipantSpec{ResponderID: id, Role: types.RoleActive}
	}
	return out
}

func (f *fixture) create(t *testing.T, req CreateRequest) *types.Conversation {
	t.Helper()
	conv, err := f.orch.CreateConversation(context.Background(), req)
	require.NoError(t, err)
	return conv
}

func TestCreateConversationValidation(t *testing.T) {
	f := newFixture(t, fastConfig(), bidder("alice", 0.5, "hi"))
	ctx := context.Background()

	_, err := f.orch.CreateConversation(ctx, CreateRequest{Participants: specs("alice")})
	assert.True(t, types.IsCode(err, types.ErrMalformedMessage), "missing topic")

	_, err = f.orch.CreateConversation(ctx, CreateRequest{
		Topic:        "t",
		Participants: specs("nobody"),
	})
	assert.True(t, types.IsCode(err, types.ErrResponder), "unregistered responder")

	_, err = f.orch.CreateConversation(ctx, CreateRequest{
		Topic:        "t",
		Participants: []ParticipantSpec{{ResponderID: "alice", Role: types.RoleObserver}},
	})
	assert.True(t, types.IsCode(err, types.ErrMalformedMessage), "no active participants")

	conv := f.create(t, CreateRequest{Topic: "t", Participants: specs("alice")})
	assert.Equal(t, types.StatusPending, conv.Status)
	assert.Equal(t, 50, conv.MaxTurns, "default cap applied")
	assert.Equal(t, -1, conv.Participants[0].Stats.LastSpokeTurn)
}

func TestProcessNextTurnHappyPath(t *testing.T) {
	f := newFixture(t, fastConfig(),
		bidder("alice", 0.9, "alice speaks about indexing."),
		bidder("bob", 0.3, "bob speaks about sharding."))
	ctx := context.Background()

	conv := f.create(t, CreateRequest{
		Topic:          "database design",
		Participants:   specs("alice", "bob"),
		BiddingEnabled: true,
	})

	events, cancel := f.orch.Events().Subscribe()
	defer cancel()

	result, err := f.orch.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Turn)
	assert.Equal(t, "alice", result.SpeakerID)
	assert.False(t, result.Ended)
	require.NotNil(t, result.BidResult)
	assert.Equal(t, "alice", result.BidResult.WinnerID)
	assert.Greater(t, result.BidResult.Scores["alice"], result.BidResult.Scores["bob"])

	stored, err := f.orch.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, stored.Status)
	assert.Equal(t, 1, stored.CurrentTurn)
	assert.Equal(t, "alice", stored.CurrentSpeaker)

	alice := stored.Participant("alice")
	assert.Equal(t, 1, alice.Stats.TurnsTaken)
	assert.Equal(t, 1, alice.Stats.ConsecutiveTurns)
	assert.Equal(t, 1, alice.Stats.LastSpokeTurn)
	assert.Equal(t, 70, alice.Stats.TokensUsed)
	assert.Equal(t, 1, alice.Stats.BidsSubmitted)

	bob := stored.Participant("bob")
	assert.Equal(t, 0, bob.Stats.TurnsTaken)
	assert.Equal(t, 1, bob.Stats.BidsSubmitted)
	assert.Equal(t, 70, stored.Budget.ConversationUsed)

	// audit trail on the conversation channel
	entries, err := f.channel.RangeRead(ctx, channel.ConversationKey(conv.ID), 1, 0)
	require.NoError(t, err)
	kinds := make([]types.MessageKind, len(entries))
	for i, e := range entries {
		kinds[i] = e.Envelope.Kind
	}
	assert.Equal(t, []types.MessageKind{
		types.KindBidRequest, types.KindBid, types.KindBid,
		types.KindResponseRequest, types.KindResponse, types.KindContextUpdate,
	}, kinds)

	ev := <-events
	assert.Equal(t, EventBidsEvaluated, ev.Kind)
	ev = <-events
	assert.Equal(t, EventTurnCompleted, ev.Kind)
	assert.Equal(t, "alice", ev.SpeakerID)
}

func TestBidTimeoutBecomesImplicitPass(t *testing.T) {
	slow := bidder("slow", 0.9, "never spoken")
	slow.Latency = 2 * time.Second
	f := newFixture(t, fastConfig(),
		slow,
		bidder("steady", 0.2, "steady wins."))
	ctx := context.Background()

	conv := f.create(t, CreateRequest{
		Topic:          "t",
		Participants:   specs("slow", "steady"),
		BiddingEnabled: true,
	})

	result, err := f.orch.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "steady", result.SpeakerID)
	assert.NotContains(t, result.BidResult.Scores, "slow", "timed-out bid excluded from scoring")
}

func TestAllPassFallsBackToRoundRobin(t *testing.T) {
	f := newFixture(t, fastConfig(), passer("a"), passer("b"))
	ctx := context.Background()

	conv := f.create(t, CreateRequest{
		Topic:          "t",
		Participants:   specs("a", "b"),
		BiddingEnabled: true,
	})

	result, err := f.orch.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", result.SpeakerID, "roster order when nobody bids")
	assert.Nil(t, result.BidResult)
}

func TestRoundRobinWhenBiddingDisabled(t *testing.T) {
	f := newFixture(t, fastConfig(),
		bidder("a", 0.5, "a on storage."),
		bidder("b", 0.5, "b on transport."),
		bidder("c", 0.5, "c on caching."))
	ctx := context.Background()

	conv := f.create(t, CreateRequest{
		Topic:        "t",
		Participants: specs("a", "b", "c"),
	})

	var speakers []string
	for i := 0; i < 4; i++ {
		result, err := f.orch.ProcessNextTurn(ctx, conv.ID)
		require.NoError(t, err)
		speakers = append(speakers, result.SpeakerID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, speakers)
}

func TestBudgetExhaustionEndsConversation(t *testing.T) {
	f := newFixture(t, fastConfig(),
		bidder("a", 0.5, "a speaks at length."),
		bidder("b", 0.5, "b speaks at length too."))
	ctx := context.Background()

	conv := f.create(t, CreateRequest{
		Topic:          "t",
		Participants:   specs("a", "b"),
		Budget:         types.TokenBudget{ConversationLimit: 60},
		BiddingEnabled: true,
	})

	// turn 1 consumes 70 tokens, blowing the 60-token budget
	result, err := f.orch.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, result.Ended)

	result, err = f.orch.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, result.Ended)
	assert.Equal(t, types.EndBudgetExceeded, result.EndReason)

	stored, err := f.orch.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, stored.Status)
	assert.Equal(t, types.EndBudgetExceeded, stored.EndReason)
	assert.Equal(t, 1, stored.CurrentTurn, "no further turns ran")
}

func TestStagnationEndsConversation(t *testing.T) {
	content := "we all agree redis is the right choice here"
	f := newFixture(t, fastConfig(),
		bidder("a", 0.6, content),
		bidder("b", 0.5, content))
	ctx := context.Background()

	conv := f.create(t, CreateRequest{
		Topic:          "t",
		Participants:   specs("a", "b"),
		BiddingEnabled: true,
	})

	var last *TurnResult
	for i := 0; i < 3; i++ {
		var err error
		last, err = f.orch.ProcessNextTurn(ctx, conv.ID)
		require.NoError(t, err)
	}
	assert.True(t, last.Ended, "three near-identical responses fill the stagnation window")
	assert.Equal(t, types.EndStagnation, last.EndReason)
}

func TestCompletionPhraseEndsConversation(t *testing.T) {
	f := newFixture(t, fastConfig(),
		bidder("a", 0.5, "Consensus reached: we ship it."))
	ctx := context.Background()

	conv := f.create(t, CreateRequest{
		Topic:          "t",
		Participants:   specs("a"),
		BiddingEnabled: true,
	})

	result, err := f.orch.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, result.Ended)
	assert.Equal(t, types.EndGoalAchieved, result.EndReason)
}

func TestMaxTurnsEndsConversation(t *testing.T) {
	f := newFixture(t, fastConfig(),
		bidder("a", 0.5, "a makes a fresh point about storage."),
		bidder("b", 0.5, "b counters with different transport concerns."))
	ctx := context.Background()

	conv := f.create(t, CreateRequest{
		Topic:        "t",
		MaxTurns:     2,
		Participants: specs("a", "b"),
	})

	result, err := f.orch.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, result.Ended)

	result, err = f.orch.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, result.Ended)
	assert.Equal(t, types.EndMaxTurns, result.EndReason)

	_, err = f.orch.ProcessNextTurn(ctx, conv.ID)
	assert.True(t, types.IsCode(err, types.ErrInvalidTransition))
}

func TestResponderFailureEndsConversation(t *testing.T) {
	broken := bidder("broken", 0.9, "")
	broken.RespondFunc = func(_ context.Context, _ types.CompactContext) (types.Response, error) {
		return types.Response{}, errors.New("backend 500")
	}
	f := newFixture(t, fastConfig(), broken)
	ctx := context.Background()

	conv := f.create(t, CreateRequest{
		Topic:          "t",
		Participants:   specs("broken"),
		BiddingEnabled: true,
	})

	events, cancelSub := f.orch.Events().Subscribe()
	defer cancelSub()

	_, err := f.orch.ProcessNextTurn(ctx, conv.ID)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrResponder))

	// retry exhaustion terminates the conversation with an explicit reason
	stored, lerr := f.orch.Get(ctx, conv.ID)
	require.NoError(t, lerr)
	assert.Equal(t, 0, stored.CurrentTurn, "failed turn does not advance")
	assert.Equal(t, types.StatusCompleted, stored.Status)
	assert.Equal(t, types.EndError, stored.EndReason)

	entries, cerr := f.channel.RangeRead(ctx, channel.ConversationKey(conv.ID), 1, 0)
	require.NoError(t, cerr)
	last := entries[len(entries)-1].Envelope
	assert.Equal(t, types.KindEnd, last.Kind)

	ev := <-events
	assert.Equal(t, EventTurnFailed, ev.Kind)
	ev = <-events
	assert.Equal(t, EventConversationEnded, ev.Kind)
	assert.Equal(t, types.EndError, ev.EndReason)

	_, err = f.orch.ProcessNextTurn(ctx, conv.ID)
	assert.True(t, types.IsCode(err, types.ErrInvalidTransition), "terminal conversation accepts no further turns")
}

func TestRunStopsOnResponderFailure(t *testing.T) {
	broken := bidder("broken", 0.9, "")
	broken.RespondFunc = func(_ context.Context, _ types.CompactContext) (types.Response, error) {
		return types.Response{}, errors.New("backend 500")
	}
	f := newFixture(t, fastConfig(), broken)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv := f.create(t, CreateRequest{
		Topic:          "t",
		Participants:   specs("broken"),
		BiddingEnabled: true,
	})

	err := f.orch.Run(ctx, conv.ID)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrResponder), "failure surfaces instead of spinning")

	stored, lerr := f.orch.Get(ctx, conv.ID)
	require.NoError(t, lerr)
	assert.Equal(t, types.StatusCompleted, stored.Status)
	assert.Equal(t, types.EndError, stored.EndReason)
}

func TestResponderInboxDelivery(t *testing.T) {
	f := newFixture(t, fastConfig(),
		bidder("alice", 0.9, "alice takes the floor."),
		bidder("bob", 0.3, "bob waits."))
	ctx := context.Background()

	conv := f.create(t, CreateRequest{
		Topic:          "t",
		Participants:   specs("alice", "bob"),
		BiddingEnabled: true,
	})

	_, err := f.orch.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)

	// every active participant's inbox carries the bid request; only the
	// winner's inbox carries the response request
	aliceInbox, err := f.channel.RangeRead(ctx, channel.ResponderKey("alice"), 1, 0)
	require.NoError(t, err)
	aliceKinds := make([]types.MessageKind, len(aliceInbox))
	for i, e := range aliceInbox {
		aliceKinds[i] = e.Envelope.Kind
	}
	assert.Equal(t, []types.MessageKind{types.KindBidRequest, types.KindResponseRequest}, aliceKinds)

	bobInbox, err := f.channel.RangeRead(ctx, channel.ResponderKey("bob"), 1, 0)
	require.NoError(t, err)
	require.Len(t, bobInbox, 1)
	assert.Equal(t, types.KindBidRequest, bobInbox[0].Envelope.Kind)
}

func TestConcurrentTurnRejected(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	slow := bidder("slow", 0.9, "")
	slow.RespondFunc = func(ctx context.Context, _ types.CompactContext) (types.Response, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return types.Response{Content: "done.", Usage: types.TokenUsage{Output: 5}}, nil
		case <-ctx.Done():
			return types.Response{}, ctx.Err()
		}
	}
	cfg := fastConfig()
	cfg.Deadlines.Response = 4 * time.Second
	f := newFixture(t, cfg, slow)
	ctx := context.Background()

	conv := f.create(t, CreateRequest{
		Topic:          "t",
		Participants:   specs("slow"),
		BiddingEnabled: true,
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.ProcessNextTurn(ctx, conv.ID)
		done <- err
	}()

	// the second call must fail fast while the first holds the turn
	<-started
	_, err := f.orch.ProcessNextTurn(ctx, conv.ID)
	assert.True(t, types.IsCode(err, types.ErrTurnInFlight))

	close(release)
	require.NoError(t, <-done)
}

func TestPauseResumeCancel(t *testing.T) {
	f := newFixture(t, fastConfig(), bidder("a", 0.5, "a point."))
	ctx := context.Background()

	conv := f.create(t, CreateRequest{Topic: "t", Participants: specs("a")})

	require.NoError(t, f.orch.Pause(ctx, conv.ID))
	_, err := f.orch.ProcessNextTurn(ctx, conv.ID)
	assert.True(t, types.IsCode(err, types.ErrInvalidTransition))
	assert.Error(t, f.orch.Pause(ctx, conv.ID), "already paused")

	require.NoError(t, f.orch.Resume(ctx, conv.ID))
	_, err = f.orch.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)

	require.NoError(t, f.orch.Cancel(ctx, conv.ID))
	stored, err := f.orch.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, stored.Status)
	assert.Equal(t, types.EndCancelled, stored.EndReason)

	assert.Error(t, f.orch.Cancel(ctx, conv.ID), "terminal conversations cannot be cancelled again")
	_, err = f.orch.ProcessNextTurn(ctx, conv.ID)
	assert.True(t, types.IsCode(err, types.ErrInvalidTransition))
}

func TestRunUntilEnded(t *testing.T) {
	turn := 0
	chatty := bidder("chatty", 0.7, "")
	chatty.RespondFunc = func(_ context.Context, _ types.CompactContext) (types.Response, error) {
		turn++
		content := fmt.Sprintf("point number %d about distinct topic %d.", turn, turn)
		if turn >= 3 {
			content = "nothing further to add."
		}
		return types.Response{Content: content, Usage: types.TokenUsage{Output: 10}}, nil
	}
	f := newFixture(t, fastConfig(), chatty)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv := f.create(t, CreateRequest{
		Topic:          "t",
		Participants:   specs("chatty"),
		BiddingEnabled: true,
	})

	require.NoError(t, f.orch.Run(ctx, conv.ID))

	stored, err := f.orch.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, stored.Status)
	assert.Equal(t, types.EndGoalAchieved, stored.EndReason)
	assert.Equal(t, 3, stored.CurrentTurn)
}

func TestSessionRebuildAfterRestart(t *testing.T) {
	f := newFixture(t, fastConfig(),
		bidder("a", 0.6, "first a point about schemas."),
		bidder("b", 0.5, "then b disagrees about indexes."))
	ctx := context.Background()

	conv := f.create(t, CreateRequest{
		Topic:          "t",
		Participants:   specs("a", "b"),
		BiddingEnabled: true,
	})
	_, err := f.orch.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)

	// a fresh orchestrator over the same store and channel simulates a
	// process restart; the context window is replayed from the channel
	restarted := New(fastConfig(), Deps{
		Store:    f.store,
		Channel:  f.channel,
		Registry: f.registry,
		Logger:   zap.NewNop(),
	})
	defer restarted.Close()

	result, err := restarted.ProcessNextTurn(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Turn)

	stored, err := restarted.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentTurn)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, fastConfig(), bidder("a", 0.5, "x"))
	assert.NoError(t, f.orch.Health(context.Background()))

	f.channel.Close()
	assert.Error(t, f.orch.Health(context.Background()))
}

func TestNextRoundRobin(t *testing.T) {
	conv := &types.Conversation{
		Participants: []types.Participant{
			{ResponderID: "a", Role: types.RoleActive},
			{ResponderID: "obs", Role: types.RoleObserver},
			{ResponderID: "b", Role: types.RoleActive},
		},
	}

	assert.Equal(t, "a", nextRoundRobin(conv))
	conv.CurrentSpeaker = "a"
	assert.Equal(t, "b", nextRoundRobin(conv))
	conv.CurrentSpeaker = "b"
	assert.Equal(t, "a", nextRoundRobin(conv))

	conv.CurrentSpeaker = "obs"
	assert.Equal(t, "a", nextRoundRobin(conv), "inactive current speaker restarts rotation")

	assert.Equal(t, "", nextRoundRobin(&types.Conversation{}))
}
