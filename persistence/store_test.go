package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

func sampleConversation(id string) *types.Conversation {
	return &types.Conversation{
		ID:          id,
		Topic:       "caching strategy",
		Goal:        "pick a design",
		MaxTurns:    20,
		Status:      types.StatusActive,
		CurrentTurn: 3,
		Participants: []types.Participant{
			{
				ResponderID: "alice",
				Role:        types.RoleActive,
				JoinedAt:    time.Now().UTC().Truncate(time.Millisecond),
				Stats:       types.ParticipantStats{TurnsTaken: 2, LastSpokeTurn: 3},
			},
			{ResponderID: "bob", Role: types.RoleObserver, Stats: types.ParticipantStats{LastSpokeTurn: -1}},
		},
		Budget: types.TokenBudget{
			ConversationLimit: 50000,
			ConversationUsed:  1200,
			ResponderUsed:     map[string]int{"alice": 1200},
		},
		BiddingEnabled: true,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

// exerciseStore runs the shared contract against any backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.True(t, types.IsCode(err, types.ErrConversationNotFound))

	conv := sampleConversation("conv-1")
	require.NoError(t, store.Save(ctx, conv))

	loaded, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, conv.Topic, loaded.Topic)
	assert.Equal(t, conv.Status, loaded.Status)
	assert.Equal(t, conv.CurrentTurn, loaded.CurrentTurn)
	assert.Len(t, loaded.Participants, 2)
	assert.Equal(t, 1200, loaded.Budget.ResponderUsed["alice"])

	// whole-value upsert
	loaded.Status = types.StatusCompleted
	loaded.EndReason = types.EndGoalAchieved
	require.NoError(t, store.Save(ctx, loaded))
	reloaded, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, reloaded.Status)
	assert.Equal(t, types.EndGoalAchieved, reloaded.EndReason)

	require.NoError(t, store.Save(ctx, sampleConversation("conv-2")))
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-1", "conv-2"}, ids)

	require.NoError(t, store.Delete(ctx, "conv-1"))
	_, err = store.Load(ctx, "conv-1")
	assert.True(t, types.IsCode(err, types.ErrConversationNotFound))

	// deleting a missing id is not an error
	assert.NoError(t, store.Delete(ctx, "conv-1"))

	assert.NoError(t, store.Ping(ctx))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	exerciseStore(t, store)
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()

	conv := sampleConversation("conv-1")
	require.NoError(t, store.Save(ctx, conv))

	// mutating the saved value must not affect the store
	conv.Status = types.StatusCancelled
	conv.Budget.ResponderUsed["alice"] = 9999

	loaded, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, loaded.Status)
	assert.Equal(t, 1200, loaded.Budget.ResponderUsed["alice"])

	// mutating a loaded value must not affect later loads
	loaded.Participants[0].Stats.TurnsTaken = 42
	again, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Participants[0].Stats.TurnsTaken)
}

func TestGormStoreSqlite(t *testing.T) {
	store, err := NewGormStore(GormConfig{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestGormStoreUnknownDriver(t *testing.T) {
	_, err := NewGormStore(GormConfig{Driver: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	store := NewRedisStore(client, zap.NewNop())
	defer store.Close()
	exerciseStore(t, store)
}
