//go:build integration

package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Requires a reachable MongoDB, e.g.
//
//	MONGO_URI=mongodb://localhost:27017 go test -tags integration ./persistence/
func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewMongoStore(ctx, MongoConfig{
		URI:        uri,
		Database:   "parley_test",
		Collection: "conversations_test",
	}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	// start clean
	for _, id := range []string{"conv-1", "conv-2"} {
		require.NoError(t, store.Delete(ctx, id))
	}

	exerciseStore(t, store)
}
