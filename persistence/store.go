// Package persistence stores conversations as whole values. The contract
// is get/put: the orchestrator loads a conversation, mutates it, and saves
// it back; no backend exposes partial updates.
package persistence

import (
	"context"

	"github.com/BaSui01/parley/types"
)

// Store is the conversation persistence contract.
type Store interface {
	// Save upserts the whole conversation.
	Save(ctx context.Context, conv *types.Conversation) error

	// Load returns the conversation or a CONVERSATION_NOT_FOUND error.
	Load(ctx context.Context, conversationID string) (*types.Conversation, error)

	// Delete removes the conversation. Deleting a missing id is not an error.
	Delete(ctx context.Context, conversationID string) error

	// List returns the ids of all stored conversations.
	List(ctx context.Context) ([]string, error)

	// Ping reports backend health.
	Ping(ctx context.Context) error

	Close() error
}

func notFound(conversationID string) error {
	return types.NewError(types.ErrConversationNotFound, "conversation "+conversationID+" not found")
}
