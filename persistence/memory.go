package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/parley/types"
)

// MemoryStore keeps conversations in process memory. Used in tests and
// single-node deployments without durability requirements.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*types.Conversation
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*types.Conversation)}
}

// Save stores a deep copy so later caller mutations never leak in.
func (s *MemoryStore) Save(_ context.Context, conv *types.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.ID] = conv.Clone()
	return nil
}

// Load returns a deep copy so caller mutations never leak back.
func (s *MemoryStore) Load(_ context.Context, conversationID string) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return nil, notFound(conversationID)
	}
	return conv.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, conversationID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
