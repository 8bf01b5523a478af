package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

const redisConvPrefix = "parley:conv:"

// RedisStore persists conversations as JSON values under one key each.
type RedisStore struct {
	client redis.UniversalClient
	logger *zap.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) Save(ctx context.Context, conv *types.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", conv.ID, err)
	}
	return s.client.Set(ctx, redisConvPrefix+conv.ID, data, 0).Err()
}

func (s *RedisStore) Load(ctx context.Context, conversationID string) (*types.Conversation, error) {
	data, err := s.client.Get(ctx, redisConvPrefix+conversationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	var conv types.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation %s: %w", conversationID, err)
	}
	return &conv, nil
}

func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	return s.client.Del(ctx, redisConvPrefix+conversationID).Err()
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, redisConvPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(redisConvPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
