package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

// RedisConfig configures the Redis-backed channel.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`

	// KeyPrefix namespaces all channel keys. Defaults to "parley:".
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// MaxLen bounds retention per channel key (LTRIM on append).
	// <= 0 means 1024.
	MaxLen int `yaml:"max_len" json:"max_len"`

	// PollInterval is the re-read interval for blocking tails.
	// <= 0 means 50ms.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// RedisChannel is a Redis-backed Channel implementation. Each channel key
// maps to a Redis list of JSON-encoded sequenced envelopes plus a counter
// key for sequence allocation. Suitable for distributed deployments where
// the orchestrator and responder adapters run in separate processes.
type RedisChannel struct {
	client *redis.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisChannel creates a Redis-backed channel and verifies connectivity.
func NewRedisChannel(cfg RedisConfig, logger *zap.Logger) (*RedisChannel, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "parley:"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 1024
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisChannel{client: client, cfg: cfg, logger: logger}, nil
}

func (c *RedisChannel) listKey(key string) string {
	return c.cfg.KeyPrefix + "chan:" + key
}

func (c *RedisChannel) seqKey(key string) string {
	return c.cfg.KeyPrefix + "seq:" + key
}

// Append implements Channel.Append.
func (c *RedisChannel) Append(ctx context.Context, key string, env types.Envelope) (int64, error) {
	seq, err := c.client.Incr(ctx, c.seqKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate sequence for %s: %w", key, err)
	}

	data, err := json.Marshal(SequencedEnvelope{Seq: seq, Envelope: env})
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.RPush(ctx, c.listKey(key), data)
	pipe.LTrim(ctx, c.listKey(key), int64(-c.cfg.MaxLen), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("append to %s: %w", key, err)
	}

	return seq, nil
}

// TailBlocking implements Channel.TailBlocking with a bounded poll loop.
func (c *RedisChannel) TailBlocking(ctx context.Context, key string, sinceSeq int64, timeout time.Duration) ([]SequencedEnvelope, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		out, err := c.readAfter(ctx, key, sinceSeq, 0)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 {
			return out, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RangeRead implements Channel.RangeRead.
func (c *RedisChannel) RangeRead(ctx context.Context, key string, fromSeq int64, count int) ([]SequencedEnvelope, error) {
	return c.readAfter(ctx, key, fromSeq-1, count)
}

// readAfter loads the retained list and filters by sequence id. Lists are
// bounded by MaxLen so the full read stays cheap.
func (c *RedisChannel) readAfter(ctx context.Context, key string, sinceSeq int64, count int) ([]SequencedEnvelope, error) {
	raw, err := c.client.LRange(ctx, c.listKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("range read %s: %w", key, err)
	}

	out := make([]SequencedEnvelope, 0, len(raw))
	for _, item := range raw {
		var se SequencedEnvelope
		if err := json.Unmarshal([]byte(item), &se); err != nil {
			c.logger.Warn("dropping undecodable channel entry",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		if se.Seq > sinceSeq {
			out = append(out, se)
			if count > 0 && len(out) >= count {
				break
			}
		}
	}
	return out, nil
}

// Ping implements Channel.Ping.
func (c *RedisChannel) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close implements Channel.Close.
func (c *RedisChannel) Close() error {
	return c.client.Close()
}

var _ Channel = (*RedisChannel)(nil)
