package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oggyb/matchroom/internal/config"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	Client        *redis.Client
	teardownQueue string
}

// TeardownIntent is a best-effort "remove me from this room" note left by a
// client that is going away.
type TeardownIntent struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	At     int64  `json:"at"`
}

// NewRedisCache initializes Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	queue := cfg.Redis.TeardownQueue
	if queue == "" {
		queue = "matchroom:teardown"
	}
	return &RedisCache{Client: redis.NewClient(opts), teardownQueue: queue}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.Client.Close()
}

// EnqueueTeardown pushes an intent onto the teardown list. Fire-and-forget:
// callers do not wait for anyone to act on it.
func (c *RedisCache) EnqueueTeardown(ctx context.Context, roomID, userID string) error {
	data, err := json.Marshal(TeardownIntent{RoomID: roomID, UserID: userID, At: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to marshal teardown intent: %w", err)
	}
	if err := c.Client.RPush(ctx, c.teardownQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", c.teardownQueue, err)
	}
	return nil
}

// DequeueTeardown pops the oldest intent. Returns nil, nil when empty.
func (c *RedisCache) DequeueTeardown(ctx context.Context) (*TeardownIntent, error) {
	val, err := c.Client.LPop(ctx, c.teardownQueue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil // queue drained
	} else if err != nil {
		return nil, err
	}

	var intent TeardownIntent
	if err := json.Unmarshal([]byte(val), &intent); err != nil {
		return nil, fmt.Errorf("malformed teardown intent: %w", err)
	}
	return &intent, nil
}

// PendingTeardowns reports the queue length.
func (c *RedisCache) PendingTeardowns(ctx context.Context) (int64, error) {
	return c.Client.LLen(ctx, c.teardownQueue).Result()
}
