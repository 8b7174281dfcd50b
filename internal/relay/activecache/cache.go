package activecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache maps a chat user to their open case id in Redis. It is an
// optimization only: entries expire on a TTL and every miss falls back to the
// backend, so a stale or lost entry never breaks correctness.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Cache from a Redis URL and verifies connectivity.
func New(redisURL string, ttl time.Duration) (*Cache, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

func key(telegramUserID int64) string {
	return fmt.Sprintf("active_case:%d", telegramUserID)
}

// Get returns the cached case id for a user. The second result is false on a
// cache miss.
func (c *Cache) Get(ctx context.Context, telegramUserID int64) (string, bool, error) {
	val, err := c.client.Get(ctx, key(telegramUserID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

// Set records the user's open case id.
func (c *Cache) Set(ctx context.Context, telegramUserID int64, caseID string) error {
	return c.client.Set(ctx, key(telegramUserID), caseID, c.ttl).Err()
}

// Remove drops the user's entry, e.g. after their case is closed.
func (c *Cache) Remove(ctx context.Context, telegramUserID int64) error {
	return c.client.Del(ctx, key(telegramUserID)).Err()
}

// Close closes the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
