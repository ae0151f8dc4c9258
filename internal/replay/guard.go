// Package replay remembers which webhook events were already applied so
// redeliveries can be acknowledged without touching the database.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard is a best-effort memory of processed event IDs. Correctness never
// depends on it; store writes are idempotent on their own.
type Guard interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// NopGuard never reports an event as seen.
type NopGuard struct{}

func (NopGuard) Seen(context.Context, string) (bool, error) { return false, nil }
func (NopGuard) Mark(context.Context, string) error         { return nil }

const keyPrefix = "dropaccess:webhook:event:"

type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (g *RedisGuard) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := g.client.Exists(ctx, keyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("check event %s: %w", eventID, err)
	}
	return n > 0, nil
}

func (g *RedisGuard) Mark(ctx context.Context, eventID string) error {
	if err := g.client.SetNX(ctx, keyPrefix+eventID, time.Now().Unix(), g.ttl).Err(); err != nil {
		return fmt.Errorf("mark event %s: %w", eventID, err)
	}
	return nil
}
