package x402

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReplayGuard implements ReplayGuard with SET NX so replicas share one
// view of spent payment payloads.
type RedisReplayGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisReplayGuard creates a guard backed by the Redis server at addr.
func NewRedisReplayGuard(addr, password string, db int) *RedisReplayGuard {
	return &RedisReplayGuard{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: "x402:payment:",
	}
}

// Ping checks connectivity.
func (g *RedisReplayGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("x402: replay guard: %w", err)
	}
	return ok, nil
}

func (g *RedisReplayGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("x402: replay guard: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (g *RedisReplayGuard) Close() error {
	return g.client.Close()
}
