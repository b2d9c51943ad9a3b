// Package redisclient wraps the redis client construction the same way
// the teacher's gateway does: parse the configured URL, build a client,
// and expose a Ping for startup health checks.
package redisclient

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/AlfredDev/alfred/services/payouts/internal/config"
)

// New builds a redis.Client from cfg.RedisURL.
func New(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

// Ping verifies connectivity at startup.
func Ping(ctx context.Context, c *redis.Client) error {
	return c.Ping(ctx).Err()
}
