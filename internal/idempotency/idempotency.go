/*
Package idempotency implements the Idempotency Cache: a fast,
process-external lookup from a caller-supplied key to a payout id, backed
by a durable unique-index double-check.

Grounded on the teacher's caching.Engine, which keeps an exactIndex map
for hash-exact lookups ahead of its semantic similarity search. The
similarity/embedding machinery has no analogue here — idempotency keys are
opaque strings, not prompts — so only the exact-match + TTL + eviction
mechanics are kept, generalized from an in-process map to a Redis-backed
store so the cache survives process restarts and is shared across worker
replicas.
*/
package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/AlfredDev/alfred/services/payouts/internal/apperr"
)

// DurableLookup is the durable unique-index double-check the cache
// consults on a miss, and repopulates the cache from on a hit.
type DurableLookup interface {
	GetPayoutIDByExternalID(ctx context.Context, externalID string) (uuid.UUID, bool, error)
}

// Cache is the Idempotency Cache. It is best-effort: correctness is
// maintained by the durable external_id unique index, not by this cache.
type Cache struct {
	redis   *redis.Client
	durable DurableLookup
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewCache builds a Cache. A nil redis client degrades to durable-only
// lookups (still correct, just slower on the fast path).
func NewCache(client *redis.Client, durable DurableLookup, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{
		redis:   client,
		durable: durable,
		ttl:     ttl,
		logger:  logger.With().Str("component", "idempotency-cache").Logger(),
	}
}

func cacheKey(key string) string { return "idempotency:" + key }

// Lookup returns the payout id for key if known. It checks the fast path
// first, then falls back to the durable unique index, repopulating the
// fast path on a durable hit.
func (c *Cache) Lookup(ctx context.Context, key string) (uuid.UUID, bool, error) {
	if key == "" {
		return uuid.UUID{}, false, nil
	}

	if c.redis != nil {
		val, err := c.redis.Get(ctx, cacheKey(key)).Result()
		if err == nil {
			id, parseErr := uuid.Parse(val)
			if parseErr == nil {
				return id, true, nil
			}
		} else if err != redis.Nil {
			c.logger.Warn().Err(err).Msg("idempotency cache read failed, falling back to durable store")
		}
	}

	id, found, err := c.durable.GetPayoutIDByExternalID(ctx, key)
	if err != nil {
		return uuid.UUID{}, false, err
	}
	if found {
		c.Remember(ctx, key, id)
	}
	return id, found, nil
}

// Remember stores key → payoutId with the configured TTL.
func (c *Cache) Remember(ctx context.Context, key string, payoutID uuid.UUID) {
	if key == "" || c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, cacheKey(key), payoutID.String(), c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to populate idempotency cache")
	}
}

// ErrKeyCollision describes a key reused with a different payload. No code
// path returns it: CreatePayout always answers a replayed key with the
// original payout.
var ErrKeyCollision = apperr.New(apperr.KindDuplicateKeyCollision, "idempotency key already used with a different payload")
