package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfredDev/alfred/services/payouts/internal/idempotency"
)

type fakeDurable struct {
	byKey map[string]uuid.UUID
	calls int
}

func (f *fakeDurable) GetPayoutIDByExternalID(ctx context.Context, externalID string) (uuid.UUID, bool, error) {
	f.calls++
	id, ok := f.byKey[externalID]
	return id, ok, nil
}

func TestLookup_MissFallsBackToDurable(t *testing.T) {
	payoutID := uuid.New()
	durable := &fakeDurable{byKey: map[string]uuid.UUID{"K1": payoutID}}
	cache := idempotency.NewCache(nil, durable, time.Hour, zerolog.Nop())

	id, found, err := cache.Lookup(context.Background(), "K1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payoutID, id)
	assert.Equal(t, 1, durable.calls)
}

func TestLookup_EmptyKeyBypassesIdempotency(t *testing.T) {
	durable := &fakeDurable{byKey: map[string]uuid.UUID{}}
	cache := idempotency.NewCache(nil, durable, time.Hour, zerolog.Nop())

	_, found, err := cache.Lookup(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, durable.calls)
}

func TestLookup_UnknownKeyMisses(t *testing.T) {
	durable := &fakeDurable{byKey: map[string]uuid.UUID{}}
	cache := idempotency.NewCache(nil, durable, time.Hour, zerolog.Nop())

	_, found, err := cache.Lookup(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, found)
}
