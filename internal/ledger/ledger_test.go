package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfredDev/alfred/services/payouts/internal/ledger"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
	"github.com/AlfredDev/alfred/services/payouts/internal/store/memstore"
)

type fakeLedger struct {
	entries   map[string]bool
	declineAll bool
}

func newFakeLedger() *fakeLedger { return &fakeLedger{entries: make(map[string]bool)} }

func (f *fakeLedger) CreateHoldEntry(ctx context.Context, payoutID uuid.UUID, debit, credit, amount, currency string) (string, error) {
	if f.declineAll {
		return "", assertErr{"insufficient balance"}
	}
	id := "entry-" + payoutID.String()
	f.entries[id] = true
	return id, nil
}

func (f *fakeLedger) ReleaseHold(ctx context.Context, id string) error {
	f.entries[id] = false
	return nil
}

func (f *fakeLedger) ReverseHold(ctx context.Context, id, reason string) error {
	f.entries[id] = false
	return nil
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestOpenHold_ReleaseIdempotent(t *testing.T) {
	db := memstore.New()
	fl := newFakeLedger()
	mgr := ledger.NewManager(db, fl, 7*24*time.Hour, zerolog.Nop())

	p := &store.Payout{
		ID:        uuid.New(),
		TotalCost: decimal.NewFromFloat(1001.25),
		Currency:  "USD",
		Status:    store.StatusPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.InsertPayout(context.Background(), p))

	hold, err := mgr.OpenHold(context.Background(), p, "tenant:T1:available_balance")
	require.NoError(t, err)
	assert.Equal(t, store.HoldActive, hold.Status)
	assert.True(t, hold.Amount.Equal(p.TotalCost))

	require.NoError(t, mgr.Release(context.Background(), p.ID))
	require.NoError(t, mgr.Release(context.Background(), p.ID)) // idempotent no-op

	got, err := db.GetActiveHoldForPayout(context.Background(), p.ID)
	assert.Error(t, err) // no longer active
	assert.Nil(t, got)
}

func TestReverse_Idempotent(t *testing.T) {
	db := memstore.New()
	fl := newFakeLedger()
	mgr := ledger.NewManager(db, fl, 7*24*time.Hour, zerolog.Nop())

	p := &store.Payout{ID: uuid.New(), TotalCost: decimal.NewFromFloat(5.00), Currency: "USD", CreatedAt: time.Now()}
	require.NoError(t, db.InsertPayout(context.Background(), p))

	_, err := mgr.OpenHold(context.Background(), p, "tenant:T1:available_balance")
	require.NoError(t, err)

	require.NoError(t, mgr.Reverse(context.Background(), p.ID, "permanent_failure"))
	require.NoError(t, mgr.Reverse(context.Background(), p.ID, "permanent_failure"))
}

func TestOpenHold_LedgerDeclines(t *testing.T) {
	db := memstore.New()
	fl := newFakeLedger()
	fl.declineAll = true
	mgr := ledger.NewManager(db, fl, 7*24*time.Hour, zerolog.Nop())

	p := &store.Payout{ID: uuid.New(), TotalCost: decimal.NewFromFloat(5.00), Currency: "USD", CreatedAt: time.Now()}
	require.NoError(t, db.InsertPayout(context.Background(), p))

	_, err := mgr.OpenHold(context.Background(), p, "tenant:T1:available_balance")
	assert.Error(t, err)
}
