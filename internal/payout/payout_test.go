package payout_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfredDev/alfred/services/payouts/internal/idempotency"
	"github.com/AlfredDev/alfred/services/payouts/internal/ledger"
	"github.com/AlfredDev/alfred/services/payouts/internal/payout"
	"github.com/AlfredDev/alfred/services/payouts/internal/sla"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
	"github.com/AlfredDev/alfred/services/payouts/internal/store/memstore"
)

type stubLedger struct{}

func (stubLedger) CreateHoldEntry(ctx context.Context, payoutID uuid.UUID, debit, credit, amount, currency string) (string, error) {
	return "entry-" + payoutID.String(), nil
}

func (stubLedger) ReleaseHold(ctx context.Context, ledgerEntryID string) error { return nil }

func (stubLedger) ReverseHold(ctx context.Context, ledgerEntryID, reason string) error { return nil }

func newService(t *testing.T) (*payout.Service, store.Store) {
	t.Helper()
	db := memstore.New()
	lg := zerolog.Nop()
	ledgerMgr := ledger.NewManager(db, stubLedger{}, time.Hour, lg)
	resolver := sla.NewResolver(db, nil, lg)
	cache := idempotency.NewCache(nil, payout.NewDurableLookup(db), time.Hour, lg)
	svc := payout.New(db, ledgerMgr, resolver, cache, nil, payout.Config{
		HighValueThreshold: decimal.NewFromInt(10000),
		BaseRetryDelay:     time.Second,
		MaxRetryDelay:      time.Minute,
		MaxRetries:         2,
	}, lg)
	return svc, db
}

func baseRequest() payout.CreateRequest {
	return payout.CreateRequest{
		ExternalID:     "ext-1",
		IdempotencyKey: "idem-1",
		Beneficiary:    store.Beneficiary{Type: "vendor", ID: "ben-1"},
		Amount:         decimal.NewFromInt(100),
		Currency:       "USD",
		Method:         "ach",
		Priority:       store.PriorityStandard,
		ConnectorID:    "chase",
		Rail:           "ach",
		TenantType:     "seller",
		TenantID:       "tenant-1",
		Country:        "US",
		DebitAccount:   "tenant-1:wallet",
	}
}

func TestCreatePayout_OpensHoldAndAudits(t *testing.T) {
	svc, db := newService(t)
	p, err := svc.CreatePayout(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, p.Status)
	assert.NotNil(t, p.HoldID)

	events, err := db.ListAudit(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "created", events[0].EventType)
}

// TestCreatePayout_LeasableByDispatchWorker proves a freshly created
// payout is actually reachable by the dispatch loop: LeasePending only
// returns {pending, scheduled} rows with an active hold, so a payout
// stuck on_hold after creation would never surface here.
func TestCreatePayout_LeasableByDispatchWorker(t *testing.T) {
	svc, db := newService(t)
	p, err := svc.CreatePayout(context.Background(), baseRequest())
	require.NoError(t, err)

	leased, err := db.LeasePending(context.Background(), 10, false)
	require.NoError(t, err)

	var found bool
	for _, lp := range leased {
		if lp.ID == p.ID {
			found = true
		}
	}
	assert.True(t, found, "newly created payout must be leasable by the dispatch worker")
}

func TestCreatePayout_IdempotentReplay(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	first, err := svc.CreatePayout(ctx, baseRequest())
	require.NoError(t, err)

	second, err := svc.CreatePayout(ctx, baseRequest())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreatePayout_HighValueRaisesAlert(t *testing.T) {
	svc, db := newService(t)
	req := baseRequest()
	req.IdempotencyKey = "idem-hv"
	req.ExternalID = "ext-hv"
	req.Amount = decimal.NewFromInt(50000)

	p, err := svc.CreatePayout(context.Background(), req)
	require.NoError(t, err)

	alerts, err := db.ListAlerts(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "high_value_payout", alerts[0].Type)
	assert.Equal(t, p.ID, *alerts[0].PayoutID)
}

func TestUpdateStatus_RejectsInvalidTransition(t *testing.T) {
	svc, _ := newService(t)
	p, err := svc.CreatePayout(context.Background(), baseRequest())
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), p.ID, store.StatusSettled, "", "")
	assert.Error(t, err)
}

func TestUpdateStatus_SettledReleasesHold(t *testing.T) {
	svc, db := newService(t)
	p, err := svc.CreatePayout(context.Background(), baseRequest())
	require.NoError(t, err)

	p, err = svc.UpdateStatus(context.Background(), p.ID, store.StatusProcessing, "", "")
	require.NoError(t, err)
	p, err = svc.UpdateStatus(context.Background(), p.ID, store.StatusSent, "", "bank-ref-1")
	require.NoError(t, err)
	p, err = svc.UpdateStatus(context.Background(), p.ID, store.StatusSettled, "", "")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSettled, p.Status)

	hold, err := db.GetActiveHoldForPayout(context.Background(), p.ID)
	assert.Nil(t, hold)
	assert.Error(t, err)
}

func TestScheduleRetry_ExhaustsToDLQ(t *testing.T) {
	svc, _ := newService(t)
	p, err := svc.CreatePayout(context.Background(), baseRequest())
	require.NoError(t, err)
	_, err = svc.UpdateStatus(context.Background(), p.ID, store.StatusProcessing, "", "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		p, err = svc.ScheduleRetry(context.Background(), p.ID, "TRANSIENT_TIMEOUT", "timeout")
		require.NoError(t, err)
		assert.Equal(t, store.StatusFailed, p.Status)
		_, err = svc.UpdateStatus(context.Background(), p.ID, store.StatusProcessing, "", "")
		require.NoError(t, err)
	}

	p, err = svc.ScheduleRetry(context.Background(), p.ID, "TRANSIENT_TIMEOUT", "timeout")
	require.NoError(t, err)
	assert.Equal(t, store.StatusDLQ, p.Status)
}

func TestCancel_RejectsAfterProcessing(t *testing.T) {
	svc, _ := newService(t)
	p, err := svc.CreatePayout(context.Background(), baseRequest())
	require.NoError(t, err)
	_, err = svc.UpdateStatus(context.Background(), p.ID, store.StatusProcessing, "", "")
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), p.ID, "customer requested")
	assert.Error(t, err)
}
