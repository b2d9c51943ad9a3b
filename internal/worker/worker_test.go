package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfredDev/alfred/services/payouts/internal/connector"
	"github.com/AlfredDev/alfred/services/payouts/internal/idempotency"
	"github.com/AlfredDev/alfred/services/payouts/internal/ledger"
	"github.com/AlfredDev/alfred/services/payouts/internal/payout"
	"github.com/AlfredDev/alfred/services/payouts/internal/sla"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
	"github.com/AlfredDev/alfred/services/payouts/internal/store/memstore"
	"github.com/AlfredDev/alfred/services/payouts/internal/worker"
)

func setup(t *testing.T) (*worker.Worker, *payout.Service, store.Store, *connector.Registry) {
	t.Helper()
	db := memstore.New()
	lg := zerolog.Nop()
	ledgerMgr := ledger.NewManager(db, stubLedger{}, time.Hour, lg)
	resolver := sla.NewResolver(db, nil, lg)
	cache := idempotency.NewCache(nil, payout.NewDurableLookup(db), time.Hour, lg)
	svc := payout.New(db, ledgerMgr, resolver, cache, nil, payout.Config{
		BaseRetryDelay: time.Millisecond, MaxRetryDelay: time.Second, MaxRetries: 3,
	}, lg)

	reg := connector.NewRegistry()
	mock := connector.NewMockConnector("chase", "ach")
	reg.Register(mock)
	reg.SetDefault("chase", "ach")

	w := worker.New(db, svc, reg, worker.Config{
		BatchSize: 10, Concurrency: 4, ConnectorTimeout: time.Second,
	}, lg)
	return w, svc, db, reg
}

func createTestPayout(t *testing.T, svc *payout.Service) *store.Payout {
	t.Helper()
	p, err := svc.CreatePayout(context.Background(), payout.CreateRequest{
		ExternalID: "ext-" + time.Now().String(), IdempotencyKey: "idem-" + time.Now().String(),
		Beneficiary: store.Beneficiary{Type: "vendor", ID: "ben-1"},
		Amount:      decimal.NewFromInt(100), Currency: "USD", Method: "ach",
		Priority: store.PriorityStandard, ConnectorID: "chase", Rail: "ach",
		TenantType: "seller", TenantID: "tenant-1", Country: "US", DebitAccount: "tenant-1:wallet",
	})
	require.NoError(t, err)
	return p
}

type stubLedger struct{}

func (stubLedger) CreateHoldEntry(ctx context.Context, payoutID uuid.UUID, debit, credit, amount, currency string) (string, error) {
	return "entry", nil
}
func (stubLedger) ReleaseHold(ctx context.Context, ledgerEntryID string) error         { return nil }
func (stubLedger) ReverseHold(ctx context.Context, ledgerEntryID, reason string) error { return nil }

func TestProcessOne_SuccessTransitionsToSent(t *testing.T) {
	w, svc, db, _ := setup(t)
	p := createTestPayout(t, svc)

	err := w.ProcessOne(context.Background(), p)
	require.NoError(t, err)

	got, err := db.GetPayout(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSent, got.Status)
	assert.NotNil(t, got.BankReference)
}

func TestProcessOne_PermanentErrorGoesToDLQ(t *testing.T) {
	w, svc, db, reg := setup(t)
	p := createTestPayout(t, svc)

	mock := connector.NewMockConnector("chase", "ach")
	mock.Scripted[p.ID.String()] = connector.SubmitResult{Success: false, ErrorCode: "PERMANENT_INVALID_ACCOUNT", ErrorMessage: "bad account"}
	reg.Register(mock)

	err := w.ProcessOne(context.Background(), p)
	require.NoError(t, err)

	got, err := db.GetPayout(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDLQ, got.Status)
}

func TestProcessOne_TransientErrorSchedulesRetry(t *testing.T) {
	w, svc, db, reg := setup(t)
	p := createTestPayout(t, svc)

	mock := connector.NewMockConnector("chase", "ach")
	mock.Scripted[p.ID.String()] = connector.SubmitResult{Success: false, ErrorCode: "TRANSIENT_TIMEOUT", ErrorMessage: "timeout"}
	reg.Register(mock)

	err := w.ProcessOne(context.Background(), p)
	require.NoError(t, err)

	got, err := db.GetPayout(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.NotNil(t, got.NextRetryAt)
}
