package batch_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfredDev/alfred/services/payouts/internal/batch"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
	"github.com/AlfredDev/alfred/services/payouts/internal/store/memstore"
)

type fakeWorker struct {
	fail map[uuid.UUID]bool
}

func (f *fakeWorker) ProcessOne(ctx context.Context, p *store.Payout) error {
	if f.fail[p.ID] {
		return assertError("submit failed")
	}
	return nil
}

type assertError string

func (e assertError) Error() string { return string(e) }

func seedPayout(t *testing.T, db store.Store) *store.Payout {
	t.Helper()
	p := &store.Payout{
		ID: uuid.New(), Amount: decimal.NewFromInt(50), Currency: "USD",
		Status: store.StatusOnHold, CreatedAt: time.Now(), TenantID: "tenant-1",
		Beneficiary: store.Beneficiary{ID: "ben-1"},
	}
	require.NoError(t, db.InsertPayout(context.Background(), p))
	return p
}

func TestLock_RejectsNonCollecting(t *testing.T) {
	db := memstore.New()
	proc := batch.New(db, &fakeWorker{}, zerolog.Nop())
	b := &store.Batch{ID: uuid.New(), Status: store.BatchLocked, CreatedAt: time.Now()}
	require.NoError(t, db.InsertBatch(context.Background(), b))

	err := proc.Lock(context.Background(), b)
	assert.Error(t, err)
}

func TestProcess_AllSucceedMarksCompleted(t *testing.T) {
	db := memstore.New()
	worker := &fakeWorker{fail: map[uuid.UUID]bool{}}
	proc := batch.New(db, worker, zerolog.Nop())

	b := &store.Batch{ID: uuid.New(), Status: store.BatchCollecting, CreatedAt: time.Now()}
	require.NoError(t, db.InsertBatch(context.Background(), b))
	require.NoError(t, proc.Lock(context.Background(), b))

	p1, p2 := seedPayout(t, db), seedPayout(t, db)
	require.NoError(t, db.InsertBatchItem(context.Background(), &store.BatchItem{ID: uuid.New(), BatchID: b.ID, PayoutID: p1.ID, Sequence: 1, Status: store.BatchItemPending}))
	require.NoError(t, db.InsertBatchItem(context.Background(), &store.BatchItem{ID: uuid.New(), BatchID: b.ID, PayoutID: p2.ID, Sequence: 2, Status: store.BatchItemPending}))

	require.NoError(t, proc.Process(context.Background(), b))
	assert.Equal(t, store.BatchCompleted, b.Status)
	assert.Equal(t, 2, b.SucceededCount)
	assert.Equal(t, 0, b.FailedCount)
}

func TestProcess_AllFailMarksFailed(t *testing.T) {
	db := memstore.New()
	p1 := seedPayout(t, db)
	worker := &fakeWorker{fail: map[uuid.UUID]bool{p1.ID: true}}
	proc := batch.New(db, worker, zerolog.Nop())

	b := &store.Batch{ID: uuid.New(), Status: store.BatchCollecting, CreatedAt: time.Now()}
	require.NoError(t, db.InsertBatch(context.Background(), b))
	require.NoError(t, proc.Lock(context.Background(), b))
	require.NoError(t, db.InsertBatchItem(context.Background(), &store.BatchItem{ID: uuid.New(), BatchID: b.ID, PayoutID: p1.ID, Sequence: 1, Status: store.BatchItemPending}))

	require.NoError(t, proc.Process(context.Background(), b))
	assert.Equal(t, store.BatchFailed, b.Status)
	assert.Equal(t, 1, b.FailedCount)
}

func TestProcess_RecurringBatchSchedulesNextOccurrence(t *testing.T) {
	db := memstore.New()
	proc := batch.New(db, &fakeWorker{}, zerolog.Nop())

	b := &store.Batch{
		ID: uuid.New(), Name: "daily-ach", Status: store.BatchCollecting,
		CronExpr: "0 0 * * *", ConnectorID: "chase", Rail: "ach", CreatedAt: time.Now(),
	}
	require.NoError(t, db.InsertBatch(context.Background(), b))
	require.NoError(t, proc.Lock(context.Background(), b))

	require.NoError(t, proc.Process(context.Background(), b))
	assert.Equal(t, store.BatchCompleted, b.Status)
	assert.Empty(t, b.CronExpr, "cron_expr marker must move to the newly spawned occurrence")

	recurring, err := db.ListRecurringBatches(context.Background())
	require.NoError(t, err)
	require.Len(t, recurring, 1)
	assert.NotEqual(t, b.ID, recurring[0].ID)
	assert.Equal(t, "daily-ach", recurring[0].Name)
	assert.Equal(t, store.BatchCollecting, recurring[0].Status)
	assert.True(t, recurring[0].ScheduledAt.After(time.Now()))
}
