package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfredDev/alfred/services/payouts/internal/audit"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
)

type fakeSink struct {
	mu     sync.Mutex
	events []*store.AuditEvent
	alerts []*store.Alert
}

func (f *fakeSink) AppendAudit(ctx context.Context, e *store.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeSink) InsertAlert(ctx context.Context, a *store.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeSink) count() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events), len(f.alerts)
}

func TestLogger_FlushesOnBatchSize(t *testing.T) {
	sink := &fakeSink{}
	l := audit.New(sink, 2, time.Hour, zerolog.Nop())
	defer l.Close()

	require.NoError(t, l.AppendAudit(context.Background(), &store.AuditEvent{ID: uuid.New()}))
	require.NoError(t, l.AppendAudit(context.Background(), &store.AuditEvent{ID: uuid.New()}))

	require.Eventually(t, func() bool {
		events, _ := sink.count()
		return events == 2
	}, time.Second, 10*time.Millisecond)
}

func TestLogger_FlushesOnTickerAndClose(t *testing.T) {
	sink := &fakeSink{}
	l := audit.New(sink, 50, 20*time.Millisecond, zerolog.Nop())

	require.NoError(t, l.InsertAlert(context.Background(), &store.Alert{ID: uuid.New()}))
	l.Close()

	_, alerts := sink.count()
	assert.Equal(t, 1, alerts)
}
