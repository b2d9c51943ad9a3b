/*
Package audit implements the Audit & Alert Log: an append-only, buffered
writer for audit events and alerts, batching writes and flushing them on a
size threshold or a ticker, so callers on the hot path (payout creation,
dispatch submission) never block on a synchronous audit-table insert.

Grounded directly on the teacher's metering.AsyncLogger, which buffers log
entries on a channel and flushes them to its sink in batches on a size
threshold or ticker. The channel/goroutine/flush shape is kept as-is;
the entry type and sink are swapped from token-usage log lines to audit
events and alerts.
*/
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/alfred/services/payouts/internal/store"
)

// Sink is the subset of store.Store the logger flushes batches to.
// store.Store satisfies it trivially; tests can supply a narrower fake.
type Sink interface {
	AppendAudit(ctx context.Context, e *store.AuditEvent) error
	InsertAlert(ctx context.Context, a *store.Alert) error
}

// entry is either an audit event or an alert, queued on the same channel
// so a single flush loop serves both append-only streams.
type entry struct {
	event *store.AuditEvent
	alert *store.Alert
}

// Logger is the buffered Audit & Alert Log writer.
type Logger struct {
	sink        Sink
	logger      zerolog.Logger
	queue       chan entry
	batchSize   int
	flushPeriod time.Duration

	wg   sync.WaitGroup
	done chan struct{}
}

// New builds a Logger. batchSize caps how many entries accumulate before
// an eager flush; flushPeriod bounds the worst-case visibility delay for
// a partially-filled batch.
func New(db Sink, batchSize int, flushPeriod time.Duration, logger zerolog.Logger) *Logger {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushPeriod <= 0 {
		flushPeriod = 2 * time.Second
	}
	l := &Logger{
		sink:        db,
		logger:      logger.With().Str("component", "audit-log").Logger(),
		queue:       make(chan entry, batchSize*4),
		batchSize:   batchSize,
		flushPeriod: flushPeriod,
		done:        make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// AppendAudit enqueues an audit event for asynchronous, batched persistence.
func (l *Logger) AppendAudit(ctx context.Context, e *store.AuditEvent) error {
	select {
	case l.queue <- entry{event: e}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InsertAlert enqueues an alert for asynchronous, batched persistence.
func (l *Logger) InsertAlert(ctx context.Context, a *store.Alert) error {
	select {
	case l.queue <- entry{alert: a}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.flushPeriod)
	defer ticker.Stop()

	batch := make([]entry, 0, l.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-l.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= l.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.done:
			// drain whatever is already queued before exiting
			for {
				select {
				case e := <-l.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *Logger) flush(batch []entry) {
	ctx := context.Background()
	for _, e := range batch {
		var err error
		switch {
		case e.event != nil:
			err = l.sink.AppendAudit(ctx, e.event)
		case e.alert != nil:
			err = l.sink.InsertAlert(ctx, e.alert)
		}
		if err != nil {
			l.logger.Error().Err(err).Msg("audit log: flush entry failed")
		}
	}
}

// Close flushes anything queued and waits for the flush goroutine to exit.
// AppendAudit and InsertAlert still enqueue after Close, but nothing
// flushes those entries.
func (l *Logger) Close() {
	close(l.done)
	l.wg.Wait()
}

// decoratedStore wraps a store.Store, routing AppendAudit/InsertAlert
// through a buffered Logger while leaving every other method untouched.
// This lets cmd wiring pass one store.Store value through to the Payout
// Service, Dispatch Worker, and Batch Processor, all of which get the
// batched audit/alert path for free.
type decoratedStore struct {
	store.Store
	logger *Logger
}

// Wrap decorates db so its audit and alert writes are buffered and
// batch-flushed by a Logger. Only the decorated store is returned; calling
// Close() on it closes the logger and then the underlying store during
// shutdown.
func Wrap(db store.Store, batchSize int, flushPeriod time.Duration, zl zerolog.Logger) store.Store {
	l := New(db, batchSize, flushPeriod, zl)
	return decoratedStore{Store: db, logger: l}
}

func (d decoratedStore) AppendAudit(ctx context.Context, e *store.AuditEvent) error {
	return d.logger.AppendAudit(ctx, e)
}

func (d decoratedStore) InsertAlert(ctx context.Context, a *store.Alert) error {
	return d.logger.InsertAlert(ctx, a)
}

func (d decoratedStore) Close() {
	d.logger.Close()
	d.Store.Close()
}
