/*
Package worker implements the Dispatch Worker: three cooperative loops
(main dispatch, retry dispatch, SLA monitor) draining leased payouts
through bank connectors with bounded concurrency, plus a startup sweep for
payouts stuck in processing past a staleness threshold.

Grounded on the teacher's provider health-polling / model-sync background
loop shape (ticker-driven, context-cancellable, graceful drain) and on
middleware's semaphore-style concurrency bound, generalized from HTTP
request concurrency to in-flight submit concurrency.
*/
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AlfredDev/alfred/services/payouts/internal/connector"
	"github.com/AlfredDev/alfred/services/payouts/internal/payout"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
)

// Config bundles the worker's tunables (spec §5/§9).
type Config struct {
	PollInterval        time.Duration
	RetryLoopInterval    time.Duration
	SLAMonitorInterval   time.Duration
	BatchSize            int
	Concurrency          int
	PriorityOrdering     bool
	ConnectorTimeout     time.Duration
	ShutdownDrainTimeout time.Duration
	ProcessingSweepAfter time.Duration
}

// Worker is the Dispatch Worker.
type Worker struct {
	db        store.Store
	svc       *payout.Service
	registry  *connector.Registry
	cfg       Config
	logger    zerolog.Logger
	sem       chan struct{}
	wg        sync.WaitGroup
}

func New(db store.Store, svc *payout.Service, registry *connector.Registry, cfg Config, logger zerolog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RetryLoopInterval <= 0 {
		cfg.RetryLoopInterval = 5 * time.Second
	}
	if cfg.SLAMonitorInterval <= 0 {
		cfg.SLAMonitorInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.ConnectorTimeout <= 0 {
		cfg.ConnectorTimeout = 10 * time.Second
	}
	if cfg.ShutdownDrainTimeout <= 0 {
		cfg.ShutdownDrainTimeout = 30 * time.Second
	}
	if cfg.ProcessingSweepAfter <= 0 {
		cfg.ProcessingSweepAfter = 5 * time.Minute
	}
	return &Worker{
		db:       db,
		svc:      svc,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With().Str("component", "dispatch-worker").Logger(),
		sem:      make(chan struct{}, cfg.Concurrency),
	}
}

// Run starts the three cooperative loops and blocks until ctx is
// cancelled, then drains in-flight work for up to ShutdownDrainTimeout.
func (w *Worker) Run(ctx context.Context) {
	w.sweepStaleProcessing(ctx)

	w.wg.Add(3)
	go w.loop(ctx, w.cfg.PollInterval, w.dispatchPending)
	go w.loop(ctx, w.cfg.RetryLoopInterval, w.dispatchRetries)
	go w.loop(ctx, w.cfg.SLAMonitorInterval, w.monitorSLA)

	<-ctx.Done()
	w.logger.Info().Msg("dispatch worker shutting down, draining in-flight submits")

	drained := make(chan struct{})
	go func() { w.wg.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-time.After(w.cfg.ShutdownDrainTimeout):
		w.logger.Warn().Msg("shutdown drain timeout exceeded, exiting with work in flight")
	}
}

func (w *Worker) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// sweepStaleProcessing runs once at startup: payouts left in `processing`
// past the threshold (e.g. a worker crash mid-submit) are forced back to
// `failed` so the retry loop picks them up again.
func (w *Worker) sweepStaleProcessing(ctx context.Context) {
	stale, err := w.db.FindStaleProcessing(ctx, w.cfg.ProcessingSweepAfter)
	if err != nil {
		w.logger.Error().Err(err).Msg("startup sweep: find stale processing failed")
		return
	}
	for _, p := range stale {
		if _, err := w.svc.ScheduleRetry(ctx, p.ID, "PROCESSING_ERROR", "recovered from stale processing state at startup"); err != nil {
			w.logger.Error().Err(err).Str("payout_id", p.ID.String()).Msg("startup sweep: reschedule failed")
		}
	}
	if len(stale) > 0 {
		w.logger.Warn().Int("count", len(stale)).Msg("startup sweep recovered stale processing payouts")
	}
}

// RunOnce leases and processes a single round of pending and retry-due
// payouts plus one SLA monitor pass, then returns — for cron-driven
// deployments that invoke the binary per-tick instead of running a
// long-lived worker process (spec §6 `run-once` CLI mode).
func (w *Worker) RunOnce(ctx context.Context) {
	w.sweepStaleProcessing(ctx)
	w.dispatchPending(ctx)
	w.dispatchRetries(ctx)
	w.monitorSLA(ctx)
}

func (w *Worker) dispatchPending(ctx context.Context) {
	leased, err := w.db.LeasePending(ctx, w.cfg.BatchSize, w.cfg.PriorityOrdering)
	if err != nil {
		w.logger.Error().Err(err).Msg("lease pending failed")
		return
	}
	w.processAll(ctx, leased)
}

func (w *Worker) dispatchRetries(ctx context.Context) {
	leased, err := w.db.LeaseRetries(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("lease retries failed")
		return
	}
	w.processAll(ctx, leased)
}

func (w *Worker) processAll(ctx context.Context, payouts []*store.Payout) {
	var inner sync.WaitGroup
	for _, p := range payouts {
		p := p
		w.sem <- struct{}{}
		inner.Add(1)
		go func() {
			defer inner.Done()
			defer func() { <-w.sem }()
			if err := w.ProcessOne(ctx, p); err != nil {
				w.logger.Error().Err(err).Str("payout_id", p.ID.String()).Msg("process one failed")
			}
		}()
	}
	inner.Wait()
}

// ProcessOne runs the 7-step submit algorithm from spec §4.6:
//  1. transition to processing
//  2. resolve the connector
//  3. build the submit request
//  4. call Submit with the connector timeout
//  5. classify the outcome
//  6. on success: transition to sent (settled immediately if instant)
//  7. on failure: classify transient/permanent/processing and either
//     schedule a retry or fail permanently
func (w *Worker) ProcessOne(ctx context.Context, p *store.Payout) error {
	p, err := w.svc.UpdateStatus(ctx, p.ID, store.StatusProcessing, "", "")
	if err != nil {
		return err
	}

	conn, ok := w.registry.Get(p.ConnectorID, p.Rail)
	if !ok {
		_, err := w.svc.ScheduleRetry(ctx, p.ID, "PROCESSING_ERROR", "no connector available for "+p.ConnectorID+"/"+p.Rail)
		return err
	}

	submitCtx, cancel := context.WithTimeout(ctx, w.cfg.ConnectorTimeout)
	defer cancel()

	req := connector.Request{
		PayoutID:      p.ID.String(),
		Amount:        p.Amount,
		Currency:      p.Currency,
		BeneficiaryID: p.Beneficiary.ID,
		AccountRef:    p.Beneficiary.AccountRef,
		Rail:          p.Rail,
		Metadata:      p.Metadata,
	}

	result, err := conn.Submit(submitCtx, req)
	if err != nil {
		_, rerr := w.svc.ScheduleRetry(ctx, p.ID, "TRANSIENT_NETWORK", err.Error())
		return rerr
	}

	if result.Success {
		bankRef := result.BankReference
		if _, err := w.svc.UpdateStatus(ctx, p.ID, store.StatusSent, "", bankRef); err != nil {
			return err
		}
		if result.InstantSettlement {
			_, err := w.svc.UpdateStatus(ctx, p.ID, store.StatusSettled, "", "")
			return err
		}
		return nil
	}

	switch connector.ClassifyCode(result.ErrorCode) {
	case connector.FamilyPermanent:
		_, err := w.svc.UpdateStatus(ctx, p.ID, store.StatusFailed, result.ErrorMessage, "")
		if err != nil {
			return err
		}
		_, err = w.svc.UpdateStatus(ctx, p.ID, store.StatusDLQ, "permanent error: "+result.ErrorMessage, "")
		return err
	default: // TRANSIENT or PROCESSING — both get retried with backoff
		_, err := w.svc.ScheduleRetry(ctx, p.ID, result.ErrorCode, result.ErrorMessage)
		return err
	}
}

// monitorSLA flags non-terminal payouts whose target settlement date has
// passed and are not yet flagged, raising a high-severity alert.
func (w *Worker) monitorSLA(ctx context.Context) {
	candidates, err := w.db.FindSLACandidates(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("sla monitor: find candidates failed")
		return
	}
	for _, p := range candidates {
		p.SLAViolated = true
		p.SLAViolationReason = "target settlement date passed without reaching a terminal state"
		if err := w.db.UpdatePayout(ctx, p); err != nil {
			w.logger.Error().Err(err).Str("payout_id", p.ID.String()).Msg("sla monitor: persist violation failed")
			continue
		}
		if err := w.db.InsertAlert(ctx, &store.Alert{
			ID: uuid.New(), PayoutID: &p.ID, Type: "sla_violation",
			Severity: store.SeverityHigh, Message: "payout " + p.ID.String() + " missed its target settlement date",
			CreatedAt: time.Now(),
		}); err != nil {
			w.logger.Error().Err(err).Msg("sla monitor: raise alert failed")
		}
	}
}
