// Command payoutengine is the payout engine's entry point: it wires
// config → logger → Postgres/Redis → the domain services → the dispatch
// worker and batch processor background loops → the HTTP API, and drains
// gracefully on SIGINT/SIGTERM.
//
// Usage:
//
//	payoutengine start      run the HTTP API, dispatch worker, and batch
//	                        processor together (default)
//	payoutengine run-once   lease and process one round of pending and
//	                        retry-due payouts, then exit — for cron-driven
//	                        deployments that don't run a long-lived worker
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/AlfredDev/alfred/services/payouts/internal/api"
	"github.com/AlfredDev/alfred/services/payouts/internal/audit"
	"github.com/AlfredDev/alfred/services/payouts/internal/batch"
	"github.com/AlfredDev/alfred/services/payouts/internal/collaborators"
	"github.com/AlfredDev/alfred/services/payouts/internal/config"
	"github.com/AlfredDev/alfred/services/payouts/internal/connector"
	"github.com/AlfredDev/alfred/services/payouts/internal/idempotency"
	"github.com/AlfredDev/alfred/services/payouts/internal/ledger"
	"github.com/AlfredDev/alfred/services/payouts/internal/logger"
	"github.com/AlfredDev/alfred/services/payouts/internal/payout"
	"github.com/AlfredDev/alfred/services/payouts/internal/redisclient"
	"github.com/AlfredDev/alfred/services/payouts/internal/sla"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
	"github.com/AlfredDev/alfred/services/payouts/internal/store/pgstore"
	"github.com/AlfredDev/alfred/services/payouts/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("payout engine starting")

	mode := "start"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	ctx := context.Background()
	pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	var db store.Store = audit.Wrap(pg, 50, 2*time.Second, log)

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — idempotency cache will fall back to durable-only lookups")
		rc = nil
	} else if err := redisclient.Ping(ctx, rc); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — idempotency cache will fall back to durable-only lookups")
		rc = nil
	}

	registry := connector.NewRegistry()
	registerConnectors(cfg, registry, log)

	holidays := collaborators.StubHolidayCalendar{}
	resolver := sla.NewResolver(db, holidays, log)

	ledgerClient := collaborators.NewStubLedger()
	holdMgr := ledger.NewManager(db, ledgerClient, cfg.HoldExpiryTTL, log)

	cache := idempotency.NewCache(rc, payout.NewDurableLookup(db), cfg.IdempotencyKeyTTL, log)

	highValueThreshold, err := decimal.NewFromString(cfg.HighValueThreshold)
	if err != nil {
		log.Warn().Err(err).Msg("invalid HIGH_VALUE_THRESHOLD, high-value alerting disabled")
		highValueThreshold = decimal.Zero
	}

	advisor := collaborators.AsPayoutAdvisor(collaborators.NoOpAdvisor{})
	svc := payout.New(db, holdMgr, resolver, cache, advisor, payout.Config{
		HighValueThreshold: highValueThreshold,
		BaseRetryDelay:     cfg.BaseRetryDelay,
		MaxRetryDelay:      cfg.MaxRetryDelay,
		MaxRetries:         cfg.MaxRetries,
	}, log)

	w := worker.New(db, svc, registry, worker.Config{
		PollInterval:         cfg.PollInterval,
		RetryLoopInterval:    cfg.RetryLoopInterval,
		SLAMonitorInterval:   cfg.SLAMonitorInterval,
		BatchSize:            cfg.BatchSize,
		Concurrency:          cfg.Concurrency,
		PriorityOrdering:     cfg.EnablePriorityOrdering,
		ConnectorTimeout:     cfg.ConnectorTimeout,
		ShutdownDrainTimeout: cfg.ShutdownDrainTimeout,
		ProcessingSweepAfter: cfg.ProcessingSweepAfter,
	}, log)

	batchProc := batch.New(db, w, log)

	if mode == "run-once" {
		w.RunOnce(ctx)
		batchProc.Tick(ctx)
		log.Info().Msg("run-once pass complete")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		w.Run(runCtx)
		close(workerDone)
	}()

	cronSched, err := batchProc.ScheduleRecurring(runCtx, "*/1 * * * *")
	if err != nil {
		log.Warn().Err(err).Msg("batch processor cron schedule failed, recurring batches disabled")
	}

	router := api.NewRouter(db, svc, registry, log)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("payout engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")
	cancel()
	if cronSched != nil {
		cronSched.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful http shutdown failed")
	}
	<-workerDone
	db.Close()
	log.Info().Msg("payout engine stopped gracefully")
}

// registerConnectors wires the bank connector registry. Production
// deployments register one HTTPConnector per contracted bank/rail here;
// local and demo wiring uses a mock that always succeeds.
func registerConnectors(cfg *config.Config, registry *connector.Registry, log zerolog.Logger) {
	mock := connector.NewMockConnector("default", "ach")
	registry.Register(mock)
	registry.SetDefault("default", "ach")
}
