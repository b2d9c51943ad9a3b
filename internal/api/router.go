package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/AlfredDev/alfred/services/payouts/internal/connector"
	"github.com/AlfredDev/alfred/services/payouts/internal/payout"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
)

// NewRouter builds the External Interface Adapter: a chi router with the
// same ordered middleware chain the teacher's gateway uses (request id,
// panic recovery, structured request logging), mounting the Payout API,
// alert management, and connector health endpoints under /v1.
func NewRouter(db store.Store, svc *payout.Service, registry *connector.Registry, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "payout-engine"})
	})

	payoutHandler := NewPayoutHandler(svc, logger)
	statsHandler := NewStatsHandler(db, logger)
	alertHandler := NewAlertHandler(db, logger)
	connectorHandler := NewConnectorHandler(registry, logger)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/payouts", func(r chi.Router) {
			r.Post("/", payoutHandler.Create)
			r.Get("/", payoutHandler.List)
			r.Get("/stats", statsHandler.Get)
			r.Get("/{id}", payoutHandler.Get)
			r.Post("/{id}/cancel", payoutHandler.Cancel)
			r.Post("/{id}/retry", payoutHandler.Retry)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", alertHandler.List)
			r.Post("/{id}/resolve", alertHandler.Resolve)
		})

		r.Get("/connectors/health", connectorHandler.Health)
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("request handled")
		})
	}
}
