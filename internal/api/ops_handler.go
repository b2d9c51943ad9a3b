package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AlfredDev/alfred/services/payouts/internal/connector"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
)

// StatsHandler serves GET /v1/payouts/stats.
type StatsHandler struct {
	db     store.Store
	logger zerolog.Logger
}

func NewStatsHandler(db store.Store, logger zerolog.Logger) *StatsHandler {
	return &StatsHandler{db: db, logger: logger.With().Str("component", "stats-handler").Logger()}
}

func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.StatsByStatus(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// AlertHandler serves /v1/alerts.
type AlertHandler struct {
	db     store.Store
	logger zerolog.Logger
}

func NewAlertHandler(db store.Store, logger zerolog.Logger) *AlertHandler {
	return &AlertHandler{db: db, logger: logger.With().Str("component", "alert-handler").Logger()}
}

func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	if v := r.URL.Query().Get("resolved"); v != "" {
		b := v == "true"
		resolved = &b
	}
	alerts, err := h.db.ListAlerts(r.Context(), resolved)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "malformed alert id")
		return
	}
	var body struct {
		ResolutionNote string `json:"resolution_note"`
		ResolvedBy     string `json:"resolved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "failed to parse request body")
		return
	}

	alert, err := h.db.GetAlert(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if alert.Resolved {
		writeError(w, h.logger, http.StatusConflict, "already_resolved", "alert already resolved")
		return
	}

	alert.Resolved = true
	alert.ResolutionNote = body.ResolutionNote
	alert.ResolvedBy = body.ResolvedBy
	if err := h.db.UpdateAlert(r.Context(), alert); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// ConnectorHandler serves /v1/connectors/health.
type ConnectorHandler struct {
	registry *connector.Registry
	logger   zerolog.Logger
}

func NewConnectorHandler(registry *connector.Registry, logger zerolog.Logger) *ConnectorHandler {
	return &ConnectorHandler{registry: registry, logger: logger.With().Str("component", "connector-handler").Logger()}
}

func (h *ConnectorHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.HealthCheckAll(r.Context()))
}
