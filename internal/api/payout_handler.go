/*
Package api implements the External Interface Adapter: a chi router
exposing the Payout API, alert management, and connector health endpoints
over HTTP (spec §6).

Grounded on the teacher's handler package shape — one struct per resource
holding its logger and service dependency, methods that decode a request
body, call a single collaborator, and write a JSON response through a
small writeJSON/writeError helper pair — generalized from AI-proxy
resources (chat completions, embeddings) to payout resources.
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/AlfredDev/alfred/services/payouts/internal/payout"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
)

// PayoutHandler serves /v1/payouts.
type PayoutHandler struct {
	svc    *payout.Service
	logger zerolog.Logger
}

func NewPayoutHandler(svc *payout.Service, logger zerolog.Logger) *PayoutHandler {
	return &PayoutHandler{svc: svc, logger: logger.With().Str("component", "payout-handler").Logger()}
}

// createPayoutBody is the wire shape for POST /v1/payouts.
type createPayoutBody struct {
	ExternalID              string          `json:"external_id"`
	IdempotencyKey          string          `json:"idempotency_key"`
	Origin                  store.Origin    `json:"origin"`
	Beneficiary             store.Beneficiary `json:"beneficiary"`
	Amount                  string          `json:"amount"`
	Currency                string          `json:"currency"`
	Method                  string          `json:"method"`
	Priority                string          `json:"priority"`
	RequestedSettlementDate *time.Time      `json:"requested_settlement_date,omitempty"`
	ConnectorID             string          `json:"connector_id"`
	Rail                    string          `json:"rail"`
	TenantType              string          `json:"tenant_type"`
	TenantID                string          `json:"tenant_id"`
	Country                 string          `json:"country"`
	DebitAccount            string          `json:"debit_account"`
	Metadata                map[string]any  `json:"metadata,omitempty"`
}

func (h *PayoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createPayoutBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "failed to parse request body: "+err.Error())
		return
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "amount must be a decimal string")
		return
	}

	p, err := h.svc.CreatePayout(r.Context(), payout.CreateRequest{
		ExternalID:              body.ExternalID,
		IdempotencyKey:          body.IdempotencyKey,
		Origin:                  body.Origin,
		Beneficiary:             body.Beneficiary,
		Amount:                  amount,
		Currency:                body.Currency,
		Method:                  body.Method,
		Priority:                store.Priority(body.Priority),
		RequestedSettlementDate: body.RequestedSettlementDate,
		ConnectorID:             body.ConnectorID,
		Rail:                    body.Rail,
		TenantType:              body.TenantType,
		TenantID:                body.TenantID,
		Country:                 body.Country,
		DebitAccount:            body.DebitAccount,
		Metadata:                body.Metadata,
		CreatedBy:               r.Header.Get("X-Actor-Id"),
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PayoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "malformed payout id")
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PayoutHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PayoutFilter{
		TenantID:    q.Get("tenant_id"),
		Status:      store.PayoutStatus(q.Get("status")),
		Beneficiary: q.Get("beneficiary_id"),
	}
	page := store.Pagination{Limit: 50}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		page.Limit = l
	}
	if o, err := strconv.Atoi(q.Get("offset")); err == nil && o > 0 {
		page.Offset = o
	}

	items, total, err := h.svc.List(r.Context(), filter, page)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (h *PayoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "malformed payout id")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	p, err := h.svc.Cancel(r.Context(), id, body.Reason)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Retry is the operator escape hatch for a stuck payout: clears the
// backoff window on a failed/dlq payout so the next dispatch sweep picks
// it back up. Returns not_retryable for any other status.
func (h *PayoutHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "malformed payout id")
		return
	}
	p, err := h.svc.Requeue(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
