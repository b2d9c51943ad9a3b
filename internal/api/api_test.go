package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfredDev/alfred/services/payouts/internal/api"
	"github.com/AlfredDev/alfred/services/payouts/internal/connector"
	"github.com/AlfredDev/alfred/services/payouts/internal/idempotency"
	"github.com/AlfredDev/alfred/services/payouts/internal/ledger"
	"github.com/AlfredDev/alfred/services/payouts/internal/payout"
	"github.com/AlfredDev/alfred/services/payouts/internal/sla"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
	"github.com/AlfredDev/alfred/services/payouts/internal/store/memstore"
)

type stubLedger struct{}

func (stubLedger) CreateHoldEntry(ctx context.Context, payoutID uuid.UUID, debit, credit, amount, currency string) (string, error) {
	return "entry", nil
}
func (stubLedger) ReleaseHold(ctx context.Context, ledgerEntryID string) error         { return nil }
func (stubLedger) ReverseHold(ctx context.Context, ledgerEntryID, reason string) error { return nil }

func newTestRouter(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	db := memstore.New()
	lg := zerolog.Nop()
	ledgerMgr := ledger.NewManager(db, stubLedger{}, time.Hour, lg)
	resolver := sla.NewResolver(db, nil, lg)
	cache := idempotency.NewCache(nil, payout.NewDurableLookup(db), time.Hour, lg)
	svc := payout.New(db, ledgerMgr, resolver, cache, nil, payout.Config{MaxRetries: 3}, lg)
	reg := connector.NewRegistry()
	reg.Register(connector.NewMockConnector("chase", "ach"))

	return api.NewRouter(db, svc, reg, lg), db
}

func TestCreateAndGetPayout(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{"external_id":"ext-1","idempotency_key":"idem-1","beneficiary":{"type":"vendor","id":"ben-1"},"amount":"100.00","currency":"USD","method":"ach","priority":"standard","connector_id":"chase","rail":"ach","tenant_id":"tenant-1","country":"US","debit_account":"tenant-1:wallet"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/payouts/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created store.Payout
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, store.StatusPending, created.Status)

	getReq := httptest.NewRequest(http.MethodGet, "/v1/payouts/"+created.ID.String(), nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestCreatePayout_RejectsInvalidAmount(t *testing.T) {
	router, _ := newTestRouter(t)
	body := `{"amount":"not-a-number","currency":"USD"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/payouts/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectorHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/connectors/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var statuses map[string]connector.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.True(t, statuses["chase/ach"].Healthy)
}
