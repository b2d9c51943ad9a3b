package connector

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// PoolConfig bounds the transport used to reach a bank/rail endpoint.
// Mirrors the teacher's provider.PoolConfig: conservative idle-connection
// reuse plus a hard dial/handshake/response-header timeout budget so a
// slow bank never blocks a worker slot indefinitely.
type PoolConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultPoolConfig matches the teacher's conservative outbound defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		DialTimeout:           5 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}
}

func newClient(cfg PoolConfig) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	transport := &http.Transport{
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: transport}
}

// HTTPConnector drives a bank's REST submission endpoint. The wire format
// is bank-specific and out of this engine's scope; this adapter assumes a
// simple JSON submit endpoint plus a JSON health endpoint as a stand-in
// for the many real rail integrations this interface is meant to hide.
type HTTPConnector struct {
	connectorID string
	rail        string
	baseURL     string
	client      *http.Client
	timeout     time.Duration
}

// NewHTTPConnector builds an HTTPConnector bounded by timeout for every call.
func NewHTTPConnector(connectorID, rail, baseURL string, timeout time.Duration, poolCfg PoolConfig) *HTTPConnector {
	return &HTTPConnector{
		connectorID: connectorID,
		rail:        rail,
		baseURL:     baseURL,
		client:      newClient(poolCfg),
		timeout:     timeout,
	}
}

func (c *HTTPConnector) ConnectorID() string { return c.connectorID }
func (c *HTTPConnector) Rail() string        { return c.rail }

type submitPayload struct {
	PayoutID      string          `json:"payout_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	BeneficiaryID string          `json:"beneficiary_id"`
	AccountRef    string          `json:"account_ref"`
}

type submitResponse struct {
	Success           bool            `json:"success"`
	BankReference     string          `json:"bank_reference"`
	InstantSettlement bool            `json:"instant_settlement"`
	ErrorCode         string          `json:"error_code"`
	ErrorMessage      string          `json:"error_message"`
	BankFeeActual     decimal.Decimal `json:"bank_fee_actual"`
}

// Submit calls the connector's REST endpoint with a bounded timeout.
// Network failures and timeouts surface as TRANSIENT_* so the worker
// retries rather than DLQs on a blip.
func (c *HTTPConnector) Submit(ctx context.Context, req Request) (SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(submitPayload{
		PayoutID:      req.PayoutID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		BeneficiaryID: req.BeneficiaryID,
		AccountRef:    req.AccountRef,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("connector: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit", bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("connector: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return SubmitResult{
			Success:   false,
			ErrorCode: "TRANSIENT_NETWORK",
			ErrorMessage: err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return SubmitResult{Success: false, ErrorCode: "TRANSIENT_UPSTREAM_5XX", ErrorMessage: resp.Status}, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return SubmitResult{Success: false, ErrorCode: "TRANSIENT_RATE_LIMIT", ErrorMessage: resp.Status}, nil
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SubmitResult{}, fmt.Errorf("connector: decode response: %w", err)
	}

	return SubmitResult{
		Success:           out.Success,
		BankReference:     out.BankReference,
		InstantSettlement: out.InstantSettlement,
		ErrorCode:         out.ErrorCode,
		ErrorMessage:      out.ErrorMessage,
		BankFeeActual:     out.BankFeeActual,
	}, nil
}

// HealthCheck pings the connector's health endpoint with a short timeout.
func (c *HTTPConnector) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	defer resp.Body.Close()

	return HealthStatus{Healthy: resp.StatusCode == http.StatusOK, Message: resp.Status}
}
