/*
Package connector defines the bank-connector abstraction and a thread-safe
registry, following the shape of the teacher's provider.Provider interface
and provider.Registry: a small capability interface, concrete adapters per
rail satisfying it, and a registry keyed by (connector id, rail) that fans out
health checks concurrently via a WaitGroup.
*/
package connector

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrorFamily classifies a Submit failure for the dispatch worker.
type ErrorFamily string

const (
	FamilyTransient  ErrorFamily = "TRANSIENT"
	FamilyPermanent  ErrorFamily = "PERMANENT"
	FamilyProcessing ErrorFamily = "PROCESSING"
)

// ClassifyCode maps a connector error code to its family by its prefix,
// per the TRANSIENT_*/PERMANENT_*/PROCESSING_ERROR taxonomy.
func ClassifyCode(code string) ErrorFamily {
	switch {
	case len(code) >= len("TRANSIENT_") && code[:len("TRANSIENT_")] == "TRANSIENT_":
		return FamilyTransient
	case len(code) >= len("PERMANENT_") && code[:len("PERMANENT_")] == "PERMANENT_":
		return FamilyPermanent
	default:
		return FamilyProcessing
	}
}

// Request is what the worker hands to a connector on submit.
type Request struct {
	PayoutID      string
	Amount        decimal.Decimal
	Currency      string
	BeneficiaryID string
	AccountRef    string
	Rail          string
	Metadata      map[string]any
}

// SubmitResult is a connector's answer to a submit call.
type SubmitResult struct {
	Success           bool
	BankReference     string
	InstantSettlement bool
	ErrorCode         string
	ErrorMessage      string
	BankFeeActual     decimal.Decimal
}

// HealthStatus is the result of a connector health check.
type HealthStatus struct {
	Healthy bool
	Message string
}

// Connector is the narrow contract every rail adapter satisfies.
type Connector interface {
	ConnectorID() string
	Rail() string
	Submit(ctx context.Context, req Request) (SubmitResult, error)
	HealthCheck(ctx context.Context) HealthStatus
}

// key identifies a connector by (connectorId, rail), since one bank
// connector id may speak more than one rail.
type key struct {
	connectorID string
	rail        string
}

// Registry is a thread-safe connector registry with concurrent health
// fan-out, mirroring provider.Registry's Register/Get/HealthCheckAll.
type Registry struct {
	mu         sync.RWMutex
	connectors map[key]Connector
	defaultKey key
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[key]Connector)}
}

// Register adds a connector, keyed by its own (ConnectorID, Rail).
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{connectorID: c.ConnectorID(), rail: c.Rail()}
	r.connectors[k] = c
	if r.defaultKey == (key{}) {
		r.defaultKey = k
	}
}

// SetDefault designates the (connectorId, rail) used when a payout omits both.
func (r *Registry) SetDefault(connectorID, rail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultKey = key{connectorID: connectorID, rail: rail}
}

// Get resolves a connector by (connectorId, rail), defaulting both on
// absence, matching spec §4.6 ProcessOne step 2.
func (r *Registry) Get(connectorID, rail string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k := key{connectorID: connectorID, rail: rail}
	if connectorID == "" || rail == "" {
		k = r.defaultKey
	}
	c, ok := r.connectors[k]
	return c, ok
}

// HealthCheckAll concurrently polls every registered connector.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]HealthStatus {
	r.mu.RLock()
	snapshot := make(map[key]Connector, len(r.connectors))
	for k, c := range r.connectors {
		snapshot[k] = c
	}
	r.mu.RUnlock()

	results := make(map[string]HealthStatus, len(snapshot))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for k, c := range snapshot {
		wg.Add(1)
		go func(k key, c Connector) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			status := c.HealthCheck(checkCtx)
			mu.Lock()
			results[k.connectorID+"/"+k.rail] = status
			mu.Unlock()
		}(k, c)
	}
	wg.Wait()
	return results
}

// List returns the (connectorId, rail) pairs currently registered.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.connectors))
	for k := range r.connectors {
		out = append(out, k.connectorID+"/"+k.rail)
	}
	return out
}
