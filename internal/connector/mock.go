package connector

import (
	"context"
	"fmt"
)

// MockConnector is an in-memory connector used by tests and local wiring
// without a live bank integration. Its behavior is scripted per payout id
// so tests can exercise transient/permanent/instant-settlement paths.
type MockConnector struct {
	connectorID string
	rail        string
	Scripted    map[string]SubmitResult
	Default     SubmitResult
	Health      HealthStatus
}

// NewMockConnector builds a MockConnector that by default reports success
// with no instant settlement.
func NewMockConnector(connectorID, rail string) *MockConnector {
	return &MockConnector{
		connectorID: connectorID,
		rail:        rail,
		Scripted:    make(map[string]SubmitResult),
		Default:     SubmitResult{Success: true, BankReference: "MOCK-OK"},
		Health:      HealthStatus{Healthy: true},
	}
}

func (m *MockConnector) ConnectorID() string { return m.connectorID }
func (m *MockConnector) Rail() string        { return m.rail }

func (m *MockConnector) Submit(ctx context.Context, req Request) (SubmitResult, error) {
	if result, ok := m.Scripted[req.PayoutID]; ok {
		return result, nil
	}
	result := m.Default
	if result.BankReference == "MOCK-OK" {
		result.BankReference = fmt.Sprintf("MOCK-%s", req.PayoutID)
	}
	return result, nil
}

func (m *MockConnector) HealthCheck(ctx context.Context) HealthStatus {
	return m.Health
}
