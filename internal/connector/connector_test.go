package connector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfredDev/alfred/services/payouts/internal/connector"
)

func TestClassifyCode(t *testing.T) {
	assert.Equal(t, connector.FamilyTransient, connector.ClassifyCode("TRANSIENT_TIMEOUT"))
	assert.Equal(t, connector.FamilyPermanent, connector.ClassifyCode("PERMANENT_INVALID_ACCOUNT"))
	assert.Equal(t, connector.FamilyProcessing, connector.ClassifyCode("PROCESSING_ERROR"))
	assert.Equal(t, connector.FamilyProcessing, connector.ClassifyCode(""))
}

func TestRegistry_GetDefaultsOnAbsence(t *testing.T) {
	reg := connector.NewRegistry()
	mock := connector.NewMockConnector("chase", "ach")
	reg.Register(mock)

	got, ok := reg.Get("", "")
	require.True(t, ok)
	assert.Equal(t, "chase", got.ConnectorID())

	got2, ok := reg.Get("chase", "ach")
	require.True(t, ok)
	assert.Same(t, mock, got2)

	_, ok = reg.Get("unknown", "wire")
	assert.False(t, ok)
}

func TestRegistry_HealthCheckAll(t *testing.T) {
	reg := connector.NewRegistry()
	healthy := connector.NewMockConnector("chase", "ach")
	unhealthy := connector.NewMockConnector("wells-fargo", "wire")
	unhealthy.Health = connector.HealthStatus{Healthy: false, Message: "degraded"}
	reg.Register(healthy)
	reg.Register(unhealthy)

	statuses := reg.HealthCheckAll(context.Background())
	require.Len(t, statuses, 2)
	assert.True(t, statuses["chase/ach"].Healthy)
	assert.False(t, statuses["wells-fargo/wire"].Healthy)
}

func TestMockConnector_ScriptedResult(t *testing.T) {
	mock := connector.NewMockConnector("chase", "ach")
	mock.Scripted["p-1"] = connector.SubmitResult{Success: false, ErrorCode: "TRANSIENT_TIMEOUT"}

	result, err := mock.Submit(context.Background(), connector.Request{PayoutID: "p-1"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "TRANSIENT_TIMEOUT", result.ErrorCode)
}
