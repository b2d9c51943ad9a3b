package sla_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfredDev/alfred/services/payouts/internal/sla"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
)

type fakeRules struct{ rules []*store.SLARule }

func (f *fakeRules) ListActiveSLARules(ctx context.Context) ([]*store.SLARule, error) {
	return f.rules, nil
}

func strp(s string) *string { return &s }
func prip(p store.Priority) *store.Priority { return &p }

func TestResolveRule_MostSpecificWins(t *testing.T) {
	wildcard := &store.SLARule{CutoffTime: "17:00", Active: true}
	connectorOnly := &store.SLARule{ConnectorID: strp("chase"), CutoffTime: "17:00", Active: true}
	connectorAndRail := &store.SLARule{ConnectorID: strp("chase"), Rail: strp("ach"), CutoffTime: "15:00", Active: true}

	rules := &fakeRules{rules: []*store.SLARule{wildcard, connectorOnly, connectorAndRail}}
	resolver := sla.NewResolver(rules, nil, zerolog.Nop())

	req := sla.Request{ConnectorID: "chase", Rail: "ach", Country: "US", Currency: "USD", Priority: store.PriorityStandard}
	got, err := resolver.ResolveRule(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "15:00", got.CutoffTime)
}

func TestResolveRule_NonNullColumnMustMatch(t *testing.T) {
	wrongConnector := &store.SLARule{ConnectorID: strp("wells-fargo"), CutoffTime: "12:00", Active: true}
	wildcard := &store.SLARule{CutoffTime: "17:00", Active: true}

	rules := &fakeRules{rules: []*store.SLARule{wrongConnector, wildcard}}
	resolver := sla.NewResolver(rules, nil, zerolog.Nop())

	req := sla.Request{ConnectorID: "chase", Rail: "ach", Country: "US", Currency: "USD"}
	got, err := resolver.ResolveRule(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "17:00", got.CutoffTime)
}

func TestResolveRule_TieBreakDeterministic(t *testing.T) {
	byConnector := &store.SLARule{ConnectorID: strp("chase"), CutoffTime: "connector"}
	byRail := &store.SLARule{Rail: strp("ach"), CutoffTime: "rail"}
	byConnector.Active, byRail.Active = true, true

	rules := &fakeRules{rules: []*store.SLARule{byRail, byConnector}}
	resolver := sla.NewResolver(rules, nil, zerolog.Nop())

	req := sla.Request{ConnectorID: "chase", Rail: "ach"}
	got, err := resolver.ResolveRule(context.Background(), req)
	require.NoError(t, err)
	// connector precedes rail in the documented tie-break order.
	assert.Equal(t, "connector", got.CutoffTime)
}

func TestResolveRule_PriorityWildcard(t *testing.T) {
	instantOnly := &store.SLARule{Priority: prip(store.PriorityInstant), CutoffTime: "instant-only", Active: true}
	rules := &fakeRules{rules: []*store.SLARule{instantOnly}}
	resolver := sla.NewResolver(rules, nil, zerolog.Nop())

	req := sla.Request{Priority: store.PriorityStandard}
	got, err := resolver.ResolveRule(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTargetSettlementDate_SkipsWeekends(t *testing.T) {
	resolver := sla.NewResolver(&fakeRules{}, nil, zerolog.Nop())
	friday := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC) // Friday
	rule := &store.SLARule{ProcessingDays: 1, SettlementDays: 1, ExcludeWeekends: true}

	got := resolver.TargetSettlementDate(rule, friday, "US")
	// Fri +1 -> Sat(skip) Sun(skip) Mon(1) ; +1 -> Tue(2)
	assert.Equal(t, time.Date(2026, 8, 4, 0, 0, 0, 0, time.UTC), got)
}

func TestTargetSettlementDate_DefaultsWithoutRule(t *testing.T) {
	resolver := sla.NewResolver(&fakeRules{}, nil, zerolog.Nop())
	monday := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	got := resolver.TargetSettlementDate(nil, monday, "US")
	assert.Equal(t, time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC), got)
}

func TestFee_ClampsToMinMax(t *testing.T) {
	resolver := sla.NewResolver(&fakeRules{}, nil, zerolog.Nop())
	rule := &store.SLARule{
		BaseFee:       decimal.NewFromFloat(0.25),
		PercentageFee: decimal.NewFromFloat(0.001),
		MinFee:        decimal.NewFromFloat(1.00),
		MaxFee:        decimal.NewFromFloat(50.00),
	}

	fee, bankFee, err := resolver.Fee(rule, decimal.NewFromFloat(1000.00))
	require.NoError(t, err)
	assert.True(t, bankFee.IsZero())
	// 0.25 + 0.001*1000 = 1.25, above min, below max.
	assert.True(t, fee.Equal(decimal.NewFromFloat(1.25)))
}

func TestFee_RejectsNonPositiveAmount(t *testing.T) {
	resolver := sla.NewResolver(&fakeRules{}, nil, zerolog.Nop())
	_, _, err := resolver.Fee(nil, decimal.Zero)
	assert.Error(t, err)
}
