/*
Package collaborators provides in-memory reference implementations of the
engine's external collaborators (§6): the ledger, the AI routing advisor,
the holiday calendar, and the alert notifier. Each is out of scope for
this specification — a real deployment wires in the actual ledger engine,
SIRA, a holiday data provider, and a notification channel — so these
stand-ins exist purely so the engine, tests, and local wiring have
something to call.
*/
package collaborators

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AlfredDev/alfred/services/payouts/internal/payout"
	"github.com/AlfredDev/alfred/services/payouts/internal/sla"
)

// StubLedger is an in-memory ledger collaborator. By default it declines
// no hold; with Decline set to true every CreateHoldEntry fails with an
// insufficient-balance error.
type StubLedger struct {
	mu      sync.Mutex
	entries map[string]bool
	Decline bool
}

func NewStubLedger() *StubLedger {
	return &StubLedger{entries: make(map[string]bool)}
}

func (l *StubLedger) CreateHoldEntry(ctx context.Context, payoutID uuid.UUID, debit, credit, amount, currency string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Decline {
		return "", errInsufficientBalance
	}
	id := "hold-entry-" + payoutID.String()
	l.entries[id] = true
	return id, nil
}

func (l *StubLedger) ReleaseHold(ctx context.Context, ledgerEntryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[ledgerEntryID] = false
	return nil
}

func (l *StubLedger) ReverseHold(ctx context.Context, ledgerEntryID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[ledgerEntryID] = false
	return nil
}

type stubError string

func (e stubError) Error() string { return string(e) }

const errInsufficientBalance = stubError("insufficient balance at ledger")

// RoutingRecommendation is the routing advisor's output.
type RoutingRecommendation struct {
	Score                float64
	ConnectorID          string
	Rail                 string
	EstimatedSettlement  time.Time
	Explanation          string
}

// RoutingAdvisor is the external AI routing advisor (SIRA) collaborator.
// Predict must return quickly (< 500ms budget per spec §6); on error the
// core proceeds with requester-supplied or default routing.
type RoutingAdvisor interface {
	Predict(ctx context.Context, features map[string]any) (*RoutingRecommendation, error)
}

// NoOpAdvisor never recommends anything, causing the service to always
// fall back to requester-supplied or default routing. Useful for local
// wiring and as the default when no advisor is configured.
type NoOpAdvisor struct{}

func (NoOpAdvisor) Predict(ctx context.Context, features map[string]any) (*RoutingRecommendation, error) {
	return nil, nil
}

// StubHolidayCalendar treats every day business-day except weekends,
// which sla.Resolver already excludes separately; it never flags a
// country-specific holiday. Real holiday data is an external collaborator.
type StubHolidayCalendar struct{}

func (StubHolidayCalendar) IsBusinessDay(date time.Time, country string) bool {
	return date.Weekday() != time.Saturday && date.Weekday() != time.Sunday
}

var _ sla.HolidayCalendar = StubHolidayCalendar{}

// advisorAdapter narrows a RoutingAdvisor to the flattened signature the
// payout service depends on, so the service package never has to import
// collaborators or know about RoutingRecommendation.
type advisorAdapter struct{ inner RoutingAdvisor }

// AsPayoutAdvisor adapts a RoutingAdvisor to payout.RoutingAdvisor.
func AsPayoutAdvisor(a RoutingAdvisor) payout.RoutingAdvisor { return advisorAdapter{inner: a} }

func (a advisorAdapter) Predict(ctx context.Context, features map[string]any) (float64, string, string, *time.Time, string, bool) {
	rec, err := a.inner.Predict(ctx, features)
	if err != nil || rec == nil {
		return 0, "", "", nil, "", false
	}
	settlement := rec.EstimatedSettlement
	return rec.Score, rec.ConnectorID, rec.Rail, &settlement, rec.Explanation, true
}

// Notifier dispatches alerts to an external notification channel, out of
// scope per spec §6. NoOpNotifier does nothing and returns nil, standing
// in for a real pager/email/Slack integration.
type Notifier interface {
	Notify(ctx context.Context, alertID uuid.UUID, severity, message string) error
}

type NoOpNotifier struct{}

func (NoOpNotifier) Notify(ctx context.Context, alertID uuid.UUID, severity, message string) error {
	return nil
}
