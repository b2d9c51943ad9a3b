/*
Package payout implements the Payout Service: idempotent intake
(CreatePayout), lifecycle transitions (UpdateStatus), retry scheduling
(ScheduleRetry), cancellation, and the query surface.

Grounded on the teacher's handler layer shape (validate → call a
collaborator → persist → respond) generalized into a multi-step creation
algorithm, and on metering.ReservationStore's create-then-reserve
sequencing for the hold side-effect ordering.
*/
package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/AlfredDev/alfred/services/payouts/internal/apperr"
	"github.com/AlfredDev/alfred/services/payouts/internal/idempotency"
	"github.com/AlfredDev/alfred/services/payouts/internal/sla"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
)

// HoldOpener is the subset of the Ledger Hold Manager the service depends
// on. Defined here (not imported from package ledger as a concrete type)
// so tests can substitute a fake without touching the real hold manager.
type HoldOpener interface {
	OpenHold(ctx context.Context, p *store.Payout, debitAccount string) (*store.PayoutHold, error)
	Release(ctx context.Context, payoutID uuid.UUID) error
	Reverse(ctx context.Context, payoutID uuid.UUID, reason string) error
}

// RoutingAdvisor is the external routing recommendation collaborator; a
// miss or error just means the service falls back to requester/default
// routing, never a hard failure.
type RoutingAdvisor interface {
	Predict(ctx context.Context, features map[string]any) (score float64, connectorID, rail string, predictedSettlement *time.Time, reason string, ok bool)
}

// CreateRequest is the inbound shape for CreatePayout (spec §4.5 step 1-2).
type CreateRequest struct {
	ExternalID              string
	IdempotencyKey          string
	Origin                  store.Origin
	Beneficiary             store.Beneficiary
	Amount                  decimal.Decimal
	Currency                string
	Method                  string
	Priority                store.Priority
	RequestedSettlementDate *time.Time
	ConnectorID             string
	Rail                    string
	TenantType              string
	TenantID                string
	Country                 string
	DebitAccount            string
	Metadata                map[string]any
	CreatedBy               string
}

// Service is the Payout Service.
type Service struct {
	db       store.Store
	holds    HoldOpener
	resolver *sla.Resolver
	cache    *idempotency.Cache
	advisor  RoutingAdvisor
	logger   zerolog.Logger

	highValueThreshold decimal.Decimal
	baseRetryDelay     time.Duration
	maxRetryDelay      time.Duration
	maxRetries         int
}

// Config bundles the Service's tunables (spec §9 defaults, config-driven).
type Config struct {
	HighValueThreshold decimal.Decimal
	BaseRetryDelay     time.Duration
	MaxRetryDelay      time.Duration
	MaxRetries         int
}

func New(db store.Store, holds HoldOpener, resolver *sla.Resolver, cache *idempotency.Cache, advisor RoutingAdvisor, cfg Config, logger zerolog.Logger) *Service {
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = 30 * time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Service{
		db:                 db,
		holds:               holds,
		resolver:            resolver,
		cache:               cache,
		advisor:             advisor,
		logger:              logger.With().Str("component", "payout-service").Logger(),
		highValueThreshold:  cfg.HighValueThreshold,
		baseRetryDelay:      cfg.BaseRetryDelay,
		maxRetryDelay:       cfg.MaxRetryDelay,
		maxRetries:          cfg.MaxRetries,
	}
}

// CreatePayout runs the intake algorithm in this order:
//  1. idempotency lookup (returns the existing payout on a hit)
//  2. validate request shape
//  3. resolve the SLA rule against the requested connector/rail and derive
//     fees and the target settlement date
//  4. call the routing advisor (best-effort); a recommendation replaces
//     the connector/rail stored on the payout but does not re-resolve the
//     SLA rule, fees or target date computed in step 3
//  5. in one WithTx: insert the payout row (scheduled for batch priority,
//     else pending), open the ledger hold (a ledger decline fails the call
//     with insufficient_balance), persist the hold linkage, and emit a
//     `created` audit event
//  6. remember the idempotency key
//  7. raise a high-value alert if applicable
//  8. return the persisted payout
func (s *Service) CreatePayout(ctx context.Context, req CreateRequest) (*store.Payout, error) {
	if req.IdempotencyKey != "" {
		if existingID, found, err := s.cache.Lookup(ctx, req.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("payout: idempotency lookup: %w", err)
		} else if found {
			return s.db.GetPayout(ctx, existingID)
		}
	}

	if err := validateCreate(req); err != nil {
		return nil, err
	}

	rule, err := s.resolver.ResolveRule(ctx, sla.Request{
		ConnectorID: req.ConnectorID,
		Rail:        req.Rail,
		Country:     req.Country,
		Currency:    req.Currency,
		Priority:    req.Priority,
	})
	if err != nil {
		return nil, fmt.Errorf("payout: resolve sla rule: %w", err)
	}

	feeAmount, bankFee, err := s.resolver.Fee(rule, req.Amount)
	if err != nil {
		return nil, err
	}
	totalCost := req.Amount.Add(feeAmount).Add(bankFee)

	targetSettlement := s.resolver.TargetSettlementDate(rule, time.Now(), req.Country)

	connectorID, rail, routingScore, routingReason, predictedSettlement := req.ConnectorID, req.Rail, (*float64)(nil), "", (*time.Time)(nil)
	if s.advisor != nil {
		features := map[string]any{
			"amount": req.Amount.String(), "currency": req.Currency,
			"country": req.Country, "priority": string(req.Priority),
		}
		if score, advConnector, advRail, predicted, reason, ok := s.advisor.Predict(ctx, features); ok {
			routingScore = &score
			routingReason = reason
			predictedSettlement = predicted
			if advConnector != "" {
				connectorID, rail = advConnector, advRail
			}
		}
	}

	now := time.Now()
	status := store.StatusPending
	var scheduledAt *time.Time
	if req.Priority == store.PriorityBatch {
		status = store.StatusScheduled
		scheduledAt = req.RequestedSettlementDate
	}

	p := &store.Payout{
		ID:                      uuid.New(),
		Origin:                  req.Origin,
		Beneficiary:             req.Beneficiary,
		Amount:                  req.Amount,
		Currency:                req.Currency,
		Method:                  req.Method,
		Priority:                req.Priority,
		RequestedSettlementDate: req.RequestedSettlementDate,
		ScheduledAt:             scheduledAt,
		ConnectorID:             connectorID,
		Rail:                    rail,
		Status:                  status,
		MaxRetries:              s.maxRetries,
		TargetSettlementDate:    &targetSettlement,
		RoutingScore:            routingScore,
		RoutingReason:           routingReason,
		PredictedSettlement:     predictedSettlement,
		FeeAmount:               feeAmount,
		BankFee:                 bankFee,
		TotalCost:               totalCost,
		TenantType:              req.TenantType,
		TenantID:                req.TenantID,
		Country:                 req.Country,
		Metadata:                req.Metadata,
		CreatedAt:               now,
		CreatedBy:               req.CreatedBy,
	}
	if req.ExternalID != "" {
		p.ExternalID = &req.ExternalID
	}
	if rule != nil {
		p.CutoffTime = rule.CutoffTime
	}

	if err := s.db.WithTx(ctx, func(ctx context.Context) error {
		if err := s.db.InsertPayout(ctx, p); err != nil {
			return fmt.Errorf("payout: insert: %w", err)
		}

		hold, err := s.holds.OpenHold(ctx, p, req.DebitAccount)
		if err != nil {
			return err
		}
		p.HoldID = &hold.ID
		if err := s.db.UpdatePayout(ctx, p); err != nil {
			return fmt.Errorf("payout: persist hold linkage: %w", err)
		}

		s.audit(ctx, p.ID, "created", "", string(p.Status), map[string]any{"amount": p.Amount.String()})
		return nil
	}); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		s.cache.Remember(ctx, req.IdempotencyKey, p.ID)
	}

	if s.highValueThreshold.GreaterThan(decimal.Zero) && p.Amount.GreaterThanOrEqual(s.highValueThreshold) {
		s.raiseAlert(ctx, &p.ID, nil, "high_value_payout", store.SeverityMedium,
			fmt.Sprintf("payout %s for %s %s exceeds high-value threshold", p.ID, p.Amount.String(), p.Currency))
	}

	return p, nil
}

func validateCreate(req CreateRequest) error {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return apperr.New(apperr.KindInvalidRequest, "amount must be positive")
	}
	if req.Currency == "" {
		return apperr.New(apperr.KindInvalidRequest, "currency is required")
	}
	if req.Beneficiary.ID == "" {
		return apperr.New(apperr.KindInvalidRequest, "beneficiary is required")
	}
	if req.TenantID == "" {
		return apperr.New(apperr.KindInvalidRequest, "tenant_id is required")
	}
	return nil
}

// validTransitions is the DAG from spec §4.5: edges allowed by UpdateStatus.
var validTransitions = map[store.PayoutStatus][]store.PayoutStatus{
	store.StatusScheduled:  {store.StatusPending, store.StatusOnHold, store.StatusCancelled},
	store.StatusPending:    {store.StatusOnHold, store.StatusProcessing, store.StatusCancelled},
	store.StatusOnHold:     {store.StatusProcessing, store.StatusCancelled, store.StatusFailed},
	store.StatusProcessing: {store.StatusSent, store.StatusFailed, store.StatusDLQ},
	store.StatusSent:       {store.StatusSettled, store.StatusFailed},
	store.StatusFailed:     {store.StatusProcessing, store.StatusDLQ, store.StatusReversed},
	store.StatusSettled:    {},
	store.StatusDLQ:        {store.StatusReversed},
	store.StatusReversed:   {},
	store.StatusCancelled:  {},
}

func canTransition(from, to store.PayoutStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// UpdateStatus transitions a payout, validating the edge against the DAG,
// stamping the matching timestamp column, running hold side effects, and
// emitting an audit event. Releasing or reversing the hold is the caller's
// signal for fund disposition; UpdateStatus drives it automatically for
// the states that always imply one (settled and cancelled release,
// dlq and reversed reverse). A move to failed leaves the hold active,
// since a failed payout may still be retried.
func (s *Service) UpdateStatus(ctx context.Context, payoutID uuid.UUID, newStatus store.PayoutStatus, reason string, bankReference string) (*store.Payout, error) {
	p, err := s.db.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}

	if p.Status == newStatus {
		return p, nil // idempotent no-op
	}
	if !canTransition(p.Status, newStatus) {
		return nil, apperr.Wrap(apperr.KindInvalidRequest, fmt.Sprintf("cannot transition %s -> %s", p.Status, newStatus), apperr.ErrInvalidTransition)
	}

	oldStatus := p.Status
	now := time.Now()
	p.Status = newStatus

	if err := s.db.WithTx(ctx, func(ctx context.Context) error {
		switch newStatus {
		case store.StatusProcessing:
			p.ProcessedAt = &now
		case store.StatusSent:
			p.SentAt = &now
			if bankReference != "" {
				p.BankReference = &bankReference
			}
		case store.StatusSettled:
			p.SettledAt = &now
			if err := s.holds.Release(ctx, p.ID); err != nil {
				return fmt.Errorf("payout: release hold on settle: %w", err)
			}
		case store.StatusFailed:
			p.FailedAt = &now
			p.LastError.Message = reason
		case store.StatusDLQ:
			if err := s.holds.Reverse(ctx, p.ID, "dead_letter"); err != nil {
				return fmt.Errorf("payout: reverse hold on dlq: %w", err)
			}
		case store.StatusReversed:
			p.ReversedAt = &now
			if err := s.holds.Reverse(ctx, p.ID, reason); err != nil {
				return fmt.Errorf("payout: reverse hold: %w", err)
			}
		case store.StatusCancelled:
			p.CancelledAt = &now
			if err := s.holds.Release(ctx, p.ID); err != nil {
				return fmt.Errorf("payout: release hold on cancel: %w", err)
			}
		}

		if err := s.db.UpdatePayout(ctx, p); err != nil {
			return fmt.Errorf("payout: persist status: %w", err)
		}

		s.audit(ctx, p.ID, "status_changed", string(oldStatus), string(newStatus), map[string]any{"reason": reason})
		return nil
	}); err != nil {
		return nil, err
	}

	if newStatus == store.StatusDLQ {
		s.raiseAlert(ctx, &p.ID, nil, "payout_dlq", store.SeverityCritical,
			fmt.Sprintf("payout %s moved to DLQ: %s", p.ID, reason))
	}

	return p, nil
}

// ScheduleRetry increments retry_count, computes the next exponential
// backoff delay (base × 2^retry_count, capped at maxRetryDelay), and
// either schedules the retry or moves the payout to dlq once max_retries
// is exhausted (spec §4.5/§4.6).
func (s *Service) ScheduleRetry(ctx context.Context, payoutID uuid.UUID, errCode, errMessage string) (*store.Payout, error) {
	p, err := s.db.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}

	p.RetryCount++
	p.LastError = store.LastError{Code: errCode, Message: errMessage}

	if p.RetryCount > p.MaxRetries {
		if _, err := s.UpdateStatus(ctx, payoutID, store.StatusDLQ, "max retries exhausted: "+errMessage, ""); err != nil {
			return nil, err
		}
		return s.db.GetPayout(ctx, payoutID)
	}

	delay := backoff(s.baseRetryDelay, s.maxRetryDelay, p.RetryCount)
	next := time.Now().Add(delay)
	p.NextRetryAt = &next
	p.Status = store.StatusFailed
	p.FailedAt = timePtr(time.Now())

	if err := s.db.UpdatePayout(ctx, p); err != nil {
		return nil, fmt.Errorf("payout: persist retry schedule: %w", err)
	}

	if err := s.db.AppendRetryLog(ctx, &store.RetryLogEntry{
		ID: uuid.New(), PayoutID: p.ID, RetryNumber: p.RetryCount,
		Timestamp: time.Now(), Outcome: "scheduled", ErrorCode: errCode,
		ErrorMessage: errMessage, NextRetryAt: next, BackoffSeconds: int(delay.Seconds()),
	}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to append retry log entry")
	}

	s.audit(ctx, p.ID, "retry_scheduled", string(store.StatusProcessing), string(store.StatusFailed),
		map[string]any{"retry_count": p.RetryCount, "next_retry_at": next})

	return p, nil
}

// backoff computes base × 2^attempt, capped at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// Cancel cancels a payout that has not yet entered processing.
func (s *Service) Cancel(ctx context.Context, payoutID uuid.UUID, reason string) (*store.Payout, error) {
	p, err := s.db.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if p.Status != store.StatusScheduled && p.Status != store.StatusPending && p.Status != store.StatusOnHold {
		return nil, apperr.New(apperr.KindNotCancellable, fmt.Sprintf("payout in status %s cannot be cancelled", p.Status))
	}
	return s.UpdateStatus(ctx, payoutID, store.StatusCancelled, reason, "")
}

// Requeue is the operator-initiated retry escape hatch (spec §6 Retry):
// not_retryable unless the payout is currently failed or dlq. Unlike
// ScheduleRetry (worker-driven, counts toward retry_count on a submit
// failure), a manual requeue just clears the backoff window and logs the
// override without incrementing retry_count.
func (s *Service) Requeue(ctx context.Context, payoutID uuid.UUID) (*store.Payout, error) {
	p, err := s.db.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if p.Status != store.StatusFailed && p.Status != store.StatusDLQ {
		return nil, apperr.New(apperr.KindNotRetryable, fmt.Sprintf("payout in status %s is not retryable", p.Status))
	}

	oldStatus := p.Status
	if p.Status == store.StatusDLQ {
		p.Status = store.StatusFailed
	}
	now := time.Now()
	p.NextRetryAt = &now

	if err := s.db.WithTx(ctx, func(ctx context.Context) error {
		if err := s.db.UpdatePayout(ctx, p); err != nil {
			return fmt.Errorf("payout: persist manual requeue: %w", err)
		}
		if err := s.db.AppendRetryLog(ctx, &store.RetryLogEntry{
			ID: uuid.New(), PayoutID: p.ID, RetryNumber: p.RetryCount,
			Timestamp: now, Outcome: "manual_requeue", NextRetryAt: now,
		}); err != nil {
			s.logger.Warn().Err(err).Msg("failed to append retry log entry for manual requeue")
		}
		s.audit(ctx, p.ID, "manual_requeue", string(oldStatus), string(p.Status), map[string]any{"actor": "operator"})
		return nil
	}); err != nil {
		return nil, err
	}

	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*store.Payout, error) {
	return s.db.GetPayout(ctx, id)
}

func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*store.Payout, error) {
	return s.db.GetPayoutByExternalID(ctx, externalID)
}

func (s *Service) List(ctx context.Context, filter store.PayoutFilter, page store.Pagination) ([]*store.Payout, int, error) {
	return s.db.ListPayouts(ctx, filter, page)
}

func (s *Service) audit(ctx context.Context, payoutID uuid.UUID, eventType, oldStatus, newStatus string, details map[string]any) {
	if err := s.db.AppendAudit(ctx, &store.AuditEvent{
		ID: uuid.New(), PayoutID: payoutID, EventType: eventType,
		OldStatus: oldStatus, NewStatus: newStatus, Details: details,
		ServiceName: "payout-service", Timestamp: time.Now(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("payout_id", payoutID.String()).Msg("failed to append audit event")
	}
}

func (s *Service) raiseAlert(ctx context.Context, payoutID *uuid.UUID, batchID *uuid.UUID, alertType string, severity store.AlertSeverity, message string) {
	if err := s.db.InsertAlert(ctx, &store.Alert{
		ID: uuid.New(), PayoutID: payoutID, BatchID: batchID, Type: alertType,
		Severity: severity, Message: message, CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn().Err(err).Msg("failed to raise alert")
	}
}

func timePtr(t time.Time) *time.Time { return &t }

// durableLookup adapts store.Store to idempotency.DurableLookup.
type durableLookup struct{ db store.Store }

func NewDurableLookup(db store.Store) idempotency.DurableLookup { return durableLookup{db: db} }

func (d durableLookup) GetPayoutIDByExternalID(ctx context.Context, externalID string) (uuid.UUID, bool, error) {
	p, err := d.db.GetPayoutByExternalID(ctx, externalID)
	if err != nil {
		if err == apperr.ErrNotFound {
			return uuid.UUID{}, false, nil
		}
		return uuid.UUID{}, false, err
	}
	return p.ID, true, nil
}
