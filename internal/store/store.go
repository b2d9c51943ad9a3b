package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PayoutFilter narrows a ListPayouts query.
type PayoutFilter struct {
	TenantID    string
	Status      PayoutStatus
	Beneficiary string
	From        *time.Time
	To          *time.Time
}

// Pagination bounds a ListPayouts query.
type Pagination struct {
	Limit  int
	Offset int
}

// Store is the durable persistence contract. Every row-level mutation the
// engine performs is expressed here so the Payout Service, Dispatch Worker,
// and Batch Processor never touch SQL (or an in-memory map) directly.
type Store interface {
	// Payouts
	InsertPayout(ctx context.Context, p *Payout) error
	GetPayout(ctx context.Context, id uuid.UUID) (*Payout, error)
	GetPayoutByExternalID(ctx context.Context, externalID string) (*Payout, error)
	UpdatePayout(ctx context.Context, p *Payout) error
	ListPayouts(ctx context.Context, filter PayoutFilter, page Pagination) ([]*Payout, int, error)

	// LeasePending locks up to limit rows in {pending, scheduled} whose
	// scheduled_at has arrived and whose hold is active, ordered by
	// priority (if byPriority) then created_at, using SKIP LOCKED semantics.
	LeasePending(ctx context.Context, limit int, byPriority bool) ([]*Payout, error)

	// LeaseRetries locks failed rows due for retry.
	LeaseRetries(ctx context.Context, limit int) ([]*Payout, error)

	// FindSLACandidates returns non-terminal payouts whose target
	// settlement date has passed and are not yet flagged violated.
	FindSLACandidates(ctx context.Context) ([]*Payout, error)

	// FindStaleProcessing returns payouts stuck in `processing` past the
	// startup-sweeper threshold.
	FindStaleProcessing(ctx context.Context, olderThan time.Duration) ([]*Payout, error)

	// Holds
	InsertHold(ctx context.Context, h *PayoutHold) error
	GetActiveHoldForPayout(ctx context.Context, payoutID uuid.UUID) (*PayoutHold, error)
	UpdateHold(ctx context.Context, h *PayoutHold) error
	FindExpiredActiveHolds(ctx context.Context, now time.Time) ([]*PayoutHold, error)

	// SLA rules
	ListActiveSLARules(ctx context.Context) ([]*SLARule, error)
	InsertSLARule(ctx context.Context, r *SLARule) error

	// Batches
	InsertBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)
	UpdateBatch(ctx context.Context, b *Batch) error
	ListDueLockedBatches(ctx context.Context, now time.Time) ([]*Batch, error)
	ListRecurringBatches(ctx context.Context) ([]*Batch, error)

	InsertBatchItem(ctx context.Context, it *BatchItem) error
	ListBatchItems(ctx context.Context, batchID uuid.UUID) ([]*BatchItem, error)
	UpdateBatchItem(ctx context.Context, it *BatchItem) error

	// Retry log
	AppendRetryLog(ctx context.Context, e *RetryLogEntry) error

	// Audit
	AppendAudit(ctx context.Context, e *AuditEvent) error
	ListAudit(ctx context.Context, payoutID uuid.UUID) ([]*AuditEvent, error)

	// Alerts
	InsertAlert(ctx context.Context, a *Alert) error
	ListAlerts(ctx context.Context, resolved *bool) ([]*Alert, error)
	GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error)
	UpdateAlert(ctx context.Context, a *Alert) error

	// Stats
	StatsByStatus(ctx context.Context, tenantID string) (map[PayoutStatus]StatusStat, error)

	// WithTx runs fn inside a single transaction; every Store method called
	// with the context fn receives participates in that transaction (spec
	// §5 locking discipline). No nested transactions: a WithTx called from
	// inside another WithTx's fn just runs directly on the outer one.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	Close()
}

// StatusStat is one bucket of the Stats query result.
type StatusStat struct {
	Count            int
	TotalAmount       string // decimal string to avoid import cycles in callers that just display it
	AvgSettlementHours float64
}
