// Package store defines the durable entities of the payout engine and the
// Store contract every component depends on. Two implementations exist:
// pgstore (jackc/pgx/v5, for production) and memstore (for tests and local
// wiring without a database).
package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayoutStatus enumerates the payout lifecycle states (spec §4.5 DAG).
type PayoutStatus string

const (
	StatusScheduled  PayoutStatus = "scheduled"
	StatusPending    PayoutStatus = "pending"
	StatusOnHold     PayoutStatus = "on_hold"
	StatusProcessing PayoutStatus = "processing"
	StatusSent       PayoutStatus = "sent"
	StatusSettled    PayoutStatus = "settled"
	StatusFailed     PayoutStatus = "failed"
	StatusDLQ        PayoutStatus = "dlq"
	StatusReversed   PayoutStatus = "reversed"
	StatusCancelled  PayoutStatus = "cancelled"
)

// Terminal reports whether the status is a sink state.
func (s PayoutStatus) Terminal() bool {
	switch s {
	case StatusSettled, StatusDLQ, StatusReversed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority orders dispatch preference; higher value is dispatched sooner.
type Priority string

const (
	PriorityBatch    Priority = "batch"
	PriorityStandard Priority = "standard"
	PriorityInstant  Priority = "instant"
	PriorityPriority Priority = "priority"
)

// Rank gives a sortable integer for priority ordering, instant/priority first.
func (p Priority) Rank() int {
	switch p {
	case PriorityPriority:
		return 3
	case PriorityInstant:
		return 2
	case PriorityStandard:
		return 1
	default: // batch
		return 0
	}
}

// Origin identifies the module/entity that requested a payout.
type Origin struct {
	Module     string `json:"module"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// Beneficiary identifies the recipient of funds.
type Beneficiary struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	AccountRef     string `json:"account_ref,omitempty"`
}

// LastError records the most recent failure observed for a payout.
type LastError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Payout is the principal record of the engine.
type Payout struct {
	ID         uuid.UUID `json:"id"`
	ExternalID *string   `json:"external_id,omitempty"`

	Origin      Origin      `json:"origin"`
	Beneficiary Beneficiary `json:"beneficiary"`

	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Method   string          `json:"method"`
	Priority Priority        `json:"priority"`

	RequestedSettlementDate *time.Time `json:"requested_settlement_date,omitempty"`
	ScheduledAt             *time.Time `json:"scheduled_at,omitempty"`

	ConnectorID    string  `json:"connector_id"`
	Rail           string  `json:"rail"`
	BankReference  *string `json:"bank_reference,omitempty"`

	Status PayoutStatus `json:"status"`

	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	LastError LastError `json:"last_error"`

	TargetSettlementDate *time.Time `json:"target_settlement_date,omitempty"`
	CutoffTime           string     `json:"cutoff_time,omitempty"`
	SLAViolated          bool       `json:"sla_violated"`
	SLAViolationReason    string     `json:"sla_violation_reason,omitempty"`

	RoutingScore              *float64 `json:"routing_score,omitempty"`
	RoutingReason             string   `json:"routing_reason,omitempty"`
	PredictedSettlement       *time.Time `json:"predicted_settlement,omitempty"`

	FeeAmount     decimal.Decimal `json:"fee_amount"`
	BankFee       decimal.Decimal `json:"bank_fee"`
	TotalCost     decimal.Decimal `json:"total_cost"`

	TenantType string `json:"tenant_type"`
	TenantID   string `json:"tenant_id"`
	Country    string `json:"country"`

	ComplianceState string `json:"compliance_state,omitempty"`

	HoldID            *uuid.UUID `json:"hold_id,omitempty"`
	FinalLedgerEntryID *string   `json:"final_ledger_entry_id,omitempty"`
	ReconciliationRef  string    `json:"reconciliation_ref,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	ReversedAt   *time.Time `json:"reversed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`

	CreatedBy  string `json:"created_by,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

// HoldStatus enumerates PayoutHold lifecycle states.
type HoldStatus string

const (
	HoldActive   HoldStatus = "active"
	HoldReleased HoldStatus = "released"
	HoldReversed HoldStatus = "reversed"
	HoldExpired  HoldStatus = "expired"
)

// PayoutHold is a pre-authorization entry reserving funds for a payout.
type PayoutHold struct {
	ID             uuid.UUID       `json:"id"`
	PayoutID       uuid.UUID       `json:"payout_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	DebitAccount   string          `json:"debit_account"`
	CreditAccount  string          `json:"credit_account"`
	Status         HoldStatus      `json:"status"`
	ExpiresAt      time.Time       `json:"expires_at"`
	LedgerEntryID  string          `json:"ledger_entry_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ReleasedAt     *time.Time      `json:"released_at,omitempty"`
	ReversedAt     *time.Time      `json:"reversed_at,omitempty"`
}

// BatchStatus enumerates Batch lifecycle states.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchCollecting BatchStatus = "collecting"
	BatchLocked     BatchStatus = "locked"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchCancelled  BatchStatus = "cancelled"
)

// Batch groups payouts for scheduled, ordered execution.
type Batch struct {
	ID            uuid.UUID   `json:"id"`
	Name          string      `json:"name"`
	Type          string      `json:"type"`
	CronExpr      string      `json:"cron_expr,omitempty"`
	ScheduledAt   time.Time   `json:"scheduled_at"`
	Status        BatchStatus `json:"status"`
	ConnectorID   string      `json:"connector_id"`
	Rail          string      `json:"rail"`
	ItemCount     int         `json:"item_count"`
	SucceededCount int        `json:"succeeded_count"`
	FailedCount   int         `json:"failed_count"`
	CreatedAt     time.Time   `json:"created_at"`
	LockedAt      *time.Time  `json:"locked_at,omitempty"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// BatchItemStatus enumerates an item's per-payout outcome within a batch.
type BatchItemStatus string

const (
	BatchItemPending   BatchItemStatus = "pending"
	BatchItemSucceeded BatchItemStatus = "succeeded"
	BatchItemFailed    BatchItemStatus = "failed"
)

// BatchItem links a Batch to a Payout with a processing sequence.
type BatchItem struct {
	ID       uuid.UUID       `json:"id"`
	BatchID  uuid.UUID       `json:"batch_id"`
	PayoutID uuid.UUID       `json:"payout_id"`
	Sequence int             `json:"sequence"`
	Status   BatchItemStatus `json:"status"`
}

// SLARule scopes cutoff/processing/settlement rules over (connector, rail,
// country, currency, priority); any scope column may be nil (wildcard).
type SLARule struct {
	ID              uuid.UUID        `json:"id"`
	ConnectorID     *string          `json:"connector_id,omitempty"`
	Rail            *string          `json:"rail,omitempty"`
	Country         *string          `json:"country,omitempty"`
	Currency        *string          `json:"currency,omitempty"`
	Priority        *Priority        `json:"priority,omitempty"`
	CutoffTime      string           `json:"cutoff_time"` // "HH:MM" rule-local wall clock
	ProcessingDays  int              `json:"processing_days"`
	SettlementDays  int              `json:"settlement_days"`
	ExcludeWeekends bool             `json:"exclude_weekends"`
	ExcludeHolidays bool             `json:"exclude_holidays"`
	BaseFee         decimal.Decimal  `json:"base_fee"`
	PercentageFee   decimal.Decimal  `json:"percentage_fee"`
	MinFee          decimal.Decimal  `json:"min_fee"`
	MaxFee          decimal.Decimal  `json:"max_fee"`
	Active          bool             `json:"active"`
}

// RetryLogEntry is an append-only record of one retry attempt.
type RetryLogEntry struct {
	ID            uuid.UUID `json:"id"`
	PayoutID      uuid.UUID `json:"payout_id"`
	RetryNumber   int       `json:"retry_number"`
	Timestamp     time.Time `json:"timestamp"`
	Outcome       string    `json:"outcome"`
	ErrorCode     string    `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	NextRetryAt   time.Time `json:"next_retry_at"`
	BackoffSeconds int      `json:"backoff_seconds"`
}

// AuditEvent is an append-only, monotonically ordered record of a status
// change or other notable action on a payout.
type AuditEvent struct {
	Sequence    int64          `json:"sequence"`
	ID          uuid.UUID      `json:"id"`
	PayoutID    uuid.UUID      `json:"payout_id"`
	EventType   string         `json:"event_type"`
	OldStatus   string         `json:"old_status,omitempty"`
	NewStatus   string         `json:"new_status,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ActorType   string         `json:"actor_type,omitempty"`
	ActorID     string         `json:"actor_id,omitempty"`
	ServiceName string         `json:"service_name"`
	Timestamp   time.Time      `json:"timestamp"`
}

// AlertSeverity enumerates Alert severity levels.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a severity-tagged operational notice tied to a payout or batch.
type Alert struct {
	ID          uuid.UUID      `json:"id"`
	PayoutID    *uuid.UUID     `json:"payout_id,omitempty"`
	BatchID     *uuid.UUID     `json:"batch_id,omitempty"`
	Type        string         `json:"type"`
	Severity    AlertSeverity  `json:"severity"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Notified    bool           `json:"notified"`
	Resolved    bool           `json:"resolved"`
	ResolutionNote string      `json:"resolution_note,omitempty"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}
