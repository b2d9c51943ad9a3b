// Package pgstore is the Postgres-backed store.Store implementation,
// built on jackc/pgx/v5's pool and Masterminds/squirrel for the filtered
// list query. The lease queries (LeasePending, LeaseRetries) and
// ListDueLockedBatches claim rows with "SELECT ... FOR UPDATE SKIP LOCKED"
// to cooperate across worker replicas without a distributed lock; the other
// writes are plain INSERT/UPDATE statements.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlfredDev/alfred/services/payouts/internal/apperr"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
)

// Store is a Postgres-backed implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// querier is the subset of pgxpool.Pool and pgx.Tx every method below
// needs. s.q(ctx) resolves to the active transaction when called from
// inside a WithTx closure, and to the pool otherwise.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// WithTx runs fn inside a single transaction opened on the pool. Every
// store method fn calls with the ctx it receives participates in that
// transaction via s.q(ctx). Calling WithTx from inside another WithTx's
// fn just reuses the outer transaction (no nested transactions, spec §5).
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(querier); ok {
		return fn(ctx)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, querier(tx))); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) q(ctx context.Context) querier {
	if q, ok := ctx.Value(txKey{}).(querier); ok {
		return q
	}
	return s.pool
}

// Open connects to Postgres using the given DSN.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const payoutColumns = `id, external_id, origin_module, origin_entity_type, origin_entity_id,
	beneficiary_type, beneficiary_id, beneficiary_account_ref, amount, currency, method, priority,
	requested_settlement_date, scheduled_at, connector_id, rail, bank_reference, status,
	retry_count, max_retries, next_retry_at, last_error_code, last_error_message,
	target_settlement_date, cutoff_time, sla_violated, sla_violation_reason,
	routing_score, routing_reason, predicted_settlement, fee_amount, bank_fee, total_cost,
	tenant_type, tenant_id, country, compliance_state, hold_id, final_ledger_entry_id,
	reconciliation_ref, metadata, created_at, processed_at, sent_at, settled_at, failed_at,
	reversed_at, cancelled_at, created_by, approved_by`

func scanPayout(row pgx.Row) (*store.Payout, error) {
	var p store.Payout
	var metadata []byte
	err := row.Scan(
		&p.ID, &p.ExternalID, &p.Origin.Module, &p.Origin.EntityType, &p.Origin.EntityID,
		&p.Beneficiary.Type, &p.Beneficiary.ID, &p.Beneficiary.AccountRef, &p.Amount, &p.Currency, &p.Method, &p.Priority,
		&p.RequestedSettlementDate, &p.ScheduledAt, &p.ConnectorID, &p.Rail, &p.BankReference, &p.Status,
		&p.RetryCount, &p.MaxRetries, &p.NextRetryAt, &p.LastError.Code, &p.LastError.Message,
		&p.TargetSettlementDate, &p.CutoffTime, &p.SLAViolated, &p.SLAViolationReason,
		&p.RoutingScore, &p.RoutingReason, &p.PredictedSettlement, &p.FeeAmount, &p.BankFee, &p.TotalCost,
		&p.TenantType, &p.TenantID, &p.Country, &p.ComplianceState, &p.HoldID, &p.FinalLedgerEntryID,
		&p.ReconciliationRef, &metadata, &p.CreatedAt, &p.ProcessedAt, &p.SentAt, &p.SettledAt, &p.FailedAt,
		&p.ReversedAt, &p.CancelledAt, &p.CreatedBy, &p.ApprovedBy,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &p.Metadata)
	}
	return &p, nil
}

func (s *Store) InsertPayout(ctx context.Context, p *store.Payout) error {
	metadata, _ := json.Marshal(p.Metadata)
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO payouts (`+payoutColumns+`) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,
		$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36,$37,$38,$39,$40,$41,$42,$43,$44,$45,$46,$47,$48,$49)`,
		p.ID, p.ExternalID, p.Origin.Module, p.Origin.EntityType, p.Origin.EntityID,
		p.Beneficiary.Type, p.Beneficiary.ID, p.Beneficiary.AccountRef, p.Amount, p.Currency, p.Method, p.Priority,
		p.RequestedSettlementDate, p.ScheduledAt, p.ConnectorID, p.Rail, p.BankReference, p.Status,
		p.RetryCount, p.MaxRetries, p.NextRetryAt, p.LastError.Code, p.LastError.Message,
		p.TargetSettlementDate, p.CutoffTime, p.SLAViolated, p.SLAViolationReason,
		p.RoutingScore, p.RoutingReason, p.PredictedSettlement, p.FeeAmount, p.BankFee, p.TotalCost,
		p.TenantType, p.TenantID, p.Country, p.ComplianceState, p.HoldID, p.FinalLedgerEntryID,
		p.ReconciliationRef, metadata, p.CreatedAt, p.ProcessedAt, p.SentAt, p.SettledAt, p.FailedAt,
		p.ReversedAt, p.CancelledAt, p.CreatedBy, p.ApprovedBy,
	)
	return err
}

func (s *Store) GetPayout(ctx context.Context, id uuid.UUID) (*store.Payout, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)
	p, err := scanPayout(row)
	if err == pgx.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	return p, err
}

func (s *Store) GetPayoutByExternalID(ctx context.Context, externalID string) (*store.Payout, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE external_id = $1`, externalID)
	p, err := scanPayout(row)
	if err == pgx.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	return p, err
}

func (s *Store) UpdatePayout(ctx context.Context, p *store.Payout) error {
	metadata, _ := json.Marshal(p.Metadata)
	_, err := s.q(ctx).Exec(ctx, `UPDATE payouts SET
		bank_reference=$2, status=$3, retry_count=$4, max_retries=$5, next_retry_at=$6,
		last_error_code=$7, last_error_message=$8, target_settlement_date=$9, sla_violated=$10,
		sla_violation_reason=$11, routing_score=$12, routing_reason=$13, predicted_settlement=$14,
		fee_amount=$15, bank_fee=$16, total_cost=$17, hold_id=$18, final_ledger_entry_id=$19,
		reconciliation_ref=$20, metadata=$21, processed_at=$22, sent_at=$23, settled_at=$24,
		failed_at=$25, reversed_at=$26, cancelled_at=$27, scheduled_at=$28
		WHERE id=$1`,
		p.ID, p.BankReference, p.Status, p.RetryCount, p.MaxRetries, p.NextRetryAt,
		p.LastError.Code, p.LastError.Message, p.TargetSettlementDate, p.SLAViolated,
		p.SLAViolationReason, p.RoutingScore, p.RoutingReason, p.PredictedSettlement,
		p.FeeAmount, p.BankFee, p.TotalCost, p.HoldID, p.FinalLedgerEntryID,
		p.ReconciliationRef, metadata, p.ProcessedAt, p.SentAt, p.SettledAt,
		p.FailedAt, p.ReversedAt, p.CancelledAt, p.ScheduledAt,
	)
	return err
}

func (s *Store) ListPayouts(ctx context.Context, filter store.PayoutFilter, page store.Pagination) ([]*store.Payout, int, error) {
	builder := psql.Select(payoutColumns).From("payouts")
	countBuilder := psql.Select("count(*)").From("payouts")

	if filter.TenantID != "" {
		builder = builder.Where(sq.Eq{"tenant_id": filter.TenantID})
		countBuilder = countBuilder.Where(sq.Eq{"tenant_id": filter.TenantID})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
		countBuilder = countBuilder.Where(sq.Eq{"status": filter.Status})
	}
	if filter.Beneficiary != "" {
		builder = builder.Where(sq.Eq{"beneficiary_id": filter.Beneficiary})
		countBuilder = countBuilder.Where(sq.Eq{"beneficiary_id": filter.Beneficiary})
	}
	if filter.From != nil {
		builder = builder.Where(sq.GtOrEq{"created_at": *filter.From})
		countBuilder = countBuilder.Where(sq.GtOrEq{"created_at": *filter.From})
	}
	if filter.To != nil {
		builder = builder.Where(sq.LtOrEq{"created_at": *filter.To})
		countBuilder = countBuilder.Where(sq.LtOrEq{"created_at": *filter.To})
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	builder = builder.OrderBy("created_at ASC").Limit(uint64(limit)).Offset(uint64(page.Offset))

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*store.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}

	countQuery, countArgs, err := countBuilder.ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.q(ctx).QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return out, total, nil
}

func (s *Store) leaseByQuery(ctx context.Context, query string, args ...any) ([]*store.Payout, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []*store.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	rows.Close()

	return out, tx.Commit(ctx)
}

func (s *Store) LeasePending(ctx context.Context, limit int, byPriority bool) ([]*store.Payout, error) {
	order := "created_at ASC"
	if byPriority {
		order = `CASE priority WHEN 'priority' THEN 3 WHEN 'instant' THEN 2 WHEN 'standard' THEN 1 ELSE 0 END DESC, created_at ASC`
	}
	query := fmt.Sprintf(`SELECT %s FROM payouts p
		WHERE status IN ('pending','scheduled')
		AND (scheduled_at IS NULL OR scheduled_at <= now())
		AND EXISTS (SELECT 1 FROM payout_holds h WHERE h.payout_id = p.id AND h.status = 'active')
		ORDER BY %s
		LIMIT %d
		FOR UPDATE OF p SKIP LOCKED`, payoutColumns, order, limit)
	return s.leaseByQuery(ctx, query)
}

func (s *Store) LeaseRetries(ctx context.Context, limit int) ([]*store.Payout, error) {
	query := fmt.Sprintf(`SELECT %s FROM payouts
		WHERE status = 'failed' AND retry_count < max_retries AND next_retry_at <= now()
		ORDER BY created_at ASC
		LIMIT %d
		FOR UPDATE SKIP LOCKED`, payoutColumns, limit)
	return s.leaseByQuery(ctx, query)
}

func (s *Store) FindSLACandidates(ctx context.Context) ([]*store.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts
		WHERE status NOT IN ('settled','reversed','cancelled','dlq')
		AND target_settlement_date < CURRENT_DATE
		AND sla_violated = FALSE`
	rows, err := s.q(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) FindStaleProcessing(ctx context.Context, olderThan time.Duration) ([]*store.Payout, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE status = 'processing' AND processed_at < $1`
	rows, err := s.q(ctx).Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) InsertHold(ctx context.Context, h *store.PayoutHold) error {
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO payout_holds
		(id, payout_id, amount, currency, debit_account, credit_account, status, expires_at, ledger_entry_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		h.ID, h.PayoutID, h.Amount, h.Currency, h.DebitAccount, h.CreditAccount, h.Status, h.ExpiresAt, h.LedgerEntryID, h.CreatedAt)
	return err
}

func (s *Store) GetActiveHoldForPayout(ctx context.Context, payoutID uuid.UUID) (*store.PayoutHold, error) {
	var h store.PayoutHold
	err := s.q(ctx).QueryRow(ctx, `SELECT id, payout_id, amount, currency, debit_account, credit_account,
		status, expires_at, ledger_entry_id, created_at, released_at, reversed_at
		FROM payout_holds WHERE payout_id = $1 AND status = 'active'`, payoutID).Scan(
		&h.ID, &h.PayoutID, &h.Amount, &h.Currency, &h.DebitAccount, &h.CreditAccount,
		&h.Status, &h.ExpiresAt, &h.LedgerEntryID, &h.CreatedAt, &h.ReleasedAt, &h.ReversedAt)
	if err == pgx.ErrNoRows {
		return nil, apperr.ErrNoActiveHold
	}
	return &h, err
}

func (s *Store) UpdateHold(ctx context.Context, h *store.PayoutHold) error {
	_, err := s.q(ctx).Exec(ctx, `UPDATE payout_holds SET status=$2, released_at=$3, reversed_at=$4 WHERE id=$1`,
		h.ID, h.Status, h.ReleasedAt, h.ReversedAt)
	return err
}

func (s *Store) FindExpiredActiveHolds(ctx context.Context, now time.Time) ([]*store.PayoutHold, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT id, payout_id, amount, currency, debit_account, credit_account,
		status, expires_at, ledger_entry_id, created_at, released_at, reversed_at
		FROM payout_holds WHERE status = 'active' AND expires_at < $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.PayoutHold
	for rows.Next() {
		var h store.PayoutHold
		if err := rows.Scan(&h.ID, &h.PayoutID, &h.Amount, &h.Currency, &h.DebitAccount, &h.CreditAccount,
			&h.Status, &h.ExpiresAt, &h.LedgerEntryID, &h.CreatedAt, &h.ReleasedAt, &h.ReversedAt); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, nil
}

func (s *Store) ListActiveSLARules(ctx context.Context) ([]*store.SLARule, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT id, connector_id, rail, country, currency, priority, cutoff_time,
		processing_days, settlement_days, exclude_weekends, exclude_holidays, base_fee, percentage_fee,
		min_fee, max_fee, active FROM sla_rules WHERE active = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.SLARule
	for rows.Next() {
		var r store.SLARule
		if err := rows.Scan(&r.ID, &r.ConnectorID, &r.Rail, &r.Country, &r.Currency, &r.Priority, &r.CutoffTime,
			&r.ProcessingDays, &r.SettlementDays, &r.ExcludeWeekends, &r.ExcludeHolidays, &r.BaseFee, &r.PercentageFee,
			&r.MinFee, &r.MaxFee, &r.Active); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *Store) InsertSLARule(ctx context.Context, r *store.SLARule) error {
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO sla_rules
		(id, connector_id, rail, country, currency, priority, cutoff_time, processing_days, settlement_days,
		exclude_weekends, exclude_holidays, base_fee, percentage_fee, min_fee, max_fee, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		r.ID, r.ConnectorID, r.Rail, r.Country, r.Currency, r.Priority, r.CutoffTime, r.ProcessingDays, r.SettlementDays,
		r.ExcludeWeekends, r.ExcludeHolidays, r.BaseFee, r.PercentageFee, r.MinFee, r.MaxFee, r.Active)
	return err
}

func (s *Store) InsertBatch(ctx context.Context, b *store.Batch) error {
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO batches
		(id, name, type, cron_expr, scheduled_at, status, connector_id, rail, item_count, succeeded_count, failed_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		b.ID, b.Name, b.Type, b.CronExpr, b.ScheduledAt, b.Status, b.ConnectorID, b.Rail, b.ItemCount, b.SucceededCount, b.FailedCount, b.CreatedAt)
	return err
}

func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*store.Batch, error) {
	var b store.Batch
	err := s.q(ctx).QueryRow(ctx, `SELECT id, name, type, cron_expr, scheduled_at, status, connector_id, rail,
		item_count, succeeded_count, failed_count, created_at, locked_at, started_at, completed_at
		FROM batches WHERE id = $1`, id).Scan(&b.ID, &b.Name, &b.Type, &b.CronExpr, &b.ScheduledAt, &b.Status,
		&b.ConnectorID, &b.Rail, &b.ItemCount, &b.SucceededCount, &b.FailedCount, &b.CreatedAt, &b.LockedAt, &b.StartedAt, &b.CompletedAt)
	if err == pgx.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	return &b, err
}

func (s *Store) UpdateBatch(ctx context.Context, b *store.Batch) error {
	_, err := s.q(ctx).Exec(ctx, `UPDATE batches SET status=$2, scheduled_at=$3, item_count=$4, succeeded_count=$5,
		failed_count=$6, locked_at=$7, started_at=$8, completed_at=$9, cron_expr=$10 WHERE id=$1`,
		b.ID, b.Status, b.ScheduledAt, b.ItemCount, b.SucceededCount, b.FailedCount, b.LockedAt, b.StartedAt, b.CompletedAt, b.CronExpr)
	return err
}

func (s *Store) ListDueLockedBatches(ctx context.Context, now time.Time) ([]*store.Batch, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT id, name, type, cron_expr, scheduled_at, status, connector_id, rail,
		item_count, succeeded_count, failed_count, created_at, locked_at, started_at, completed_at
		FROM batches WHERE status = 'locked' AND scheduled_at <= $1 FOR UPDATE SKIP LOCKED`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Batch
	for rows.Next() {
		var b store.Batch
		if err := rows.Scan(&b.ID, &b.Name, &b.Type, &b.CronExpr, &b.ScheduledAt, &b.Status,
			&b.ConnectorID, &b.Rail, &b.ItemCount, &b.SucceededCount, &b.FailedCount, &b.CreatedAt, &b.LockedAt, &b.StartedAt, &b.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, nil
}

func (s *Store) ListRecurringBatches(ctx context.Context) ([]*store.Batch, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT id, name, type, cron_expr, scheduled_at, status, connector_id, rail,
		item_count, succeeded_count, failed_count, created_at, locked_at, started_at, completed_at
		FROM batches WHERE cron_expr IS NOT NULL AND cron_expr != ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Batch
	for rows.Next() {
		var b store.Batch
		if err := rows.Scan(&b.ID, &b.Name, &b.Type, &b.CronExpr, &b.ScheduledAt, &b.Status,
			&b.ConnectorID, &b.Rail, &b.ItemCount, &b.SucceededCount, &b.FailedCount, &b.CreatedAt, &b.LockedAt, &b.StartedAt, &b.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, nil
}

func (s *Store) InsertBatchItem(ctx context.Context, it *store.BatchItem) error {
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO batch_items (id, batch_id, payout_id, sequence, status)
		VALUES ($1,$2,$3,$4,$5)`, it.ID, it.BatchID, it.PayoutID, it.Sequence, it.Status)
	return err
}

func (s *Store) ListBatchItems(ctx context.Context, batchID uuid.UUID) ([]*store.BatchItem, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT id, batch_id, payout_id, sequence, status FROM batch_items
		WHERE batch_id = $1 ORDER BY sequence ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.BatchItem
	for rows.Next() {
		var it store.BatchItem
		if err := rows.Scan(&it.ID, &it.BatchID, &it.PayoutID, &it.Sequence, &it.Status); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	return out, nil
}

func (s *Store) UpdateBatchItem(ctx context.Context, it *store.BatchItem) error {
	_, err := s.q(ctx).Exec(ctx, `UPDATE batch_items SET status=$2 WHERE id=$1`, it.ID, it.Status)
	return err
}

func (s *Store) AppendRetryLog(ctx context.Context, e *store.RetryLogEntry) error {
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO retry_log
		(id, payout_id, retry_number, timestamp, outcome, error_code, error_message, next_retry_at, backoff_seconds)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.PayoutID, e.RetryNumber, e.Timestamp, e.Outcome, e.ErrorCode, e.ErrorMessage, e.NextRetryAt, e.BackoffSeconds)
	return err
}

func (s *Store) AppendAudit(ctx context.Context, e *store.AuditEvent) error {
	details, _ := json.Marshal(e.Details)
	return s.q(ctx).QueryRow(ctx, `INSERT INTO audit_events
		(id, payout_id, event_type, old_status, new_status, details, actor_type, actor_id, service_name, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING sequence`,
		e.ID, e.PayoutID, e.EventType, e.OldStatus, e.NewStatus, details, e.ActorType, e.ActorID, e.ServiceName, e.Timestamp,
	).Scan(&e.Sequence)
}

func (s *Store) ListAudit(ctx context.Context, payoutID uuid.UUID) ([]*store.AuditEvent, error) {
	rows, err := s.q(ctx).Query(ctx, `SELECT sequence, id, payout_id, event_type, old_status, new_status, details,
		actor_type, actor_id, service_name, timestamp FROM audit_events WHERE payout_id = $1 ORDER BY sequence ASC`, payoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.AuditEvent
	for rows.Next() {
		var e store.AuditEvent
		var details []byte
		if err := rows.Scan(&e.Sequence, &e.ID, &e.PayoutID, &e.EventType, &e.OldStatus, &e.NewStatus, &details,
			&e.ActorType, &e.ActorID, &e.ServiceName, &e.Timestamp); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, &e)
	}
	return out, nil
}

func (s *Store) InsertAlert(ctx context.Context, a *store.Alert) error {
	details, _ := json.Marshal(a.Details)
	_, err := s.q(ctx).Exec(ctx, `INSERT INTO alerts
		(id, payout_id, batch_id, type, severity, message, details, notified, resolved, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.PayoutID, a.BatchID, a.Type, a.Severity, a.Message, details, a.Notified, a.Resolved, a.CreatedAt)
	return err
}

func (s *Store) ListAlerts(ctx context.Context, resolved *bool) ([]*store.Alert, error) {
	builder := psql.Select("id, payout_id, batch_id, type, severity, message, details, notified, resolved, resolution_note, resolved_by, created_at, resolved_at").From("alerts")
	if resolved != nil {
		builder = builder.Where(sq.Eq{"resolved": *resolved})
	}
	query, args, err := builder.OrderBy("created_at ASC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.Alert
	for rows.Next() {
		var a store.Alert
		var details []byte
		if err := rows.Scan(&a.ID, &a.PayoutID, &a.BatchID, &a.Type, &a.Severity, &a.Message, &details,
			&a.Notified, &a.Resolved, &a.ResolutionNote, &a.ResolvedBy, &a.CreatedAt, &a.ResolvedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &a.Details)
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (*store.Alert, error) {
	var a store.Alert
	var details []byte
	err := s.q(ctx).QueryRow(ctx, `SELECT id, payout_id, batch_id, type, severity, message, details, notified,
		resolved, resolution_note, resolved_by, created_at, resolved_at FROM alerts WHERE id = $1`, id).Scan(
		&a.ID, &a.PayoutID, &a.BatchID, &a.Type, &a.Severity, &a.Message, &details,
		&a.Notified, &a.Resolved, &a.ResolutionNote, &a.ResolvedBy, &a.CreatedAt, &a.ResolvedAt)
	if err == pgx.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if len(details) > 0 {
		_ = json.Unmarshal(details, &a.Details)
	}
	return &a, err
}

func (s *Store) UpdateAlert(ctx context.Context, a *store.Alert) error {
	_, err := s.q(ctx).Exec(ctx, `UPDATE alerts SET resolved=$2, resolution_note=$3, resolved_by=$4, resolved_at=$5 WHERE id=$1`,
		a.ID, a.Resolved, a.ResolutionNote, a.ResolvedBy, a.ResolvedAt)
	return err
}

func (s *Store) StatsByStatus(ctx context.Context, tenantID string) (map[store.PayoutStatus]store.StatusStat, error) {
	builder := psql.Select("status, count(*), coalesce(sum(total_cost),0), coalesce(avg(extract(epoch from (settled_at - created_at))/3600.0),0)").
		From("payouts").GroupBy("status")
	if tenantID != "" {
		builder = builder.Where(sq.Eq{"tenant_id": tenantID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[store.PayoutStatus]store.StatusStat)
	for rows.Next() {
		var status store.PayoutStatus
		var stat store.StatusStat
		var total string
		if err := rows.Scan(&status, &stat.Count, &total, &stat.AvgSettlementHours); err != nil {
			return nil, err
		}
		stat.TotalAmount = total
		out[status] = stat
	}
	return out, nil
}
