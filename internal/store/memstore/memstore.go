// Package memstore is an in-memory Store implementation used by tests and
// by local/dev wiring that runs without Postgres. Its locking shape mirrors
// the teacher's registries (provider.Registry, metering.ReservationStore):
// a single sync.RWMutex guarding plain Go maps, snapshot-copy on read.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AlfredDev/alfred/services/payouts/internal/apperr"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	payouts     map[uuid.UUID]*store.Payout
	byExternal  map[string]uuid.UUID
	holds       map[uuid.UUID]*store.PayoutHold
	holdByPayout map[uuid.UUID]uuid.UUID
	slaRules    map[uuid.UUID]*store.SLARule
	batches     map[uuid.UUID]*store.Batch
	batchItems  map[uuid.UUID][]*store.BatchItem
	retryLog    []*store.RetryLogEntry
	audit       []*store.AuditEvent
	auditSeq    int64
	alerts      map[uuid.UUID]*store.Alert
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		payouts:      make(map[uuid.UUID]*store.Payout),
		byExternal:   make(map[string]uuid.UUID),
		holds:        make(map[uuid.UUID]*store.PayoutHold),
		holdByPayout: make(map[uuid.UUID]uuid.UUID),
		slaRules:     make(map[uuid.UUID]*store.SLARule),
		batches:      make(map[uuid.UUID]*store.Batch),
		batchItems:   make(map[uuid.UUID][]*store.BatchItem),
		alerts:       make(map[uuid.UUID]*store.Alert),
	}
}

func clonePayout(p *store.Payout) *store.Payout {
	cp := *p
	return &cp
}

func (s *Store) InsertPayout(ctx context.Context, p *store.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payouts[p.ID]; exists {
		return apperr.ErrAlreadyExists
	}
	if p.ExternalID != nil {
		if _, exists := s.byExternal[*p.ExternalID]; exists {
			return apperr.ErrAlreadyExists
		}
	}
	s.payouts[p.ID] = clonePayout(p)
	if p.ExternalID != nil {
		s.byExternal[*p.ExternalID] = p.ID
	}
	return nil
}

func (s *Store) GetPayout(ctx context.Context, id uuid.UUID) (*store.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return clonePayout(p), nil
}

func (s *Store) GetPayoutByExternalID(ctx context.Context, externalID string) (*store.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return clonePayout(s.payouts[id]), nil
}

func (s *Store) UpdatePayout(ctx context.Context, p *store.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payouts[p.ID]; !ok {
		return apperr.ErrNotFound
	}
	s.payouts[p.ID] = clonePayout(p)
	if p.ExternalID != nil {
		s.byExternal[*p.ExternalID] = p.ID
	}
	return nil
}

func (s *Store) ListPayouts(ctx context.Context, filter store.PayoutFilter, page store.Pagination) ([]*store.Payout, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*store.Payout
	for _, p := range s.payouts {
		if filter.TenantID != "" && p.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Beneficiary != "" && p.Beneficiary.ID != filter.Beneficiary {
			continue
		}
		if filter.From != nil && p.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && p.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, clonePayout(p))
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })

	total := len(matched)
	if page.Limit <= 0 {
		page.Limit = 50
	}
	start := page.Offset
	if start > total {
		start = total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) LeasePending(ctx context.Context, limit int, byPriority bool) ([]*store.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var candidates []*store.Payout
	for _, p := range s.payouts {
		if p.Status != store.StatusPending && p.Status != store.StatusScheduled {
			continue
		}
		if p.ScheduledAt != nil && p.ScheduledAt.After(now) {
			continue
		}
		hid, ok := s.holdByPayout[p.ID]
		if !ok {
			continue
		}
		hold := s.holds[hid]
		if hold == nil || hold.Status != store.HoldActive {
			continue
		}
		candidates = append(candidates, p)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if byPriority && candidates[i].Priority.Rank() != candidates[j].Priority.Rank() {
			return candidates[i].Priority.Rank() > candidates[j].Priority.Rank()
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	leased := make([]*store.Payout, 0, len(candidates))
	for _, p := range candidates {
		leased = append(leased, clonePayout(p))
	}
	return leased, nil
}

func (s *Store) LeaseRetries(ctx context.Context, limit int) ([]*store.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var candidates []*store.Payout
	for _, p := range s.payouts {
		if p.Status != store.StatusFailed {
			continue
		}
		if p.RetryCount >= p.MaxRetries {
			continue
		}
		if p.NextRetryAt == nil || p.NextRetryAt.After(now) {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	leased := make([]*store.Payout, 0, len(candidates))
	for _, p := range candidates {
		leased = append(leased, clonePayout(p))
	}
	return leased, nil
}

func (s *Store) FindSLACandidates(ctx context.Context) ([]*store.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var out []*store.Payout
	for _, p := range s.payouts {
		if p.Status.Terminal() {
			continue
		}
		if p.SLAViolated {
			continue
		}
		if p.TargetSettlementDate == nil || !p.TargetSettlementDate.Before(today) {
			continue
		}
		out = append(out, clonePayout(p))
	}
	return out, nil
}

func (s *Store) FindStaleProcessing(ctx context.Context, olderThan time.Duration) ([]*store.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-olderThan)
	var out []*store.Payout
	for _, p := range s.payouts {
		if p.Status != store.StatusProcessing {
			continue
		}
		if p.ProcessedAt != nil && p.ProcessedAt.Before(cutoff) {
			out = append(out, clonePayout(p))
		}
	}
	return out, nil
}

func (s *Store) InsertHold(ctx context.Context, h *store.PayoutHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.holds[h.ID] = &cp
	s.holdByPayout[h.PayoutID] = h.ID
	return nil
}

func (s *Store) GetActiveHoldForPayout(ctx context.Context, payoutID uuid.UUID) (*store.PayoutHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hid, ok := s.holdByPayout[payoutID]
	if !ok {
		return nil, apperr.ErrNoActiveHold
	}
	h := s.holds[hid]
	if h == nil || h.Status != store.HoldActive {
		return nil, apperr.ErrNoActiveHold
	}
	cp := *h
	return &cp, nil
}

func (s *Store) UpdateHold(ctx context.Context, h *store.PayoutHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.holds[h.ID]; !ok {
		return apperr.ErrNotFound
	}
	cp := *h
	s.holds[h.ID] = &cp
	return nil
}

func (s *Store) FindExpiredActiveHolds(ctx context.Context, now time.Time) ([]*store.PayoutHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.PayoutHold
	for _, h := range s.holds {
		if h.Status == store.HoldActive && h.ExpiresAt.Before(now) {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListActiveSLARules(ctx context.Context) ([]*store.SLARule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.SLARule
	for _, r := range s.slaRules {
		if r.Active {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) InsertSLARule(ctx context.Context, r *store.SLARule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.slaRules[r.ID] = &cp
	return nil
}

func (s *Store) InsertBatch(ctx context.Context, b *store.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (*store.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) UpdateBatch(ctx context.Context, b *store.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; !ok {
		return apperr.ErrNotFound
	}
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *Store) ListDueLockedBatches(ctx context.Context, now time.Time) ([]*store.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Batch
	for _, b := range s.batches {
		if b.Status == store.BatchLocked && !b.ScheduledAt.After(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListRecurringBatches(ctx context.Context) ([]*store.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Batch
	for _, b := range s.batches {
		if b.CronExpr != "" {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) InsertBatchItem(ctx context.Context, it *store.BatchItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *it
	s.batchItems[it.BatchID] = append(s.batchItems[it.BatchID], &cp)
	return nil
}

func (s *Store) ListBatchItems(ctx context.Context, batchID uuid.UUID) ([]*store.BatchItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.batchItems[batchID]
	out := make([]*store.BatchItem, len(items))
	for i, it := range items {
		cp := *it
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *Store) UpdateBatchItem(ctx context.Context, it *store.BatchItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.batchItems[it.BatchID]
	for i, existing := range items {
		if existing.ID == it.ID {
			cp := *it
			items[i] = &cp
			return nil
		}
	}
	return apperr.ErrNotFound
}

func (s *Store) AppendRetryLog(ctx context.Context, e *store.RetryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.retryLog = append(s.retryLog, &cp)
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, e *store.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditSeq++
	e.Sequence = s.auditSeq
	cp := *e
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *Store) ListAudit(ctx context.Context, payoutID uuid.UUID) ([]*store.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.AuditEvent
	for _, e := range s.audit {
		if e.PayoutID == payoutID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) InsertAlert(ctx context.Context, a *store.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *Store) ListAlerts(ctx context.Context, resolved *bool) ([]*store.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Alert
	for _, a := range s.alerts {
		if resolved != nil && a.Resolved != *resolved {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (*store.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) UpdateAlert(ctx context.Context, a *store.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; !ok {
		return apperr.ErrNotFound
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *Store) StatsByStatus(ctx context.Context, tenantID string) (map[store.PayoutStatus]store.StatusStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[store.PayoutStatus]store.StatusStat)
	for _, p := range s.payouts {
		if tenantID != "" && p.TenantID != tenantID {
			continue
		}
		stat := out[p.Status]
		stat.Count++
		out[p.Status] = stat
	}
	return out, nil
}

// WithTx just runs fn directly: every mutation below takes s.mu only for
// its own single map operation. There is no isolation and no rollback: if
// fn returns an error after some writes, those writes stay in place.
// Taking s.mu here would deadlock against the lock each call below
// re-acquires.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) Close() {}
