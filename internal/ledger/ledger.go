/*
Package ledger implements the Ledger Hold Manager: open/release/reverse of
pre-authorization holds tied to payout lifecycle, plus a TTL sweep.

The state machine — open a reservation, settle it, or refund it — mirrors
the teacher's metering.ReservationStore almost exactly: OpenHold maps to
Reserve, Release maps to Settle, Reverse maps to Refund. The teacher kept
reservations in an in-memory map; holds here are durable rows so they
survive a worker restart, and each transition also posts an intent to the
external ledger collaborator.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AlfredDev/alfred/services/payouts/internal/apperr"
	"github.com/AlfredDev/alfred/services/payouts/internal/store"
)

// Ledger is the external double-entry ledger collaborator. The hold
// manager drives it; it never posts rows itself.
type Ledger interface {
	CreateHoldEntry(ctx context.Context, payoutID uuid.UUID, debitAccount, creditAccount string, amount string, currency string) (string, error)
	ReleaseHold(ctx context.Context, ledgerEntryID string) error
	ReverseHold(ctx context.Context, ledgerEntryID, reason string) error
}

// holdStore is the subset of store.Store the manager needs.
type holdStore interface {
	InsertHold(ctx context.Context, h *store.PayoutHold) error
	GetActiveHoldForPayout(ctx context.Context, payoutID uuid.UUID) (*store.PayoutHold, error)
	UpdateHold(ctx context.Context, h *store.PayoutHold) error
	FindExpiredActiveHolds(ctx context.Context, now time.Time) ([]*store.PayoutHold, error)
	GetPayout(ctx context.Context, id uuid.UUID) (*store.Payout, error)
	UpdatePayout(ctx context.Context, p *store.Payout) error
}

// Manager is the Ledger Hold Manager.
type Manager struct {
	db        holdStore
	ledger    Ledger
	holdTTL   time.Duration
	logger    zerolog.Logger
}

// NewManager builds a Manager. holdTTL is the default hold expiry
// (spec default 7 days, configurable).
func NewManager(db holdStore, ledgerClient Ledger, holdTTL time.Duration, logger zerolog.Logger) *Manager {
	if holdTTL <= 0 {
		holdTTL = 7 * 24 * time.Hour
	}
	return &Manager{
		db:      db,
		ledger:  ledgerClient,
		holdTTL: holdTTL,
		logger:  logger.With().Str("component", "ledger-hold-manager").Logger(),
	}
}

// OpenHold creates a hold atomic with payout creation. The caller is
// expected to be inside the same durable transaction as the payout insert.
func (m *Manager) OpenHold(ctx context.Context, p *store.Payout, debitAccount string) (*store.PayoutHold, error) {
	creditAccount := "payouts:pending"

	entryID, err := m.ledger.CreateHoldEntry(ctx, p.ID, debitAccount, creditAccount, p.TotalCost.String(), p.Currency)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInsufficientBalance, "ledger declined hold", err)
	}

	hold := &store.PayoutHold{
		ID:            uuid.New(),
		PayoutID:      p.ID,
		Amount:        p.TotalCost,
		Currency:      p.Currency,
		DebitAccount:  debitAccount,
		CreditAccount: creditAccount,
		Status:        store.HoldActive,
		ExpiresAt:     time.Now().Add(m.holdTTL),
		LedgerEntryID: entryID,
		CreatedAt:     time.Now(),
	}

	if err := m.db.InsertHold(ctx, hold); err != nil {
		return nil, fmt.Errorf("ledger: insert hold: %w", err)
	}
	return hold, nil
}

// Release idempotently transitions the active hold for payoutID to
// released. No-op if already released or reversed.
func (m *Manager) Release(ctx context.Context, payoutID uuid.UUID) error {
	hold, err := m.db.GetActiveHoldForPayout(ctx, payoutID)
	if err != nil {
		if err == apperr.ErrNoActiveHold {
			return nil // already released/reversed; idempotent no-op
		}
		return err
	}

	if err := m.ledger.ReleaseHold(ctx, hold.LedgerEntryID); err != nil {
		return apperr.Wrap(apperr.KindProcessingError, "ledger release failed", err)
	}

	now := time.Now()
	hold.Status = store.HoldReleased
	hold.ReleasedAt = &now
	return m.db.UpdateHold(ctx, hold)
}

// Reverse idempotently transitions the active hold for payoutID to
// reversed, recording reason.
func (m *Manager) Reverse(ctx context.Context, payoutID uuid.UUID, reason string) error {
	hold, err := m.db.GetActiveHoldForPayout(ctx, payoutID)
	if err != nil {
		if err == apperr.ErrNoActiveHold {
			return nil
		}
		return err
	}

	if err := m.ledger.ReverseHold(ctx, hold.LedgerEntryID, reason); err != nil {
		return apperr.Wrap(apperr.KindProcessingError, "ledger reverse failed", err)
	}

	now := time.Now()
	hold.Status = store.HoldReversed
	hold.ReversedAt = &now
	return m.db.UpdateHold(ctx, hold)
}

// SweepExpired finds active holds past expires_at whose payout is still
// pre-submit, marks them expired, and forces the payout to failed with
// reason hold_expired.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	expired, err := m.db.FindExpiredActiveHolds(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, hold := range expired {
		p, err := m.db.GetPayout(ctx, hold.PayoutID)
		if err != nil {
			m.logger.Error().Err(err).Str("hold_id", hold.ID.String()).Msg("failed to load payout for expired hold")
			continue
		}
		if p.Status != store.StatusPending && p.Status != store.StatusScheduled && p.Status != store.StatusOnHold {
			continue
		}
		hold.Status = store.HoldExpired
		if err := m.db.UpdateHold(ctx, hold); err != nil {
			m.logger.Error().Err(err).Str("hold_id", hold.ID.String()).Msg("failed to expire hold")
			continue
		}
		now := time.Now()
		p.Status = store.StatusFailed
		p.FailedAt = &now
		p.LastError.Code = string(apperr.KindHoldExpired)
		p.LastError.Message = "hold expired"
		if err := m.db.UpdatePayout(ctx, p); err != nil {
			m.logger.Error().Err(err).Str("payout_id", p.ID.String()).Msg("failed to fail payout for expired hold")
			continue
		}
		swept++
		m.logger.Warn().Str("payout_id", hold.PayoutID.String()).Msg("hold expired, payout failed")
	}
	return swept, nil
}
