package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/models"
)

// ErrDuplicateEntry is returned by a Store when an escrow-scoped entry of the
// same type already exists.
var ErrDuplicateEntry = errors.New("ledger entry already applied")

// Store persists wallets and their entries. Methods taking a pgx.Tx run inside
// the caller's transaction.
type Store interface {
	LockWallet(ctx context.Context, tx pgx.Tx, photographerID uuid.UUID) (*models.Wallet, error)
	SaveWallet(ctx context.Context, tx pgx.Tx, w *models.Wallet) error
	InsertEntry(ctx context.Context, tx pgx.Tx, e *models.WalletEntry) error
	HasEscrowEntry(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID, entryType string) (bool, error)
	GetWallet(ctx context.Context, photographerID uuid.UUID) (*models.Wallet, error)
	ListEntries(ctx context.Context, photographerID uuid.UUID, limit int) ([]*models.WalletEntry, error)
}

// Service is the single entry point for wallet mutations. Every method locks
// the wallet row, applies one operation and appends one ledger line.
type Service interface {
	CreditRelease(ctx context.Context, tx pgx.Tx, photographerID, escrowID uuid.UUID, amount int64) (*models.Wallet, error)
	ReverseRelease(ctx context.Context, tx pgx.Tx, photographerID, escrowID uuid.UUID, amount int64, note string) (*models.Wallet, error)
	HoldWithdrawal(ctx context.Context, tx pgx.Tx, photographerID, withdrawalID uuid.UUID, amount int64) (*models.Wallet, error)
	ReleaseWithdrawal(ctx context.Context, tx pgx.Tx, photographerID, withdrawalID uuid.UUID, amount int64, note string) (*models.Wallet, error)
	SettleWithdrawal(ctx context.Context, tx pgx.Tx, photographerID, withdrawalID uuid.UUID, amount int64) (*models.Wallet, error)
	Wallet(ctx context.Context, photographerID uuid.UUID) (*models.Wallet, error)
	Entries(ctx context.Context, photographerID uuid.UUID, limit int) ([]*models.WalletEntry, error)
}

type service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) Service {
	return &service{store: store, now: time.Now}
}

var _ Service = (*service)(nil)

type walletOp func(w *models.Wallet) error

func (s *service) apply(ctx context.Context, tx pgx.Tx, photographerID uuid.UUID, entry models.WalletEntry, op walletOp) (*models.Wallet, error) {
	w, err := s.store.LockWallet(ctx, tx, photographerID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	// Escrow-scoped entries apply once; check under the lock before touching balances.
	if entry.EscrowID != nil {
		applied, err := s.store.HasEscrowEntry(ctx, tx, *entry.EscrowID, entry.EntryType)
		if err != nil {
			return nil, fmt.Errorf("check wallet entry: %w", err)
		}
		if applied {
			return nil, apperr.New(apperr.KindInvalidState, "%s already applied", entry.EntryType)
		}
	}
	if err := op(w); err != nil {
		return nil, err
	}
	if err := CheckInvariant(w); err != nil {
		return nil, err
	}

	entry.ID = uuid.New()
	entry.PhotographerID = photographerID
	entry.BalanceAfter = w.Balance
	entry.AvailableAfter = w.AvailableForWithdrawal
	entry.CreatedAt = s.now()
	if err := s.store.InsertEntry(ctx, tx, &entry); err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			return nil, apperr.New(apperr.KindInvalidState, "%s already applied", entry.EntryType)
		}
		return nil, fmt.Errorf("insert wallet entry: %w", err)
	}
	if err := s.store.SaveWallet(ctx, tx, w); err != nil {
		return nil, fmt.Errorf("save wallet: %w", err)
	}
	return w, nil
}

func (s *service) CreditRelease(ctx context.Context, tx pgx.Tx, photographerID, escrowID uuid.UUID, amount int64) (*models.Wallet, error) {
	return s.apply(ctx, tx, photographerID, models.WalletEntry{
		EntryType: models.WalletEntryEscrowRelease, Amount: amount, EscrowID: &escrowID,
	}, func(w *models.Wallet) error { return credit(w, amount) })
}

// ReverseRelease is the compensating path for a dispute on an already
// released purchase. The escrow entry itself stays RELEASED.
func (s *service) ReverseRelease(ctx context.Context, tx pgx.Tx, photographerID, escrowID uuid.UUID, amount int64, note string) (*models.Wallet, error) {
	return s.apply(ctx, tx, photographerID, models.WalletEntry{
		EntryType: models.WalletEntryChargeback, Amount: amount, EscrowID: &escrowID, Note: note,
	}, func(w *models.Wallet) error { return reverse(w, amount) })
}

func (s *service) HoldWithdrawal(ctx context.Context, tx pgx.Tx, photographerID, withdrawalID uuid.UUID, amount int64) (*models.Wallet, error) {
	return s.apply(ctx, tx, photographerID, models.WalletEntry{
		EntryType: models.WalletEntryWithdrawalHold, Amount: amount, WithdrawalID: &withdrawalID,
	}, func(w *models.Wallet) error { return hold(w, amount) })
}

func (s *service) ReleaseWithdrawal(ctx context.Context, tx pgx.Tx, photographerID, withdrawalID uuid.UUID, amount int64, note string) (*models.Wallet, error) {
	return s.apply(ctx, tx, photographerID, models.WalletEntry{
		EntryType: models.WalletEntryWithdrawalRelease, Amount: amount, WithdrawalID: &withdrawalID, Note: note,
	}, func(w *models.Wallet) error { return unhold(w, amount) })
}

func (s *service) SettleWithdrawal(ctx context.Context, tx pgx.Tx, photographerID, withdrawalID uuid.UUID, amount int64) (*models.Wallet, error) {
	return s.apply(ctx, tx, photographerID, models.WalletEntry{
		EntryType: models.WalletEntryWithdrawalPaid, Amount: amount, WithdrawalID: &withdrawalID,
	}, func(w *models.Wallet) error { return settle(w, amount) })
}

func (s *service) Wallet(ctx context.Context, photographerID uuid.UUID) (*models.Wallet, error) {
	return s.store.GetWallet(ctx, photographerID)
}

func (s *service) Entries(ctx context.Context, photographerID uuid.UUID, limit int) ([]*models.WalletEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListEntries(ctx, photographerID, limit)
}
