package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ambilfoto/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const walletColumns = `photographer_id, balance, available_for_withdrawal, pending_withdrawal, total_earned, total_withdrawn, updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.PhotographerID, &w.Balance, &w.AvailableForWithdrawal, &w.PendingWithdrawal,
		&w.TotalEarned, &w.TotalWithdrawn, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// LockWallet creates the wallet on first touch and locks its row until the
// caller's transaction ends.
func (r *Repository) LockWallet(ctx context.Context, tx pgx.Tx, photographerID uuid.UUID) (*models.Wallet, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (photographer_id) VALUES ($1) ON CONFLICT (photographer_id) DO NOTHING
	`, photographerID); err != nil {
		return nil, err
	}
	return scanWallet(tx.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE photographer_id = $1 FOR UPDATE
	`, photographerID))
}

func (r *Repository) SaveWallet(ctx context.Context, tx pgx.Tx, w *models.Wallet) error {
	return tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = $2, available_for_withdrawal = $3, pending_withdrawal = $4,
			total_earned = $5, total_withdrawn = $6, updated_at = now()
		WHERE photographer_id = $1
		RETURNING updated_at
	`, w.PhotographerID, w.Balance, w.AvailableForWithdrawal, w.PendingWithdrawal,
		w.TotalEarned, w.TotalWithdrawn).Scan(&w.UpdatedAt)
}

// InsertEntry maps the (escrow_id, entry_type) unique violation to ErrDuplicateEntry.
func (r *Repository) InsertEntry(ctx context.Context, tx pgx.Tx, e *models.WalletEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO wallet_entries (id, photographer_id, entry_type, amount, escrow_id, withdrawal_id, balance_after, available_after, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, e.ID, e.PhotographerID, e.EntryType, e.Amount, e.EscrowID, e.WithdrawalID, e.BalanceAfter, e.AvailableAfter, e.Note).Scan(&e.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEntry
	}
	return err
}

func (r *Repository) HasEscrowEntry(ctx context.Context, tx pgx.Tx, escrowID uuid.UUID, entryType string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM wallet_entries WHERE escrow_id = $1 AND entry_type = $2)
	`, escrowID, entryType).Scan(&exists)
	return exists, err
}

// GetWallet returns a zero wallet for photographers that never earned.
func (r *Repository) GetWallet(ctx context.Context, photographerID uuid.UUID) (*models.Wallet, error) {
	w, err := scanWallet(r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE photographer_id = $1
	`, photographerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.Wallet{PhotographerID: photographerID}, nil
	}
	return w, err
}

func (r *Repository) ListEntries(ctx context.Context, photographerID uuid.UUID, limit int) ([]*models.WalletEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, photographer_id, entry_type, amount, escrow_id, withdrawal_id, balance_after, available_after, note, created_at
		FROM wallet_entries WHERE photographer_id = $1 ORDER BY created_at DESC LIMIT $2
	`, photographerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WalletEntry
	for rows.Next() {
		var e models.WalletEntry
		if err := rows.Scan(&e.ID, &e.PhotographerID, &e.EntryType, &e.Amount, &e.EscrowID, &e.WithdrawalID,
			&e.BalanceAfter, &e.AvailableAfter, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
