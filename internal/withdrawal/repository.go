package withdrawal

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ambilfoto/backend/internal/apperr"
	"github.com/ambilfoto/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const requestColumns = `id, photographer_id, amount, status, bank_name, bank_account, account_holder, admin_note,
	transfer_proof_url, requested_at, processed_at, paid_at, version`

func scanRequest(row pgx.Row) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	if err := row.Scan(&w.ID, &w.PhotographerID, &w.Amount, &w.Status, &w.BankName, &w.BankAccount, &w.AccountHolder,
		&w.AdminNote, &w.TransferProofURL, &w.RequestedAt, &w.ProcessedAt, &w.PaidAt, &w.Version); err != nil {
		return nil, err
	}
	return &w, nil
}

func collect(rows pgx.Rows, err error) ([]*models.WithdrawalRequest, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WithdrawalRequest
	for rows.Next() {
		w, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, w *models.WithdrawalRequest) error {
	return tx.QueryRow(ctx, `
		INSERT INTO withdrawal_requests (id, photographer_id, amount, status, bank_name, bank_account, account_holder, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING version
	`, w.ID, w.PhotographerID, w.Amount, string(w.Status), w.BankName, w.BankAccount, w.AccountHolder, w.RequestedAt).Scan(&w.Version)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	w, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM withdrawal_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "withdrawal %s not found", id)
	}
	return w, err
}

// Update writes the admin-mutable columns if the row still has w.Version.
// Terminal rows are never matched, so they stay immutable at the SQL level too.
func (r *Repository) Update(ctx context.Context, tx pgx.Tx, w *models.WithdrawalRequest) error {
	err := tx.QueryRow(ctx, `
		UPDATE withdrawal_requests SET status = $3, admin_note = $4, transfer_proof_url = $5, processed_at = $6,
			paid_at = $7, version = version + 1
		WHERE id = $1 AND version = $2 AND status NOT IN ('paid', 'rejected', 'cancelled')
		RETURNING version
	`, w.ID, w.Version, string(w.Status), w.AdminNote, w.TransferProofURL, w.ProcessedAt, w.PaidAt).Scan(&w.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindConcurrentModification, "withdrawal %s was modified concurrently", w.ID)
	}
	return err
}

func (r *Repository) ListByPhotographer(ctx context.Context, photographerID uuid.UUID, limit int) ([]*models.WithdrawalRequest, error) {
	return collect(r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM withdrawal_requests WHERE photographer_id = $1 ORDER BY requested_at DESC LIMIT $2
	`, photographerID, limit))
}

func (r *Repository) ListByStatus(ctx context.Context, statuses []models.WithdrawalStatus, limit int) ([]*models.WithdrawalRequest, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return collect(r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM withdrawal_requests WHERE status = ANY($1) ORDER BY requested_at ASC LIMIT $2
	`, names, limit))
}
