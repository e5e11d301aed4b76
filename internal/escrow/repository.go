package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

const entryColumns = `id, transaction_id, photo_id, buyer_id, photographer_id, status, amount, photographer_share, platform_fee,
	revision_count, max_revisions, revision_reason, refund_reason, purchased_at, upload_deadline, delivered_at,
	confirmation_deadline, released_at, refunded_at, auto_released, version, updated_at`

func scanEntry(row pgx.Row) (*models.EscrowEntry, error) {
	var e models.EscrowEntry
	err := row.Scan(&e.ID, &e.TransactionID, &e.PhotoID, &e.BuyerID, &e.PhotographerID, &e.Status, &e.Amount,
		&e.PhotographerShare, &e.PlatformFee, &e.RevisionCount, &e.MaxRevisions, &e.RevisionReason, &e.RefundReason,
		&e.PurchasedAt, &e.UploadDeadline, &e.DeliveredAt, &e.ConfirmationDeadline, &e.ReleasedAt, &e.RefundedAt,
		&e.AutoReleased, &e.Version, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collect(rows pgx.Rows, err error) ([]*models.EscrowEntry, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EscrowEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func statusStrings(statuses []models.EscrowStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, e *models.EscrowEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO escrow_entries (id, transaction_id, photo_id, buyer_id, photographer_id, status, amount,
			photographer_share, platform_fee, max_revisions, purchased_at, upload_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING version, updated_at
	`, e.ID, e.TransactionID, e.PhotoID, e.BuyerID, e.PhotographerID, e.Status, e.Amount,
		e.PhotographerShare, e.PlatformFee, e.MaxRevisions, e.PurchasedAt, e.UploadDeadline).Scan(&e.Version, &e.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateTransaction
	}
	return err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowEntry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM escrow_entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "escrow %s not found", id)
	}
	return e, err
}

func (r *Repository) GetByTransactionID(ctx context.Context, transactionID string) (*models.EscrowEntry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM escrow_entries WHERE transaction_id = $1`, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no escrow for transaction %s", transactionID)
	}
	return e, err
}

// Update writes every mutable column if the row still has e.Version, and
// bumps the version.
func (r *Repository) Update(ctx context.Context, tx pgx.Tx, e *models.EscrowEntry) error {
	err := tx.QueryRow(ctx, `
		UPDATE escrow_entries SET status = $3, revision_count = $4, revision_reason = $5, refund_reason = $6,
			upload_deadline = $7, delivered_at = $8, confirmation_deadline = $9, released_at = $10,
			refunded_at = $11, auto_released = $12, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`, e.ID, e.Version, e.Status, e.RevisionCount, e.RevisionReason, e.RefundReason, e.UploadDeadline,
		e.DeliveredAt, e.ConfirmationDeadline, e.ReleasedAt, e.RefundedAt, e.AutoReleased).Scan(&e.Version, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindConcurrentModification, "escrow %s was modified concurrently", e.ID)
	}
	return err
}

func (r *Repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, limit int) ([]*models.EscrowEntry, error) {
	return collect(r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM escrow_entries WHERE buyer_id = $1 ORDER BY purchased_at DESC LIMIT $2
	`, buyerID, limit))
}

// ListByPhotographer filters by stored status when statuses is non-empty.
// The hi-res queue is ordered by the nearest upload deadline.
func (r *Repository) ListByPhotographer(ctx context.Context, photographerID uuid.UUID, statuses []models.EscrowStatus, limit int) ([]*models.EscrowEntry, error) {
	if len(statuses) == 0 {
		return collect(r.pool.Query(ctx, `
			SELECT `+entryColumns+` FROM escrow_entries WHERE photographer_id = $1 ORDER BY purchased_at DESC LIMIT $2
		`, photographerID, limit))
	}
	return collect(r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM escrow_entries
		WHERE photographer_id = $1 AND status = ANY($2)
		ORDER BY upload_deadline ASC LIMIT $3
	`, photographerID, statusStrings(statuses), limit))
}

func (r *Repository) ListByStatus(ctx context.Context, statuses []models.EscrowStatus, limit int) ([]*models.EscrowEntry, error) {
	return collect(r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM escrow_entries WHERE status = ANY($1) ORDER BY updated_at DESC LIMIT $2
	`, statusStrings(statuses), limit))
}

// ListOverdueConfirmations returns entries whose stored status still says
// WAITING_CONFIRMATION after the confirmation deadline.
func (r *Repository) ListOverdueConfirmations(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM escrow_entries
		WHERE status = $1 AND confirmation_deadline <= $2
		ORDER BY confirmation_deadline ASC LIMIT $3
	`, models.EscrowWaitingConfirmation, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListPurchasedSince returns entries purchased since the given time, for the
// hi-res SLA report.
func (r *Repository) ListPurchasedSince(ctx context.Context, since time.Time) ([]*models.EscrowEntry, error) {
	return collect(r.pool.Query(ctx, `
		SELECT `+entryColumns+` FROM escrow_entries WHERE purchased_at >= $1 AND status <> $2 ORDER BY purchased_at ASC
	`, since, models.EscrowNotApplicable))
}
