// Package delivery stores hi-res delivery versions. Versions are append-only;
// the newest one is what the buyer downloads.
package delivery

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ambilfoto/backend/internal/models"
)

// Store is the append-only version store used by the escrow service.
type Store interface {
	Append(ctx context.Context, tx pgx.Tx, v *models.DeliveryVersion) error
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]*models.DeliveryVersion, error)
	Latest(ctx context.Context, escrowID uuid.UUID) (*models.DeliveryVersion, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// Append assigns the next version number for the escrow and inserts the row.
// The escrow entry is version-locked by the caller in the same transaction,
// and (escrow_id, version_number) is unique, so numbers never repeat.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, v *models.DeliveryVersion) error {
	return tx.QueryRow(ctx, `
		INSERT INTO delivery_versions (id, escrow_id, version_number, file_ref, content_type, resolution, file_size_mb, photographer_notes, uploaded_at)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(version_number), 0) + 1 FROM delivery_versions WHERE escrow_id = $2),
			$3, $4, $5, $6, $7, $8)
		RETURNING version_number
	`, v.ID, v.EscrowID, v.FileRef, v.ContentType, v.Resolution, v.FileSizeMB, v.PhotographerNotes, v.UploadedAt).Scan(&v.VersionNumber)
}

const versionColumns = `id, escrow_id, version_number, file_ref, content_type, resolution, file_size_mb, photographer_notes, uploaded_at`

func scanVersion(row pgx.Row) (*models.DeliveryVersion, error) {
	var v models.DeliveryVersion
	if err := row.Scan(&v.ID, &v.EscrowID, &v.VersionNumber, &v.FileRef, &v.ContentType, &v.Resolution,
		&v.FileSizeMB, &v.PhotographerNotes, &v.UploadedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repository) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]*models.DeliveryVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+versionColumns+` FROM delivery_versions WHERE escrow_id = $1 ORDER BY version_number ASC
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.DeliveryVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// Latest returns nil when nothing has been uploaded yet.
func (r *Repository) Latest(ctx context.Context, escrowID uuid.UUID) (*models.DeliveryVersion, error) {
	v, err := scanVersion(r.pool.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM delivery_versions WHERE escrow_id = $1 ORDER BY version_number DESC LIMIT 1
	`, escrowID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, err
}
