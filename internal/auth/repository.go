package auth

import (
	"context"
	"errors"

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

const accountColumns = `id, email, display_name, role, password_hash, created_at`

func (r *Repository) Create(ctx context.Context, a *models.Account) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.Email, a.DisplayName, a.Role, a.PasswordHash, a.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEmail
	}
	return err
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.get(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *Repository) get(ctx context.Context, query string, arg any) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, query, arg).Scan(&a.ID, &a.Email, &a.DisplayName, &a.Role, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "account not found")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
