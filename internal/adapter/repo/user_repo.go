package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// UserRepositoryPG implements domain.UserRepository backed by PostgreSQL.
type UserRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepositoryPG.
func NewUserRepository(pool *pgxpool.Pool) *UserRepositoryPG {
	return &UserRepositoryPG{pool: pool}
}

// GetByID fetches a user by identifier.
func (r *UserRepositoryPG) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, credits, created_at, updated_at FROM users WHERE id = $1`, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Credits, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Debit subtracts amount from the balance if and only if it stays
// non-negative. The balance check and the subtraction are one statement, so
// concurrent debits against the same account serialize on the row.
func (r *UserRepositoryPG) Debit(ctx context.Context, userID string, amount int) error {
	query := `
UPDATE users
SET credits = credits - $2,
    updated_at = NOW()
WHERE id = $1
  AND credits >= $2;
`
	tag, err := r.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// Zero rows means either an unknown account or an uncovered balance.
	if _, err := r.GetByID(ctx, userID); err != nil {
		return err
	}
	return domain.ErrInsufficientCredits
}

// Credit adds amount back to the balance.
func (r *UserRepositoryPG) Credit(ctx context.Context, userID string, amount int) error {
	query := `
UPDATE users
SET credits = credits + $2,
    updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
