package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) CreateAccount(ctx context.Context, a *Account, passwordHash string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (id, address, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.Address, a.Email, passwordHash, a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAccount
		}
		return err
	}
	return nil
}

// EnsureAccount upserts a bare address-only account row. The no-op conflict
// update makes RETURNING yield the existing row on repeat logins.
func (r *Repository) EnsureAccount(ctx context.Context, address string, now time.Time) (*Account, error) {
	a := &Account{}
	var email *string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (address, created_at)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING id, address, email, created_at
	`, address, now).Scan(&a.ID, &a.Address, &email, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if email != nil {
		a.Email = *email
	}
	return a, nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*Account, string, error) {
	a := &Account{}
	var passwordHash *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, address, email, password_hash, created_at
		FROM accounts WHERE email = $1
	`, email).Scan(&a.ID, &a.Address, &a.Email, &passwordHash, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrAccountNotFound
	}
	if err != nil {
		return nil, "", err
	}
	if passwordHash == nil {
		return nil, "", ErrAccountNotFound
	}
	return a, *passwordHash, nil
}
