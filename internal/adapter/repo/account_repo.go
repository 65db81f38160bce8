package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// AccountRepositoryPG implements domain.AccountRepository.
type AccountRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new account repository backed by PostgreSQL.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepositoryPG {
	return &AccountRepositoryPG{pool: pool}
}

// GetByID fetches an account by its identifier.
func (r *AccountRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `
SELECT id, email, display_name, country, credit_balance, created_at, updated_at
FROM accounts
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var acc domain.Account
	if err := row.Scan(
		&acc.ID,
		&acc.Email,
		&acc.DisplayName,
		&acc.Country,
		&acc.CreditBalance,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// GetOrCreate inserts the account with the signup grant on first
// authentication. An existing account is returned as stored; the grant is
// applied at most once.
func (r *AccountRepositoryPG) GetOrCreate(ctx context.Context, account *domain.Account, startingBalance int64) (*domain.Account, error) {
	query := `
INSERT INTO accounts (id, email, display_name, country, credit_balance)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET email        = COALESCE(NULLIF(EXCLUDED.email, ''), accounts.email),
    display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), accounts.display_name),
    updated_at   = NOW()
RETURNING id, email, display_name, country, credit_balance, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, query,
		account.ID,
		account.Email,
		account.DisplayName,
		account.Country,
		startingBalance,
	)
	var acc domain.Account
	if err := row.Scan(
		&acc.ID,
		&acc.Email,
		&acc.DisplayName,
		&acc.Country,
		&acc.CreditBalance,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &acc, nil
}

// AdjustBalance applies delta as a single guarded UPDATE so concurrent
// requests against the same account serialize at the store, and a debit can
// never push the balance below zero.
func (r *AccountRepositoryPG) AdjustBalance(ctx context.Context, id string, delta int64) (int64, error) {
	query := `
UPDATE accounts
SET credit_balance = credit_balance + $2,
    updated_at = NOW()
WHERE id = $1 AND credit_balance + $2 >= 0
RETURNING credit_balance;
`
	row := r.pool.QueryRow(ctx, query, id, delta)
	var balance int64
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return 0, getErr
			}
			return 0, domain.ErrInsufficientCredits
		}
		return 0, err
	}
	return balance, nil
}

var _ domain.AccountRepository = (*AccountRepositoryPG)(nil)
