package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foldmarkets/settld/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Create inserts a new account.
func (s *AccountStore) Create(ctx context.Context, a domain.Account) error {
	if a.Version == 0 {
		a.Version = 1
	}
	const query = `
		INSERT INTO accounts (id, balance_units, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())`
	_, err := s.pool.Exec(ctx, query, a.ID, a.BalanceUnits, a.Version, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create account %s: %w", a.ID, err)
	}
	return nil
}

// GetByID returns one account.
func (s *AccountStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	var a domain.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, balance_units, version, created_at, updated_at
		 FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.BalanceUnits, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("postgres: account %s: %w", id, domain.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}
