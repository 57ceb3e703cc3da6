package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foldmarkets/settld/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. All order
// writes go through the ledger commit path; this store is read-only.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, account_id, market_id, answer_id, outcome, side,
	amount_units, limit_prob, status, fills, expires_at,
	version, created_at, updated_at`

// GetByID returns one order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: order %s: %w", id, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListOpenByMarket returns resting orders on one book in FIFO order.
func (s *OrderStore) ListOpenByMarket(ctx context.Context, marketID, answerID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE market_id = $1 AND answer_id = $2 AND status IN ($3, $4)
		 ORDER BY created_at, id`,
		marketID, answerID,
		string(domain.OrderStatusOpen), string(domain.OrderStatusPartiallyFilled))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListByAccount returns an account's orders, newest first.
func (s *OrderStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		accountID, limitOf(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", accountID, err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var (
		o       domain.Order
		outcome string
		side    string
		status  string
		fills   []byte
	)
	err := scanner.Scan(
		&o.ID, &o.AccountID, &o.MarketID, &o.AnswerID, &outcome, &side,
		&o.AmountUnits, &o.LimitProb, &status, &fills, &o.ExpiresAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Outcome = domain.Outcome(outcome)
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	if len(fills) > 0 {
		if err := json.Unmarshal(fills, &o.Fills); err != nil {
			return domain.Order{}, fmt.Errorf("decode fills: %w", err)
		}
	}
	return o, nil
}
