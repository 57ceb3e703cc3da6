package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foldmarkets/settld/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Trades are
// append-only; inserts happen inside ledger commits.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, kind, market_id, answer_id, outcome,
	taker_account_id, taker_order_id, maker_account_id, maker_order_id,
	amount, shares, price, created_at`

// ListByMarket returns a market's trades, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE market_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		marketID, limitOf(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", marketID, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListBefore returns all trades recorded before the cutoff, oldest first.
// The archiver drains batches with it.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE created_at < $1 ORDER BY created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

func collectTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var out []domain.Trade
	for rows.Next() {
		var (
			t       domain.Trade
			kind    string
			outcome string
		)
		err := rows.Scan(
			&t.ID, &kind, &t.MarketID, &t.AnswerID, &outcome,
			&t.TakerAccountID, &t.TakerOrderID, &t.MakerAccountID, &t.MakerOrderID,
			&t.Amount, &t.Shares, &t.Price, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Kind = domain.TradeKind(kind)
		t.Outcome = domain.Outcome(outcome)
		out = append(out, t)
	}
	return out, rows.Err()
}
