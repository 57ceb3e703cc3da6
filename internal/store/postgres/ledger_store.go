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

// LedgerStore implements domain.LedgerStore using PostgreSQL. Commits run
// inside one transaction; every UPDATE carries WHERE version = $n and an
// unmatched row count rolls the whole transaction back with ErrConflict.
type LedgerStore struct {
	pool     *pgxpool.Pool
	markets  *MarketStore
	accounts *AccountStore
	orders   *OrderStore
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{
		pool:     pool,
		markets:  NewMarketStore(pool),
		accounts: NewAccountStore(pool),
		orders:   NewOrderStore(pool),
	}
}

func (s *LedgerStore) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return s.markets.GetByID(ctx, id)
}

func (s *LedgerStore) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *LedgerStore) GetAccounts(ctx context.Context, ids []string) (map[string]domain.Account, error) {
	out := make(map[string]domain.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, balance_units, version, created_at, updated_at
		 FROM accounts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.BalanceUnits, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("postgres: account %s: %w", id, domain.ErrNotFound)
		}
	}
	return out, nil
}

func (s *LedgerStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *LedgerStore) ListOpenOrders(ctx context.Context, marketID, answerID string) ([]domain.Order, error) {
	return s.orders.ListOpenByMarket(ctx, marketID, answerID)
}

func (s *LedgerStore) ListPositions(ctx context.Context, accountID, marketID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, market_id, answer_id, outcome, shares, updated_at
		 FROM positions WHERE account_id = $1 AND ($2 = '' OR market_id = $2)
		 ORDER BY market_id, answer_id, outcome`,
		accountID, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var (
			p       domain.Position
			outcome string
		)
		if err := rows.Scan(&p.AccountID, &p.MarketID, &p.AnswerID, &outcome, &p.Shares, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Outcome = domain.Outcome(outcome)
		out = append(out, p)
	}
	return out, rows.Err()
}

// CommitTrade applies a full trade commit atomically.
func (s *LedgerStore) CommitTrade(ctx context.Context, commit domain.TradeCommit) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := updateMarket(ctx, tx, commit.Market, true); err != nil {
			return err
		}
		if err := insertOrder(ctx, tx, commit.TakerOrder); err != nil {
			return err
		}
		for _, o := range commit.MakerOrders {
			if err := updateOrder(ctx, tx, o); err != nil {
				return err
			}
		}
		for _, o := range commit.CancelOrders {
			if err := updateOrder(ctx, tx, o); err != nil {
				return err
			}
		}
		for id, delta := range commit.BalanceDeltas {
			if err := adjustBalance(ctx, tx, id, delta, commit.AccountVersions[id]); err != nil {
				return err
			}
		}
		if err := applyPositionDeltas(ctx, tx, commit.PositionDeltas); err != nil {
			return err
		}
		return insertTrades(ctx, tx, commit.Trades)
	})
}

// CommitCancel marks one order cancelled under its version guard.
func (s *LedgerStore) CommitCancel(ctx context.Context, order domain.Order) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return updateOrder(ctx, tx, order)
	})
}

// CommitRedemption credits an account and burns share pairs. The market
// version is checked but not advanced: redemptions do not move the pool.
func (s *LedgerStore) CommitRedemption(ctx context.Context, commit domain.RedemptionCommit) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var version int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM markets WHERE id = $1`, commit.Market.ID,
		).Scan(&version)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("postgres: market %s: %w", commit.Market.ID, domain.ErrNotFound)
			}
			return fmt.Errorf("postgres: read market version: %w", err)
		}
		if version != commit.Market.Version {
			return fmt.Errorf("postgres: market %s version %d != %d: %w",
				commit.Market.ID, version, commit.Market.Version, domain.ErrConflict)
		}

		if err := adjustBalance(ctx, tx, commit.AccountID, commit.CreditUnits, commit.AccountVersion); err != nil {
			return err
		}
		if err := applyPositionDeltas(ctx, tx, commit.PositionDeltas); err != nil {
			return err
		}
		return insertTrades(ctx, tx, commit.Trades)
	})
}

func (s *LedgerStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func updateMarket(ctx context.Context, tx pgx.Tx, m domain.Market, bump bool) error {
	mech, err := domain.EncodeMechanism(m.Mechanism)
	if err != nil {
		return fmt.Errorf("postgres: encode mechanism: %w", err)
	}
	next := m.Version
	if bump {
		next++
	}
	tag, err := tx.Exec(ctx,
		`UPDATE markets SET mechanism = $1, volume = $2,
		  platform_fees = $3, creator_fees = $4, liquidity_fees = $5,
		  status = $6, resolved_outcome = $7, version = $8, updated_at = $9
		 WHERE id = $10 AND version = $11`,
		mech, m.Volume,
		m.CollectedFees.Platform, m.CollectedFees.Creator, m.CollectedFees.Liquidity,
		string(m.Status), m.ResolvedOutcome, next, m.UpdatedAt,
		m.ID, m.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %s version %d stale: %w", m.ID, m.Version, domain.ErrConflict)
	}
	return nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o domain.Order) error {
	fills, err := json.Marshal(o.Fills)
	if err != nil {
		return fmt.Errorf("postgres: encode fills: %w", err)
	}
	if o.Version == 0 {
		o.Version = 1
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO orders (
			id, account_id, market_id, answer_id, outcome, side,
			amount_units, limit_prob, status, fills, expires_at,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.AccountID, o.MarketID, o.AnswerID, string(o.Outcome), string(o.Side),
		o.AmountUnits, o.LimitProb, string(o.Status), fills, o.ExpiresAt,
		o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order %s: %w", o.ID, err)
	}
	return nil
}

func updateOrder(ctx context.Context, tx pgx.Tx, o domain.Order) error {
	fills, err := json.Marshal(o.Fills)
	if err != nil {
		return fmt.Errorf("postgres: encode fills: %w", err)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $1, fills = $2, version = $3, updated_at = $4
		 WHERE id = $5 AND version = $6`,
		string(o.Status), fills, o.Version+1, o.UpdatedAt,
		o.ID, o.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: order %s version %d stale: %w", o.ID, o.Version, domain.ErrConflict)
	}
	return nil
}

func adjustBalance(ctx context.Context, tx pgx.Tx, id string, delta, version int64) error {
	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance_units = balance_units + $1,
		  version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		delta, id, version,
	)
	if err != nil {
		return fmt.Errorf("postgres: adjust balance %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: account %s version %d stale: %w", id, version, domain.ErrConflict)
	}
	return nil
}

func applyPositionDeltas(ctx context.Context, tx pgx.Tx, deltas []domain.PositionDelta) error {
	for _, d := range deltas {
		_, err := tx.Exec(ctx,
			`INSERT INTO positions (account_id, market_id, answer_id, outcome, shares, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())
			 ON CONFLICT (account_id, market_id, answer_id, outcome)
			 DO UPDATE SET shares = positions.shares + EXCLUDED.shares, updated_at = NOW()`,
			d.AccountID, d.MarketID, d.AnswerID, string(d.Outcome), d.Shares,
		)
		if err != nil {
			return fmt.Errorf("postgres: apply position delta: %w", err)
		}
		// Fully-netted buckets are removed so reads stay compact.
		_, err = tx.Exec(ctx,
			`DELETE FROM positions
			 WHERE account_id = $1 AND market_id = $2 AND answer_id = $3 AND outcome = $4
			   AND abs(shares) < 1e-9`,
			d.AccountID, d.MarketID, d.AnswerID, string(d.Outcome),
		)
		if err != nil {
			return fmt.Errorf("postgres: prune position: %w", err)
		}
	}
	return nil
}

func insertTrades(ctx context.Context, tx pgx.Tx, trades []domain.Trade) error {
	for _, t := range trades {
		_, err := tx.Exec(ctx,
			`INSERT INTO trades (
				id, kind, market_id, answer_id, outcome,
				taker_account_id, taker_order_id, maker_account_id, maker_order_id,
				amount, shares, price, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			t.ID, string(t.Kind), t.MarketID, t.AnswerID, string(t.Outcome),
			t.TakerAccountID, t.TakerOrderID, t.MakerAccountID, t.MakerOrderID,
			t.Amount, t.Shares, t.Price, t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
		}
	}
	return nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
