package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foldmarkets/settld/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketSelectCols = `id, mechanism, volume,
	platform_fees, creator_fees, liquidity_fees,
	close_time, status, resolved_outcome, version, created_at, updated_at`

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	mech, err := domain.EncodeMechanism(m.Mechanism)
	if err != nil {
		return fmt.Errorf("postgres: encode mechanism for market %s: %w", m.ID, err)
	}
	if m.Version == 0 {
		m.Version = 1
	}

	const query = `
		INSERT INTO markets (
			id, mechanism, volume,
			platform_fees, creator_fees, liquidity_fees,
			close_time, status, resolved_outcome, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`

	_, err = s.pool.Exec(ctx, query,
		m.ID, mech, m.Volume,
		m.CollectedFees.Platform, m.CollectedFees.Creator, m.CollectedFees.Liquidity,
		nullTime(m.CloseTime), string(m.Status), m.ResolvedOutcome, m.Version, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID returns one market.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListOpen returns open markets ordered by id.
func (s *MarketStore) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets
		 WHERE status = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		string(domain.MarketStatusOpen), limitOf(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMarket(scanner interface{ Scan(dest ...any) error }) (domain.Market, error) {
	var (
		m         domain.Market
		mech      []byte
		status    string
		closeTime *time.Time
	)
	err := scanner.Scan(
		&m.ID, &mech, &m.Volume,
		&m.CollectedFees.Platform, &m.CollectedFees.Creator, &m.CollectedFees.Liquidity,
		&closeTime, &status, &m.ResolvedOutcome, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if closeTime != nil {
		m.CloseTime = *closeTime
	}
	m.Mechanism, err = domain.DecodeMechanism(mech)
	if err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func limitOf(opts domain.ListOpts) int {
	if opts.Limit <= 0 {
		return 100
	}
	return opts.Limit
}
