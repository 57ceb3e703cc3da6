// Package memory is an in-process implementation of the versioned stores.
// It backs paper mode and the test suites; commit semantics, including
// version-guard conflicts, match the Postgres implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/numeric"
)

type positionKey struct {
	accountID string
	marketID  string
	answerID  string
	outcome   domain.Outcome
}

// Store holds everything under one mutex. Every commit runs the same
// version checks the SQL store enforces with WHERE version = $n.
type Store struct {
	mu        sync.RWMutex
	markets   map[string]domain.Market
	accounts  map[string]domain.Account
	orders    map[string]domain.Order
	positions map[positionKey]domain.Position
	trades    []domain.Trade

	beforeCommit func()
}

// New creates an empty store.
func New() *Store {
	return &Store{
		markets:   make(map[string]domain.Market),
		accounts:  make(map[string]domain.Account),
		orders:    make(map[string]domain.Order),
		positions: make(map[positionKey]domain.Position),
	}
}

// SetCommitHook installs fn to run inside the commit lock before version
// checks. Tests use it to interleave a conflicting write.
func (s *Store) SetCommitHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeCommit = fn
}

func cloneMarket(m domain.Market) domain.Market {
	if m.Mechanism != nil {
		m.Mechanism = m.Mechanism.Clone()
	}
	return m
}

func cloneOrder(o domain.Order) domain.Order {
	if o.Fills != nil {
		fills := make([]domain.Fill, len(o.Fills))
		copy(fills, o.Fills)
		o.Fills = fills
	}
	return o
}

// Create inserts a market.
func (s *Store) Create(ctx context.Context, market domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[market.ID]; ok {
		return fmt.Errorf("memory: market %s already exists: %w", market.ID, domain.ErrConflict)
	}
	if market.Version == 0 {
		market.Version = 1
	}
	s.markets[market.ID] = cloneMarket(market)
	return nil
}

// CreateAccount inserts an account.
func (s *Store) CreateAccount(ctx context.Context, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.ID]; ok {
		return fmt.Errorf("memory: account %s already exists: %w", account.ID, domain.ErrConflict)
	}
	if account.Version == 0 {
		account.Version = 1
	}
	s.accounts[account.ID] = account
	return nil
}

func (s *Store) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	return cloneMarket(m), nil
}

func (s *Store) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.Status == domain.MarketStatusOpen {
			out = append(out, cloneMarket(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("memory: account %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (s *Store) GetAccounts(ctx context.Context, ids []string) (map[string]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Account, len(ids))
	for _, id := range ids {
		a, ok := s.accounts[id]
		if !ok {
			return nil, fmt.Errorf("memory: account %s: %w", id, domain.ErrNotFound)
		}
		out[id] = a
	}
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("memory: order %s: %w", id, domain.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOpenOrders(ctx context.Context, marketID, answerID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.MarketID != marketID || o.AnswerID != answerID {
			continue
		}
		if o.Status != domain.OrderStatusOpen && o.Status != domain.OrderStatusPartiallyFilled {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.AccountID == accountID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func (s *Store) ListPositions(ctx context.Context, accountID, marketID string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for k, p := range s.positions {
		if k.accountID == accountID && (marketID == "" || k.marketID == marketID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AnswerID != out[j].AnswerID {
			return out[i].AnswerID < out[j].AnswerID
		}
		return out[i].Outcome < out[j].Outcome
	})
	return out, nil
}

func (s *Store) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return paginate(out, opts), nil
}

func (s *Store) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.CreatedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

// CommitTrade applies a full trade commit atomically, failing with
// ErrConflict if any version guard is stale.
func (s *Store) CommitTrade(ctx context.Context, commit domain.TradeCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.beforeCommit != nil {
		hook := s.beforeCommit
		s.beforeCommit = nil
		s.mu.Unlock()
		hook()
		s.mu.Lock()
	}

	if err := s.checkVersions(commit); err != nil {
		return err
	}

	market := cloneMarket(commit.Market)
	market.Version++
	s.markets[market.ID] = market

	taker := cloneOrder(commit.TakerOrder)
	if taker.Version == 0 {
		taker.Version = 1
	}
	s.orders[taker.ID] = taker

	for _, o := range commit.MakerOrders {
		o = cloneOrder(o)
		o.Version++
		s.orders[o.ID] = o
	}
	for _, o := range commit.CancelOrders {
		o = cloneOrder(o)
		o.Version++
		s.orders[o.ID] = o
	}

	for id, delta := range commit.BalanceDeltas {
		a := s.accounts[id]
		a.BalanceUnits += delta
		a.Version++
		a.UpdatedAt = market.UpdatedAt
		s.accounts[id] = a
	}

	s.applyPositionDeltas(commit.PositionDeltas, market.UpdatedAt)
	s.trades = append(s.trades, commit.Trades...)
	return nil
}

func (s *Store) checkVersions(commit domain.TradeCommit) error {
	stored, ok := s.markets[commit.Market.ID]
	if !ok {
		return fmt.Errorf("memory: market %s: %w", commit.Market.ID, domain.ErrNotFound)
	}
	if stored.Version != commit.Market.Version {
		return fmt.Errorf("memory: market %s version %d != %d: %w",
			commit.Market.ID, stored.Version, commit.Market.Version, domain.ErrConflict)
	}
	for id, version := range commit.AccountVersions {
		a, ok := s.accounts[id]
		if !ok {
			return fmt.Errorf("memory: account %s: %w", id, domain.ErrNotFound)
		}
		if a.Version != version {
			return fmt.Errorf("memory: account %s version %d != %d: %w",
				id, a.Version, version, domain.ErrConflict)
		}
	}
	for _, o := range append(append([]domain.Order{}, commit.MakerOrders...), commit.CancelOrders...) {
		cur, ok := s.orders[o.ID]
		if !ok {
			return fmt.Errorf("memory: order %s: %w", o.ID, domain.ErrNotFound)
		}
		if cur.Version != o.Version {
			return fmt.Errorf("memory: order %s version %d != %d: %w",
				o.ID, cur.Version, o.Version, domain.ErrConflict)
		}
	}
	return nil
}

// CommitCancel marks one order cancelled under its version guard.
func (s *Store) CommitCancel(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[order.ID]
	if !ok {
		return fmt.Errorf("memory: order %s: %w", order.ID, domain.ErrNotFound)
	}
	if cur.Version != order.Version {
		return fmt.Errorf("memory: order %s version %d != %d: %w",
			order.ID, cur.Version, order.Version, domain.ErrConflict)
	}
	order = cloneOrder(order)
	order.Version++
	s.orders[order.ID] = order
	return nil
}

// CommitRedemption credits an account and burns share pairs. The market
// version is a read guard only; redemptions do not advance it.
func (s *Store) CommitRedemption(ctx context.Context, commit domain.RedemptionCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.beforeCommit != nil {
		hook := s.beforeCommit
		s.beforeCommit = nil
		s.mu.Unlock()
		hook()
		s.mu.Lock()
	}

	stored, ok := s.markets[commit.Market.ID]
	if !ok {
		return fmt.Errorf("memory: market %s: %w", commit.Market.ID, domain.ErrNotFound)
	}
	if stored.Version != commit.Market.Version {
		return fmt.Errorf("memory: market %s version %d != %d: %w",
			commit.Market.ID, stored.Version, commit.Market.Version, domain.ErrConflict)
	}

	a, ok := s.accounts[commit.AccountID]
	if !ok {
		return fmt.Errorf("memory: account %s: %w", commit.AccountID, domain.ErrNotFound)
	}
	if a.Version != commit.AccountVersion {
		return fmt.Errorf("memory: account %s version %d != %d: %w",
			commit.AccountID, a.Version, commit.AccountVersion, domain.ErrConflict)
	}

	a.BalanceUnits += commit.CreditUnits
	a.Version++
	a.UpdatedAt = commit.Market.UpdatedAt
	s.accounts[commit.AccountID] = a

	s.applyPositionDeltas(commit.PositionDeltas, commit.Market.UpdatedAt)
	s.trades = append(s.trades, commit.Trades...)
	return nil
}

func (s *Store) applyPositionDeltas(deltas []domain.PositionDelta, at time.Time) {
	for _, d := range deltas {
		key := positionKey{d.AccountID, d.MarketID, d.AnswerID, d.Outcome}
		p, ok := s.positions[key]
		if !ok {
			p = domain.Position{
				AccountID: d.AccountID,
				MarketID:  d.MarketID,
				AnswerID:  d.AnswerID,
				Outcome:   d.Outcome,
			}
		}
		p.Shares += d.Shares
		p.UpdatedAt = at
		if numeric.Equal(p.Shares, 0) {
			delete(s.positions, key)
			continue
		}
		s.positions[key] = p
	}
}

// MarketStore returns the market-scoped view of the store.
func (s *Store) MarketStore() domain.MarketStore { return marketStore{s} }

// AccountStore returns the account-scoped view of the store.
func (s *Store) AccountStore() domain.AccountStore { return accountStore{s} }

// OrderStore returns the order-scoped read view of the store.
func (s *Store) OrderStore() domain.OrderStore { return orderStore{s} }

type marketStore struct{ s *Store }

func (m marketStore) Create(ctx context.Context, market domain.Market) error {
	return m.s.Create(ctx, market)
}

func (m marketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	return m.s.GetMarket(ctx, id)
}

func (m marketStore) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return m.s.ListOpen(ctx, opts)
}

type accountStore struct{ s *Store }

func (a accountStore) Create(ctx context.Context, account domain.Account) error {
	return a.s.CreateAccount(ctx, account)
}

func (a accountStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	return a.s.GetAccount(ctx, id)
}

type orderStore struct{ s *Store }

func (o orderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	return o.s.GetOrder(ctx, id)
}

func (o orderStore) ListOpenByMarket(ctx context.Context, marketID, answerID string) ([]domain.Order, error) {
	return o.s.ListOpenOrders(ctx, marketID, answerID)
}

func (o orderStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Order, error) {
	return o.s.ListByAccount(ctx, accountID, opts)
}

var (
	_ domain.LedgerStore = (*Store)(nil)
	_ domain.TradeStore  = (*Store)(nil)
)

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
