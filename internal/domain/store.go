package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market records.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	ListOpen(ctx context.Context, opts ListOpts) ([]Market, error)
}

// AccountStore persists trading accounts.
type AccountStore interface {
	Create(ctx context.Context, account Account) error
	GetByID(ctx context.Context, id string) (Account, error)
}

// OrderStore provides read access to the order book outside the commit
// path. All order writes happen through LedgerStore commits.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (Order, error)
	ListOpenByMarket(ctx context.Context, marketID, answerID string) ([]Order, error)
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]Order, error)
}

// TradeStore provides read access to committed trade records.
type TradeStore interface {
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// TradeCommit is the full set of writes produced by one matched order.
// Either every write lands or none does. Market, the taker order, maker
// orders, and every touched account are version-guarded; a stale version
// fails the whole commit with ErrConflict.
type TradeCommit struct {
	// TakerOrder is the new order record, including its fills.
	TakerOrder Order

	// MakerOrders are updated copies of matched resting orders (new fills
	// and fill state); Version carries the expected current version.
	MakerOrders []Order

	// CancelOrders are resting orders to mark cancelled in the same commit
	// (makers whose balance was exhausted, expired orders swept lazily).
	CancelOrders []Order

	// Market carries the new pool state, volume, and fee accumulators;
	// Version carries the expected current version.
	Market Market

	// BalanceDeltas are signed micro-unit adjustments per account id.
	BalanceDeltas map[string]int64

	// AccountVersions are the expected versions of every account in
	// BalanceDeltas.
	AccountVersions map[string]int64

	// PositionDeltas are signed share adjustments per holding bucket.
	PositionDeltas []PositionDelta

	// Trades are the immutable fill records.
	Trades []Trade
}

// RedemptionCommit nets opposing shares into cash for one account on one
// market.
type RedemptionCommit struct {
	AccountID      string
	Market         Market // version-guarded; unchanged except UpdatedAt
	CreditUnits    int64
	AccountVersion int64
	PositionDeltas []PositionDelta
	Trades         []Trade
}

// LedgerStore is the storage contract the transaction coordinator runs
// against: snapshot reads plus compare-and-swap commits. Any storage that
// can detect a stale version at commit time satisfies it; conflicts are
// reported as ErrConflict and retried by the coordinator.
type LedgerStore interface {
	GetMarket(ctx context.Context, id string) (Market, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	GetAccounts(ctx context.Context, ids []string) (map[string]Account, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	ListOpenOrders(ctx context.Context, marketID, answerID string) ([]Order, error)
	// ListPositions returns the account's holdings; an empty marketID
	// lists across all markets.
	ListPositions(ctx context.Context, accountID, marketID string) ([]Position, error)

	CommitTrade(ctx context.Context, commit TradeCommit) error
	CommitCancel(ctx context.Context, order Order) error
	CommitRedemption(ctx context.Context, commit RedemptionCommit) error
}
