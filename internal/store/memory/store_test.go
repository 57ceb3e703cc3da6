package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldmarkets/settld/internal/domain"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.Create(context.Background(), domain.Market{
		ID:        "m1",
		Mechanism: domain.WeightedPool{Yes: 100, No: 100, P: 0.5},
		Status:    domain.MarketStatusOpen,
		CreatedAt: t0,
	}))
	require.NoError(t, s.CreateAccount(context.Background(), domain.Account{
		ID:           "alice",
		BalanceUnits: 1_000_000_000,
	}))
	return s
}

func TestCommitTradeStaleMarketVersion(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	market, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	account, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)

	commit := domain.TradeCommit{
		TakerOrder:      domain.Order{ID: "o1", AccountID: "alice", MarketID: "m1", Outcome: domain.OutcomeYes, Side: domain.OrderSideBuy, Status: domain.OrderStatusFilled},
		Market:          market,
		BalanceDeltas:   map[string]int64{"alice": -1_000_000},
		AccountVersions: map[string]int64{"alice": account.Version},
	}
	require.NoError(t, s.CommitTrade(ctx, commit))

	// Same snapshot again: the first commit bumped the market version.
	commit.TakerOrder.ID = "o2"
	err = s.CommitTrade(ctx, commit)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestCommitTradeStaleAccountVersion(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	market, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)

	commit := domain.TradeCommit{
		TakerOrder:      domain.Order{ID: "o1", AccountID: "alice", MarketID: "m1", Outcome: domain.OutcomeYes, Side: domain.OrderSideBuy, Status: domain.OrderStatusFilled},
		Market:          market,
		BalanceDeltas:   map[string]int64{"alice": 0},
		AccountVersions: map[string]int64{"alice": 99},
	}
	err = s.CommitTrade(ctx, commit)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestPositionsNetToDeletion(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	market, err := s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	account, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, s.CommitTrade(ctx, domain.TradeCommit{
		TakerOrder:      domain.Order{ID: "o1", AccountID: "alice", MarketID: "m1", Outcome: domain.OutcomeYes, Side: domain.OrderSideBuy, Status: domain.OrderStatusFilled},
		Market:          market,
		BalanceDeltas:   map[string]int64{"alice": 0},
		AccountVersions: map[string]int64{"alice": account.Version},
		PositionDeltas: []domain.PositionDelta{
			{AccountID: "alice", MarketID: "m1", Outcome: domain.OutcomeYes, Shares: 5},
		},
	}))

	positions, err := s.ListPositions(ctx, "alice", "m1")
	require.NoError(t, err)
	require.Len(t, positions, 1)

	market, err = s.GetMarket(ctx, "m1")
	require.NoError(t, err)
	account, err = s.GetAccount(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, s.CommitRedemption(ctx, domain.RedemptionCommit{
		AccountID:      "alice",
		Market:         market,
		AccountVersion: account.Version,
		PositionDeltas: []domain.PositionDelta{
			{AccountID: "alice", MarketID: "m1", Outcome: domain.OutcomeYes, Shares: -5},
		},
	}))

	positions, err = s.ListPositions(ctx, "alice", "m1")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestMechanismIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, domain.Market{
		ID: "multi",
		Mechanism: domain.MultiPool{Answers: map[string]domain.AnswerPool{
			"a1": {Yes: 50, No: 50},
		}},
		Status: domain.MarketStatusOpen,
	}))

	// Mutating a read copy's answer map must not leak into the store.
	m1, err := s.GetMarket(ctx, "multi")
	require.NoError(t, err)
	m1.Mechanism.(domain.MultiPool).Answers["a1"] = domain.AnswerPool{Yes: 1, No: 1}

	m2, err := s.GetMarket(ctx, "multi")
	require.NoError(t, err)
	assert.Equal(t, 50.0, m2.Mechanism.(domain.MultiPool).Answers["a1"].Yes)
}
