package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/foldmarkets/settld/internal/cpmm"
	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/numeric"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func evenPool(t *testing.T) cpmm.Pricer {
	t.Helper()
	return cpmm.Weighted{Yes: 100, No: 100, P: 0.5}
}

func restingOrder(id, account string, outcome domain.Outcome, amount, limit float64, created time.Time) domain.Order {
	return domain.Order{
		ID:          id,
		AccountID:   account,
		MarketID:    "m1",
		Outcome:     outcome,
		Side:        domain.OrderSideBuy,
		AmountUnits: numeric.ToUnits(amount),
		LimitProb:   &limit,
		Status:      domain.OrderStatusOpen,
		CreatedAt:   created,
	}
}

func TestComputeFillsPoolOnly(t *testing.T) {
	res, err := ComputeFills(evenPool(t), Request{
		AccountID: "taker",
		Outcome:   domain.OutcomeYes,
		Amount:    10,
		FreeFees:  true,
		Now:       t0,
	}, nil, nil)
	require.NoError(t, err)

	require.Len(t, res.Takers, 1)
	assert.Empty(t, res.Makers)
	assert.Empty(t, res.CancelOrders)
	assert.InDelta(t, 10, res.TakerAmount(), 1e-9)
	assert.Greater(t, res.TakerShares(), 10.0)
	assert.Empty(t, res.Takers[0].MatchedOrderID)

	// Buying YES moves the probability up.
	assert.Greater(t, res.Pool.Prob(domain.OutcomeYes), 0.5)
}

func TestComputeFillsTakerLimitStopsPool(t *testing.T) {
	limit := 0.6
	res, err := ComputeFills(evenPool(t), Request{
		AccountID: "taker",
		Outcome:   domain.OutcomeYes,
		Amount:    1e6,
		LimitProb: &limit,
		FreeFees:  true,
		Now:       t0,
	}, nil, nil)
	require.NoError(t, err)

	assert.InDelta(t, limit, res.Pool.Prob(domain.OutcomeYes), 1e-6)
	assert.Less(t, res.TakerAmount(), 1e6)
}

func TestComputeFillsAlreadyPastLimit(t *testing.T) {
	limit := 0.4
	res, err := ComputeFills(evenPool(t), Request{
		AccountID: "taker",
		Outcome:   domain.OutcomeYes,
		Amount:    10,
		LimitProb: &limit,
		FreeFees:  true,
		Now:       t0,
	}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Takers)
}

func TestComputeFillsMatchesRestingBeforeWorsePool(t *testing.T) {
	// A NO order resting at 0.40 offers YES at 0.40, better than the pool's
	// 0.50. The taker should cross it first.
	maker := restingOrder("o1", "maker", domain.OutcomeNo, 60, 0.40, t0)
	balances := map[string]float64{"maker": 1000}

	res, err := ComputeFills(evenPool(t), Request{
		AccountID: "taker",
		Outcome:   domain.OutcomeYes,
		Amount:    4,
		FreeFees:  true,
		Now:       t0.Add(time.Minute),
	}, []domain.Order{maker}, balances)
	require.NoError(t, err)

	require.Len(t, res.Takers, 1)
	require.Len(t, res.Makers, 1)
	assert.Equal(t, "o1", res.Takers[0].MatchedOrderID)

	// At 0.40 the taker's 4 buys 10 shares; the maker funds the other 6.
	assert.InDelta(t, 10, res.Takers[0].Shares, 1e-9)
	assert.InDelta(t, 4, res.Takers[0].Amount, 1e-9)
	assert.InDelta(t, 6, res.Makers[0].Amount, 1e-9)

	// Pool untouched.
	assert.InDelta(t, 0.5, res.Pool.Prob(domain.OutcomeYes), 1e-9)
}

func TestComputeFillsFIFOAtEqualPrice(t *testing.T) {
	first := restingOrder("o-late-id", "m1", domain.OutcomeNo, 3, 0.40, t0)
	second := restingOrder("o-early-id", "m2", domain.OutcomeNo, 3, 0.40, t0.Add(time.Second))
	balances := map[string]float64{"m1": 100, "m2": 100}

	res, err := ComputeFills(evenPool(t), Request{
		AccountID: "taker",
		Outcome:   domain.OutcomeYes,
		Amount:    2.5,
		FreeFees:  true,
		Now:       t0.Add(time.Minute),
	}, []domain.Order{second, first}, balances)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(res.Makers), 2)
	assert.Equal(t, "o-late-id", res.Makers[0].Order.ID)
	assert.Equal(t, "o-early-id", res.Makers[1].Order.ID)

	// The earlier order is exhausted before the later one starts filling.
	assert.InDelta(t, first.Remaining(), res.Makers[0].Amount, 1e-9)
}

func TestComputeFillsSkipsOwnOrders(t *testing.T) {
	own := restingOrder("o1", "taker", domain.OutcomeNo, 60, 0.40, t0)
	balances := map[string]float64{"taker": 1000}

	res, err := ComputeFills(evenPool(t), Request{
		AccountID: "taker",
		Outcome:   domain.OutcomeYes,
		Amount:    4,
		FreeFees:  true,
		Now:       t0.Add(time.Minute),
	}, []domain.Order{own}, balances)
	require.NoError(t, err)

	for _, f := range res.Takers {
		assert.Empty(t, f.MatchedOrderID)
	}
}

func TestComputeFillsSkipsExpiredOrders(t *testing.T) {
	expiry := t0.Add(time.Minute)
	expired := restingOrder("o1", "maker", domain.OutcomeNo, 60, 0.40, t0)
	expired.ExpiresAt = &expiry
	balances := map[string]float64{"maker": 1000}

	res, err := ComputeFills(evenPool(t), Request{
		AccountID: "taker",
		Outcome:   domain.OutcomeYes,
		Amount:    4,
		FreeFees:  true,
		Now:       expiry.Add(time.Second),
	}, []domain.Order{expired}, balances)
	require.NoError(t, err)

	for _, f := range res.Takers {
		assert.Empty(t, f.MatchedOrderID)
	}
}

func TestComputeFillsCancelsBrokeMaker(t *testing.T) {
	maker := restingOrder("o1", "maker", domain.OutcomeNo, 60, 0.40, t0)
	balances := map[string]float64{"maker": 3}

	res, err := ComputeFills(evenPool(t), Request{
		AccountID: "taker",
		Outcome:   domain.OutcomeYes,
		Amount:    10,
		FreeFees:  true,
		Now:       t0.Add(time.Minute),
	}, []domain.Order{maker}, balances)
	require.NoError(t, err)

	// The maker could only fund 3 of the 36 their order asks for; the fill
	// is capped there and the order queued for cancellation.
	require.Len(t, res.CancelOrders, 1)
	assert.Equal(t, "o1", res.CancelOrders[0].ID)
	require.NotEmpty(t, res.Makers)
	assert.InDelta(t, 3, res.Makers[0].Amount, 1e-9)
}

func TestComputeFillsNoOutcomeCrossesHighLimits(t *testing.T) {
	// A YES order resting at 0.70 offers NO at 0.30, better than the pool's
	// 0.50. A NO taker should cross it first.
	maker := restingOrder("o1", "maker", domain.OutcomeYes, 70, 0.70, t0)
	balances := map[string]float64{"maker": 1000}

	res, err := ComputeFills(evenPool(t), Request{
		AccountID: "taker",
		Outcome:   domain.OutcomeNo,
		Amount:    3,
		FreeFees:  true,
		Now:       t0.Add(time.Minute),
	}, []domain.Order{maker}, balances)
	require.NoError(t, err)

	require.Len(t, res.Makers, 1)
	// At 0.70 the NO taker pays 0.30 per share.
	assert.InDelta(t, 10, res.Takers[0].Shares, 1e-9)
	assert.InDelta(t, 7, res.Makers[0].Amount, 1e-9)
}

func TestComputeFillsConservesValue(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		amount := rapid.Float64Range(0.5, 200).Draw(t, "amount")
		limit := rapid.Float64Range(0.05, 0.95).Draw(t, "makerLimit")
		makerAmount := rapid.Float64Range(1, 100).Draw(t, "makerAmount")

		maker := restingOrder("o1", "maker", domain.OutcomeNo, makerAmount, limit, t0)
		balances := map[string]float64{"maker": makerAmount}

		res, err := ComputeFills(cpmm.Weighted{Yes: 100, No: 100, P: 0.5}, Request{
			AccountID: "taker",
			Outcome:   domain.OutcomeYes,
			Amount:    amount,
			FreeFees:  true,
			Now:       t0.Add(time.Minute),
		}, []domain.Order{maker}, balances)
		require.NoError(t, err)

		// Every order-matched fill mints exactly one YES and one NO share
		// per unit of combined payment.
		for i, f := range res.Takers {
			if f.MatchedOrderID == "" {
				continue
			}
			var m MakerFill
			for _, mf := range res.Makers {
				if mf.Order.ID == f.MatchedOrderID {
					m = mf
				}
			}
			require.NotZero(t, m.Order.ID, "taker fill %d has no maker", i)
			require.InDelta(t, f.Shares, m.Shares, 1e-9)
			require.InDelta(t, f.Shares, f.Amount+m.Amount, 1e-9)
		}

		require.LessOrEqual(t, res.TakerAmount(), amount+1e-9)
	})
}
