package cpmm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/foldmarkets/settld/internal/domain"
)

func TestWeightedProbAtEvenPool(t *testing.T) {
	pool := Weighted{Yes: 100, No: 100, P: 0.5}
	assert.InDelta(t, 0.5, pool.Prob(domain.OutcomeYes), 1e-12)
	assert.InDelta(t, 0.5, pool.Prob(domain.OutcomeNo), 1e-12)
}

func TestWeightedProbWithWeight(t *testing.T) {
	// prob = p*No / ((1-p)*Yes + p*No)
	pool := Weighted{Yes: 100, No: 100, P: 0.7}
	want := 0.7 * 100 / (0.3*100 + 0.7*100)
	assert.InDelta(t, want, pool.Prob(domain.OutcomeYes), 1e-12)
}

func TestWeightedSharesPositiveAndBounded(t *testing.T) {
	pool := Weighted{Yes: 100, No: 100, P: 0.5}
	shares := pool.Shares(domain.OutcomeYes, 10)
	// At even odds one unit buys just under two shares.
	assert.Greater(t, shares, 10.0)
	assert.Less(t, shares, 20.0)
	assert.Zero(t, pool.Shares(domain.OutcomeYes, 0))
}

func TestWeightedBuyPreservesInvariant(t *testing.T) {
	pool := Weighted{Yes: 150, No: 80, P: 0.6}
	before := pool.Invariant()

	p, err := pool.Buy(domain.OutcomeYes, 25, true)
	require.NoError(t, err)

	after := p.Next.(Weighted).Invariant()
	assert.InEpsilon(t, before, after, 1e-9)
}

func TestWeightedBuyChargesTakerFee(t *testing.T) {
	pool := Weighted{Yes: 100, No: 100, P: 0.5}

	withFee, err := pool.Buy(domain.OutcomeYes, 10, false)
	require.NoError(t, err)
	free, err := pool.Buy(domain.OutcomeYes, 10, true)
	require.NoError(t, err)

	assert.Greater(t, withFee.Fees.Total(), 0.0)
	assert.Less(t, withFee.Shares, free.Shares)
	// The split is half platform, half creator, no liquidity portion.
	assert.InDelta(t, withFee.Fees.Platform, withFee.Fees.Creator, 1e-12)
	assert.Zero(t, withFee.Fees.Liquidity)
}

func TestWeightedBuyMovesProbabilityToward(t *testing.T) {
	pool := Weighted{Yes: 100, No: 100, P: 0.5}

	p, err := pool.Buy(domain.OutcomeYes, 10, false)
	require.NoError(t, err)
	assert.Greater(t, p.Next.Prob(domain.OutcomeYes), 0.5)

	p, err = pool.Buy(domain.OutcomeNo, 10, false)
	require.NoError(t, err)
	assert.Less(t, p.Next.Prob(domain.OutcomeYes), 0.5)
}

func TestWeightedAmountToProbRoundTrip(t *testing.T) {
	pool := Weighted{Yes: 100, No: 100, P: 0.5}

	for _, target := range []float64{0.55, 0.6, 0.75, 0.9} {
		amount := pool.AmountToProb(domain.OutcomeYes, target)
		require.Greater(t, amount, 0.0, "target %v", target)

		p, err := pool.Buy(domain.OutcomeYes, amount, true)
		require.NoError(t, err)
		assert.InDelta(t, target, p.Next.Prob(domain.OutcomeYes), 1e-6, "target %v", target)
	}

	assert.True(t, math.IsInf(pool.AmountToProb(domain.OutcomeYes, 1), 1))
	assert.True(t, math.IsInf(pool.AmountToProb(domain.OutcomeYes, math.NaN()), 1))
}

func TestWeightedInvariantProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		yes := rapid.Float64Range(1, 5_000).Draw(t, "yes")
		no := rapid.Float64Range(1, 5_000).Draw(t, "no")
		p := rapid.Float64Range(0.05, 0.95).Draw(t, "p")
		amount := rapid.Float64Range(0, 500).Draw(t, "amount")
		outcome := domain.OutcomeYes
		if rapid.Bool().Draw(t, "buyNo") {
			outcome = domain.OutcomeNo
		}

		pool := Weighted{Yes: yes, No: no, P: p}
		before := pool.Invariant()

		res, err := pool.Buy(outcome, amount, true)
		if err != nil {
			return
		}
		next := res.Next.(Weighted)

		assert.InEpsilon(t, before, next.Invariant(), 1e-6)

		prob := next.Prob(domain.OutcomeYes)
		assert.Greater(t, prob, 0.0)
		assert.Less(t, prob, 1.0)
	})
}

func TestForMarketDispatch(t *testing.T) {
	now := marketWithMechanism

	weighted, err := ForMarket(now(domain.WeightedPool{Yes: 100, No: 100, P: 0.5}), "")
	require.NoError(t, err)
	assert.IsType(t, Weighted{}, weighted)

	simple, err := ForMarket(now(domain.SimplePool{Yes: 100, No: 100}), "")
	require.NoError(t, err)
	assert.IsType(t, Simple{}, simple)

	multi := now(domain.MultiPool{Answers: map[string]domain.AnswerPool{
		"a1": {Yes: 50, No: 50},
	}})
	answer, err := ForMarket(multi, "a1")
	require.NoError(t, err)
	assert.Equal(t, Weighted{Yes: 50, No: 50, P: 0.5}, answer)

	_, err = ForMarket(multi, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = ForMarket(multi, "")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = ForMarket(now(domain.WeightedPool{Yes: 100, No: 100, P: 0.5}), "a1")
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestUpdateMechanismWritesAnswerPool(t *testing.T) {
	mech := domain.MultiPool{Answers: map[string]domain.AnswerPool{
		"a1": {Yes: 50, No: 50},
		"a2": {Yes: 70, No: 30},
	}}

	updated, err := UpdateMechanism(mech, "a1", Weighted{Yes: 60, No: 41.7, P: 0.5})
	require.NoError(t, err)

	multi := updated.(domain.MultiPool)
	assert.Equal(t, domain.AnswerPool{Yes: 60, No: 41.7}, multi.Answers["a1"])
	assert.Equal(t, domain.AnswerPool{Yes: 70, No: 30}, multi.Answers["a2"])
	// Original mechanism untouched.
	assert.Equal(t, domain.AnswerPool{Yes: 50, No: 50}, mech.Answers["a1"])
}

func TestCheckStateRejectsDrainedPool(t *testing.T) {
	err := CheckState(Weighted{Yes: 0.005, No: 100, P: 0.5})
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	assert.NoError(t, CheckState(Weighted{Yes: 100, No: 100, P: 0.5}))
}

func marketWithMechanism(m domain.Mechanism) domain.Market {
	return domain.Market{ID: "m1", Mechanism: m, Status: domain.MarketStatusOpen}
}
