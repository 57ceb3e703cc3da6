package cpmm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/foldmarkets/settld/internal/domain"
)

func TestSimpleBuyConstantProduct(t *testing.T) {
	// Pool {YES: 100, NO: 100}, buy 10 of YES: the YES reserve receives the
	// payment, the NO reserve rebalances to 100*100/110, and the taker
	// receives the NO-side shrinkage as shares.
	pool := Simple{Yes: 100, No: 100}

	p, err := pool.Buy(domain.OutcomeYes, 10, false)
	require.NoError(t, err)

	next := p.Next.(Simple)
	assert.InDelta(t, 110, next.Yes, 1e-9)
	assert.InDelta(t, 100.0*100.0/110.0, next.No, 1e-9)
	assert.InDelta(t, 100-100.0*100.0/110.0, p.Shares, 1e-9)
	assert.InDelta(t, 9.0909, p.Shares, 1e-4)
	// 90.909.../(110+90.909...) = 0.452488...
	assert.InDelta(t, 0.45249, p.Next.Prob(domain.OutcomeYes), 1e-4)
	assert.Equal(t, domain.NoFees, p.Fees)
}

func TestSimpleProb(t *testing.T) {
	pool := Simple{Yes: 100, No: 300}
	assert.InDelta(t, 0.75, pool.Prob(domain.OutcomeYes), 1e-12)
	assert.InDelta(t, 0.25, pool.Prob(domain.OutcomeNo), 1e-12)
}

func TestSimpleSharesLessThanPayment(t *testing.T) {
	pool := Simple{Yes: 100, No: 100}
	shares := pool.Shares(domain.OutcomeYes, 10)
	assert.Less(t, shares, 10.0)
	assert.Greater(t, shares, 0.0)
}

func TestSimpleRejectsEmptyingReserve(t *testing.T) {
	pool := Simple{Yes: 100, No: 100}

	_, err := pool.afterSwap(domain.OutcomeYes, -100)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	_, err = pool.afterSwap(domain.OutcomeYes, -150)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
}

func TestSimpleRejectsDrainingCounterReserve(t *testing.T) {
	// A huge buy would push the opposing reserve below the minimum pool
	// quantity; the buy fails and the pool value is untouched.
	pool := Simple{Yes: 100, No: 100}

	_, err := pool.Buy(domain.OutcomeYes, 1e9, false)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	assert.Equal(t, Simple{Yes: 100, No: 100}, pool)
}

func TestSimpleAmountToProb(t *testing.T) {
	pool := Simple{Yes: 100, No: 100}

	target := 0.4
	amount := pool.AmountToProb(domain.OutcomeYes, target)
	require.Greater(t, amount, 0.0)

	p, err := pool.Buy(domain.OutcomeYes, amount, false)
	require.NoError(t, err)
	assert.InDelta(t, target, p.Next.Prob(domain.OutcomeYes), 1e-9)

	assert.True(t, math.IsInf(pool.AmountToProb(domain.OutcomeYes, 0), 1))
	assert.True(t, math.IsInf(pool.AmountToProb(domain.OutcomeYes, 1), 1))
}

func TestSimpleInvariantPreservedAcrossBuys(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		yes := rapid.Float64Range(1, 10_000).Draw(t, "yes")
		no := rapid.Float64Range(1, 10_000).Draw(t, "no")
		amount := rapid.Float64Range(0.01, 1_000).Draw(t, "amount")
		outcome := domain.OutcomeYes
		if rapid.Bool().Draw(t, "buyNo") {
			outcome = domain.OutcomeNo
		}

		pool := Simple{Yes: yes, No: no}
		before := pool.Invariant()

		p, err := pool.Buy(outcome, amount, false)
		if err != nil {
			// Rejected swaps leave the pool untouched.
			assert.Equal(t, before, pool.Invariant())
			return
		}

		after := p.Next.Invariant()
		assert.InEpsilon(t, before, after, 1e-9)

		prob := p.Next.Prob(domain.OutcomeYes)
		assert.Greater(t, prob, 0.0)
		assert.Less(t, prob, 1.0)
	})
}
