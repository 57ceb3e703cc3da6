// Package engine converts an incoming order into a deterministic sequence
// of fills against two liquidity sources: the resting limit-order book and
// the AMM pool. Everything here is pure computation over a snapshot; the
// ledger coordinator owns all I/O and all writes.
package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/foldmarkets/settld/internal/cpmm"
	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/numeric"
)

// TakerFill is one matched quantity from the taker's perspective.
// MatchedOrderID is empty when the counterparty was the pool.
type TakerFill struct {
	Amount         float64
	Shares         float64
	MatchedOrderID string
	Timestamp      time.Time
}

// MakerFill is the maker-side view of a match against a resting order.
type MakerFill struct {
	Order     domain.Order
	Amount    float64
	Shares    float64
	Timestamp time.Time
}

// Result is the outcome of matching one order against a snapshot.
type Result struct {
	Takers []TakerFill
	Makers []MakerFill

	// CancelOrders are resting orders whose owner's balance was exhausted
	// while matching; they are cancelled in the same commit.
	CancelOrders []domain.Order

	// Pool is the AMM state after any pool fills.
	Pool cpmm.Pricer

	// Fees is the total taker fee across pool fills.
	Fees domain.Fees
}

// TakerAmount returns the total amount matched for the taker.
func (r Result) TakerAmount() float64 {
	var total float64
	for _, f := range r.Takers {
		total += f.Amount
	}
	return total
}

// TakerShares returns the total shares acquired by the taker.
func (r Result) TakerShares() float64 {
	var total float64
	for _, f := range r.Takers {
		total += f.Shares
	}
	return total
}

// Request describes the order to match. LimitProb, when set, is always
// expressed as a YES-probability bound regardless of outcome.
type Request struct {
	AccountID string
	Outcome   domain.Outcome
	Amount    float64
	LimitProb *float64
	FreeFees  bool
	Now       time.Time
}

// ComputeFills walks the resting opposite-side orders best-price-first,
// interleaving pool fills whenever the pool is priced better than the next
// resting order, until the amount is exhausted or no liquidity qualifies.
//
// Resting orders at equal prices match strictly in creation-time order.
// The taker's own resting orders and expired orders are skipped. Maker
// balances are tracked as fills accrue; a maker whose balance reaches zero
// has their order queued for cancellation.
func ComputeFills(
	pool cpmm.Pricer,
	req Request,
	resting []domain.Order,
	balanceByAccount map[string]float64,
) (Result, error) {
	if !numeric.IsFinite(req.Amount) {
		return Result{}, fmt.Errorf("engine: amount %g: %w", req.Amount, domain.ErrInvalidOrder)
	}
	if req.LimitProb != nil && !numeric.IsFinite(*req.LimitProb) {
		return Result{}, fmt.Errorf("engine: limit prob %g: %w", *req.LimitProb, domain.ErrInvalidOrder)
	}

	sorted := sortResting(resting, req)

	balances := make(map[string]float64, len(balanceByAccount))
	for id, b := range balanceByAccount {
		balances[id] = b
	}

	res := Result{Pool: pool}
	amount := req.Amount

	i := 0
	for {
		var matched *domain.Order
		if i < len(sorted) {
			matched = &sorted[i]
		}

		var makerBalance float64
		if matched != nil {
			makerBalance = balances[matched.AccountID]
		}

		fill := computeFill(res.Pool, req, amount, matched, makerBalance)
		if fill == nil {
			break
		}

		if fill.pool != nil {
			// Matched against the pool.
			res.Pool = fill.pool
			res.Fees = res.Fees.Add(fill.fees)
			res.Takers = append(res.Takers, fill.taker)
		} else {
			// Matched against a resting order.
			i++
			maker := *fill.maker
			accountID := maker.Order.AccountID
			if numeric.GreaterEqual(maker.Amount, 0) {
				balances[accountID] -= maker.Amount
			}
			if numeric.Equal(balances[accountID], 0) {
				res.CancelOrders = append(res.CancelOrders, maker.Order)
			}
			if numeric.Equal(maker.Amount, 0) {
				continue
			}
			res.Takers = append(res.Takers, fill.taker)
			res.Makers = append(res.Makers, maker)
		}

		amount -= fill.taker.Amount
		if numeric.Equal(amount, 0) {
			break
		}
	}

	return res, nil
}

// fillStep is one iteration of the matching walk: exactly one of maker or
// pool is set.
type fillStep struct {
	taker TakerFill
	maker *MakerFill
	pool  cpmm.Pricer
	fees  domain.Fees
}

// computeFill produces the next fill, or nil when no further liquidity
// qualifies under the taker's limit.
func computeFill(
	pool cpmm.Pricer,
	req Request,
	amount float64,
	matched *domain.Order,
	makerBalance float64,
) *fillStep {
	prob := pool.Prob(domain.OutcomeYes)

	if req.LimitProb != nil {
		limit := *req.LimitProb
		matchedLimit := 1.0
		if req.Outcome == domain.OutcomeNo {
			matchedLimit = 0.0
		}
		if matched != nil && matched.LimitProb != nil {
			matchedLimit = *matched.LimitProb
		}
		if req.Outcome == domain.OutcomeYes {
			if numeric.GreaterEqual(prob, limit) && matchedLimit > limit {
				return nil
			}
		} else {
			if numeric.LesserEqual(prob, limit) && matchedLimit < limit {
				return nil
			}
		}
	}

	poolBeatsOrder := matched == nil || matched.LimitProb == nil
	if !poolBeatsOrder {
		if req.Outcome == domain.OutcomeYes {
			poolBeatsOrder = !numeric.GreaterEqual(prob, *matched.LimitProb)
		} else {
			poolBeatsOrder = !numeric.LesserEqual(prob, *matched.LimitProb)
		}
	}

	if poolBeatsOrder {
		// Fill from the pool, up to whichever limit binds first: the
		// taker's own limit or the next resting order's price.
		var limit *float64
		switch {
		case matched == nil || matched.LimitProb == nil:
			limit = req.LimitProb
		case req.Outcome == domain.OutcomeYes:
			l := *matched.LimitProb
			if req.LimitProb != nil {
				l = math.Min(l, *req.LimitProb)
			}
			limit = &l
		default:
			l := *matched.LimitProb
			if req.LimitProb != nil {
				l = math.Max(l, *req.LimitProb)
			}
			limit = &l
		}

		buyAmount := amount
		if limit != nil {
			buyAmount = math.Min(amount, pool.AmountToProb(req.Outcome, *limit))
		}

		purchase, err := pool.Buy(req.Outcome, buyAmount, req.FreeFees)
		if err != nil {
			return nil
		}

		return &fillStep{
			taker: TakerFill{Amount: buyAmount, Shares: purchase.Shares, Timestamp: req.Now},
			pool:  purchase.Next,
			fees:  purchase.Fees,
		}
	}

	// Fill from the matched resting order. The limit price fixes the split:
	// a YES taker pays limitProb per share, the NO maker pays the rest.
	makerLimit := *matched.LimitProb
	takerPrice := makerLimit
	makerPrice := 1 - makerLimit
	if req.Outcome == domain.OutcomeNo {
		takerPrice = 1 - makerLimit
		makerPrice = makerLimit
	}

	amountRemaining := matched.Remaining()
	amountToFill := math.Min(amountRemaining, makerBalance)

	shares := math.Min(amount/takerPrice, amountToFill/makerPrice)

	return &fillStep{
		taker: TakerFill{
			Amount:         shares * takerPrice,
			Shares:         shares,
			MatchedOrderID: matched.ID,
			Timestamp:      req.Now,
		},
		maker: &MakerFill{
			Order:     *matched,
			Amount:    shares * makerPrice,
			Shares:    shares,
			Timestamp: req.Now,
		},
	}
}

// sortResting filters to opposite-side resting orders the taker may match
// (not their own, not expired) and sorts them best-price-first with a
// strict FIFO tie-break on creation time.
func sortResting(resting []domain.Order, req Request) []domain.Order {
	eligible := make([]domain.Order, 0, len(resting))
	for _, o := range resting {
		if o.Outcome == req.Outcome {
			continue
		}
		if o.AccountID == req.AccountID {
			continue
		}
		if o.LimitProb == nil {
			continue
		}
		if !o.Resting(req.Now) {
			continue
		}
		eligible = append(eligible, o)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if !numeric.Equal(*a.LimitProb, *b.LimitProb) {
			// A YES taker wants the lowest YES-prob first; a NO taker the
			// highest.
			if req.Outcome == domain.OutcomeYes {
				return *a.LimitProb < *b.LimitProb
			}
			return *a.LimitProb > *b.LimitProb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	return eligible
}
