package engine

import (
	"fmt"
	"time"

	"github.com/foldmarkets/settld/internal/cpmm"
	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/numeric"
)

const searchMaxIterations = 100

// binarySearch finds x in [lo, hi] where cmp(x) crosses zero. cmp must be
// monotonically increasing over the interval.
func binarySearch(lo, hi float64, cmp func(float64) float64) float64 {
	mid := lo + (hi-lo)/2
	for i := 0; i < searchMaxIterations; i++ {
		mid = lo + (hi-lo)/2
		c := cmp(mid)
		switch {
		case c == 0:
			return mid
		case c > 0:
			hi = mid
		default:
			lo = mid
		}
		if numeric.Equal(lo, hi) {
			break
		}
	}
	return mid
}

// Sale is a liquidation result. Value is the proceeds credited to the
// seller.
type Sale struct {
	Result
	Value float64
}

// ComputeSale liquidates shares of an outcome by purchasing the opposite
// outcome in the exact quantity that nets the position to zero, then
// restates the fills from the seller's perspective: shares are given up
// and the amount column becomes the value received.
//
// Sales are fee free and carry no limit price.
func ComputeSale(
	pool cpmm.Pricer,
	accountID string,
	outcome domain.Outcome,
	shares float64,
	resting []domain.Order,
	balanceByAccount map[string]float64,
	now time.Time,
) (Sale, error) {
	if !numeric.IsFinitePositive(shares) {
		return Sale{}, fmt.Errorf("engine: sell %g shares: %w", shares, domain.ErrInvalidOrder)
	}

	opposite := outcome.Opposite()

	sharesBought := func(amount float64) (Result, float64, error) {
		res, err := ComputeFills(pool, Request{
			AccountID: accountID,
			Outcome:   opposite,
			Amount:    amount,
			FreeFees:  true,
			Now:       now,
		}, resting, balanceByAccount)
		if err != nil {
			return Result{}, 0, err
		}
		return res, res.TakerShares(), nil
	}

	// A spend of b yields at most b/prob shares, which bounds the search
	// below. The upper bound is grown until it overshoots the target so the
	// bracket holds for every pool mechanism.
	lo := shares * pool.Prob(opposite)
	hi := shares
	for i := 0; i < searchMaxIterations; i++ {
		_, got, err := sharesBought(hi)
		if err != nil || numeric.GreaterEqual(got, shares) {
			break
		}
		hi *= 2
	}

	amount := binarySearch(lo, hi, func(a float64) float64 {
		_, got, err := sharesBought(a)
		if err != nil {
			return 1
		}
		return got - shares
	})

	res, got, err := sharesBought(amount)
	if err != nil {
		return Sale{}, err
	}
	if !numeric.ApproxEqual(got, shares, 1e-6) {
		return Sale{}, fmt.Errorf("engine: sale sized %g shares, want %g: %w",
			got, shares, domain.ErrInsufficientLiquidity)
	}

	sale := Sale{Result: res}
	for i := range sale.Takers {
		f := &sale.Takers[i]
		value := f.Shares - f.Amount
		f.Shares = -f.Shares
		f.Amount = -value
		sale.Value += value
	}
	return sale, nil
}
