package cpmm

import (
	"fmt"
	"math"

	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/numeric"
)

// Weighted is the probability-weighted constant-product pool. The conserved
// quantity is Yes^P * No^(1-P); P re-weights the pool so the implied
// probability can sit away from the reserve ratio.
type Weighted struct {
	Yes float64
	No  float64
	P   float64
}

func (w Weighted) validate() error {
	if !numeric.IsFinitePositive(w.Yes) || !numeric.IsFinitePositive(w.No) {
		return fmt.Errorf("cpmm: weighted pool reserves must be positive, got YES=%g NO=%g: %w",
			w.Yes, w.No, domain.ErrNumericInvariant)
	}
	if !numeric.IsFinite(w.P) || w.P <= 0 || w.P >= 1 {
		return fmt.Errorf("cpmm: weighted pool p=%g outside (0,1): %w", w.P, domain.ErrNumericInvariant)
	}
	return nil
}

// Prob returns the implied probability of the outcome:
// prob(YES) = p*No / ((1-p)*Yes + p*No).
func (w Weighted) Prob(outcome domain.Outcome) float64 {
	prob := (w.P * w.No) / ((1-w.P)*w.Yes + w.P*w.No)
	if outcome == domain.OutcomeNo {
		return 1 - prob
	}
	return prob
}

// Shares returns the shares a payment buys before any fee: the bet amount
// is added to both reserves, then the purchased side's reserve is reduced
// to restore the invariant, and the reduction plus the bet is paid out.
func (w Weighted) Shares(outcome domain.Outcome, amount float64) float64 {
	if amount == 0 {
		return 0
	}
	y, n, p := w.Yes, w.No, w.P
	k := math.Pow(y, p) * math.Pow(n, 1-p)

	if outcome == domain.OutcomeYes {
		return y + amount - math.Pow(k*math.Pow(amount+n, p-1), 1/p)
	}
	return n + amount - math.Pow(k*math.Pow(amount+y, -p), 1/(1-p))
}

// fees iterates toward the taker fee consistent with the post-fee amount:
// charging a fee shrinks the bet, which shrinks the fee in turn.
func (w Weighted) fees(outcome domain.Outcome, amount float64) (remaining float64, fees domain.Fees) {
	var fee float64
	for i := 0; i < feeSolverIterations; i++ {
		afterFee := amount - fee
		shares := w.Shares(outcome, afterFee)
		if shares <= 0 {
			break
		}
		averageProb := afterFee / shares
		fee = takerFee(shares, averageProb)
	}
	if amount == 0 {
		fee = 0
	}
	return amount - fee, splitFees(fee)
}

// Buy applies a payment to the pool and returns the shares bought, the
// successor pool, and the fee charged.
func (w Weighted) Buy(outcome domain.Outcome, amount float64, freeFees bool) (Purchase, error) {
	if !numeric.IsFinite(amount) || amount < 0 {
		return Purchase{}, fmt.Errorf("cpmm: buy amount %g: %w", amount, domain.ErrNumericInvariant)
	}

	remaining := amount
	fees := domain.NoFees
	if !freeFees {
		remaining, fees = w.fees(outcome, amount)
	}

	shares := w.Shares(outcome, remaining)

	var newYes, newNo float64
	if outcome == domain.OutcomeYes {
		newYes = w.Yes - shares + remaining
		newNo = w.No + remaining
	} else {
		newYes = w.Yes + remaining
		newNo = w.No - shares + remaining
	}

	next := Weighted{Yes: newYes, No: newNo, P: w.P}
	if !numeric.IsFinite(shares) || shares < 0 {
		return Purchase{}, fmt.Errorf("cpmm: computed shares %g: %w", shares, domain.ErrNumericInvariant)
	}
	if !numeric.IsFinitePositive(newYes) || !numeric.IsFinitePositive(newNo) {
		return Purchase{}, fmt.Errorf("cpmm: pool after buy YES=%g NO=%g: %w", newYes, newNo, domain.ErrInsufficientLiquidity)
	}

	return Purchase{Shares: shares, Next: next, Fees: fees}, nil
}

// AmountToProb returns the payment that moves the implied probability of
// the outcome to prob.
func (w Weighted) AmountToProb(outcome domain.Outcome, prob float64) float64 {
	if math.IsNaN(prob) || prob <= 0 || prob >= 1 {
		return math.Inf(1)
	}
	if outcome == domain.OutcomeNo {
		prob = 1 - prob
	}

	y, n, p := w.Yes, w.No, w.P
	k := math.Pow(y, p) * math.Pow(n, 1-p)

	if outcome == domain.OutcomeYes {
		r := (p * (prob - 1)) / ((p - 1) * prob)
		return math.Pow(r, -p) * (k - n*math.Pow(r, p))
	}
	r := ((1 - p) * (prob - 1)) / (-p * prob)
	return math.Pow(r, p-1) * (k - y*math.Pow(r, 1-p))
}

// Invariant returns the conserved quantity Yes^P * No^(1-P).
func (w Weighted) Invariant() float64 {
	return math.Pow(w.Yes, w.P) * math.Pow(w.No, 1-w.P)
}

// MinReserve returns the smaller of the two reserves.
func (w Weighted) MinReserve() float64 {
	return math.Min(w.Yes, w.No)
}

// Mechanism returns the pool state as a domain mechanism value. Callers
// updating a multi-pool answer should go through UpdateMechanism instead.
func (w Weighted) Mechanism() domain.Mechanism {
	return domain.WeightedPool{Yes: w.Yes, No: w.No, P: w.P}
}

var _ Pricer = Weighted{}
