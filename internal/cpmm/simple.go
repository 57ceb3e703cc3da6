package cpmm

import (
	"fmt"
	"math"

	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/numeric"
)

// Simple is the plain constant-product pool: Yes * No is conserved and the
// implied price of an outcome is the opposing reserve over the reserve
// sum. A payment of side A enters the A reserve; the B reserve shrinks to
// restore the product, and the shrinkage is the shares paid out. Simple
// pools charge no fee.
type Simple struct {
	Yes float64
	No  float64
}

func (s Simple) validate() error {
	if !numeric.IsFinitePositive(s.Yes) || !numeric.IsFinitePositive(s.No) {
		return fmt.Errorf("cpmm: simple pool reserves must be positive, got YES=%g NO=%g: %w",
			s.Yes, s.No, domain.ErrNumericInvariant)
	}
	return nil
}

func (s Simple) reserve(outcome domain.Outcome) float64 {
	if outcome == domain.OutcomeYes {
		return s.Yes
	}
	return s.No
}

// Prob returns the implied price of the outcome: the opposing reserve over
// the reserve sum.
func (s Simple) Prob(outcome domain.Outcome) float64 {
	other := s.reserve(outcome.Opposite())
	return other / (s.Yes + s.No)
}

// afterSwap adds amount to the given side and rebalances the other side to
// keep the reserve product constant. A swap that would empty a reserve, or
// drive the opposing reserve to the minimum pool quantity, is rejected.
func (s Simple) afterSwap(side domain.Outcome, amount float64) (Simple, error) {
	paid := s.reserve(side)
	if amount <= -paid {
		return Simple{}, fmt.Errorf("cpmm: swap of %g would empty the %s reserve: %w",
			amount, side, domain.ErrInsufficientLiquidity)
	}

	newPaid := paid + amount
	newOther := (s.Yes * s.No) / newPaid
	if newOther <= MinPoolQuantity {
		return Simple{}, fmt.Errorf("cpmm: swap of %g leaves the %s reserve at %g: %w",
			amount, side.Opposite(), newOther, domain.ErrInsufficientLiquidity)
	}

	if side == domain.OutcomeYes {
		return Simple{Yes: newPaid, No: newOther}, nil
	}
	return Simple{Yes: newOther, No: newPaid}, nil
}

// Shares returns the shares a payment buys: the amount of the non-paid
// reserve that leaves the pool.
func (s Simple) Shares(outcome domain.Outcome, amount float64) float64 {
	if amount == 0 {
		return 0
	}
	next, err := s.afterSwap(outcome, amount)
	if err != nil {
		return 0
	}
	other := outcome.Opposite()
	return s.reserve(other) - next.reserve(other)
}

// Buy applies a payment to the pool. Simple pools are feeless, so freeFees
// has no effect.
func (s Simple) Buy(outcome domain.Outcome, amount float64, _ bool) (Purchase, error) {
	if !numeric.IsFinite(amount) || amount < 0 {
		return Purchase{}, fmt.Errorf("cpmm: buy amount %g: %w", amount, domain.ErrNumericInvariant)
	}
	if amount == 0 {
		return Purchase{Shares: 0, Next: s, Fees: domain.NoFees}, nil
	}

	next, err := s.afterSwap(outcome, amount)
	if err != nil {
		return Purchase{}, err
	}
	other := outcome.Opposite()
	shares := s.reserve(other) - next.reserve(other)

	return Purchase{Shares: shares, Next: next, Fees: domain.NoFees}, nil
}

// AmountToProb returns the payment into the outcome's reserve that moves
// its implied price to prob: solving price = k / ((r+b)^2 + k) for b gives
// b = sqrt(k*(1-prob)/prob) - r.
func (s Simple) AmountToProb(outcome domain.Outcome, prob float64) float64 {
	if math.IsNaN(prob) || prob <= 0 || prob >= 1 {
		return math.Inf(1)
	}
	k := s.Yes * s.No
	return math.Sqrt(k*(1-prob)/prob) - s.reserve(outcome)
}

// Invariant returns the conserved reserve product.
func (s Simple) Invariant() float64 {
	return s.Yes * s.No
}

// MinReserve returns the smaller of the two reserves.
func (s Simple) MinReserve() float64 {
	return math.Min(s.Yes, s.No)
}

// Mechanism returns the pool state as a domain mechanism value.
func (s Simple) Mechanism() domain.Mechanism {
	return domain.SimplePool{Yes: s.Yes, No: s.No}
}

var _ Pricer = Simple{}
