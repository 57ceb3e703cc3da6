// Package cpmm implements the automated-market-maker pricing strategies.
//
// Two independent formulas are supported: the probability-weighted constant
// product pool (Weighted, conserving Yes^P * No^(1-P)) and the plain
// constant-product pool (Simple, conserving Yes * No). Multi-pool markets
// price each answer as a Weighted pool at fixed P = 0.5. All functions are
// pure; no I/O happens anywhere in this package.
package cpmm

import (
	"fmt"

	"github.com/foldmarkets/settld/internal/domain"
	"github.com/foldmarkets/settld/internal/numeric"
)

// MinPoolQuantity is the floor every reserve must stay strictly above. A
// swap that would drive a reserve to or below this floor is rejected as
// insufficient liquidity rather than allowed to approach a division by
// zero.
const MinPoolQuantity = 0.01

// Purchase is the result of pricing a payment against a pool.
type Purchase struct {
	Shares float64
	Next   Pricer // pool state after the swap
	Fees   domain.Fees
}

// Pricer prices trades against one liquidity pool. Implementations are
// immutable values: Buy returns the successor state rather than mutating.
type Pricer interface {
	// Prob returns the implied probability of the given outcome.
	Prob(outcome domain.Outcome) float64

	// Shares returns the shares a payment buys, without applying it.
	Shares(outcome domain.Outcome, amount float64) float64

	// Buy applies a payment to the pool. freeFees skips the taker fee
	// (used when transforming sales, which already paid on the buy side).
	Buy(outcome domain.Outcome, amount float64, freeFees bool) (Purchase, error)

	// AmountToProb returns the payment that would move the pool's implied
	// probability of the outcome to prob. Returns +Inf when prob is not
	// strictly inside (0,1).
	AmountToProb(outcome domain.Outcome, prob float64) float64

	// Invariant returns the conserved pool quantity.
	Invariant() float64

	// MinReserve returns the smallest reserve in the pool.
	MinReserve() float64

	// Mechanism returns the pool state as a domain mechanism value.
	Mechanism() domain.Mechanism
}

// ForMarket selects and validates the pricing strategy for a market. For
// multi-pool markets answerID names the answer pool to trade; binary
// markets require an empty answerID.
func ForMarket(m domain.Market, answerID string) (Pricer, error) {
	switch mech := m.Mechanism.(type) {
	case domain.WeightedPool:
		if answerID != "" {
			return nil, fmt.Errorf("cpmm: market %s is binary: %w", m.ID, domain.ErrInvalidOrder)
		}
		p := Weighted{Yes: mech.Yes, No: mech.No, P: mech.P}
		if err := p.validate(); err != nil {
			return nil, err
		}
		return p, nil
	case domain.SimplePool:
		if answerID != "" {
			return nil, fmt.Errorf("cpmm: market %s is binary: %w", m.ID, domain.ErrInvalidOrder)
		}
		p := Simple{Yes: mech.Yes, No: mech.No}
		if err := p.validate(); err != nil {
			return nil, err
		}
		return p, nil
	case domain.MultiPool:
		if answerID == "" {
			return nil, fmt.Errorf("cpmm: market %s requires an answer id: %w", m.ID, domain.ErrInvalidOrder)
		}
		sub, ok := mech.Answers[answerID]
		if !ok {
			return nil, fmt.Errorf("cpmm: market %s has no answer %q: %w", m.ID, answerID, domain.ErrNotFound)
		}
		p := Weighted{Yes: sub.Yes, No: sub.No, P: 0.5}
		if err := p.validate(); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("cpmm: market %s: unknown mechanism %T", m.ID, m.Mechanism)
	}
}

// UpdateMechanism writes a pricer's post-trade state back into a market
// mechanism, returning the new mechanism value.
func UpdateMechanism(mech domain.Mechanism, answerID string, p Pricer) (domain.Mechanism, error) {
	switch mech.(type) {
	case domain.WeightedPool:
		w, ok := p.(Weighted)
		if !ok {
			return nil, fmt.Errorf("cpmm: expected weighted state, got %T", p)
		}
		return domain.WeightedPool{Yes: w.Yes, No: w.No, P: w.P}, nil
	case domain.SimplePool:
		s, ok := p.(Simple)
		if !ok {
			return nil, fmt.Errorf("cpmm: expected simple state, got %T", p)
		}
		return domain.SimplePool{Yes: s.Yes, No: s.No}, nil
	case domain.MultiPool:
		w, ok := p.(Weighted)
		if !ok {
			return nil, fmt.Errorf("cpmm: expected weighted answer state, got %T", p)
		}
		multi := mech.Clone().(domain.MultiPool)
		if _, ok := multi.Answers[answerID]; !ok {
			return nil, fmt.Errorf("cpmm: no answer %q to update: %w", answerID, domain.ErrNotFound)
		}
		multi.Answers[answerID] = domain.AnswerPool{Yes: w.Yes, No: w.No}
		return multi, nil
	default:
		return nil, fmt.Errorf("cpmm: unknown mechanism %T", mech)
	}
}

// CheckState verifies the post-trade pool invariants the ledger enforces
// before commit: all reserves finite and strictly above the minimum pool
// quantity, and the implied probability strictly inside (0,1).
func CheckState(p Pricer) error {
	minReserve := p.MinReserve()
	if !numeric.IsFinitePositive(minReserve) || minReserve < MinPoolQuantity {
		return fmt.Errorf("cpmm: reserve %g below minimum %g: %w", minReserve, MinPoolQuantity, domain.ErrInsufficientLiquidity)
	}
	prob := p.Prob(domain.OutcomeYes)
	if !numeric.IsFinite(prob) || prob <= 0 || prob >= 1 {
		return fmt.Errorf("cpmm: implied probability %g outside (0,1): %w", prob, domain.ErrNumericInvariant)
	}
	return nil
}
