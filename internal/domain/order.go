package domain

import (
	"time"

	"github.com/foldmarkets/settld/internal/numeric"
)

// Outcome names one side of a binary pool.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Opposite returns the other side of a binary pool.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// Valid reports whether o is one of the two binary outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// OrderSide indicates whether the order buys shares with currency or sells
// held shares back.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the fill state of an order. Orders are never deleted;
// a cancelled or filled order is retained as an audit record.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// Fill is one matched quantity recorded on an order. MatchedOrderID is
// empty when the counterparty was the AMM pool.
type Fill struct {
	Amount         float64   `json:"amount"`
	Shares         float64   `json:"shares"`
	MatchedOrderID string    `json:"matched_order_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Order is a buy or sell request against one market outcome. An order with
// a limit probability rests on the book until matched, cancelled, or
// expired; an order without one takes whatever liquidity is available.
type Order struct {
	ID        string
	AccountID string
	MarketID  string
	AnswerID  string // multi-pool markets only; empty for binary
	Outcome   Outcome
	Side      OrderSide

	// AmountUnits is the requested payment in micro-units for buys, or the
	// share quantity scaled by numeric.UnitScale for sells.
	AmountUnits int64
	LimitProb   *float64
	Status      OrderStatus
	Fills       []Fill
	ExpiresAt   *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Amount returns the requested amount as a float.
func (o Order) Amount() float64 {
	return numeric.FromUnits(o.AmountUnits)
}

// FilledAmount returns the cumulative amount matched so far.
func (o Order) FilledAmount() float64 {
	var total float64
	for _, f := range o.Fills {
		total += f.Amount
	}
	return total
}

// FilledShares returns the cumulative shares acquired so far.
func (o Order) FilledShares() float64 {
	var total float64
	for _, f := range o.Fills {
		total += f.Shares
	}
	return total
}

// Remaining returns the unfilled portion of the requested amount.
func (o Order) Remaining() float64 {
	r := o.Amount() - o.FilledAmount()
	if r < 0 {
		return 0
	}
	return r
}

// Resting reports whether the order is still eligible for matching at the
// given time.
func (o Order) Resting(now time.Time) bool {
	if o.Status != OrderStatusOpen && o.Status != OrderStatusPartiallyFilled {
		return false
	}
	if o.ExpiresAt != nil && !now.Before(*o.ExpiresAt) {
		return false
	}
	return true
}

// StatusAfterFill returns the fill state implied by the order's cumulative
// fills: filled when the requested amount is exhausted within epsilon,
// partially filled when anything has matched, open otherwise.
func (o Order) StatusAfterFill() OrderStatus {
	filled := o.FilledAmount()
	switch {
	case numeric.Equal(filled, o.Amount()) || filled > o.Amount():
		return OrderStatusFilled
	case filled > numeric.Epsilon:
		return OrderStatusPartiallyFilled
	default:
		return OrderStatusOpen
	}
}
