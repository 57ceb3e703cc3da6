package domain

import (
	"time"

	"github.com/foldmarkets/settld/internal/numeric"
)

// Account is a trading account balance. Identity and authentication are
// external; the engine receives a trusted account id.
type Account struct {
	ID           string
	BalanceUnits int64 // micro-units; never negative at rest
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Balance returns the available balance as a float.
func (a Account) Balance() float64 {
	return numeric.FromUnits(a.BalanceUnits)
}

// Position is the number of shares an account holds in one (market, answer,
// outcome) bucket. Shares may only go negative transiently inside a commit,
// never at rest.
type Position struct {
	AccountID string    `json:"account_id"`
	MarketID  string    `json:"market_id"`
	AnswerID  string    `json:"answer_id,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Shares    float64   `json:"shares"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PositionDelta is one share adjustment applied inside a commit.
type PositionDelta struct {
	AccountID string
	MarketID  string
	AnswerID  string
	Outcome   Outcome
	Shares    float64 // signed
}
