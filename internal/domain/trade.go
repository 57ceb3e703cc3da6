package domain

import "time"

// PoolCounterparty is the maker id recorded when a fill matched the AMM
// pool rather than a resting order.
const PoolCounterparty = "pool"

// TradeKind distinguishes ordinary fills from redemption credits.
type TradeKind string

const (
	TradeKindFill       TradeKind = "fill"
	TradeKindRedemption TradeKind = "redemption"
)

// Trade is the immutable record of one matched quantity between a taker
// and either a maker order or the pool. Trades are append-only.
type Trade struct {
	ID             string    `json:"id"`
	Kind           TradeKind `json:"kind"`
	MarketID       string    `json:"market_id"`
	AnswerID       string    `json:"answer_id,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	TakerAccountID string    `json:"taker_account_id"`
	TakerOrderID   string    `json:"taker_order_id"`
	MakerAccountID string    `json:"maker_account_id"` // PoolCounterparty when filled by the AMM
	MakerOrderID   string    `json:"maker_order_id,omitempty"`
	Amount         float64   `json:"amount"`
	Shares         float64   `json:"shares"`
	Price          float64   `json:"price"`
	CreatedAt      time.Time `json:"created_at"`
}
