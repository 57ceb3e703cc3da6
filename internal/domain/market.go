package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// Market is the settlement engine's view of a prediction market. Question
// text, categories, and other display metadata live with the metadata
// provider; the engine only needs the pool, the close time, and the
// resolution state.
type Market struct {
	ID              string
	Mechanism       Mechanism
	Volume          float64
	CollectedFees   Fees
	CloseTime       time.Time
	Status          MarketStatus
	ResolvedOutcome string // set only when Status is resolved

	// Version is the optimistic-concurrency guard; every committed trade
	// bumps it and every commit checks it.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OpenForTrading reports whether new orders may be placed at the given time.
func (m Market) OpenForTrading(now time.Time) bool {
	if m.Status != MarketStatusOpen {
		return false
	}
	return m.CloseTime.IsZero() || now.Before(m.CloseTime)
}

// AnswerIDs returns the answer identifiers of a multi-pool market, or nil
// for binary markets.
func (m Market) AnswerIDs() []string {
	multi, ok := m.Mechanism.(MultiPool)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(multi.Answers))
	for id := range multi.Answers {
		ids = append(ids, id)
	}
	return ids
}
