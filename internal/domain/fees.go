package domain

// Fees is the per-trade fee split, accumulated on the market across its
// lifetime.
type Fees struct {
	Platform  float64 `json:"platform"`
	Creator   float64 `json:"creator"`
	Liquidity float64 `json:"liquidity"`
}

// NoFees is the zero fee split.
var NoFees = Fees{}

// Total returns the sum of all fee buckets.
func (f Fees) Total() float64 {
	return f.Platform + f.Creator + f.Liquidity
}

// Add returns the bucket-wise sum of two fee splits.
func (f Fees) Add(o Fees) Fees {
	return Fees{
		Platform:  f.Platform + o.Platform,
		Creator:   f.Creator + o.Creator,
		Liquidity: f.Liquidity + o.Liquidity,
	}
}
