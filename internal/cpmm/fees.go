package cpmm

import "github.com/foldmarkets/settld/internal/domain"

// takerFeeWeight scales the taker fee: fee = weight * p * (1-p) * shares.
// Fees peak at even odds and vanish near certainty.
const takerFeeWeight = 0.07

// feeSolverIterations bounds the fixed-point iteration that finds the fee
// consistent with the post-fee bet amount.
const feeSolverIterations = 10

func takerFee(shares, prob float64) float64 {
	return takerFeeWeight * prob * (1 - prob) * shares
}

// splitFees divides a total fee between the platform and the market
// creator. No portion is returned to the pool as liquidity.
func splitFees(total float64) domain.Fees {
	half := total / 2
	return domain.Fees{Platform: half, Creator: half}
}
