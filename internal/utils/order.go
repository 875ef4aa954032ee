package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// MaxQuantityForBudget calculates the maximum base quantity a quote budget
// can buy at the given price while leaving room for a fee charged at
// feeRate (e.g. 0.001 for 10 bps).
func MaxQuantityForBudget(budget float64, price float64, feeRate float64) float64 {
	// Handle edge cases
	if price <= 0 || budget <= 0 {
		return 0
	}

	// Initial rough estimate (ignoring fees)
	maxQty := budget / price

	// Iteratively refine by accounting for fees
	for i := 0; i < 10; i++ { // Usually converges quickly, limit iterations
		totalCost := maxQty * price * (1 + feeRate)
		if totalCost <= budget {
			break
		}
		// Adjust quantity down proportionally
		adjustment := budget / totalCost
		maxQty = maxQty * adjustment
	}

	return maxQty
}

// RoundToDecimalPrecision rounds the quantity to the specified decimal precision.
func RoundToDecimalPrecision(quantity float64, decimalPrecision int) float64 {
	multiplier := math.Pow10(decimalPrecision)

	return math.Floor(quantity*multiplier) / multiplier
}

// Notional returns price × amount using decimal arithmetic to avoid
// floating point drift on money values.
func Notional(price, amount float64) float64 {
	result, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(amount)).Float64()

	return result
}

// RealizedProfit returns sell proceeds minus buy cost minus total fees,
// computed with decimal arithmetic.
func RealizedProfit(entryPrice, exitPrice, amount, totalFees float64) float64 {
	amt := decimal.NewFromFloat(amount)
	proceeds := decimal.NewFromFloat(exitPrice).Mul(amt)
	cost := decimal.NewFromFloat(entryPrice).Mul(amt)

	result, _ := proceeds.Sub(cost).Sub(decimal.NewFromFloat(totalFees)).Float64()

	return result
}
