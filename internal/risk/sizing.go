package risk

import (
	"github.com/shopspring/decimal"

	"liquidity-trap-engine/internal/market"
)

var hundred = decimal.NewFromInt(100)

// SizeResult is the outcome of percent-risk sizing
type SizeResult struct {
	Size        decimal.Decimal
	RiskAmount  decimal.Decimal
	RiskPerUnit decimal.Decimal
	Capped      bool
}

// CalculatePositionSize sizes a position so that a stop-out loses
// balance*riskFraction, then caps notional at maxExposurePct of balance.
// Sizes are truncated, never rounded up.
func CalculatePositionSize(entryPrice, stopLoss, balance, riskFraction, maxExposurePct float64, precision int32) SizeResult {
	if entryPrice <= 0 || stopLoss <= 0 || balance <= 0 || riskFraction <= 0 {
		return SizeResult{}
	}

	riskPerUnit := decimal.NewFromFloat(entryPrice).Sub(decimal.NewFromFloat(stopLoss)).Abs()
	if riskPerUnit.IsZero() {
		return SizeResult{}
	}

	// Risk amount in quote currency
	riskAmount := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(riskFraction))

	// Position size = Risk Amount / Risk Per Unit
	size := riskAmount.Div(riskPerUnit).Truncate(precision)

	result := SizeResult{Size: size, RiskAmount: riskAmount, RiskPerUnit: riskPerUnit}

	if maxExposurePct > 0 {
		maxNotional := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(maxExposurePct)).Div(hundred)
		maxSize := maxNotional.Div(decimal.NewFromFloat(entryPrice)).Truncate(precision)
		if size.GreaterThan(maxSize) {
			result.Size = maxSize
			result.Capped = true
		}
	}

	return result
}

// SplitAllocations divides size across the ladder. The first levels are
// truncated to precision and the last takes the exact remainder, so the
// parts always sum to size.
func SplitAllocations(size decimal.Decimal, allocations [3]float64, precision int32) [3]decimal.Decimal {
	var parts [3]decimal.Decimal
	allocated := decimal.Zero
	for i := 0; i < len(allocations)-1; i++ {
		parts[i] = size.Mul(decimal.NewFromFloat(allocations[i])).Div(hundred).Truncate(precision)
		allocated = allocated.Add(parts[i])
	}
	parts[len(parts)-1] = size.Sub(allocated)
	return parts
}

// LadderPrices places TP1..TP3 at risk multiples from entry in the trade
// direction
func LadderPrices(entry, stop float64, dir market.Direction, multiples [3]float64) [3]float64 {
	e := decimal.NewFromFloat(entry)
	risk := e.Sub(decimal.NewFromFloat(stop)).Abs()
	sign := decimal.NewFromFloat(dir.Sign())

	var prices [3]float64
	for i, m := range multiples {
		prices[i] = e.Add(sign.Mul(risk).Mul(decimal.NewFromFloat(m))).InexactFloat64()
	}
	return prices
}
