package risk

import (
	"math"

	"liquidity-trap-engine/internal/market"
)

// StopUpdate represents a trailing stop move
type StopUpdate struct {
	PositionID  string
	Symbol      string
	OldStopLoss float64
	NewStopLoss float64
}

// advanceTrailingStop ratchets the trailing stop toward price. It never
// loosens the active stop and returns nil when the stop did not move.
func advanceTrailingStop(pos *Position, currentPrice, activationPct float64) *StopUpdate {
	if pos.EntryPrice <= 0 || currentPrice <= 0 {
		return nil
	}
	switch pos.Direction {
	case market.Bullish:
		return updateLongTrailing(pos, currentPrice, activationPct)
	case market.Bearish:
		return updateShortTrailing(pos, currentPrice, activationPct)
	default:
		return nil
	}
}

// updateLongTrailing moves the stop up to price*(1-trail%)
func updateLongTrailing(pos *Position, currentPrice, activationPct float64) *StopUpdate {
	// Check if trailing should be activated
	profitPercent := ((currentPrice - pos.EntryPrice) / pos.EntryPrice) * 100
	if profitPercent < activationPct {
		return nil
	}

	oldStop := pos.ActiveStop()
	candidate := currentPrice * (1 - pos.TrailDistancePct/100)
	newStop := math.Max(oldStop, candidate)
	pos.TrailingStop = newStop

	// Only move stop loss up, never down
	if newStop <= oldStop {
		return nil
	}
	return &StopUpdate{PositionID: pos.ID, Symbol: pos.Symbol, OldStopLoss: oldStop, NewStopLoss: newStop}
}

// updateShortTrailing moves the stop down to price*(1+trail%)
func updateShortTrailing(pos *Position, currentPrice, activationPct float64) *StopUpdate {
	profitPercent := ((pos.EntryPrice - currentPrice) / pos.EntryPrice) * 100
	if profitPercent < activationPct {
		return nil
	}

	oldStop := pos.ActiveStop()
	candidate := currentPrice * (1 + pos.TrailDistancePct/100)
	newStop := math.Min(oldStop, candidate)
	pos.TrailingStop = newStop

	// Only move stop loss down for shorts
	if newStop >= oldStop {
		return nil
	}
	return &StopUpdate{PositionID: pos.ID, Symbol: pos.Symbol, OldStopLoss: oldStop, NewStopLoss: newStop}
}

// stopBreached reports whether price has reached the active stop
func stopBreached(pos *Position, currentPrice float64) bool {
	stop := pos.ActiveStop()
	switch pos.Direction {
	case market.Bullish:
		return currentPrice <= stop
	case market.Bearish:
		return currentPrice >= stop
	default:
		return false
	}
}

// targetReached reports whether price has reached a take-profit level
func targetReached(dir market.Direction, currentPrice, target float64) bool {
	switch dir {
	case market.Bullish:
		return currentPrice >= target
	case market.Bearish:
		return currentPrice <= target
	default:
		return false
	}
}
