package analysis

import (
	"iter"
	"time"

	"liquidity-trap-engine/internal/market"
)

// SwingKind distinguishes fractal highs from fractal lows
type SwingKind int

const (
	SwingHigh SwingKind = iota + 1
	SwingLow
)

func (k SwingKind) String() string {
	switch k {
	case SwingHigh:
		return "high"
	case SwingLow:
		return "low"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind as its name
func (k SwingKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// SwingPoint represents a local extreme over a symmetric window
type SwingPoint struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Kind      SwingKind `json:"kind"`
}

// SwingDetector finds fractal highs and lows
type SwingDetector struct {
	window int // bars on each side that must be strictly exceeded
}

// NewSwingDetector creates a detector with window radius p
func NewSwingDetector(p int) *SwingDetector {
	return &SwingDetector{window: p}
}

// Points lazily yields swing highs and lows in bar order. A bar that is
// both a swing high and a swing low yields the high first.
func (sd *SwingDetector) Points(candles []market.Candle) iter.Seq[SwingPoint] {
	return func(yield func(SwingPoint) bool) {
		p := sd.window
		if p < 1 || len(candles) < 2*p+1 {
			return
		}

		for i := p; i < len(candles)-p; i++ {
			if sd.isSwingHigh(candles, i) {
				if !yield(SwingPoint{Index: i, Timestamp: candles[i].Timestamp, Price: candles[i].High, Kind: SwingHigh}) {
					return
				}
			}
			if sd.isSwingLow(candles, i) {
				if !yield(SwingPoint{Index: i, Timestamp: candles[i].Timestamp, Price: candles[i].Low, Kind: SwingLow}) {
					return
				}
			}
		}
	}
}

// Detect collects every swing point
func (sd *SwingDetector) Detect(candles []market.Candle) []SwingPoint {
	var swings []SwingPoint
	for sp := range sd.Points(candles) {
		swings = append(swings, sp)
	}
	return swings
}

// isSwingHigh rejects ties: any neighbour at or above the bar disqualifies it
func (sd *SwingDetector) isSwingHigh(candles []market.Candle, i int) bool {
	current := candles[i].High
	for j := i - sd.window; j <= i+sd.window; j++ {
		if j != i && candles[j].High >= current {
			return false
		}
	}
	return true
}

func (sd *SwingDetector) isSwingLow(candles []market.Candle, i int) bool {
	current := candles[i].Low
	for j := i - sd.window; j <= i+sd.window; j++ {
		if j != i && candles[j].Low <= current {
			return false
		}
	}
	return true
}

// FilterSwings returns the swings of one kind, preserving order
func FilterSwings(swings []SwingPoint, kind SwingKind) []SwingPoint {
	var out []SwingPoint
	for _, sp := range swings {
		if sp.Kind == kind {
			out = append(out, sp)
		}
	}
	return out
}

// CountRising counts swing points that exceed their predecessor
func CountRising(points []SwingPoint) int {
	count := 0
	for i := 1; i < len(points); i++ {
		if points[i].Price > points[i-1].Price {
			count++
		}
	}
	return count
}

// CountFalling counts swing points below their predecessor
func CountFalling(points []SwingPoint) int {
	count := 0
	for i := 1; i < len(points); i++ {
		if points[i].Price < points[i-1].Price {
			count++
		}
	}
	return count
}
