package analysis

import (
	"math"
	"sort"

	"github.com/markcheno/go-talib"

	"liquidity-trap-engine/internal/market"
)

// VolumeAnalyzer provides trailing volume baselines and volatility measures
type VolumeAnalyzer struct {
	avgPeriod int // Period for average volume calculation
	atrPeriod int
}

// NewVolumeAnalyzer creates a new volume analyzer
func NewVolumeAnalyzer(avgPeriod, atrPeriod int) *VolumeAnalyzer {
	if avgPeriod <= 0 {
		avgPeriod = 20 // Default 20-period average
	}
	if atrPeriod <= 0 {
		atrPeriod = 14
	}
	return &VolumeAnalyzer{
		avgPeriod: avgPeriod,
		atrPeriod: atrPeriod,
	}
}

// TrailingAverages returns, for every bar, the mean volume of the avgPeriod
// bars before it. Bars without a full lookback get 0.
func (va *VolumeAnalyzer) TrailingAverages(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	if len(candles) <= va.avgPeriod {
		return out
	}

	sma := talib.Sma(market.Volumes(candles), va.avgPeriod)
	for i := va.avgPeriod; i < len(candles); i++ {
		out[i] = sma[i-1]
	}
	return out
}

// Ratio returns volume[i] / trailing average, and false when no baseline exists
func (va *VolumeAnalyzer) Ratio(candles []market.Candle, averages []float64, i int) (float64, bool) {
	if i < 0 || i >= len(candles) || i >= len(averages) || averages[i] <= 0 {
		return 0, false
	}
	return candles[i].Volume / averages[i], true
}

// ATR returns the average true range series; leading bars are 0
func (va *VolumeAnalyzer) ATR(candles []market.Candle) []float64 {
	if len(candles) <= va.atrPeriod {
		return make([]float64, len(candles))
	}
	return talib.Atr(market.Highs(candles), market.Lows(candles), market.Closes(candles), va.atrPeriod)
}

// MeanVolume returns the arithmetic mean of all volumes
func MeanVolume(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}

// VolumeQuantile returns the q-quantile of bar volumes using linear
// interpolation between closest ranks
func VolumeQuantile(candles []market.Candle, q float64) float64 {
	if len(candles) == 0 {
		return 0
	}
	vols := market.Volumes(candles)
	sort.Float64s(vols)

	q = clamp(q, 0, 1)
	pos := q * float64(len(vols)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return vols[lower]
	}
	frac := pos - float64(lower)
	return vols[lower] + (vols[upper]-vols[lower])*frac
}

// closeVolatility returns the standard deviation of the last n closes
// relative to their mean
func closeVolatility(candles []market.Candle, end, n int) float64 {
	start := end - n + 1
	if start < 0 {
		start = 0
	}
	if end < start || end >= len(candles) {
		return 0
	}

	count := float64(end - start + 1)
	mean := 0.0
	for i := start; i <= end; i++ {
		mean += candles[i].Close
	}
	mean /= count
	if mean == 0 {
		return 0
	}

	variance := 0.0
	for i := start; i <= end; i++ {
		d := candles[i].Close - mean
		variance += d * d
	}
	return math.Sqrt(variance/count) / mean
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
