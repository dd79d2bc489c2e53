package analysis

import (
	"math"
	"time"

	"liquidity-trap-engine/internal/market"
)

// CleanZone is a price band traversed with little bar-to-bar overlap and
// healthy participation
type CleanZone struct {
	LowerBound    float64   `json:"lower_bound"`
	UpperBound    float64   `json:"upper_bound"`
	CenterIndex   int       `json:"center_index"`
	Timestamp     time.Time `json:"timestamp"`
	VolumeProfile float64   `json:"volume_profile"`
	Quality       float64   `json:"quality"`
}

// Height returns the width of the band
func (cz CleanZone) Height() float64 {
	return cz.UpperBound - cz.LowerBound
}

// Contains reports whether price lies inside the band
func (cz CleanZone) Contains(price float64) bool {
	return price >= cz.LowerBound && price <= cz.UpperBound
}

// CleanZones scores a window of bars around each bar and keeps the bands
// whose quality exceeds the configured floor
func CleanZones(candles []market.Candle, cfg Config) []CleanZone {
	window := cfg.CleanZoneWindow
	if window < 1 {
		window = 10
	}
	if len(candles) < window+2 {
		return nil
	}

	meanVolume := MeanVolume(candles)

	var zones []CleanZone
	for i := window; i < len(candles); i++ {
		start := i - window
		end := i + window
		if end > len(candles) {
			end = len(candles)
		}
		if zone, ok := scoreCleanZone(candles, start, end, meanVolume); ok && zone.Quality > cfg.MinCleanZoneQuality {
			zone.CenterIndex = i
			zone.Timestamp = candles[i].Timestamp
			zones = append(zones, zone)
		}
	}
	return zones
}

// scoreCleanZone rates candles[start:end]. Quality is the mean share of each
// consecutive pair's combined range that is not shared, scaled by relative
// volume and clamped to [0,1].
func scoreCleanZone(candles []market.Candle, start, end int, meanVolume float64) (CleanZone, bool) {
	if end-start < 2 {
		return CleanZone{}, false
	}

	lower, upper := candles[start].Low, candles[start].High
	volume := 0.0
	overlap := 0.0
	for i := start; i < end; i++ {
		c := candles[i]
		lower = math.Min(lower, c.Low)
		upper = math.Max(upper, c.High)
		volume += c.Volume

		if i+1 < end {
			next := candles[i+1]
			shared := math.Min(c.High, next.High) - math.Max(c.Low, next.Low)
			union := math.Max(c.High, next.High) - math.Min(c.Low, next.Low)
			if shared > 0 && union > 0 {
				overlap += shared / union
			}
		}
	}

	if upper <= lower {
		return CleanZone{}, false
	}

	avgVolume := volume / float64(end-start)
	volumeFactor := 1.0
	if meanVolume > 0 {
		volumeFactor = math.Min(avgVolume/meanVolume, 1.5)
	}

	overlapRatio := overlap / float64(end-start-1)
	return CleanZone{
		LowerBound:    lower,
		UpperBound:    upper,
		VolumeProfile: avgVolume,
		Quality:       clamp((1-overlapRatio)*volumeFactor, 0, 1),
	}, true
}
