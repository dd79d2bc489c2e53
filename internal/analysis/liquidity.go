package analysis

import (
	"math"
	"sort"
	"time"

	"liquidity-trap-engine/internal/market"
)

// ZoneType represents the role of a liquidity zone
type ZoneType int

const (
	ZoneResistance ZoneType = iota + 1
	ZoneSupport
	ZoneVolume
	ZoneSessionHigh
	ZoneSessionLow
)

func (t ZoneType) String() string {
	switch t {
	case ZoneResistance:
		return "resistance"
	case ZoneSupport:
		return "support"
	case ZoneVolume:
		return "volume"
	case ZoneSessionHigh:
		return "session_high"
	case ZoneSessionLow:
		return "session_low"
	default:
		return "unknown"
	}
}

// MarshalText encodes the zone type as its name
func (t ZoneType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// typeWeight is the strength bonus granted per zone type
func (t ZoneType) typeWeight() float64 {
	switch t {
	case ZoneResistance, ZoneSupport:
		return 0.1
	case ZoneSessionHigh, ZoneSessionLow:
		return 0.15
	default:
		return 0
	}
}

// ZoneSource records which detector produced a zone
type ZoneSource int

const (
	SourceFractal ZoneSource = iota + 1
	SourceEqualLevel
	SourceHighVolume
	SourceSession
)

func (s ZoneSource) String() string {
	switch s {
	case SourceFractal:
		return "fractal"
	case SourceEqualLevel:
		return "equal_level"
	case SourceHighVolume:
		return "high_volume"
	case SourceSession:
		return "session"
	default:
		return "unknown"
	}
}

// MarshalText encodes the source as its name
func (s ZoneSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LiquidityZone is a price band where resting orders are inferred to sit
type LiquidityZone struct {
	Price         float64    `json:"price"`
	UpperBound    float64    `json:"upper_bound"`
	LowerBound    float64    `json:"lower_bound"`
	Type          ZoneType   `json:"zone_type"`
	Source        ZoneSource `json:"source"`
	Touches       int        `json:"touches"`
	Strength      float64    `json:"strength"`
	CreatedIndex  int        `json:"created_index"`
	CreatedAt     time.Time  `json:"created_at"`
	LastTestIndex int        `json:"last_test_index"`
	LastTest      time.Time  `json:"last_test"`
	Active        bool       `json:"active"`
}

// Height returns the width of the band
func (z LiquidityZone) Height() float64 {
	return z.UpperBound - z.LowerBound
}

// Contains reports whether price lies inside the bounds
func (z LiquidityZone) Contains(price float64) bool {
	return price >= z.LowerBound && price <= z.UpperBound
}

// Overlaps reports whether two zones share any price
func (z LiquidityZone) Overlaps(other LiquidityZone) bool {
	return z.UpperBound >= other.LowerBound && other.UpperBound >= z.LowerBound
}

// touchedBy reports whether the bar's range intersects the zone
func (z LiquidityZone) touchedBy(c market.Candle) bool {
	return c.Low <= z.UpperBound && c.High >= z.LowerBound
}

// SweepSide tells which side of a zone was raided
type SweepSide int

const (
	SideAbove SweepSide = iota + 1
	SideBelow
)

func (s SweepSide) String() string {
	if s == SideAbove {
		return "above"
	}
	return "below"
}

// MarshalText encodes the side as its name
func (s SweepSide) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BreachDirection is the direction of the raid itself
func (s SweepSide) BreachDirection() market.Direction {
	if s == SideAbove {
		return market.Bullish
	}
	return market.Bearish
}

// Sweep records a breach of a zone's outer bound followed by a close back
// across its center
type Sweep struct {
	ZoneIndex     int       `json:"zone_index"`
	Level         float64   `json:"level"`
	Side          SweepSide `json:"side"`
	BreachIndex   int       `json:"breach_index"`
	ReversalIndex int       `json:"reversal_index"`
	Extreme       float64   `json:"extreme"`
	ReversalClose float64   `json:"reversal_close"`
	Timestamp     time.Time `json:"timestamp"`
}

// RetestOutcome classifies a re-entry into a zone
type RetestOutcome int

const (
	RetestRejection RetestOutcome = iota + 1
	RetestBounce
	RetestBreak
)

func (o RetestOutcome) String() string {
	switch o {
	case RetestRejection:
		return "rejection"
	case RetestBounce:
		return "bounce"
	case RetestBreak:
		return "break"
	default:
		return "unknown"
	}
}

// MarshalText encodes the outcome as its name
func (o RetestOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Retest is one re-entry into a zone's bounds
type Retest struct {
	ZoneIndex int           `json:"zone_index"`
	Index     int           `json:"index"`
	Outcome   RetestOutcome `json:"outcome"`
	Close     float64       `json:"close"`
}

// LiquidityTracker builds zones and detects sweeps and retests
type LiquidityTracker struct {
	cfg Config
}

// NewLiquidityTracker creates a new liquidity tracker
func NewLiquidityTracker(cfg Config) *LiquidityTracker {
	return &LiquidityTracker{cfg: cfg}
}

// candidate carries the scoring inputs for a zone before validation
type candidate struct {
	zone          LiquidityZone
	base          float64
	lastSource    int
	sourceTouches int
}

// Zones builds, scores and merges candidate zones. The result is ordered by
// strength, strongest first, and no two zones overlap.
func (lt *LiquidityTracker) Zones(candles []market.Candle, swings []SwingPoint) []LiquidityZone {
	if len(candles) == 0 {
		return nil
	}

	var candidates []candidate
	candidates = append(candidates, lt.fractalZones(candles, swings)...)
	candidates = append(candidates, lt.equalLevelZones(candles, true)...)
	candidates = append(candidates, lt.equalLevelZones(candles, false)...)
	candidates = append(candidates, lt.volumeZones(candles)...)
	if lt.cfg.SessionZones {
		candidates = append(candidates, lt.sessionZones(candles)...)
	}

	scored := make([]LiquidityZone, 0, len(candidates))
	for _, cand := range candidates {
		if zone, ok := lt.score(candles, cand); ok {
			scored = append(scored, zone)
		}
	}

	return mergeZones(scored)
}

func (lt *LiquidityTracker) newCandidate(candles []market.Candle, price, lower, upper float64, zt ZoneType, src ZoneSource, created, lastSource, touches int, base float64) candidate {
	return candidate{
		zone: LiquidityZone{
			Price:        price,
			UpperBound:   math.Max(upper, price),
			LowerBound:   math.Min(lower, price),
			Type:         zt,
			Source:       src,
			CreatedIndex: created,
			CreatedAt:    candles[created].Timestamp,
		},
		base:          base,
		lastSource:    lastSource,
		sourceTouches: touches,
	}
}

// fractalZones turns swing highs into resistance and swing lows into support
func (lt *LiquidityTracker) fractalZones(candles []market.Candle, swings []SwingPoint) []candidate {
	buf := lt.cfg.zoneBuffer()
	out := make([]candidate, 0, len(swings))

	for _, sp := range swings {
		if sp.Index < 0 || sp.Index >= len(candles) {
			continue
		}
		zt := ZoneSupport
		if sp.Kind == SwingHigh {
			zt = ZoneResistance
		}
		out = append(out, lt.newCandidate(candles, sp.Price, sp.Price*(1-buf), sp.Price*(1+buf),
			zt, SourceFractal, sp.Index, sp.Index, 1, 0.5))
	}
	return out
}

// equalLevelZones clusters highs (or lows) lying within mean*buffer of the
// first member of a cluster
func (lt *LiquidityTracker) equalLevelZones(candles []market.Candle, useHighs bool) []candidate {
	prices := market.Lows(candles)
	zt := ZoneSupport
	if useHighs {
		prices = market.Highs(candles)
		zt = ZoneResistance
	}

	mean := 0.0
	for _, p := range prices {
		mean += p
	}
	mean /= float64(len(prices))

	buf := lt.cfg.zoneBuffer()
	tolerance := mean * buf
	if tolerance <= 0 {
		return nil
	}

	type cluster struct {
		anchor  float64
		indices []int
	}
	var clusters []*cluster

	for i, p := range prices {
		var found *cluster
		for _, cl := range clusters {
			if abs(p-cl.anchor) <= tolerance {
				found = cl
				break
			}
		}
		if found == nil {
			found = &cluster{anchor: p}
			clusters = append(clusters, found)
		}
		found.indices = append(found.indices, i)
	}

	minTouches := lt.cfg.MinTouches
	if minTouches < 2 {
		minTouches = 2
	}

	var out []candidate
	for _, cl := range clusters {
		if len(cl.indices) < minTouches {
			continue
		}
		level := 0.0
		for _, idx := range cl.indices {
			level += prices[idx]
		}
		level /= float64(len(cl.indices))

		n := len(cl.indices)
		out = append(out, lt.newCandidate(candles, level, level*(1-buf), level*(1+buf),
			zt, SourceEqualLevel, cl.indices[0], cl.indices[n-1], n, math.Min(float64(n)*0.2, 1)))
	}
	return out
}

// volumeZones marks bars at or above the volume quantile
func (lt *LiquidityTracker) volumeZones(candles []market.Candle) []candidate {
	threshold := VolumeQuantile(candles, lt.cfg.VolumeQuantile)
	mean := MeanVolume(candles)
	if threshold <= 0 || mean <= 0 {
		return nil
	}

	buf := lt.cfg.zoneBuffer()
	var out []candidate
	for i, c := range candles {
		if c.Volume < threshold {
			continue
		}
		out = append(out, lt.newCandidate(candles, c.Midpoint(), c.Low*(1-buf), c.High*(1+buf),
			ZoneVolume, SourceHighVolume, i, i, 1, math.Min(c.Volume/mean*0.3, 1)))
	}
	return out
}

// sessionZones marks the high and low of each of the last UTC days
func (lt *LiquidityTracker) sessionZones(candles []market.Candle) []candidate {
	type session struct {
		high, low int
	}
	var sessions []session
	var lastDay time.Time

	for i, c := range candles {
		day := c.Timestamp.UTC().Truncate(24 * time.Hour)
		if len(sessions) == 0 || !day.Equal(lastDay) {
			sessions = append(sessions, session{high: i, low: i})
			lastDay = day
			continue
		}
		s := &sessions[len(sessions)-1]
		if c.High > candles[s.high].High {
			s.high = i
		}
		if c.Low < candles[s.low].Low {
			s.low = i
		}
	}

	if lt.cfg.SessionCount > 0 && len(sessions) > lt.cfg.SessionCount {
		sessions = sessions[len(sessions)-lt.cfg.SessionCount:]
	}

	buf := lt.cfg.zoneBuffer()
	out := make([]candidate, 0, 2*len(sessions))
	for _, s := range sessions {
		hi := candles[s.high].High
		lo := candles[s.low].Low
		out = append(out,
			lt.newCandidate(candles, hi, hi*(1-buf), hi*(1+buf), ZoneSessionHigh, SourceSession, s.high, s.high, 1, 0.6),
			lt.newCandidate(candles, lo, lo*(1-buf), lo*(1+buf), ZoneSessionLow, SourceSession, s.low, s.low, 1, 0.6),
		)
	}
	return out
}

// score counts later touches and applies the age cutoff and strength floor
func (lt *LiquidityTracker) score(candles []market.Candle, cand candidate) (LiquidityZone, bool) {
	zone := cand.zone
	age := len(candles) - 1 - zone.CreatedIndex
	if lt.cfg.MaxZoneAge > 0 && age > lt.cfg.MaxZoneAge {
		return LiquidityZone{}, false
	}

	later := 0
	lastTest := cand.lastSource
	for j := cand.lastSource + 1; j < len(candles); j++ {
		if zone.touchedBy(candles[j]) {
			later++
			lastTest = j
		}
	}

	zone.Touches = cand.sourceTouches + later
	zone.LastTestIndex = lastTest
	zone.LastTest = candles[lastTest].Timestamp

	recency := 0.0
	if lt.cfg.MaxZoneAge > 0 {
		recency = math.Max(0, float64(lt.cfg.MaxZoneAge-age)/float64(lt.cfg.MaxZoneAge))
	}
	strength := cand.base + math.Min(float64(zone.Touches)*0.1, 0.4) + recency*0.2 + zone.Type.typeWeight()
	zone.Strength = clamp(strength, 0, 1)

	if zone.Strength < lt.cfg.MinZoneStrength {
		return LiquidityZone{}, false
	}
	zone.Active = zone.Touches >= lt.cfg.MinTouches
	return zone, true
}

// mergeZones keeps the stronger of any overlapping pair
func mergeZones(zones []LiquidityZone) []LiquidityZone {
	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].Strength != zones[j].Strength {
			return zones[i].Strength > zones[j].Strength
		}
		return zones[i].CreatedIndex < zones[j].CreatedIndex
	})

	kept := make([]LiquidityZone, 0, len(zones))
	for _, z := range zones {
		overlaps := false
		for _, k := range kept {
			if z.Overlaps(k) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, z)
		}
	}
	return kept
}

// zoneSide decides whether a zone is raided from above or below. Volume zones
// take their role from where price sat on the previous bar.
func zoneSide(z LiquidityZone, prevClose float64) SweepSide {
	switch z.Type {
	case ZoneResistance, ZoneSessionHigh:
		return SideAbove
	case ZoneSupport, ZoneSessionLow:
		return SideBelow
	default:
		if prevClose <= z.Price {
			return SideAbove
		}
		return SideBelow
	}
}

// Sweeps finds fresh breaches of a zone's outer bound that close back across
// the zone price within the lookahead window, breach bar included
func (lt *LiquidityTracker) Sweeps(candles []market.Candle, zones []LiquidityZone) []Sweep {
	lookahead := lt.cfg.SweepLookahead
	if lookahead < 0 {
		lookahead = 0
	}

	var sweeps []Sweep
	for zi, z := range zones {
		for i := z.CreatedIndex + 1; i < len(candles); i++ {
			prev := candles[i-1]
			side := zoneSide(z, prev.Close)

			var breached bool
			if side == SideAbove {
				breached = candles[i].High > z.UpperBound && prev.Close <= z.UpperBound
			} else {
				breached = candles[i].Low < z.LowerBound && prev.Close >= z.LowerBound
			}
			if !breached {
				continue
			}

			end := i + lookahead
			if end > len(candles)-1 {
				end = len(candles) - 1
			}

			extreme := candles[i].High
			if side == SideBelow {
				extreme = candles[i].Low
			}
			for k := i; k <= end; k++ {
				if side == SideAbove {
					extreme = math.Max(extreme, candles[k].High)
				} else {
					extreme = math.Min(extreme, candles[k].Low)
				}

				reversed := (side == SideAbove && candles[k].Close <= z.Price) ||
					(side == SideBelow && candles[k].Close >= z.Price)
				if reversed {
					sweeps = append(sweeps, Sweep{
						ZoneIndex:     zi,
						Level:         z.Price,
						Side:          side,
						BreachIndex:   i,
						ReversalIndex: k,
						Extreme:       extreme,
						ReversalClose: candles[k].Close,
						Timestamp:     candles[k].Timestamp,
					})
					i = k
					break
				}
			}
		}
	}

	sort.SliceStable(sweeps, func(i, j int) bool {
		return sweeps[i].BreachIndex < sweeps[j].BreachIndex
	})
	return sweeps
}

// Retests logs each bar that enters a zone after being outside it
func (lt *LiquidityTracker) Retests(candles []market.Candle, zones []LiquidityZone) []Retest {
	var retests []Retest
	for zi, z := range zones {
		for i := z.CreatedIndex + 1; i < len(candles); i++ {
			c := candles[i]
			if !z.touchedBy(c) || z.touchedBy(candles[i-1]) {
				continue
			}

			var outcome RetestOutcome
			if zoneSide(z, candles[i-1].Close) == SideAbove {
				switch {
				case c.Close > z.UpperBound:
					outcome = RetestBreak
				case c.Close < z.Price:
					outcome = RetestRejection
				}
			} else {
				switch {
				case c.Close < z.LowerBound:
					outcome = RetestBreak
				case c.Close > z.Price:
					outcome = RetestBounce
				}
			}
			if outcome == 0 {
				continue
			}

			retests = append(retests, Retest{ZoneIndex: zi, Index: i, Outcome: outcome, Close: c.Close})
		}
	}

	sort.SliceStable(retests, func(i, j int) bool {
		return retests[i].Index < retests[j].Index
	})
	return retests
}

// NearestZoneBeyond returns the closest zone price strictly beyond price in
// direction dir
func NearestZoneBeyond(zones []LiquidityZone, price float64, dir market.Direction) (LiquidityZone, bool) {
	var best LiquidityZone
	found := false
	for _, z := range zones {
		switch dir {
		case market.Bullish:
			if z.Price > price && (!found || z.Price < best.Price) {
				best, found = z, true
			}
		case market.Bearish:
			if z.Price < price && (!found || z.Price > best.Price) {
				best, found = z, true
			}
		}
	}
	return best, found
}
