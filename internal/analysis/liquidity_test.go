package analysis

import (
	"math"
	"testing"
	"time"

	"liquidity-trap-engine/internal/market"
)

func TestZoneContainsAndOverlaps(t *testing.T) {
	z := LiquidityZone{Price: 100, LowerBound: 99.9, UpperBound: 100.1}

	if !z.Contains(99.9) || !z.Contains(100.1) || z.Contains(100.2) {
		t.Errorf("Expected inclusive bounds, got %+v", z)
	}
	if !z.Overlaps(LiquidityZone{LowerBound: 100.1, UpperBound: 100.3}) {
		t.Error("Expected touching zones to overlap")
	}
	if z.Overlaps(LiquidityZone{LowerBound: 100.2, UpperBound: 100.3}) {
		t.Error("Expected separate zones not to overlap")
	}
}

func TestMergeZonesKeepsStronger(t *testing.T) {
	zones := []LiquidityZone{
		{Price: 100, LowerBound: 99.9, UpperBound: 100.1, Strength: 0.5, CreatedIndex: 1},
		{Price: 100.05, LowerBound: 99.95, UpperBound: 100.15, Strength: 0.8, CreatedIndex: 2},
		{Price: 105, LowerBound: 104.9, UpperBound: 105.1, Strength: 0.4, CreatedIndex: 3},
	}

	merged := mergeZones(zones)

	if len(merged) != 2 {
		t.Fatalf("Expected 2 zones, got %d", len(merged))
	}
	if merged[0].Strength != 0.8 || merged[1].Price != 105 {
		t.Errorf("Expected strongest first and the distant zone kept, got %+v", merged)
	}
}

func TestZonesAreOrderedAndDisjoint(t *testing.T) {
	cfg := DefaultConfig()
	candles := waveCandles(200)
	swings := NewSwingDetector(cfg.SwingWindow).Detect(candles)

	zones := NewLiquidityTracker(cfg).Zones(candles, swings)
	if len(zones) == 0 {
		t.Fatal("Expected zones on an oscillating series")
	}

	for i, z := range zones {
		if z.LowerBound > z.Price || z.Price > z.UpperBound {
			t.Errorf("Zone %d: price %.4f outside [%.4f, %.4f]", i, z.Price, z.LowerBound, z.UpperBound)
		}
		if z.Strength < cfg.MinZoneStrength || z.Strength > 1 {
			t.Errorf("Zone %d: strength %.3f out of range", i, z.Strength)
		}
		if z.Active != (z.Touches >= cfg.MinTouches) {
			t.Errorf("Zone %d: active=%v with %d touches", i, z.Active, z.Touches)
		}
		if i > 0 && z.Strength > zones[i-1].Strength {
			t.Errorf("Zone %d stronger than zone %d", i, i-1)
		}
		for j := 0; j < i; j++ {
			if z.Overlaps(zones[j]) {
				t.Errorf("Zones %d and %d overlap", i, j)
			}
		}
	}
}

func TestZonesDropAgedCandidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxZoneAge = 10
	cfg.SessionZones = false
	candles := waveCandles(200)
	swings := NewSwingDetector(cfg.SwingWindow).Detect(candles)

	for _, z := range NewLiquidityTracker(cfg).Zones(candles, swings) {
		if age := len(candles) - 1 - z.CreatedIndex; age > cfg.MaxZoneAge {
			t.Errorf("Expected zones no older than %d bars, got age %d", cfg.MaxZoneAge, age)
		}
	}
}

func TestEqualLevelZonesClusterLows(t *testing.T) {
	lt := NewLiquidityTracker(DefaultConfig())
	lows := []float64{99, 100.5, 99.02, 101, 98.99}
	candles := make([]market.Candle, len(lows))
	for i, l := range lows {
		candles[i] = bar(i, l+0.5, l+1, l, l+0.5, 100)
	}

	cands := lt.equalLevelZones(candles, false)

	if len(cands) != 1 {
		t.Fatalf("Expected 1 cluster, got %d", len(cands))
	}
	c := cands[0]
	want := (99 + 99.02 + 98.99) / 3
	if math.Abs(c.zone.Price-want) > 1e-9 {
		t.Errorf("Expected level %.5f, got %.5f", want, c.zone.Price)
	}
	if c.sourceTouches != 3 || c.zone.CreatedIndex != 0 || c.lastSource != 4 {
		t.Errorf("Expected 3 touches from bar 0 to 4, got %+v", c)
	}
	if c.zone.Type != ZoneSupport || c.zone.Source != SourceEqualLevel {
		t.Errorf("Expected equal-level support, got %s/%s", c.zone.Type, c.zone.Source)
	}
}

func TestSessionZonesKeepRecentDays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionCount = 1
	lt := NewLiquidityTracker(cfg)

	var candles []market.Candle
	for i := 0; i < 8; i++ {
		c := bar(i, 100, 101+float64(i%4), 99-float64(i%4), 100, 100)
		c.Timestamp = testStart.Add(time.Duration(i) * 6 * time.Hour)
		candles = append(candles, c)
	}

	cands := lt.sessionZones(candles)

	if len(cands) != 2 {
		t.Fatalf("Expected high and low of one session, got %d", len(cands))
	}
	if cands[0].zone.Type != ZoneSessionHigh || cands[0].zone.Price != 104 || cands[0].zone.CreatedIndex != 7 {
		t.Errorf("Expected session high 104 at 7, got %+v", cands[0].zone)
	}
	if cands[1].zone.Type != ZoneSessionLow || cands[1].zone.Price != 96 {
		t.Errorf("Expected session low 96, got %+v", cands[1].zone)
	}
}

// sweepFixture is a resistance zone at 1.2000 with a 0.1% buffer and a bar
// that wicks to 1.2020 and closes back at 1.1995
func sweepFixture() ([]market.Candle, []LiquidityZone) {
	zones := []LiquidityZone{{
		Price:        1.2000,
		UpperBound:   1.2012,
		LowerBound:   1.1988,
		Type:         ZoneResistance,
		Source:       SourceFractal,
		CreatedIndex: 0,
		Strength:     0.7,
		Active:       true,
	}}
	candles := []market.Candle{
		bar(0, 1.1985, 1.1995, 1.1980, 1.1990, 100),
		bar(1, 1.1990, 1.2020, 1.1985, 1.1995, 100),
	}
	return candles, zones
}

func TestSweepsDetectWickThroughZone(t *testing.T) {
	candles, zones := sweepFixture()
	lt := NewLiquidityTracker(DefaultConfig())

	sweeps := lt.Sweeps(candles, zones)

	if len(sweeps) != 1 {
		t.Fatalf("Expected 1 sweep, got %d", len(sweeps))
	}
	sw := sweeps[0]
	if sw.Side != SideAbove || sw.BreachIndex != 1 || sw.ReversalIndex != 1 {
		t.Errorf("Expected same-bar sweep above, got %+v", sw)
	}
	if sw.Extreme != 1.2020 || sw.ReversalClose != 1.1995 {
		t.Errorf("Expected extreme 1.2020 and close 1.1995, got %+v", sw)
	}
}

func TestSweepsRequireCloseBackAcrossCenter(t *testing.T) {
	candles, zones := sweepFixture()
	candles[1].Close = 1.2015
	candles[1].High = 1.2020
	lt := NewLiquidityTracker(DefaultConfig())

	if sweeps := lt.Sweeps(candles, zones); len(sweeps) != 0 {
		t.Errorf("Expected no sweep while price holds above, got %+v", sweeps)
	}
}

func TestRetestOutcomes(t *testing.T) {
	zones := []LiquidityZone{{Price: 100, LowerBound: 99.9, UpperBound: 100.1, Type: ZoneSupport}}
	candles := []market.Candle{
		bar(0, 100.7, 100.9, 100.5, 100.7, 100),
		bar(1, 100.7, 100.8, 100.05, 100.6, 100),
		bar(2, 100.6, 100.7, 100.4, 100.5, 100),
		bar(3, 100.3, 100.3, 99.5, 99.7, 100),
	}
	lt := NewLiquidityTracker(DefaultConfig())

	retests := lt.Retests(candles, zones)

	if len(retests) != 2 {
		t.Fatalf("Expected 2 retests, got %d: %+v", len(retests), retests)
	}
	if retests[0].Index != 1 || retests[0].Outcome != RetestBounce {
		t.Errorf("Expected bounce at 1, got %+v", retests[0])
	}
	if retests[1].Index != 3 || retests[1].Outcome != RetestBreak {
		t.Errorf("Expected break at 3, got %+v", retests[1])
	}
}

func TestNearestZoneBeyond(t *testing.T) {
	zones := []LiquidityZone{{Price: 95}, {Price: 104}, {Price: 102}, {Price: 98}}

	if z, ok := NearestZoneBeyond(zones, 100, market.Bullish); !ok || z.Price != 102 {
		t.Errorf("Expected 102 above, got %v (ok=%v)", z.Price, ok)
	}
	if z, ok := NearestZoneBeyond(zones, 100, market.Bearish); !ok || z.Price != 98 {
		t.Errorf("Expected 98 below, got %v (ok=%v)", z.Price, ok)
	}
	if _, ok := NearestZoneBeyond(zones, 110, market.Bullish); ok {
		t.Error("Expected nothing above 110")
	}
}
