package analysis

import (
	"encoding/json"
	"math"
	"time"

	"liquidity-trap-engine/internal/market"
)

// Trend represents the classified market trend
type Trend int

const (
	TrendRanging Trend = iota
	TrendBullish
	TrendBearish
)

func (t Trend) String() string {
	switch t {
	case TrendBullish:
		return "bullish"
	case TrendBearish:
		return "bearish"
	default:
		return "ranging"
	}
}

// MarshalJSON encodes the trend as its name
func (t Trend) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// Direction maps the trend onto a trade direction; ranging is Neutral
func (t Trend) Direction() market.Direction {
	switch t {
	case TrendBullish:
		return market.Bullish
	case TrendBearish:
		return market.Bearish
	default:
		return market.Neutral
	}
}

// StructureKind labels a structure event
type StructureKind int

const (
	BOS StructureKind = iota + 1
	CHOCH
)

func (k StructureKind) String() string {
	switch k {
	case BOS:
		return "BOS"
	case CHOCH:
		return "CHOCH"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind as its name
func (k StructureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// StructureEvent is a break of a prior swing extreme
type StructureEvent struct {
	Index          int              `json:"index"`
	ConfirmedIndex int              `json:"confirmed_index"`
	Timestamp      time.Time        `json:"timestamp"`
	Level          float64          `json:"level"`
	ClosePrice     float64          `json:"close_price"`
	Kind           StructureKind    `json:"kind"`
	Direction      market.Direction `json:"direction"`
	Strength       float64          `json:"strength"`
	SwingIndex     int              `json:"swing_index"`
}

// Structure is the result of one structure pass
type Structure struct {
	Trend         Trend            `json:"trend"`
	TrendStrength float64          `json:"trend_strength"` // 0.0 to 1.0
	HigherHighs   int              `json:"higher_highs"`
	HigherLows    int              `json:"higher_lows"`
	LowerHighs    int              `json:"lower_highs"`
	LowerLows     int              `json:"lower_lows"`
	Events        []StructureEvent `json:"events"`
}

// StructureAnalyzer turns swings into a trend and BOS/CHOCH events.
// It keeps no state between calls.
type StructureAnalyzer struct {
	cfg    Config
	volume *VolumeAnalyzer
}

// NewStructureAnalyzer creates a new structure analyzer
func NewStructureAnalyzer(cfg Config) *StructureAnalyzer {
	return &StructureAnalyzer{
		cfg:    cfg,
		volume: NewVolumeAnalyzer(cfg.VolumePeriod, cfg.ATRPeriod),
	}
}

// ClassifyTrend is bullish when the last two swing highs and the last two
// swing lows both rise, bearish when both fall, ranging otherwise
func ClassifyTrend(swings []SwingPoint) Trend {
	return classifyTrend(FilterSwings(swings, SwingHigh), FilterSwings(swings, SwingLow))
}

func classifyTrend(highs, lows []SwingPoint) Trend {
	if len(highs) < 2 || len(lows) < 2 {
		return TrendRanging
	}

	h1, h2 := highs[len(highs)-2].Price, highs[len(highs)-1].Price
	l1, l2 := lows[len(lows)-2].Price, lows[len(lows)-1].Price

	switch {
	case h2 > h1 && l2 > l1:
		return TrendBullish
	case h2 < h1 && l2 < l1:
		return TrendBearish
	default:
		return TrendRanging
	}
}

// Analyze walks the bars in order. A swing becomes usable on the bar after
// it forms; each swing level can be broken at most once.
func (sa *StructureAnalyzer) Analyze(candles []market.Candle, swings []SwingPoint) Structure {
	highs := FilterSwings(swings, SwingHigh)
	lows := FilterSwings(swings, SwingLow)

	out := Structure{
		Trend:       TrendRanging,
		HigherHighs: CountRising(highs),
		HigherLows:  CountRising(lows),
		LowerHighs:  CountFalling(highs),
		LowerLows:   CountFalling(lows),
	}
	if len(candles) == 0 {
		return out
	}

	averages := sa.volume.TrailingAverages(candles)
	atr := sa.volume.ATR(candles)

	var knownHighs, knownLows []SwingPoint
	nextHigh, nextLow := 0, 0
	brokenHigh, brokenLow := -1, -1
	trend := TrendRanging

	// After a CHOCH the structural read is ignored until a fresh swing high
	// and swing low have both formed past the flip.
	flipIndex := -1
	freshHigh, freshLow := true, true

	for i := range candles {
		added := false
		for nextHigh < len(highs) && highs[nextHigh].Index < i {
			knownHighs = append(knownHighs, highs[nextHigh])
			if highs[nextHigh].Index > flipIndex {
				freshHigh = true
			}
			nextHigh++
			added = true
		}
		for nextLow < len(lows) && lows[nextLow].Index < i {
			knownLows = append(knownLows, lows[nextLow])
			if lows[nextLow].Index > flipIndex {
				freshLow = true
			}
			nextLow++
			added = true
		}
		if added && freshHigh && freshLow {
			if t := classifyTrend(knownHighs, knownLows); t != TrendRanging {
				trend = t
			}
		}

		lastClose := candles[i].Close

		if len(knownHighs) > 0 {
			h := knownHighs[len(knownHighs)-1]
			if h.Index != brokenHigh && lastClose > h.Price {
				if ev, ok := sa.breakEvent(candles, i, h, market.Bullish, trend, averages, atr); ok {
					out.Events = append(out.Events, ev)
					brokenHigh = h.Index
					if ev.Kind == CHOCH {
						flipIndex = ev.ConfirmedIndex
						freshHigh, freshLow = false, false
					}
					trend = TrendBullish
				}
			}
		}

		if len(knownLows) > 0 {
			l := knownLows[len(knownLows)-1]
			if l.Index != brokenLow && lastClose < l.Price {
				if ev, ok := sa.breakEvent(candles, i, l, market.Bearish, trend, averages, atr); ok {
					out.Events = append(out.Events, ev)
					brokenLow = l.Index
					if ev.Kind == CHOCH {
						flipIndex = ev.ConfirmedIndex
						freshHigh, freshLow = false, false
					}
					trend = TrendBearish
				}
			}
		}
	}

	out.Trend = trend
	out.TrendStrength = trendStrength(out)
	return out
}

// breakEvent builds the event for a close beyond swing level sp. Breaks
// against the active trend need ConfirmationPeriod consecutive closes.
func (sa *StructureAnalyzer) breakEvent(candles []market.Candle, i int, sp SwingPoint, dir market.Direction, trend Trend, averages, atr []float64) (StructureEvent, bool) {
	kind := BOS
	confirmed := i

	if trend.Direction() == dir.Opposite() {
		kind = CHOCH
		period := sa.cfg.ConfirmationPeriod
		if period < 1 {
			period = 1
		}
		last := i + period - 1
		if last >= len(candles) {
			return StructureEvent{}, false
		}
		for j := i; j <= last; j++ {
			if !closedBeyond(candles[j].Close, sp.Price, dir) {
				return StructureEvent{}, false
			}
		}
		confirmed = last
	}

	ev := StructureEvent{
		Index:          i,
		ConfirmedIndex: confirmed,
		Timestamp:      candles[i].Timestamp,
		Level:          sp.Price,
		ClosePrice:     candles[i].Close,
		Kind:           kind,
		Direction:      dir,
		SwingIndex:     sp.Index,
	}
	ev.Strength = sa.eventStrength(candles, i, sp.Price, kind, averages, atr)
	return ev, true
}

// eventStrength combines excess distance and relative volume. CHOCH breaks
// also earn a bonus for displacement measured in ATRs.
func (sa *StructureAnalyzer) eventStrength(candles []market.Candle, i int, level float64, kind StructureKind, averages, atr []float64) float64 {
	excess := 0.0
	if level > 0 {
		excess = abs(candles[i].Close-level) / level
	}
	sizeScore := math.Min(excess*sa.cfg.StrengthScale, 1)

	volumeScore := sa.cfg.NeutralScore
	if ratio, ok := sa.volume.Ratio(candles, averages, i); ok {
		volumeScore = math.Min(ratio, 2) / 2
	}

	strength := sa.cfg.StrengthSizeWeight*sizeScore + sa.cfg.StrengthVolumeWeight*volumeScore

	if kind == CHOCH && i >= 5 && i < len(atr) && atr[i] > 0 {
		displacement := abs(candles[i].Close - candles[i-5].Close)
		strength += math.Min(displacement/atr[i], 2) * 0.15
	}

	return clamp(strength, 0, 1)
}

// trendStrength is the share of swings agreeing with the trend
func trendStrength(s Structure) float64 {
	total := s.HigherHighs + s.HigherLows + s.LowerHighs + s.LowerLows
	if total == 0 {
		return 0
	}

	switch s.Trend {
	case TrendBullish:
		return float64(s.HigherHighs+s.HigherLows) / float64(total)
	case TrendBearish:
		return float64(s.LowerHighs+s.LowerLows) / float64(total)
	default:
		return 0.3
	}
}

func closedBeyond(price, level float64, dir market.Direction) bool {
	switch dir {
	case market.Bullish:
		return price > level
	case market.Bearish:
		return price < level
	default:
		return false
	}
}
