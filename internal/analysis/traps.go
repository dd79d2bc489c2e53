package analysis

import (
	"math"
	"sort"
	"strings"
	"time"

	"liquidity-trap-engine/internal/market"
)

// TrapType names the participants caught by a failed move
type TrapType int

const (
	BullTrap TrapType = iota + 1
	BearTrap
	LiquidityTrap
)

func (t TrapType) String() string {
	switch t {
	case BullTrap:
		return "bull_trap"
	case BearTrap:
		return "bear_trap"
	case LiquidityTrap:
		return "liquidity_trap"
	default:
		return "unknown"
	}
}

// MarshalText encodes the trap type as its name
func (t TrapType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// TrapKind describes how the trap was set
type TrapKind int

const (
	KindInduction TrapKind = iota + 1
	KindLiquidityAbove
	KindLiquidityBelow
	KindDoubleTrap
)

func (k TrapKind) String() string {
	switch k {
	case KindInduction:
		return "induction"
	case KindLiquidityAbove:
		return "liquidity_above"
	case KindLiquidityBelow:
		return "liquidity_below"
	case KindDoubleTrap:
		return "double"
	default:
		return "unknown"
	}
}

// MarshalText encodes the trap kind as its name
func (k TrapKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// RiskLevel grades how exposed a trap entry is
type RiskLevel int

const (
	RiskLow RiskLevel = iota + 1
	RiskMedium
	RiskHigh
	RiskExtreme
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "extreme"
	}
}

// MarshalText encodes the risk level as its name
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseRiskLevel maps a name back to its level; unknown names are extreme
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	default:
		return RiskExtreme
	}
}

// TrapSignal is a fade of a failed break
type TrapSignal struct {
	Type            TrapType         `json:"type"`
	Kind            TrapKind         `json:"kind"`
	Direction       market.Direction `json:"direction"`
	Index           int              `json:"index"`
	Timestamp       time.Time        `json:"timestamp"`
	Level           float64          `json:"level"`
	EntryPrice      float64          `json:"entry_price"`
	StopLoss        float64          `json:"stop_loss"`
	TakeProfits     [3]float64       `json:"take_profits"`
	Confidence      float64          `json:"confidence"`
	RiskLevel       RiskLevel        `json:"risk_level"`
	SafeEntryExists bool             `json:"safe_entry_exists"`
}

// doubleTrapWindow is how close in bars two opposing traps must be
const doubleTrapWindow = 20

// Traps turns false and sweep breaks that reversed into fade signals
func (bc *BreakClassifier) Traps(candles []market.Candle, classified []ClassifiedBreak, sweeps []Sweep) []TrapSignal {
	var traps []TrapSignal

	for _, cb := range classified {
		if cb.Label != LabelFalse && cb.Label != LabelSweep {
			continue
		}
		if trap, ok := bc.buildTrap(candles, cb, sweeps); ok {
			traps = append(traps, trap)
		}
	}

	traps = dedupeTraps(traps)
	markDoubleTraps(traps)

	kept := traps[:0]
	for _, t := range traps {
		if t.Confidence >= bc.cfg.MinTrapConfidence {
			kept = append(kept, t)
		}
	}
	return kept
}

func (bc *BreakClassifier) buildTrap(candles []market.Candle, cb ClassifiedBreak, sweeps []Sweep) (TrapSignal, bool) {
	dir := cb.Direction
	trade := dir.Opposite()
	if trade == market.Neutral {
		return TrapSignal{}, false
	}

	// 1. Locate the bar that closed back across the level
	reversal := -1
	if cb.Label == LabelSweep && cb.SweepIndex >= 0 && cb.SweepIndex < len(sweeps) {
		reversal = sweeps[cb.SweepIndex].ReversalIndex
	} else {
		end := cb.Index + bc.cfg.TrapReversalBars
		if end > len(candles)-1 {
			end = len(candles) - 1
		}
		for k := cb.Index; k <= end; k++ {
			if closedBeyond(candles[k].Close, cb.Level, trade) {
				reversal = k
				break
			}
		}
	}
	if reversal < 0 || reversal >= len(candles) {
		return TrapSignal{}, false
	}

	// 2. Stop beyond the inducing extreme, targets at risk multiples
	from := cb.Index
	if reversal < from {
		from = reversal
	}
	extreme := candles[from].High
	if dir == market.Bearish {
		extreme = candles[from].Low
	}
	for k := from; k <= reversal; k++ {
		if dir == market.Bullish {
			extreme = math.Max(extreme, candles[k].High)
		} else {
			extreme = math.Min(extreme, candles[k].Low)
		}
	}

	entry := candles[reversal].Close
	buffer := entry * bc.cfg.StopBufferPct / 100
	stop := extreme + buffer*dir.Sign()
	risk := (stop - entry) * dir.Sign()
	if risk <= 0 {
		return TrapSignal{}, false
	}

	tps, ok := TakeProfitLadder(entry, risk, trade, bc.cfg.TakeProfitMultiples)
	if !ok {
		return TrapSignal{}, false
	}

	// 3. Confidence and safety
	distance := abs(entry-cb.Level) / entry
	maxDistance := bc.cfg.MaxDistanceToLiquidityPct / 100
	distanceScore := bc.cfg.NeutralScore
	if maxDistance > 0 {
		distanceScore = clamp(1-distance/maxDistance, 0, 1)
	}
	volatility := closeVolatility(candles, reversal, 10)
	safe := (maxDistance <= 0 || distance <= maxDistance) && volatility <= bc.cfg.MaxTrapVolatilityPct/100

	confidence := 0.3 + 0.3*cb.Strength + 0.2*distanceScore
	if safe {
		confidence += 0.2
	}
	confidence = clamp(confidence, 0, 1)

	trap := TrapSignal{
		Direction:       trade,
		Index:           reversal,
		Timestamp:       candles[reversal].Timestamp,
		Level:           cb.Level,
		EntryPrice:      entry,
		StopLoss:        stop,
		TakeProfits:     tps,
		Confidence:      confidence,
		RiskLevel:       gradeRisk(confidence, safe),
		SafeEntryExists: safe,
	}

	switch {
	case cb.Label == LabelSweep:
		trap.Type = LiquidityTrap
		trap.Kind = KindLiquidityBelow
		if dir == market.Bullish {
			trap.Kind = KindLiquidityAbove
		}
	case dir == market.Bullish:
		trap.Type = BullTrap
		trap.Kind = KindInduction
	default:
		trap.Type = BearTrap
		trap.Kind = KindInduction
	}
	return trap, true
}

// TakeProfitLadder places targets at risk multiples away from entry; it
// fails when any target would not be a positive price
func TakeProfitLadder(entry, risk float64, dir market.Direction, multiples [3]float64) ([3]float64, bool) {
	var tps [3]float64
	for i, m := range multiples {
		tps[i] = entry + risk*m*dir.Sign()
		if tps[i] <= 0 {
			return tps, false
		}
		if i > 0 && (tps[i]-tps[i-1])*dir.Sign() <= 0 {
			return tps, false
		}
	}
	if (tps[0]-entry)*dir.Sign() <= 0 {
		return tps, false
	}
	return tps, true
}

func gradeRisk(confidence float64, safe bool) RiskLevel {
	switch {
	case confidence >= 0.8 && safe:
		return RiskLow
	case confidence >= 0.6:
		return RiskMedium
	case confidence >= 0.4:
		return RiskHigh
	default:
		return RiskExtreme
	}
}

// dedupeTraps keeps the most confident trap per reversal bar and direction
func dedupeTraps(traps []TrapSignal) []TrapSignal {
	type key struct {
		index int
		dir   market.Direction
	}
	best := make(map[key]int)
	var out []TrapSignal

	for _, t := range traps {
		k := key{t.Index, t.Direction}
		if i, ok := best[k]; ok {
			if t.Confidence > out[i].Confidence {
				out[i] = t
			}
			continue
		}
		best[k] = len(out)
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Index < out[j].Index
	})
	return out
}

// markDoubleTraps relabels a trap that follows an opposite-direction trap
// within the window
func markDoubleTraps(traps []TrapSignal) {
	for i := range traps {
		for j := i - 1; j >= 0; j-- {
			if traps[i].Index-traps[j].Index > doubleTrapWindow {
				break
			}
			if traps[j].Direction == traps[i].Direction.Opposite() {
				traps[i].Kind = KindDoubleTrap
				break
			}
		}
	}
}
