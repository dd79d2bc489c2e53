package entry

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"liquidity-trap-engine/internal/analysis"
	"liquidity-trap-engine/internal/confluence"
	"liquidity-trap-engine/internal/market"
)

// Reason is the outcome code of a validation pass
type Reason int

const (
	Valid Reason = iota
	InsufficientData
	NoStructureBreak
	NoLiquiditySweep
	NoCleanZone
	TrendMismatch
	InsufficientVolume
	RiskTooHigh
	LowConfidence
)

func (r Reason) String() string {
	switch r {
	case Valid:
		return "VALID"
	case InsufficientData:
		return "INSUFFICIENT_DATA"
	case NoStructureBreak:
		return "NO_STRUCTURE_BREAK"
	case NoLiquiditySweep:
		return "NO_LIQUIDITY_SWEEP"
	case NoCleanZone:
		return "NO_CLEAN_ZONE"
	case TrendMismatch:
		return "TREND_MISMATCH"
	case InsufficientVolume:
		return "INSUFFICIENT_VOLUME"
	case RiskTooHigh:
		return "RISK_TOO_HIGH"
	case LowConfidence:
		return "LOW_CONFIDENCE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the reason as its code
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Config holds the entry gates
type Config struct {
	RecentBreakWindow  int        `json:"recent_break_window" yaml:"recent_break_window"`
	SweepWindow        int        `json:"sweep_window" yaml:"sweep_window"`
	MaxCleanZoneAge    int        `json:"max_clean_zone_age" yaml:"max_clean_zone_age"`
	VolumePeriod       int        `json:"volume_period" yaml:"volume_period"`
	MinVolumeRatio     float64    `json:"min_volume_ratio" yaml:"min_volume_ratio"`
	MinRiskReward      float64    `json:"min_risk_reward" yaml:"min_risk_reward"`
	StopZoneFraction   float64    `json:"stop_zone_fraction" yaml:"stop_zone_fraction"`
	FallbackTargetPct  float64    `json:"fallback_target_pct" yaml:"fallback_target_pct"`
	MinEntryConfidence float64    `json:"min_entry_confidence" yaml:"min_entry_confidence"`
	TrendLookback      int        `json:"trend_lookback" yaml:"trend_lookback"`
	TakeProfitMultiple [3]float64 `json:"take_profit_multiples" yaml:"take_profit_multiples"`
}

// DefaultConfig returns the default entry gates
func DefaultConfig() Config {
	return Config{
		RecentBreakWindow:  50,
		SweepWindow:        20,
		MaxCleanZoneAge:    100,
		VolumePeriod:       20,
		MinVolumeRatio:     0.8,
		MinRiskReward:      2.0,
		StopZoneFraction:   0.1,
		FallbackTargetPct:  2.0,
		MinEntryConfidence: 0.6,
		TrendLookback:      20,
		TakeProfitMultiple: [3]float64{1, 2, 3},
	}
}

// ErrInvalidConfig is returned by Validate for out-of-range gates
var ErrInvalidConfig = errors.New("invalid entry config")

// Validate checks the gate settings
func (c Config) Validate() error {
	if c.RecentBreakWindow < 1 || c.SweepWindow < 1 || c.MaxCleanZoneAge < 1 || c.VolumePeriod < 1 || c.TrendLookback < 1 {
		return fmt.Errorf("%w: windows must be >= 1", ErrInvalidConfig)
	}
	if c.MinRiskReward <= 0 {
		return fmt.Errorf("%w: min_risk_reward must be positive, got %.2f", ErrInvalidConfig, c.MinRiskReward)
	}
	if c.MinEntryConfidence < 0 || c.MinEntryConfidence > 1 {
		return fmt.Errorf("%w: min_entry_confidence must be in [0,1], got %.2f", ErrInvalidConfig, c.MinEntryConfidence)
	}
	if c.StopZoneFraction < 0 {
		return fmt.Errorf("%w: stop_zone_fraction must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// Input is everything the validator looks at. Nothing in it is mutated.
type Input struct {
	Candles      []market.Candle
	Breaks       []analysis.ClassifiedBreak
	Sweeps       []analysis.Sweep
	Zones        []analysis.LiquidityZone
	CleanZones   []analysis.CleanZone
	HigherTrends map[market.Timeframe]analysis.Trend
}

// Signal is an executable entry
type Signal struct {
	Key             string                 `json:"key"`
	Direction       market.Direction       `json:"direction"`
	Timestamp       time.Time              `json:"timestamp"`
	EntryPrice      float64                `json:"entry_price"`
	StopLoss        float64                `json:"stop_loss"`
	TakeProfits     [3]float64             `json:"take_profits"`
	Target          float64                `json:"target"`
	RiskReward      float64                `json:"risk_reward"`
	Confidence      float64                `json:"confidence"`
	Grade           string                 `json:"grade"`
	Reasoning       []string               `json:"reasoning"`
	BreakIndex      int                    `json:"break_index"`
	BreakLevel      float64                `json:"break_level"`
	Zone            analysis.CleanZone     `json:"zone"`
	Confluence      *confluence.Confluence `json:"confluence"`
	SafeEntryExists bool                   `json:"safe_entry_exists"`
}

// Decision is the result of a validation pass. Signal is set when every gate
// passed, and also for LowConfidence so callers can inspect the candidate.
type Decision struct {
	Reason Reason  `json:"reason"`
	Detail string  `json:"detail,omitempty"`
	Signal *Signal `json:"signal,omitempty"`
}

// Valid reports whether the decision carries an executable signal
func (d Decision) Valid() bool {
	return d.Reason == Valid && d.Signal != nil
}

// Validator runs the entry gates in order
type Validator struct {
	cfg    Config
	scorer *confluence.Scorer
	volume *analysis.VolumeAnalyzer
	logger zerolog.Logger
}

// NewValidator creates a validator
func NewValidator(cfg Config, logger zerolog.Logger) *Validator {
	return &Validator{
		cfg:    cfg,
		scorer: confluence.NewScorer(),
		volume: analysis.NewVolumeAnalyzer(cfg.VolumePeriod, 0),
		logger: logger.With().Str("component", "EntryValidator").Logger(),
	}
}

func reject(reason Reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Validate applies the gates; the first failure short-circuits
func (v *Validator) Validate(in Input) Decision {
	d := v.validate(in)
	if d.Reason != Valid {
		v.logger.Debug().Str("reason", d.Reason.String()).Str("detail", d.Detail).Msg("Entry rejected")
	}
	return d
}

func (v *Validator) validate(in Input) Decision {
	last, ok := market.Last(in.Candles)
	if !ok || len(in.Candles) < 2 {
		return reject(InsufficientData, "need at least 2 candles, got %d", len(in.Candles))
	}
	lastIdx := len(in.Candles) - 1
	price := last.Close

	// 1. Recent structure break
	brk, ok := v.recentBreak(in.Breaks, lastIdx)
	if !ok {
		return reject(NoStructureBreak, "no confirmed break in the last %d bars", v.cfg.RecentBreakWindow)
	}
	dir := brk.Direction

	// 2. Liquidity taken before the break
	if !v.liquidityTaken(in, brk) {
		return reject(NoLiquiditySweep, "no sweep or equal-level test within %d bars before bar %d", v.cfg.SweepWindow, brk.Index)
	}

	// 3. Price inside a clean zone
	zone, ok := v.activeCleanZone(in.CleanZones, price, lastIdx)
	if !ok {
		return reject(NoCleanZone, "price %.5f not inside a clean zone", price)
	}

	// 4. Continuation side of the break level, higher frames not opposed
	if (price-brk.Level)*dir.Sign() <= 0 {
		return reject(TrendMismatch, "price %.5f not beyond %s break level %.5f", price, dir, brk.Level)
	}
	for tf, tr := range in.HigherTrends {
		if tr.Direction() == dir.Opposite() {
			return reject(TrendMismatch, "%s trend %s opposes %s entry", tf, tr, dir)
		}
	}

	// 5. Participation
	volumeRatio := 1.0
	averages := v.volume.TrailingAverages(in.Candles)
	if ratio, ok := v.volume.Ratio(in.Candles, averages, lastIdx); ok {
		volumeRatio = ratio
	}
	if volumeRatio < v.cfg.MinVolumeRatio {
		return reject(InsufficientVolume, "volume ratio %.2f below %.2f", volumeRatio, v.cfg.MinVolumeRatio)
	}

	// 6. Risk/reward against the zone stop and nearest liquidity target
	stop := zone.LowerBound - v.cfg.StopZoneFraction*zone.Height()
	if dir == market.Bearish {
		stop = zone.UpperBound + v.cfg.StopZoneFraction*zone.Height()
	}
	risk := (price - stop) * dir.Sign()
	if risk <= 0 || stop <= 0 {
		return reject(RiskTooHigh, "degenerate stop %.5f for entry %.5f", stop, price)
	}

	target := price * (1 + dir.Sign()*v.cfg.FallbackTargetPct/100)
	if z, ok := analysis.NearestZoneBeyond(in.Zones, price, dir); ok {
		target = z.Price
	}
	riskReward := RiskRewardRatio(price, stop, target, dir)
	if riskReward < v.cfg.MinRiskReward {
		return reject(RiskTooHigh, "risk/reward %.2f below %.2f", riskReward, v.cfg.MinRiskReward)
	}

	tps, ok := analysis.TakeProfitLadder(price, risk, dir, v.cfg.TakeProfitMultiple)
	if !ok {
		return reject(RiskTooHigh, "take-profit ladder invalid for risk %.5f", risk)
	}

	// 7. Confidence
	alignment := v.trendAlignment(in.Candles, dir, in.HigherTrends)
	conf := v.scorer.Score(brk.Strength, zone.Quality, volumeRatio, alignment)

	signal := &Signal{
		Key:             fmt.Sprintf("%d:%s", last.Timestamp.UnixMilli(), dir),
		Direction:       dir,
		Timestamp:       last.Timestamp,
		EntryPrice:      price,
		StopLoss:        stop,
		TakeProfits:     tps,
		Target:          target,
		RiskReward:      riskReward,
		Confidence:      conf.TotalScore,
		Grade:           conf.Grade,
		Reasoning:       conf.Reasoning,
		BreakIndex:      brk.Index,
		BreakLevel:      brk.Level,
		Zone:            zone,
		Confluence:      conf,
		SafeEntryExists: true,
	}

	if conf.TotalScore < v.cfg.MinEntryConfidence {
		d := reject(LowConfidence, "confidence %.2f below %.2f", conf.TotalScore, v.cfg.MinEntryConfidence)
		d.Signal = signal
		return d
	}

	v.logger.Info().
		Str("direction", dir.String()).
		Float64("entry", price).
		Float64("stop", stop).
		Float64("rr", riskReward).
		Float64("confidence", conf.TotalScore).
		Msg("Entry validated")

	return Decision{Reason: Valid, Signal: signal}
}

// recentBreak picks the latest structure break that was not judged false or
// a sweep; ties go to the stronger break
func (v *Validator) recentBreak(breaks []analysis.ClassifiedBreak, lastIdx int) (analysis.ClassifiedBreak, bool) {
	var best analysis.ClassifiedBreak
	found := false
	for _, b := range breaks {
		if b.Origin != analysis.BreakFromStructure {
			continue
		}
		if b.Label == analysis.LabelFalse || b.Label == analysis.LabelSweep {
			continue
		}
		if lastIdx-b.Index > v.cfg.RecentBreakWindow || b.Index > lastIdx {
			continue
		}
		if !found || b.Index > best.Index || (b.Index == best.Index && b.Strength > best.Strength) {
			best, found = b, true
		}
	}
	return best, found
}

// liquidityTaken looks for a sweep reversal, or a tested equal-level zone,
// inside the window that ends at the break bar
func (v *Validator) liquidityTaken(in Input, brk analysis.ClassifiedBreak) bool {
	from := brk.Index - v.cfg.SweepWindow
	for _, sw := range in.Sweeps {
		if sw.ReversalIndex >= from && sw.ReversalIndex <= brk.Index {
			return true
		}
	}
	for _, z := range in.Zones {
		if z.Source != analysis.SourceEqualLevel {
			continue
		}
		if z.CreatedIndex <= brk.Index && z.LastTestIndex >= from {
			return true
		}
	}
	return false
}

// activeCleanZone returns the highest-quality recent clean zone holding price
func (v *Validator) activeCleanZone(zones []analysis.CleanZone, price float64, lastIdx int) (analysis.CleanZone, bool) {
	var best analysis.CleanZone
	found := false
	for _, z := range zones {
		if !z.Contains(price) || lastIdx-z.CenterIndex > v.cfg.MaxCleanZoneAge {
			continue
		}
		if !found || z.Quality > best.Quality {
			best, found = z, true
		}
	}
	return best, found
}

// trendAlignment is the share of recent closes moving in dir, averaged with
// the share of agreeing higher timeframes when any are supplied
func (v *Validator) trendAlignment(candles []market.Candle, dir market.Direction, higher map[market.Timeframe]analysis.Trend) float64 {
	ratio := 0.5
	lookback := v.cfg.TrendLookback
	if lookback < 1 {
		lookback = 20
	}
	if len(candles) >= 10 {
		start := len(candles) - lookback
		if start < 1 {
			start = 1
		}
		moves, agree := 0, 0
		for i := start; i < len(candles); i++ {
			moves++
			if (candles[i].Close-candles[i-1].Close)*dir.Sign() > 0 {
				agree++
			}
		}
		if moves > 0 {
			ratio = float64(agree) / float64(moves)
		}
	}

	if len(higher) == 0 {
		return ratio
	}
	agreeing := 0
	for _, tr := range higher {
		if tr.Direction() == dir {
			agreeing++
		}
	}
	return (ratio + float64(agreeing)/float64(len(higher))) / 2
}

// RiskRewardRatio returns reward/risk for a long or short setup, 0 when the
// risk distance is not positive
func RiskRewardRatio(entry, stop, target float64, dir market.Direction) float64 {
	risk := (entry - stop) * dir.Sign()
	if risk <= 0 {
		return 0
	}
	return math.Max((target-entry)*dir.Sign(), 0) / risk
}
