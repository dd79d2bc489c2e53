package analysis

import (
	"errors"
	"fmt"
)

// Config holds every tunable used by the analysis pipeline. Percent fields
// are expressed in percent (0.1 = 0.1%), threshold fields as fractions.
type Config struct {
	// Swings and structure
	SwingWindow        int `json:"swing_window_p" yaml:"swing_window_p"`
	ConfirmationPeriod int `json:"confirmation_period" yaml:"confirmation_period"`
	VolumePeriod       int `json:"volume_period" yaml:"volume_period"`
	ATRPeriod          int `json:"atr_period" yaml:"atr_period"`

	StrengthSizeWeight   float64 `json:"strength_size_weight" yaml:"strength_size_weight"`
	StrengthVolumeWeight float64 `json:"strength_volume_weight" yaml:"strength_volume_weight"`
	StrengthScale        float64 `json:"strength_scale" yaml:"strength_scale"`

	// Liquidity zones
	MinTouches      int     `json:"min_touches" yaml:"min_touches"`
	ZoneBufferPct   float64 `json:"zone_buffer_pct" yaml:"zone_buffer_pct"`
	MaxZoneAge      int     `json:"max_zone_age" yaml:"max_zone_age"`
	MinZoneStrength float64 `json:"min_zone_strength" yaml:"min_zone_strength"`
	VolumeQuantile  float64 `json:"volume_quantile" yaml:"volume_quantile"`
	SweepLookahead  int     `json:"sweep_lookahead" yaml:"sweep_lookahead"`
	SessionZones    bool    `json:"session_zones" yaml:"session_zones"`
	SessionCount    int     `json:"session_count" yaml:"session_count"`

	// Clean zones
	CleanZoneWindow     int     `json:"clean_zone_window" yaml:"clean_zone_window"`
	MinCleanZoneQuality float64 `json:"min_clean_zone_quality" yaml:"min_clean_zone_quality"`

	// Break classification
	FalseBreakThreshold float64 `json:"false_break_threshold" yaml:"false_break_threshold"`
	MomentumPeriod      int     `json:"momentum_period" yaml:"momentum_period"`
	MomentumScale       float64 `json:"momentum_scale" yaml:"momentum_scale"`
	InitialWeight       float64 `json:"initial_weight" yaml:"initial_weight"`
	VolumeWeight        float64 `json:"volume_weight" yaml:"volume_weight"`
	MomentumWeight      float64 `json:"momentum_weight" yaml:"momentum_weight"`
	RetestHeldBonus     float64 `json:"retest_held_bonus" yaml:"retest_held_bonus"`
	RetestFailedPenalty float64 `json:"retest_failed_penalty" yaml:"retest_failed_penalty"`
	NoRetestBonus       float64 `json:"no_retest_bonus" yaml:"no_retest_bonus"`
	LegitimateThreshold float64 `json:"legitimate_threshold" yaml:"legitimate_threshold"`
	FalseThreshold      float64 `json:"false_threshold" yaml:"false_threshold"`
	SweepStrength       float64 `json:"sweep_strength" yaml:"sweep_strength"`
	NeutralScore        float64 `json:"neutral_score" yaml:"neutral_score"`

	// Traps
	TrapReversalBars          int        `json:"trap_reversal_bars" yaml:"trap_reversal_bars"`
	StopBufferPct             float64    `json:"stop_buffer_pct" yaml:"stop_buffer_pct"`
	MaxDistanceToLiquidityPct float64    `json:"max_distance_to_liquidity_pct" yaml:"max_distance_to_liquidity_pct"`
	MaxTrapVolatilityPct      float64    `json:"max_trap_volatility_pct" yaml:"max_trap_volatility_pct"`
	MinTrapConfidence         float64    `json:"min_trap_confidence" yaml:"min_trap_confidence"`
	TakeProfitMultiples       [3]float64 `json:"take_profit_multiples" yaml:"take_profit_multiples"`
}

// DefaultConfig returns the defaults used when no file is supplied
func DefaultConfig() Config {
	return Config{
		SwingWindow:        5,
		ConfirmationPeriod: 3,
		VolumePeriod:       20,
		ATRPeriod:          14,

		StrengthSizeWeight:   0.6,
		StrengthVolumeWeight: 0.4,
		StrengthScale:        100,

		MinTouches:      2,
		ZoneBufferPct:   0.1,
		MaxZoneAge:      500,
		MinZoneStrength: 0.3,
		VolumeQuantile:  0.8,
		SweepLookahead:  5,
		SessionZones:    true,
		SessionCount:    5,

		CleanZoneWindow:     10,
		MinCleanZoneQuality: 0.6,

		FalseBreakThreshold: 0.002,
		MomentumPeriod:      5,
		MomentumScale:       50,
		InitialWeight:       0.3,
		VolumeWeight:        0.25,
		MomentumWeight:      0.25,
		RetestHeldBonus:     0.8,
		RetestFailedPenalty: -0.1,
		NoRetestBonus:       0.1,
		LegitimateThreshold: 0.7,
		FalseThreshold:      0.3,
		SweepStrength:       0.9,
		NeutralScore:        0.5,

		TrapReversalBars:          5,
		StopBufferPct:             0.1,
		MaxDistanceToLiquidityPct: 2.0,
		MaxTrapVolatilityPct:      2.0,
		MinTrapConfidence:         0.5,
		TakeProfitMultiples:       [3]float64{1, 2, 3},
	}
}

// zoneBuffer returns the zone buffer as a fraction of price
func (c Config) zoneBuffer() float64 {
	if c.ZoneBufferPct < 0 {
		return 0
	}
	return c.ZoneBufferPct / 100
}

// ErrInvalidConfig is returned by Validate for out-of-range settings
var ErrInvalidConfig = errors.New("invalid analysis config")

// Validate checks windows are positive and thresholds are ordered
func (c Config) Validate() error {
	if c.SwingWindow < 1 {
		return fmt.Errorf("%w: swing_window_p must be >= 1, got %d", ErrInvalidConfig, c.SwingWindow)
	}
	if c.ConfirmationPeriod < 1 || c.VolumePeriod < 1 || c.ATRPeriod < 1 || c.MomentumPeriod < 1 {
		return fmt.Errorf("%w: periods must be >= 1", ErrInvalidConfig)
	}
	if c.VolumeQuantile <= 0 || c.VolumeQuantile >= 1 {
		return fmt.Errorf("%w: volume_quantile must be in (0,1), got %.3f", ErrInvalidConfig, c.VolumeQuantile)
	}
	if c.FalseThreshold < 0 || c.LegitimateThreshold > 1 || c.FalseThreshold >= c.LegitimateThreshold {
		return fmt.Errorf("%w: need 0 <= false_threshold < legitimate_threshold <= 1", ErrInvalidConfig)
	}
	if c.ZoneBufferPct < 0 || c.StopBufferPct < 0 {
		return fmt.Errorf("%w: buffers must be non-negative", ErrInvalidConfig)
	}
	for i, m := range c.TakeProfitMultiples {
		if m <= 0 || (i > 0 && m <= c.TakeProfitMultiples[i-1]) {
			return fmt.Errorf("%w: take_profit_multiples must be positive and increasing, got %v", ErrInvalidConfig, c.TakeProfitMultiples)
		}
	}
	return nil
}
