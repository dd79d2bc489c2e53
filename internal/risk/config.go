package risk

import (
	"errors"
	"fmt"
)

// Config holds position risk configuration
type Config struct {
	MaxRiskPerTradePct    float64 `json:"max_risk_per_trade_pct" yaml:"max_risk_per_trade_pct"`   // Percentage of account to risk per trade
	DefaultRiskFraction   float64 `json:"default_risk_fraction" yaml:"default_risk_fraction"`     // Used when an order carries no fraction
	MaxExposurePct        float64 `json:"max_exposure_pct" yaml:"max_exposure_pct"`               // Notional cap as % of balance (1000 = 10x)
	MaxOpenPositions      int     `json:"max_open_positions" yaml:"max_open_positions"`           // Maximum concurrent positions
	MaxPortfolioRiskPct   float64 `json:"max_portfolio_risk_pct" yaml:"max_portfolio_risk_pct"`   // Aggregate open risk cap as % of balance
	MaxDailyLossPct       float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`           // Realized loss per UTC day before new positions stop
	TrailingStopPct       float64 `json:"trailing_stop_pct" yaml:"trailing_stop_pct"`             // Trailing distance from price
	TrailingActivationPct float64 `json:"trailing_activation_pct" yaml:"trailing_activation_pct"` // Profit % before trailing starts
	TrailTightenFactor    float64 `json:"trail_tighten_factor" yaml:"trail_tighten_factor"`       // Trailing distance multiplier after each TP fill
	TP1RiskMultiple       float64 `json:"tp1_risk_multiple" yaml:"tp1_risk_multiple"`             // TP distances as multiples of entry-stop distance
	TP2RiskMultiple       float64 `json:"tp2_risk_multiple" yaml:"tp2_risk_multiple"`
	TP3RiskMultiple       float64 `json:"tp3_risk_multiple" yaml:"tp3_risk_multiple"`
	TP1AllocationPct      float64 `json:"tp1_allocation_pct" yaml:"tp1_allocation_pct"` // Share of the position closed at each level, sum 100
	TP2AllocationPct      float64 `json:"tp2_allocation_pct" yaml:"tp2_allocation_pct"`
	TP3AllocationPct      float64 `json:"tp3_allocation_pct" yaml:"tp3_allocation_pct"`
	SizePrecision         int32   `json:"size_precision" yaml:"size_precision"` // Decimal places kept on sizes
}

// DefaultConfig returns the default risk settings
func DefaultConfig() Config {
	return Config{
		MaxRiskPerTradePct:    2.0,
		DefaultRiskFraction:   0.01,
		MaxExposurePct:        1000,
		MaxOpenPositions:      5,
		MaxPortfolioRiskPct:   6.0,
		MaxDailyLossPct:       5.0,
		TrailingStopPct:       1.0,
		TrailingActivationPct: 0,
		TrailTightenFactor:    0.8,
		TP1RiskMultiple:       1,
		TP2RiskMultiple:       2,
		TP3RiskMultiple:       3,
		TP1AllocationPct:      30,
		TP2AllocationPct:      40,
		TP3AllocationPct:      30,
		SizePrecision:         8,
	}
}

// Multiples returns the TP1..TP3 risk multiples
func (c Config) Multiples() [3]float64 {
	return [3]float64{c.TP1RiskMultiple, c.TP2RiskMultiple, c.TP3RiskMultiple}
}

// Allocations returns the TP1..TP3 allocation percentages
func (c Config) Allocations() [3]float64 {
	return [3]float64{c.TP1AllocationPct, c.TP2AllocationPct, c.TP3AllocationPct}
}

// SetLadder replaces the take-profit multiples and allocations
func (c *Config) SetLadder(multiples, allocations [3]float64) {
	c.TP1RiskMultiple, c.TP2RiskMultiple, c.TP3RiskMultiple = multiples[0], multiples[1], multiples[2]
	c.TP1AllocationPct, c.TP2AllocationPct, c.TP3AllocationPct = allocations[0], allocations[1], allocations[2]
}

// Configuration errors
var (
	ErrAllocationSum      = errors.New("take-profit allocations must sum to 100")
	ErrMultipleOrder      = errors.New("take-profit multiples must be positive and strictly increasing")
	ErrInvalidPercent     = errors.New("percentage out of range")
	ErrInvalidMaxPosition = errors.New("max open positions must be positive")
)

// Validate checks the ladder and limits
func (c Config) Validate() error {
	sum := 0.0
	for i, a := range c.Allocations() {
		if a < 0 {
			return fmt.Errorf("%w: tp%d allocation %.2f", ErrAllocationSum, i+1, a)
		}
		sum += a
	}
	if sum < 99.999 || sum > 100.001 {
		return fmt.Errorf("%w: got %.4f", ErrAllocationSum, sum)
	}

	multiples := c.Multiples()
	for i, m := range multiples {
		if m <= 0 || (i > 0 && m <= multiples[i-1]) {
			return fmt.Errorf("%w: %v", ErrMultipleOrder, multiples)
		}
	}

	checks := []struct {
		name  string
		value float64
		max   float64
	}{
		{"max_risk_per_trade_pct", c.MaxRiskPerTradePct, 100},
		{"max_portfolio_risk_pct", c.MaxPortfolioRiskPct, 100},
		{"max_daily_loss_pct", c.MaxDailyLossPct, 100},
		{"trailing_stop_pct", c.TrailingStopPct, 100},
	}
	for _, chk := range checks {
		if chk.value <= 0 || chk.value > chk.max {
			return fmt.Errorf("%w: %s=%.4f", ErrInvalidPercent, chk.name, chk.value)
		}
	}
	if c.MaxExposurePct <= 0 {
		return fmt.Errorf("%w: max_exposure_pct=%.4f", ErrInvalidPercent, c.MaxExposurePct)
	}
	if c.TrailTightenFactor <= 0 || c.TrailTightenFactor > 1 {
		return fmt.Errorf("%w: trail_tighten_factor=%.4f", ErrInvalidPercent, c.TrailTightenFactor)
	}
	if c.MaxOpenPositions <= 0 {
		return ErrInvalidMaxPosition
	}
	return nil
}
