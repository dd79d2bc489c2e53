package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"liquidity-trap-engine/internal/analysis"
	"liquidity-trap-engine/internal/engine"
	"liquidity-trap-engine/internal/logging"
	"liquidity-trap-engine/internal/market"
	"liquidity-trap-engine/internal/pipeline"
	"liquidity-trap-engine/internal/risk"
	"liquidity-trap-engine/internal/tracing"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "LTE_"

// Config is the full process configuration
type Config struct {
	Strategy pipeline.Config `json:"strategy" yaml:"strategy"`
	Risk     risk.Config     `json:"risk" yaml:"risk"`
	Engine   engine.Config   `json:"engine" yaml:"engine"`
	Logging  logging.Config  `json:"logging" yaml:"logging"`
	Tracing  tracing.Config  `json:"tracing" yaml:"tracing"`
	Server   ServerConfig    `json:"server" yaml:"server"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Port            int    `json:"port" yaml:"port"`
	Host            string `json:"host" yaml:"host"`
	AllowedOrigins  string `json:"allowed_origins" yaml:"allowed_origins"`   // CORS allowed origins, comma separated
	ReadTimeout     int    `json:"read_timeout" yaml:"read_timeout"`         // Seconds
	WriteTimeout    int    `json:"write_timeout" yaml:"write_timeout"`       // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout" yaml:"shutdown_timeout"` // Seconds
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Default returns a complete configuration with every default filled in
func Default() *Config {
	cfg := &Config{
		Strategy: pipeline.DefaultConfig(),
		Risk:     risk.DefaultConfig(),
		Engine:   engine.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
		Tracing:  tracing.DefaultConfig(),
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     15,
			WriteTimeout:    15,
			ShutdownTimeout: 10,
		},
	}
	cfg.syncLadder()
	return cfg
}

// Load reads .env (if present), then the config file at path (if given),
// then applies LTE_* environment overrides and validates the result.
// The take-profit ladder is read from the risk section only and copied into
// the strategy sections, so signals and positions share one ladder.
func Load(path string) (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)
	cfg.syncLadder()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile decodes JSON or YAML over the defaults in cfg
func loadFromFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Strategy
	a := &cfg.Strategy.Analysis
	a.SwingWindow = getEnvIntOrDefault("SWING_WINDOW_P", a.SwingWindow)
	a.ConfirmationPeriod = getEnvIntOrDefault("CONFIRMATION_PERIOD", a.ConfirmationPeriod)
	a.MinTouches = getEnvIntOrDefault("MIN_TOUCHES", a.MinTouches)
	a.ZoneBufferPct = getEnvFloatOrDefault("ZONE_BUFFER_PCT", a.ZoneBufferPct)
	a.FalseBreakThreshold = getEnvFloatOrDefault("FALSE_BREAK_THRESHOLD", a.FalseBreakThreshold)
	a.SweepLookahead = getEnvIntOrDefault("SWEEP_LOOKAHEAD", a.SweepLookahead)
	cfg.Strategy.Entry.MinRiskReward = getEnvFloatOrDefault("MIN_RISK_REWARD", cfg.Strategy.Entry.MinRiskReward)
	cfg.Strategy.Entry.MinEntryConfidence = getEnvFloatOrDefault("MIN_ENTRY_CONFIDENCE", cfg.Strategy.Entry.MinEntryConfidence)

	// Risk
	r := &cfg.Risk
	r.MaxRiskPerTradePct = getEnvFloatOrDefault("MAX_RISK_PER_TRADE_PCT", r.MaxRiskPerTradePct)
	r.MaxOpenPositions = getEnvIntOrDefault("MAX_OPEN_POSITIONS", r.MaxOpenPositions)
	r.MaxPortfolioRiskPct = getEnvFloatOrDefault("MAX_PORTFOLIO_RISK_PCT", r.MaxPortfolioRiskPct)
	r.MaxDailyLossPct = getEnvFloatOrDefault("MAX_DAILY_LOSS_PCT", r.MaxDailyLossPct)
	r.TrailingStopPct = getEnvFloatOrDefault("TRAILING_STOP_PCT", r.TrailingStopPct)
	r.TP1RiskMultiple = getEnvFloatOrDefault("TP1_RISK_MULTIPLE", r.TP1RiskMultiple)
	r.TP2RiskMultiple = getEnvFloatOrDefault("TP2_RISK_MULTIPLE", r.TP2RiskMultiple)
	r.TP3RiskMultiple = getEnvFloatOrDefault("TP3_RISK_MULTIPLE", r.TP3RiskMultiple)
	r.TP1AllocationPct = getEnvFloatOrDefault("TP1_ALLOCATION_PCT", r.TP1AllocationPct)
	r.TP2AllocationPct = getEnvFloatOrDefault("TP2_ALLOCATION_PCT", r.TP2AllocationPct)
	r.TP3AllocationPct = getEnvFloatOrDefault("TP3_ALLOCATION_PCT", r.TP3AllocationPct)

	// Engine
	e := &cfg.Engine
	e.BaseTimeframe = market.Timeframe(getEnvOrDefault("BASE_TIMEFRAME", string(e.BaseTimeframe)))
	e.AccountBalance = getEnvFloatOrDefault("ACCOUNT_BALANCE", e.AccountBalance)
	e.RiskFraction = getEnvFloatOrDefault("RISK_FRACTION", e.RiskFraction)
	e.AutoExecute = getEnvBoolOrDefault("AUTO_EXECUTE", e.AutoExecute)

	// Logging
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)

	// Tracing
	cfg.Tracing.Enabled = getEnvBoolOrDefault("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Output = getEnvOrDefault("TRACING_OUTPUT", cfg.Tracing.Output)

	// Server
	cfg.Server.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.AllowedOrigins = getEnvOrDefault("CORS_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
}

// syncLadder copies the risk ladder into the analysis and entry sections
func (c *Config) syncLadder() {
	multiples := c.Risk.Multiples()
	c.Strategy.Analysis.TakeProfitMultiples = multiples
	c.Strategy.Entry.TakeProfitMultiple = multiples
}

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Strategy.Analysis.Validate(); err != nil {
		return fmt.Errorf("%w: strategy: %w", ErrInvalid, err)
	}
	if err := c.Strategy.Entry.Validate(); err != nil {
		return fmt.Errorf("%w: strategy: %w", ErrInvalid, err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("%w: risk: %w", ErrInvalid, err)
	}
	if c.Engine.BaseTimeframe.Rank() == 0 {
		return fmt.Errorf("%w: engine: unknown base_timeframe %q", ErrInvalid, c.Engine.BaseTimeframe)
	}
	if c.Engine.AccountBalance <= 0 {
		return fmt.Errorf("%w: engine: account_balance must be positive", ErrInvalid)
	}
	if c.Engine.RiskFraction < 0 || c.Engine.RiskFraction > 1 {
		return fmt.Errorf("%w: engine: risk_fraction must be in [0,1]", ErrInvalid)
	}
	if c.Engine.ExecuteTraps && analysis.ParseRiskLevel(c.Engine.MaxTrapRisk) == analysis.RiskExtreme &&
		!strings.EqualFold(c.Engine.MaxTrapRisk, "extreme") {
		return fmt.Errorf("%w: engine: unknown max_trap_risk %q", ErrInvalid, c.Engine.MaxTrapRisk)
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("%w: server: port %d out of range", ErrInvalid, c.Server.Port)
	}
	return nil
}

// ShutdownTimeout returns the server shutdown timeout as a duration
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// GenerateSampleConfig writes the defaults to filename as JSON or YAML
func GenerateSampleConfig(filename string) error {
	cfg := Default()

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
