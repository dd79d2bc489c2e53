package pipeline

import (
	"github.com/rs/zerolog"

	"liquidity-trap-engine/internal/analysis"
	"liquidity-trap-engine/internal/entry"
	"liquidity-trap-engine/internal/market"
)

// Config bundles analysis and entry settings
type Config struct {
	Analysis analysis.Config `json:"analysis" yaml:"analysis"`
	Entry    entry.Config    `json:"entry" yaml:"entry"`
}

// DefaultConfig returns the default pipeline settings
func DefaultConfig() Config {
	return Config{
		Analysis: analysis.DefaultConfig(),
		Entry:    entry.DefaultConfig(),
	}
}

// Result is the immutable output of one analysis pass
type Result struct {
	Candles    int                        `json:"candles"`
	Rejected   []market.Rejection         `json:"-"`
	Swings     []analysis.SwingPoint      `json:"swings"`
	Structure  analysis.Structure         `json:"structure"`
	Zones      []analysis.LiquidityZone   `json:"zones"`
	Sweeps     []analysis.Sweep           `json:"sweeps"`
	Retests    []analysis.Retest          `json:"retests"`
	Breaks     []analysis.ClassifiedBreak `json:"breaks"`
	CleanZones []analysis.CleanZone       `json:"clean_zones"`
	Traps      []analysis.TrapSignal      `json:"trap_signals"`
	Entries    []entry.Signal             `json:"entry_signals"`
	Decision   entry.Decision             `json:"decision"`
}

// RejectedCount returns how many input bars were skipped as invalid
func (r Result) RejectedCount() int {
	return len(r.Rejected)
}

// Analyzer runs candles through every stage in order. Each stage reads the
// previous stage's output and builds new records.
type Analyzer struct {
	cfg        Config
	swings     *analysis.SwingDetector
	structure  *analysis.StructureAnalyzer
	liquidity  *analysis.LiquidityTracker
	classifier *analysis.BreakClassifier
	validator  *entry.Validator
	logger     zerolog.Logger
}

// NewAnalyzer creates an analyzer from cfg
func NewAnalyzer(cfg Config, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		cfg:        cfg,
		swings:     analysis.NewSwingDetector(cfg.Analysis.SwingWindow),
		structure:  analysis.NewStructureAnalyzer(cfg.Analysis),
		liquidity:  analysis.NewLiquidityTracker(cfg.Analysis),
		classifier: analysis.NewBreakClassifier(cfg.Analysis),
		validator:  entry.NewValidator(cfg.Entry, logger),
		logger:     logger.With().Str("component", "Analyzer").Logger(),
	}
}

// Analyze is the package-level convenience used by callers without a logger
func Analyze(candles []market.Candle, cfg Config) Result {
	return NewAnalyzer(cfg, zerolog.Nop()).Analyze(candles, nil)
}

// Analyze runs the full pass. higher carries trends of longer timeframes
// for entry alignment and may be nil.
func (a *Analyzer) Analyze(candles []market.Candle, higher map[market.Timeframe]analysis.Trend) Result {
	valid, rejected := market.Sanitize(candles)
	if len(rejected) > 0 {
		a.logger.Warn().Int("rejected", len(rejected)).Int("total", len(candles)).Msg("Skipped invalid candles")
	}

	res := Result{Candles: len(valid), Rejected: rejected}
	if len(valid) == 0 {
		res.Decision = entry.Decision{Reason: entry.InsufficientData, Detail: "no valid candles"}
		return res
	}

	// 1. Swings and structure
	res.Swings = a.swings.Detect(valid)
	res.Structure = a.structure.Analyze(valid, res.Swings)

	// 2. Liquidity
	res.Zones = a.liquidity.Zones(valid, res.Swings)
	res.Sweeps = a.liquidity.Sweeps(valid, res.Zones)
	res.Retests = a.liquidity.Retests(valid, res.Zones)

	// 3. Break classification and traps
	breaks := a.classifier.Breaks(valid, res.Structure.Events, res.Zones)
	res.Breaks = a.classifier.ClassifyAll(valid, breaks, res.Sweeps)
	res.Traps = a.classifier.Traps(valid, res.Breaks, res.Sweeps)

	// 4. Entry validation
	res.CleanZones = analysis.CleanZones(valid, a.cfg.Analysis)
	res.Decision = a.validator.Validate(entry.Input{
		Candles:      valid,
		Breaks:       res.Breaks,
		Sweeps:       res.Sweeps,
		Zones:        res.Zones,
		CleanZones:   res.CleanZones,
		HigherTrends: higher,
	})
	if res.Decision.Valid() {
		res.Entries = []entry.Signal{*res.Decision.Signal}
	}

	a.logger.Debug().
		Int("candles", len(valid)).
		Int("swings", len(res.Swings)).
		Int("events", len(res.Structure.Events)).
		Int("zones", len(res.Zones)).
		Int("sweeps", len(res.Sweeps)).
		Int("traps", len(res.Traps)).
		Str("trend", res.Structure.Trend.String()).
		Str("decision", res.Decision.Reason.String()).
		Msg("Analysis complete")

	return res
}
