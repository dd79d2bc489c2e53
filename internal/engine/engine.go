package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"liquidity-trap-engine/internal/analysis"
	"liquidity-trap-engine/internal/entry"
	"liquidity-trap-engine/internal/events"
	"liquidity-trap-engine/internal/logging"
	"liquidity-trap-engine/internal/market"
	"liquidity-trap-engine/internal/pipeline"
	"liquidity-trap-engine/internal/risk"
	"liquidity-trap-engine/internal/tracing"
)

// ErrUnknownSymbol is returned for symbols with no session
var ErrUnknownSymbol = errors.New("unknown symbol")

// Config controls how sessions turn signals into positions
type Config struct {
	BaseTimeframe  market.Timeframe `json:"base_timeframe" yaml:"base_timeframe"`
	AccountBalance float64          `json:"account_balance" yaml:"account_balance"`
	RiskFraction   float64          `json:"risk_fraction" yaml:"risk_fraction"`
	AutoExecute    bool             `json:"auto_execute" yaml:"auto_execute"`   // Open positions from valid entry signals
	ExecuteTraps   bool             `json:"execute_traps" yaml:"execute_traps"` // Also open positions from fresh trap signals
	MaxCandles     int              `json:"max_candles" yaml:"max_candles"`     // History kept per timeframe
	MaxTrapRisk    string           `json:"max_trap_risk" yaml:"max_trap_risk"` // Highest trap risk level that may execute
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		BaseTimeframe:  market.TF15m,
		AccountBalance: 10000,
		RiskFraction:   0.01,
		AutoExecute:    true,
		ExecuteTraps:   false,
		MaxCandles:     1000,
		MaxTrapRisk:    analysis.RiskMedium.String(),
	}
}

// Evaluation is the outcome of one analysis cycle for a symbol
type Evaluation struct {
	Symbol     string                         `json:"symbol"`
	Result     *pipeline.MultiTimeframeResult `json:"result"`
	Decision   entry.Decision                 `json:"decision"`
	Opened     []string                       `json:"opened_positions"`
	Rejections []string                       `json:"rejections,omitempty"`
}

// Engine routes candles and prices to per-symbol sessions
type Engine struct {
	cfg      Config
	analyzer *pipeline.Analyzer
	manager  *risk.Manager
	bus      *events.EventBus
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   zerolog.Logger
}

// New creates an engine. bus may be nil.
func New(cfg Config, analyzer *pipeline.Analyzer, manager *risk.Manager, bus *events.EventBus, logger zerolog.Logger) *Engine {
	if cfg.BaseTimeframe == "" {
		cfg.BaseTimeframe = market.TF15m
	}
	return &Engine{
		cfg:      cfg,
		analyzer: analyzer,
		manager:  manager,
		bus:      bus,
		sessions: make(map[string]*Session),
		logger:   logging.Component(logger, "Engine"),
	}
}

// Session returns the session for symbol, creating it on first use
func (e *Engine) Session(symbol string) *Session {
	e.mu.RLock()
	s, ok := e.sessions[symbol]
	e.mu.RUnlock()
	if ok {
		return s
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok = e.sessions[symbol]; ok {
		return s
	}
	s = newSession(symbol)
	e.sessions[symbol] = s
	return s
}

// lookup returns an existing session
func (e *Engine) lookup(symbol string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return s, nil
}

// Sessions lists every session, sorted by symbol
func (e *Engine) Sessions() []SessionInfo {
	e.mu.RLock()
	list := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		list = append(list, s)
	}
	e.mu.RUnlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// AddCandles merges candles into a symbol's timeframe history and, once the
// base frame has data, runs an analysis cycle
func (e *Engine) AddCandles(ctx context.Context, symbol string, tf market.Timeframe, candles []market.Candle) (*Evaluation, error) {
	if tf.Rank() == 0 {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}
	s := e.Session(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	added := s.merge(tf, candles, e.cfg.MaxCandles)
	e.logger.Debug().
		Str("symbol", symbol).
		Str("timeframe", string(tf)).
		Int("received", len(candles)).
		Int("added", added).
		Msg("Candles merged")

	if len(s.frames[e.cfg.BaseTimeframe]) == 0 {
		return nil, nil
	}
	return e.evaluateLocked(ctx, s)
}

// Evaluate re-runs analysis on the stored history
func (e *Engine) Evaluate(ctx context.Context, symbol string) (*Evaluation, error) {
	s, err := e.lookup(symbol)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.evaluateLocked(ctx, s)
}

func (e *Engine) evaluateLocked(ctx context.Context, s *Session) (*Evaluation, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.evaluate",
		attribute.String("symbol", s.Symbol),
		attribute.String("base_timeframe", string(e.cfg.BaseTimeframe)),
	)
	defer span.End()

	frames := s.snapshot()
	sorted := pipeline.SortedTimeframes(frames)
	names := make([]string, len(sorted))
	for i, tf := range sorted {
		names[i] = string(tf)
	}
	span.SetAttributes(attribute.StringSlice("timeframes", names))

	log := logging.AnalysisContext(e.logger, s.Symbol, string(e.cfg.BaseTimeframe), len(frames[e.cfg.BaseTimeframe]))

	mtf, err := e.analyzer.AnalyzeTimeframes(ctx, frames, e.cfg.BaseTimeframe)
	if err != nil {
		tracing.RecordError(span, err)
		if e.bus != nil {
			e.bus.PublishError("engine", "analysis failed for "+s.Symbol, err)
		}
		return nil, err
	}
	s.last = mtf
	s.updatedAt = time.Now()

	base := mtf.BaseResult()
	span.SetAttributes(
		attribute.Int("zones", len(base.Zones)),
		attribute.Int("traps", len(base.Traps)),
		attribute.String("decision", base.Decision.Reason.String()),
	)

	ev := &Evaluation{Symbol: s.Symbol, Result: mtf, Decision: base.Decision}

	if e.bus != nil {
		e.bus.PublishAnalysisUpdate(s.Symbol, string(mtf.Base), base.Structure.Trend.String(), len(base.Zones), len(base.Traps), mtf.Alignment)
	}

	for _, trap := range base.Traps {
		key := trapKey(trap)
		if !s.markTrap(key) {
			continue
		}
		if e.bus != nil {
			e.bus.PublishTrapSignal(s.Symbol, trap.Kind.String(), trap.Direction.String(), trap.EntryPrice, trap.StopLoss, trap.Confidence)
		}
		if e.cfg.ExecuteTraps && trap.SafeEntryExists && trap.RiskLevel <= analysis.ParseRiskLevel(e.cfg.MaxTrapRisk) {
			e.open(ctx, ev, s.Symbol, trap.Direction, trap.EntryPrice, trap.StopLoss, "trap:"+key, trap.Timestamp)
		}
	}

	if base.Decision.Valid() {
		sig := base.Decision.Signal
		sl := logging.SignalContext(log, s.Symbol, sig.Direction.String(), sig.Confidence)
		sl.Info().
			Float64("entry_price", sig.EntryPrice).
			Float64("stop_loss", sig.StopLoss).
			Float64("risk_reward", sig.RiskReward).
			Str("grade", sig.Grade).
			Msg("Entry signal")
		if e.bus != nil {
			e.bus.PublishEntrySignal(s.Symbol, sig.Direction.String(), sig.EntryPrice, sig.StopLoss, sig.Confidence, sig.RiskReward)
		}
		if e.cfg.AutoExecute {
			e.open(ctx, ev, s.Symbol, sig.Direction, sig.EntryPrice, sig.StopLoss, "entry:"+sig.Key, sig.Timestamp)
		}
	} else {
		log.Debug().
			Str("reason", base.Decision.Reason.String()).
			Str("detail", base.Decision.Detail).
			Msg("No entry")
		if e.bus != nil {
			e.bus.PublishEntryRejected(s.Symbol, base.Decision.Reason.String(), base.Decision.Detail)
		}
	}

	return ev, nil
}

// open hands a signal to the risk manager. Duplicate signals are expected
// when the same window is evaluated twice and are not reported.
func (e *Engine) open(ctx context.Context, ev *Evaluation, symbol string, dir market.Direction, entryPrice, stop float64, key string, ts time.Time) {
	id, err := e.manager.Create(ctx, risk.Order{
		Symbol:         symbol,
		Direction:      dir,
		EntryPrice:     entryPrice,
		StopLoss:       stop,
		AccountBalance: e.cfg.AccountBalance,
		RiskFraction:   e.cfg.RiskFraction,
		SignalKey:      symbol + ":" + key,
		Timestamp:      ts,
	})
	if err != nil {
		if errors.Is(err, risk.ErrSignalAlreadyOpened) {
			return
		}
		e.logger.Warn().Err(err).Str("symbol", symbol).Str("signal", key).Msg("Position not opened")
		ev.Rejections = append(ev.Rejections, err.Error())
		return
	}
	ev.Opened = append(ev.Opened, id)
}

// OnPrice feeds a price tick to every open position of symbol
func (e *Engine) OnPrice(ctx context.Context, symbol string, price float64, ts time.Time) ([]risk.ExitEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.on_price", attribute.String("symbol", symbol), attribute.Float64("price", price))
	defer span.End()

	var exits []risk.ExitEvent
	for _, pos := range e.manager.Positions(symbol, true) {
		out, err := e.manager.Update(ctx, pos.ID, price, ts)
		if err != nil {
			tracing.RecordError(span, err)
			return exits, err
		}
		exits = append(exits, out...)
	}
	span.SetAttributes(attribute.Int("exits", len(exits)))
	return exits, nil
}

// Last returns the latest analysis of symbol
func (e *Engine) Last(symbol string) (*pipeline.MultiTimeframeResult, error) {
	s, err := e.lookup(symbol)
	if err != nil {
		return nil, err
	}
	res, ok := s.Last()
	if !ok {
		return nil, fmt.Errorf("%w: %s has no analysis yet", ErrUnknownSymbol, symbol)
	}
	return res, nil
}

func trapKey(t analysis.TrapSignal) string {
	return strconv.FormatInt(t.Timestamp.UnixMilli(), 10) + ":" + t.Kind.String() + ":" + t.Direction.String()
}
