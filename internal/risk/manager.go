package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"liquidity-trap-engine/internal/logging"
	"liquidity-trap-engine/internal/market"
)

// Publisher receives position lifecycle notifications. *events.EventBus
// satisfies it.
type Publisher interface {
	PublishPositionOpened(symbol, positionID, direction string, entryPrice, stopLoss, size float64)
	PublishExit(symbol, positionID, level string, fillPrice, size, pnl float64)
	PublishStopMoved(symbol, positionID string, oldStop, newStop float64)
	PublishPositionClosed(symbol, positionID, status string, realizedPnL float64)
}

// Order is a request to open a position
type Order struct {
	Symbol         string           `json:"symbol"`
	Direction      market.Direction `json:"direction"`
	EntryPrice     float64          `json:"entry_price"`
	StopLoss       float64          `json:"stop_loss"`
	AccountBalance float64          `json:"account_balance"`
	RiskFraction   float64          `json:"risk_fraction"`
	SignalKey      string           `json:"signal_key,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// PortfolioRisk summarizes open exposure
type PortfolioRisk struct {
	TotalRisk     float64 `json:"total_risk"`
	PositionCount int     `json:"position_count"`
	Balance       float64 `json:"balance"`
	RiskPct       float64 `json:"risk_pct"`
	MaxRiskPct    float64 `json:"max_risk_pct"`
	DailyPnL      float64 `json:"daily_pnl"`
}

// Manager owns every position. All mutation happens under one mutex, so a
// position is never written by two goroutines at once.
type Manager struct {
	cfg            Config
	positions      map[string]*Position
	signals        map[string]string // signal key -> position ID
	accountBalance float64
	dailyPnL       decimal.Decimal
	dailyPnLReset  time.Time
	publisher      Publisher
	logger         zerolog.Logger
	now            func() time.Time
	mu             sync.Mutex
}

// NewManager creates a position risk manager. publisher may be nil.
func NewManager(cfg Config, publisher Publisher, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		positions: make(map[string]*Position),
		signals:   make(map[string]string),
		dailyPnL:  decimal.Zero,
		publisher: publisher,
		logger:    logging.Component(logger, "PositionRiskManager"),
		now:       time.Now,
	}
}

// Create sizes and opens a position and returns its ID. Every refusal is a
// *RejectionError carrying a reason code.
func (m *Manager) Create(ctx context.Context, order Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !finitePositive(order.EntryPrice) || !finitePositive(order.StopLoss) {
		return "", rejectf(RejectInvalidPrice, "entry=%v stop=%v", order.EntryPrice, order.StopLoss)
	}
	if !finitePositive(order.AccountBalance) {
		return "", rejectf(RejectInvalidBalance, "balance=%v", order.AccountBalance)
	}
	if order.Direction == market.Neutral {
		return "", rejectf(RejectInvertedStop, "direction is required")
	}
	if (order.EntryPrice-order.StopLoss)*order.Direction.Sign() <= 0 {
		return "", rejectf(RejectInvertedStop, "%s entry %.5f with stop %.5f", order.Direction, order.EntryPrice, order.StopLoss)
	}

	fraction := order.RiskFraction
	if fraction <= 0 {
		fraction = m.cfg.DefaultRiskFraction
	}
	if maxFraction := m.cfg.MaxRiskPerTradePct / 100; fraction > maxFraction {
		m.logger.Warn().
			Float64("requested", fraction).
			Float64("max", maxFraction).
			Msg("Risk fraction clamped to per-trade maximum")
		fraction = maxFraction
	}

	ts := order.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if order.SignalKey != "" {
		if id, ok := m.signals[order.SignalKey]; ok {
			return "", rejectf(RejectDuplicateSignal, "signal %s opened position %s", order.SignalKey, id)
		}
	}

	balance := order.AccountBalance
	if ok, reason, code := m.canOpenLocked(ts, balance); !ok {
		return "", rejectf(code, "%s", reason)
	}

	sized := CalculatePositionSize(order.EntryPrice, order.StopLoss, balance, fraction, m.cfg.MaxExposurePct, m.cfg.SizePrecision)
	if !sized.Size.IsPositive() {
		return "", rejectf(RejectNonPositiveSize, "balance=%.2f fraction=%.4f", balance, fraction)
	}

	newRisk := sized.Size.Mul(sized.RiskPerUnit)
	openRisk := m.openRiskLocked()
	limit := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(m.cfg.MaxPortfolioRiskPct)).Div(hundred)
	if openRisk.Add(newRisk).GreaterThan(limit) {
		return "", rejectf(RejectPortfolioRisk, "open %s + new %s exceeds %s", openRisk.StringFixed(2), newRisk.StringFixed(2), limit.StringFixed(2))
	}

	prices := LadderPrices(order.EntryPrice, order.StopLoss, order.Direction, m.cfg.Multiples())
	prev := order.EntryPrice
	for _, p := range prices {
		if !finitePositive(p) || (p-prev)*order.Direction.Sign() <= 0 {
			return "", rejectf(RejectInvalidTargets, "ladder %v from entry %.5f", prices, order.EntryPrice)
		}
		prev = p
	}

	allocations := m.cfg.Allocations()
	parts := SplitAllocations(sized.Size, allocations, m.cfg.SizePrecision)

	pos := &Position{
		ID:               uuid.New().String(),
		Symbol:           order.Symbol,
		SignalKey:        order.SignalKey,
		Direction:        order.Direction,
		EntryPrice:       order.EntryPrice,
		StopLoss:         order.StopLoss,
		TrailDistancePct: m.cfg.TrailingStopPct,
		Size:             sized.Size,
		RemainingSize:    sized.Size,
		Status:           StatusOpen,
		RealizedPnL:      decimal.Zero,
		UnrealizedPnL:    decimal.Zero,
		LastPrice:        order.EntryPrice,
		OpenedAt:         ts,
		UpdatedAt:        ts,
	}
	for i := range pos.Levels {
		pos.Levels[i] = TakeProfitLevel{
			Level:         takeProfitLevels[i],
			Price:         prices[i],
			AllocationPct: allocations[i],
			Size:          parts[i],
		}
	}

	m.accountBalance = balance
	m.positions[pos.ID] = pos
	if order.SignalKey != "" {
		m.signals[order.SignalKey] = pos.ID
	}

	pl := logging.PositionContext(m.logger, pos.ID, pos.Symbol, pos.Direction.String())
	pl.Info().
		Float64("entry_price", pos.EntryPrice).
		Float64("stop_loss", pos.StopLoss).
		Str("size", pos.Size.String()).
		Bool("capped", sized.Capped).
		Msg("Position opened")

	if m.publisher != nil {
		m.publisher.PublishPositionOpened(pos.Symbol, pos.ID, pos.Direction.String(), pos.EntryPrice, pos.StopLoss, pos.Size.InexactFloat64())
	}

	return pos.ID, nil
}

// Update advances the trailing stop, then checks the stop, then the
// take-profit levels in order. Terminal positions return no events.
func (m *Manager) Update(ctx context.Context, id string, currentPrice float64, ts time.Time) ([]ExitEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !finitePositive(currentPrice) {
		return nil, fmt.Errorf("%w: price=%v", ErrInvalidPrice, currentPrice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if pos.Status.IsTerminal() {
		return nil, nil
	}
	if ts.IsZero() {
		ts = m.now()
	}
	pos.LastPrice = currentPrice
	pos.UpdatedAt = ts
	pl := logging.PositionContext(m.logger, pos.ID, pos.Symbol, pos.Direction.String())
	filledBefore := pos.FilledSize()
	booked := decimal.Zero

	// 1. Trailing stop
	if upd := advanceTrailingStop(pos, currentPrice, m.cfg.TrailingActivationPct); upd != nil {
		pl.Debug().
			Float64("old_stop", upd.OldStopLoss).
			Float64("new_stop", upd.NewStopLoss).
			Msg("Trailing stop advanced")
		if m.publisher != nil {
			m.publisher.PublishStopMoved(pos.Symbol, pos.ID, upd.OldStopLoss, upd.NewStopLoss)
		}
	}

	var exits []ExitEvent

	// 2. Stop breach closes everything that is left
	if stopBreached(pos, currentPrice) {
		size := pos.RemainingSize
		pnl := pos.pnl(currentPrice, size)
		exits = append(exits, m.exit(pl, pos, ExitStop, currentPrice, size, pnl, ts))
		booked = booked.Add(size)

		pos.RemainingSize = decimal.Zero
		pos.UnrealizedPnL = decimal.Zero
		pos.Status = StatusStoppedOut
		pos.ClosedAt = ts
	} else {
		// 3. Take-profit levels in ladder order
		for i := range pos.Levels {
			lvl := &pos.Levels[i]
			if lvl.Filled {
				continue
			}
			if !targetReached(pos.Direction, currentPrice, lvl.Price) {
				break
			}

			size := decimal.Min(lvl.Size, pos.RemainingSize)
			pnl := pos.pnl(lvl.Price, size)
			exits = append(exits, m.exit(pl, pos, lvl.Level, lvl.Price, size, pnl, ts))
			booked = booked.Add(size)

			lvl.Filled = true
			lvl.FilledAt = ts
			pos.RemainingSize = pos.RemainingSize.Sub(size)
			pos.TrailDistancePct *= m.cfg.TrailTightenFactor
		}

		if len(exits) > 0 {
			if pos.RemainingSize.IsPositive() {
				pos.Status = StatusPartialClose
			} else {
				pos.RemainingSize = decimal.Zero
				pos.Status = StatusClosed
				pos.ClosedAt = ts
			}
		}
		pos.UnrealizedPnL = pos.pnl(currentPrice, pos.RemainingSize)
	}

	// Every unit closed must have been booked by exactly one exit
	if filled := pos.FilledSize(); !filled.Equal(filledBefore.Add(booked)) || filled.GreaterThan(pos.Size) {
		pl.Error().
			Str("filled", filled.String()).
			Str("booked", booked.String()).
			Str("size", pos.Size.String()).
			Msg("Position size not conserved")
		return exits, fmt.Errorf("%w: %s filled %s of %s", ErrSizeNotConserved, pos.ID, filled, pos.Size)
	}

	if pos.Status.IsTerminal() {
		pl.Info().
			Str("status", string(pos.Status)).
			Str("realized_pnl", pos.RealizedPnL.StringFixed(4)).
			Msg("Position closed")
		if m.publisher != nil {
			m.publisher.PublishPositionClosed(pos.Symbol, pos.ID, string(pos.Status), pos.RealizedPnL.InexactFloat64())
		}
	}

	return exits, nil
}

// exit books a fill against the position and the daily P&L
func (m *Manager) exit(pl zerolog.Logger, pos *Position, level ExitLevel, price float64, size, pnl decimal.Decimal, ts time.Time) ExitEvent {
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)

	m.checkDailyReset(ts)
	m.dailyPnL = m.dailyPnL.Add(pnl)

	ev := ExitEvent{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Level:      level,
		FillPrice:  price,
		Size:       size.InexactFloat64(),
		PnL:        pnl.InexactFloat64(),
		Timestamp:  ts,
	}

	pl.Info().
		Str("level", string(level)).
		Float64("fill_price", price).
		Str("size", size.String()).
		Str("pnl", pnl.StringFixed(4)).
		Msg("Exit filled")

	if m.publisher != nil {
		m.publisher.PublishExit(pos.Symbol, pos.ID, string(level), price, ev.Size, ev.PnL)
	}
	return ev
}

// Status returns a snapshot of one position
func (m *Manager) Status(id string) (PositionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[id]
	if !ok {
		return PositionSnapshot{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return pos.Snapshot(), nil
}

// Positions returns snapshots of every position, oldest first. An empty
// symbol matches all.
func (m *Manager) Positions(symbol string, openOnly bool) []PositionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PositionSnapshot, 0, len(m.positions))
	for _, pos := range m.positions {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		if openOnly && pos.Status.IsTerminal() {
			continue
		}
		out = append(out, pos.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// PortfolioRisk sums the open risk of every live position
func (m *Manager) PortfolioRisk() PortfolioRisk {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.openRiskLocked().InexactFloat64()
	pr := PortfolioRisk{
		TotalRisk:     total,
		PositionCount: m.openCountLocked(),
		Balance:       m.accountBalance,
		MaxRiskPct:    m.cfg.MaxPortfolioRiskPct,
		DailyPnL:      m.dailyPnL.InexactFloat64(),
	}
	if m.accountBalance > 0 {
		pr.RiskPct = total / m.accountBalance * 100
	}
	return pr
}

// UpdateAccountBalance updates the balance used for reporting and the daily
// loss limit
func (m *Manager) UpdateAccountBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountBalance = balance
}

// CanOpenPosition checks if a new position can be opened at ts
func (m *Manager) CanOpenPosition(ts time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok, reason, _ := m.canOpenLocked(ts, m.accountBalance)
	return ok, reason
}

// canOpenLocked checks the count and daily-loss limits against balance
func (m *Manager) canOpenLocked(ts time.Time, balance float64) (bool, string, RejectReason) {
	// Check max positions
	if open := m.openCountLocked(); open >= m.cfg.MaxOpenPositions {
		return false, fmt.Sprintf("max positions reached (%d/%d)", open, m.cfg.MaxOpenPositions), RejectMaxPositions
	}

	// Check daily loss
	m.checkDailyReset(ts)
	if balance > 0 && m.cfg.MaxDailyLossPct > 0 {
		dailyPercent := m.dailyPnL.InexactFloat64() / balance * 100
		if dailyPercent <= -m.cfg.MaxDailyLossPct {
			return false, fmt.Sprintf("daily loss limit reached (%.2f%%)", dailyPercent), RejectDailyLoss
		}
	}

	return true, "", ""
}

func (m *Manager) openCountLocked() int {
	count := 0
	for _, pos := range m.positions {
		if !pos.Status.IsTerminal() {
			count++
		}
	}
	return count
}

func (m *Manager) openRiskLocked() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range m.positions {
		total = total.Add(pos.OpenRisk())
	}
	return total
}

// checkDailyReset resets daily P&L when ts falls on a new UTC day
func (m *Manager) checkDailyReset(ts time.Time) {
	day := ts.UTC().Truncate(24 * time.Hour)
	if day.After(m.dailyPnLReset) {
		m.dailyPnL = decimal.Zero
		m.dailyPnLReset = day
	}
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
