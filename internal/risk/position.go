package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"liquidity-trap-engine/internal/market"
)

// Status is the lifecycle state of a position
type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusPartialClose Status = "PARTIAL_CLOSE"
	StatusClosed       Status = "CLOSED"
	StatusStoppedOut   Status = "STOPPED_OUT"
)

// IsTerminal reports whether the status absorbs all further updates
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusStoppedOut
}

// ExitLevel names the level that produced an exit
type ExitLevel string

const (
	ExitTP1  ExitLevel = "TP1"
	ExitTP2  ExitLevel = "TP2"
	ExitTP3  ExitLevel = "TP3"
	ExitStop ExitLevel = "STOP"
)

var takeProfitLevels = [3]ExitLevel{ExitTP1, ExitTP2, ExitTP3}

// TakeProfitLevel is one rung of the take-profit ladder
type TakeProfitLevel struct {
	Level         ExitLevel
	Price         float64
	AllocationPct float64
	Size          decimal.Decimal
	Filled        bool
	FilledAt      time.Time
}

// ExitEvent is a fill produced by Update
type ExitEvent struct {
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Level      ExitLevel `json:"level"`
	FillPrice  float64   `json:"fill_price"`
	Size       float64   `json:"size"`
	PnL        float64   `json:"pnl"`
	Timestamp  time.Time `json:"timestamp"`
}

// Position is the mutable record owned by the Manager. Callers only ever
// see PositionSnapshot copies.
type Position struct {
	ID               string
	Symbol           string
	SignalKey        string
	Direction        market.Direction
	EntryPrice       float64
	StopLoss         float64
	TrailingStop     float64 // 0 until the first advance
	TrailDistancePct float64
	Size             decimal.Decimal
	RemainingSize    decimal.Decimal
	Levels           [3]TakeProfitLevel
	Status           Status
	RealizedPnL      decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	LastPrice        float64
	OpenedAt         time.Time
	UpdatedAt        time.Time
	ClosedAt         time.Time
}

// ActiveStop is the trailing stop when set, else the initial stop
func (p *Position) ActiveStop() float64 {
	if p.TrailingStop > 0 {
		return p.TrailingStop
	}
	return p.StopLoss
}

// FilledSize sums the sizes closed so far
func (p *Position) FilledSize() decimal.Decimal {
	return p.Size.Sub(p.RemainingSize)
}

// OpenRisk is the loss if the active stop is hit now; stops at or past
// breakeven carry no risk
func (p *Position) OpenRisk() decimal.Decimal {
	if p.Status.IsTerminal() {
		return decimal.Zero
	}
	perUnit := decimal.NewFromFloat(p.EntryPrice).Sub(decimal.NewFromFloat(p.ActiveStop()))
	if p.Direction == market.Bearish {
		perUnit = perUnit.Neg()
	}
	if !perUnit.IsPositive() {
		return decimal.Zero
	}
	return perUnit.Mul(p.RemainingSize)
}

// pnl returns the signed profit of closing size at price
func (p *Position) pnl(price float64, size decimal.Decimal) decimal.Decimal {
	diff := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.EntryPrice))
	if p.Direction == market.Bearish {
		diff = diff.Neg()
	}
	return diff.Mul(size)
}

// LevelSnapshot is the read-only view of a take-profit level
type LevelSnapshot struct {
	Level         ExitLevel  `json:"level"`
	Price         float64    `json:"price"`
	AllocationPct float64    `json:"allocation_pct"`
	Size          float64    `json:"size"`
	Filled        bool       `json:"filled"`
	FilledAt      *time.Time `json:"filled_at,omitempty"`
}

// PositionSnapshot is the read-only view returned by Status
type PositionSnapshot struct {
	ID               string           `json:"id"`
	Symbol           string           `json:"symbol"`
	SignalKey        string           `json:"signal_key,omitempty"`
	Direction        market.Direction `json:"direction"`
	EntryPrice       float64          `json:"entry_price"`
	StopLoss         float64          `json:"stop_loss"`
	TrailingStop     float64          `json:"trailing_stop"`
	ActiveStop       float64          `json:"active_stop"`
	TrailDistancePct float64          `json:"trail_distance_pct"`
	Size             float64          `json:"size"`
	RemainingSize    float64          `json:"remaining_size"`
	FilledSize       float64          `json:"filled_size"`
	TakeProfits      [3]LevelSnapshot `json:"take_profits"`
	Status           Status           `json:"status"`
	RealizedPnL      float64          `json:"realized_pnl"`
	UnrealizedPnL    float64          `json:"unrealized_pnl"`
	LastPrice        float64          `json:"last_price"`
	OpenedAt         time.Time        `json:"opened_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	ClosedAt         *time.Time       `json:"closed_at,omitempty"`
}

// Snapshot copies the position into its read-only view
func (p *Position) Snapshot() PositionSnapshot {
	snap := PositionSnapshot{
		ID:               p.ID,
		Symbol:           p.Symbol,
		SignalKey:        p.SignalKey,
		Direction:        p.Direction,
		EntryPrice:       p.EntryPrice,
		StopLoss:         p.StopLoss,
		TrailingStop:     p.TrailingStop,
		ActiveStop:       p.ActiveStop(),
		TrailDistancePct: p.TrailDistancePct,
		Size:             p.Size.InexactFloat64(),
		RemainingSize:    p.RemainingSize.InexactFloat64(),
		FilledSize:       p.FilledSize().InexactFloat64(),
		Status:           p.Status,
		RealizedPnL:      p.RealizedPnL.InexactFloat64(),
		UnrealizedPnL:    p.UnrealizedPnL.InexactFloat64(),
		LastPrice:        p.LastPrice,
		OpenedAt:         p.OpenedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	for i, l := range p.Levels {
		ls := LevelSnapshot{
			Level:         l.Level,
			Price:         l.Price,
			AllocationPct: l.AllocationPct,
			Size:          l.Size.InexactFloat64(),
			Filled:        l.Filled,
		}
		if l.Filled {
			at := l.FilledAt
			ls.FilledAt = &at
		}
		snap.TakeProfits[i] = ls
	}
	if p.Status.IsTerminal() {
		at := p.ClosedAt
		snap.ClosedAt = &at
	}
	return snap
}
