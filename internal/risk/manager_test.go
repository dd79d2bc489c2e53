package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"liquidity-trap-engine/internal/market"
)

var testStart = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	opened []string
	exits  []string
	moves  int
	closed []string
}

func (r *recordingPublisher) PublishPositionOpened(symbol, positionID, direction string, entryPrice, stopLoss, size float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, positionID)
}

func (r *recordingPublisher) PublishExit(symbol, positionID, level string, fillPrice, size, pnl float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, level)
}

func (r *recordingPublisher) PublishStopMoved(symbol, positionID string, oldStop, newStop float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves++
}

func (r *recordingPublisher) PublishPositionClosed(symbol, positionID, status string, realizedPnL float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, status)
}

func newTestManager(cfg Config) (*Manager, *recordingPublisher) {
	pub := &recordingPublisher{}
	m := NewManager(cfg, pub, zerolog.Nop())
	m.now = func() time.Time { return testStart }
	return m, pub
}

func longOrder() Order {
	return Order{
		Symbol:         "EURUSD",
		Direction:      market.Bullish,
		EntryPrice:     1.1000,
		StopLoss:       1.0950,
		AccountBalance: 10000,
		RiskFraction:   0.02,
		Timestamp:      testStart,
	}
}

func shortOrder() Order {
	o := longOrder()
	o.Direction = market.Bearish
	o.StopLoss = 1.1050
	return o
}

func almostEqual(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func TestCreateSizesAndLaddersLong(t *testing.T) {
	m, pub := newTestManager(DefaultConfig())

	id, err := m.Create(context.Background(), longOrder())
	if err != nil {
		t.Fatalf("Expected position to open, got %v", err)
	}

	snap, err := m.Status(id)
	if err != nil {
		t.Fatalf("Expected status, got %v", err)
	}
	if snap.Size != 40000 {
		t.Errorf("Expected size 40000, got %v", snap.Size)
	}
	if snap.Status != StatusOpen {
		t.Errorf("Expected status OPEN, got %s", snap.Status)
	}

	wantPrices := []float64{1.105, 1.11, 1.115}
	wantSizes := []float64{12000, 16000, 12000}
	for i, tp := range snap.TakeProfits {
		if tp.Price != wantPrices[i] {
			t.Errorf("Expected TP%d price %v, got %v", i+1, wantPrices[i], tp.Price)
		}
		if tp.Size != wantSizes[i] {
			t.Errorf("Expected TP%d size %v, got %v", i+1, wantSizes[i], tp.Size)
		}
	}
	if len(pub.opened) != 1 {
		t.Errorf("Expected 1 opened event, got %d", len(pub.opened))
	}
}

func TestUpdateFillsFirstTakeProfit(t *testing.T) {
	m, pub := newTestManager(DefaultConfig())
	ctx := context.Background()

	id, err := m.Create(ctx, longOrder())
	if err != nil {
		t.Fatalf("Expected position to open, got %v", err)
	}

	exits, err := m.Update(ctx, id, 1.1060, testStart.Add(time.Minute))
	if err != nil {
		t.Fatalf("Expected update to succeed, got %v", err)
	}
	if len(exits) != 1 {
		t.Fatalf("Expected 1 exit, got %d", len(exits))
	}

	ev := exits[0]
	if ev.Level != ExitTP1 {
		t.Errorf("Expected TP1, got %s", ev.Level)
	}
	if ev.FillPrice != 1.105 {
		t.Errorf("Expected fill at 1.105, got %v", ev.FillPrice)
	}
	if ev.Size != 12000 {
		t.Errorf("Expected size 12000, got %v", ev.Size)
	}
	if !almostEqual(ev.PnL, 60) {
		t.Errorf("Expected pnl 60, got %v", ev.PnL)
	}

	snap, _ := m.Status(id)
	if snap.RemainingSize != 28000 {
		t.Errorf("Expected remaining 28000, got %v", snap.RemainingSize)
	}
	if snap.Status != StatusPartialClose {
		t.Errorf("Expected PARTIAL_CLOSE, got %s", snap.Status)
	}
	if !almostEqual(snap.TrailDistancePct, 0.8) {
		t.Errorf("Expected trail distance tightened to 0.8, got %v", snap.TrailDistancePct)
	}
	if len(pub.exits) != 1 || pub.exits[0] != "TP1" {
		t.Errorf("Expected one TP1 exit event, got %v", pub.exits)
	}
}

func TestUpdateFillsWholeLadder(t *testing.T) {
	m, pub := newTestManager(DefaultConfig())
	ctx := context.Background()

	id, _ := m.Create(ctx, longOrder())
	exits, err := m.Update(ctx, id, 1.1200, testStart.Add(time.Minute))
	if err != nil {
		t.Fatalf("Expected update to succeed, got %v", err)
	}
	if len(exits) != 3 {
		t.Fatalf("Expected 3 exits, got %d", len(exits))
	}

	total := 0.0
	sizes := 0.0
	for i, ev := range exits {
		if ev.Level != takeProfitLevels[i] {
			t.Errorf("Expected exit %d to be %s, got %s", i, takeProfitLevels[i], ev.Level)
		}
		total += ev.PnL
		sizes += ev.Size
	}
	// 12000*0.005 + 16000*0.01 + 12000*0.015
	if !almostEqual(total, 400) {
		t.Errorf("Expected total pnl 400, got %v", total)
	}
	if sizes != 40000 {
		t.Errorf("Expected exits to sum to 40000, got %v", sizes)
	}

	snap, _ := m.Status(id)
	if snap.Status != StatusClosed {
		t.Errorf("Expected CLOSED, got %s", snap.Status)
	}
	if snap.RemainingSize != 0 {
		t.Errorf("Expected no remaining size, got %v", snap.RemainingSize)
	}
	if snap.ClosedAt == nil {
		t.Error("Expected closed_at to be set")
	}
	if len(pub.closed) != 1 || pub.closed[0] != "CLOSED" {
		t.Errorf("Expected one CLOSED event, got %v", pub.closed)
	}
}

func TestUpdateStopOut(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	ctx := context.Background()

	id, _ := m.Create(ctx, longOrder())
	exits, err := m.Update(ctx, id, 1.0940, testStart.Add(time.Minute))
	if err != nil {
		t.Fatalf("Expected update to succeed, got %v", err)
	}
	if len(exits) != 1 || exits[0].Level != ExitStop {
		t.Fatalf("Expected one STOP exit, got %+v", exits)
	}
	if exits[0].Size != 40000 {
		t.Errorf("Expected full size stopped, got %v", exits[0].Size)
	}
	if !almostEqual(exits[0].PnL, -240) {
		t.Errorf("Expected pnl -240, got %v", exits[0].PnL)
	}

	snap, _ := m.Status(id)
	if snap.Status != StatusStoppedOut {
		t.Errorf("Expected STOPPED_OUT, got %s", snap.Status)
	}
}

func TestTerminalPositionAbsorbsUpdates(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	ctx := context.Background()

	id, _ := m.Create(ctx, longOrder())
	if _, err := m.Update(ctx, id, 1.0900, testStart); err != nil {
		t.Fatalf("Expected update to succeed, got %v", err)
	}
	before, _ := m.Status(id)

	for _, price := range []float64{1.2000, 1.0500, 1.1000} {
		exits, err := m.Update(ctx, id, price, testStart.Add(time.Hour))
		if err != nil {
			t.Errorf("Expected no error on terminal update, got %v", err)
		}
		if len(exits) != 0 {
			t.Errorf("Expected no exits on terminal update, got %d", len(exits))
		}
	}

	after, _ := m.Status(id)
	if after.RealizedPnL != before.RealizedPnL || after.Status != before.Status || after.LastPrice != before.LastPrice {
		t.Errorf("Expected terminal position to be unchanged, got %+v", after)
	}
}

func TestTrailingStopMonotonic(t *testing.T) {
	tests := []struct {
		name   string
		order  Order
		prices []float64
	}{
		{"long", longOrder(), []float64{1.1010, 1.1030, 1.1020, 1.1040, 1.1035, 1.1045}},
		{"short", shortOrder(), []float64{1.0990, 1.0970, 1.0980, 1.0960, 1.0965, 1.0955}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TrailingStopPct = 0.2
			m, pub := newTestManager(cfg)
			ctx := context.Background()

			id, err := m.Create(ctx, tt.order)
			if err != nil {
				t.Fatalf("Expected position to open, got %v", err)
			}

			prev, _ := m.Status(id)
			for _, p := range tt.prices {
				if _, err := m.Update(ctx, id, p, testStart.Add(time.Minute)); err != nil {
					t.Fatalf("Expected update to succeed, got %v", err)
				}
				snap, _ := m.Status(id)
				if snap.Status.IsTerminal() {
					break
				}
				moved := (snap.ActiveStop - prev.ActiveStop) * tt.order.Direction.Sign()
				if moved < 0 {
					t.Errorf("Expected stop never to loosen, went %v -> %v at price %v", prev.ActiveStop, snap.ActiveStop, p)
				}
				prev = snap
			}
			if pub.moves == 0 {
				t.Error("Expected at least one stop move")
			}
		})
	}
}

func TestCreateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Order)
		reason RejectReason
		sent   error
	}{
		{"zero entry", func(o *Order) { o.EntryPrice = 0 }, RejectInvalidPrice, ErrInvalidPrice},
		{"negative stop", func(o *Order) { o.StopLoss = -1 }, RejectInvalidPrice, ErrInvalidPrice},
		{"zero balance", func(o *Order) { o.AccountBalance = 0 }, RejectInvalidBalance, ErrInvalidBalance},
		{"stop above long entry", func(o *Order) { o.StopLoss = 1.1050 }, RejectInvertedStop, ErrInvertedStop},
		{"stop at entry", func(o *Order) { o.StopLoss = o.EntryPrice }, RejectInvertedStop, ErrInvertedStop},
		{"neutral direction", func(o *Order) { o.Direction = market.Neutral }, RejectInvertedStop, ErrInvertedStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(DefaultConfig())
			o := longOrder()
			tt.mutate(&o)

			_, err := m.Create(context.Background(), o)
			rej, ok := AsRejection(err)
			if !ok {
				t.Fatalf("Expected rejection, got %v", err)
			}
			if rej.Reason != tt.reason {
				t.Errorf("Expected reason %s, got %s", tt.reason, rej.Reason)
			}
			if !errors.Is(err, tt.sent) {
				t.Errorf("Expected error to wrap %v, got %v", tt.sent, err)
			}
		})
	}
}

func TestRiskFractionClamped(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	o := longOrder()
	o.RiskFraction = 0.10

	id, err := m.Create(context.Background(), o)
	if err != nil {
		t.Fatalf("Expected position to open, got %v", err)
	}
	snap, _ := m.Status(id)
	if snap.Size != 40000 {
		t.Errorf("Expected size clamped to 2%% risk (40000), got %v", snap.Size)
	}
}

func TestPortfolioRiskGuard(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	ctx := context.Background()

	// 200 risk each against a 600 cap
	for i := 0; i < 3; i++ {
		if _, err := m.Create(ctx, longOrder()); err != nil {
			t.Fatalf("Expected position %d to open, got %v", i+1, err)
		}
	}

	pr := m.PortfolioRisk()
	if !almostEqual(pr.TotalRisk, 600) {
		t.Errorf("Expected total risk 600, got %v", pr.TotalRisk)
	}
	if pr.PositionCount != 3 {
		t.Errorf("Expected 3 positions, got %d", pr.PositionCount)
	}
	if !almostEqual(pr.RiskPct, 6) {
		t.Errorf("Expected risk pct 6, got %v", pr.RiskPct)
	}

	_, err := m.Create(ctx, longOrder())
	if !errors.Is(err, ErrPortfolioRisk) {
		t.Errorf("Expected portfolio risk rejection, got %v", err)
	}
}

func TestMaxOpenPositions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOpenPositions = 2
	m, _ := newTestManager(cfg)
	ctx := context.Background()

	o := longOrder()
	o.RiskFraction = 0.005
	for i := 0; i < 2; i++ {
		if _, err := m.Create(ctx, o); err != nil {
			t.Fatalf("Expected position %d to open, got %v", i+1, err)
		}
	}

	ok, reason := m.CanOpenPosition(testStart)
	if ok {
		t.Error("Expected CanOpenPosition to refuse")
	}
	if reason == "" {
		t.Error("Expected a refusal reason")
	}

	_, err := m.Create(ctx, o)
	if !errors.Is(err, ErrMaxPositions) {
		t.Errorf("Expected max positions rejection, got %v", err)
	}
}

func TestDuplicateSignalRejected(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	ctx := context.Background()

	o := longOrder()
	o.RiskFraction = 0.005
	o.SignalKey = "EURUSD:1709546400000:LONG"

	if _, err := m.Create(ctx, o); err != nil {
		t.Fatalf("Expected first create to succeed, got %v", err)
	}
	_, err := m.Create(ctx, o)
	if !errors.Is(err, ErrSignalAlreadyOpened) {
		t.Errorf("Expected duplicate signal rejection, got %v", err)
	}
}

func TestDailyLossLimitResetsNextDay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyLossPct = 2
	m, _ := newTestManager(cfg)
	ctx := context.Background()

	id, _ := m.Create(ctx, longOrder())
	if _, err := m.Update(ctx, id, 1.0940, testStart.Add(time.Minute)); err != nil {
		t.Fatalf("Expected update to succeed, got %v", err)
	}

	o := longOrder()
	o.Timestamp = testStart.Add(time.Hour)
	if _, err := m.Create(ctx, o); !errors.Is(err, ErrDailyLossLimit) {
		t.Errorf("Expected daily loss rejection, got %v", err)
	}

	o.Timestamp = testStart.Add(24 * time.Hour)
	if _, err := m.Create(ctx, o); err != nil {
		t.Errorf("Expected create on next day to succeed, got %v", err)
	}
}

func TestUpdateErrors(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	ctx := context.Background()

	if _, err := m.Update(ctx, "missing", 1.1, testStart); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	id, _ := m.Create(ctx, longOrder())
	if _, err := m.Update(ctx, id, 0, testStart); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("Expected invalid price, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.Update(cancelled, id, 1.1, testStart); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context cancellation, got %v", err)
	}
}

func TestPositionsFilter(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	ctx := context.Background()

	o := longOrder()
	o.RiskFraction = 0.005
	first, _ := m.Create(ctx, o)
	o.Symbol = "GBPUSD"
	m.Create(ctx, o)

	if got := len(m.Positions("", false)); got != 2 {
		t.Errorf("Expected 2 positions, got %d", got)
	}
	if got := len(m.Positions("GBPUSD", false)); got != 1 {
		t.Errorf("Expected 1 GBPUSD position, got %d", got)
	}

	m.Update(ctx, first, 1.0900, testStart)
	if got := len(m.Positions("", true)); got != 1 {
		t.Errorf("Expected 1 open position, got %d", got)
	}
}

func TestFilledSizeConservedAcrossExits(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	ctx := context.Background()

	id, err := m.Create(ctx, longOrder())
	if err != nil {
		t.Fatalf("Expected position to open, got %v", err)
	}

	booked := 0.0
	for i, price := range []float64{1.1060, 1.1110, 1.0900} {
		exits, err := m.Update(ctx, id, price, testStart.Add(time.Duration(i+1)*time.Minute))
		if err != nil {
			t.Fatalf("Update %d: Expected no error, got %v", i+1, err)
		}
		for _, ev := range exits {
			booked += ev.Size
		}

		snap, _ := m.Status(id)
		if snap.FilledSize != booked {
			t.Errorf("Update %d: Expected filled %v to match booked exits %v", i+1, snap.FilledSize, booked)
		}
		if snap.FilledSize+snap.RemainingSize != snap.Size {
			t.Errorf("Update %d: Expected filled %v + remaining %v = %v", i+1, snap.FilledSize, snap.RemainingSize, snap.Size)
		}
	}

	snap, _ := m.Status(id)
	if snap.Status != StatusStoppedOut || snap.FilledSize != 40000 {
		t.Errorf("Expected STOPPED_OUT with 40000 filled, got %s with %v", snap.Status, snap.FilledSize)
	}
}

func TestRejectedOrderKeepsBalance(t *testing.T) {
	tests := []struct {
		name    string
		cfg     func(c *Config)
		opened  int
		wantErr error
	}{
		{"max positions", func(c *Config) { c.MaxOpenPositions = 1 }, 1, ErrMaxPositions},
		{"portfolio risk", func(c *Config) {}, 3, ErrPortfolioRisk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.cfg(&cfg)
			m, _ := newTestManager(cfg)
			ctx := context.Background()

			for i := 0; i < tt.opened; i++ {
				if _, err := m.Create(ctx, longOrder()); err != nil {
					t.Fatalf("Expected position %d to open, got %v", i+1, err)
				}
			}

			o := longOrder()
			o.AccountBalance = 10500
			if _, err := m.Create(ctx, o); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}

			if pr := m.PortfolioRisk(); pr.Balance != 10000 {
				t.Errorf("Expected balance 10000 after a rejected order, got %v", pr.Balance)
			}
		})
	}
}

func TestPositionLogsCarryPositionContext(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(DefaultConfig(), nil, zerolog.New(&buf))
	m.now = func() time.Time { return testStart }
	ctx := context.Background()

	id, err := m.Create(ctx, longOrder())
	if err != nil {
		t.Fatalf("Expected position to open, got %v", err)
	}
	if _, err := m.Update(ctx, id, 1.1060, testStart.Add(time.Minute)); err != nil {
		t.Fatalf("Expected update to succeed, got %v", err)
	}

	seen := map[string]bool{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]interface{}
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("Expected JSON log line, got %q: %v", line, err)
		}
		msg, _ := entry["message"].(string)
		if msg != "Position opened" && msg != "Exit filled" {
			continue
		}
		seen[msg] = true
		if entry["position_id"] != id || entry["symbol"] != "EURUSD" || entry["direction"] != "bullish" {
			t.Errorf("%s: Expected position context for %s, got %v", msg, id, entry)
		}
	}
	if !seen["Position opened"] || !seen["Exit filled"] {
		t.Errorf("Expected open and exit log lines, got %v", seen)
	}
}
