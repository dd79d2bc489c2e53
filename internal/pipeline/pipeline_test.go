package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"liquidity-trap-engine/internal/entry"
	"liquidity-trap-engine/internal/market"
)

// zigzag climbs for 7 bars and eases back for 7, with step scaled per frame.
// Wicks are measured from the close and cover the largest step, so the turning
// bars hold a strict extreme.
func zigzag(n int, interval time.Duration, scale float64) []market.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	price := 1.1000
	for i := range out {
		step := 0.0004 * scale
		if (i/7)%2 == 1 {
			step = -0.0003 * scale
		}
		open := price
		price += step
		out[i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * interval),
			Open:      open,
			High:      price + 0.0002 + 0.0004*scale,
			Low:       price - 0.0002 - 0.0004*scale,
			Close:     price,
			Volume:    1000 + float64(i%5)*100,
		}
	}
	return out
}

func TestAnalyzeProducesFiniteResult(t *testing.T) {
	res := Analyze(zigzag(300, 15*time.Minute, 1), DefaultConfig())

	if res.Candles != 300 {
		t.Errorf("Expected 300 candles analyzed, got %d", res.Candles)
	}
	if len(res.Swings) == 0 {
		t.Error("Expected swings on a zigzag series")
	}
	if len(res.Zones) == 0 {
		t.Error("Expected liquidity zones")
	}
	if res.Decision.Valid() != (len(res.Entries) == 1) {
		t.Errorf("Expected entries to mirror the decision, got %s with %d entries", res.Decision.Reason, len(res.Entries))
	}

	if _, err := json.Marshal(res); err != nil {
		t.Errorf("Expected result to encode, got %v", err)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	candles := zigzag(250, 15*time.Minute, 1)
	a := NewAnalyzer(DefaultConfig(), zerolog.Nop())

	first := a.Analyze(candles, nil)
	second := a.Analyze(candles, nil)

	if !reflect.DeepEqual(first, second) {
		t.Error("Expected identical results for identical input")
	}
}

func TestAnalyzeSkipsInvalidCandles(t *testing.T) {
	candles := zigzag(100, 15*time.Minute, 1)
	candles[10].Low = candles[10].High + 1
	candles[20].Volume = -5

	res := Analyze(candles, DefaultConfig())

	if res.RejectedCount() != 2 {
		t.Errorf("Expected 2 rejected candles, got %d", res.RejectedCount())
	}
	if res.Candles != 98 {
		t.Errorf("Expected 98 candles analyzed, got %d", res.Candles)
	}
}

func TestAnalyzeEmptyInput(t *testing.T) {
	res := Analyze(nil, DefaultConfig())

	if res.Decision.Reason != entry.InsufficientData {
		t.Errorf("Expected INSUFFICIENT_DATA, got %s", res.Decision.Reason)
	}
	if len(res.Swings) != 0 || len(res.Zones) != 0 {
		t.Errorf("Expected empty result, got %+v", res)
	}
}

func TestAnalyzeTimeframes(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), zerolog.Nop())
	frames := map[market.Timeframe][]market.Candle{
		market.TF5m:  zigzag(300, 5*time.Minute, 0.5),
		market.TF15m: zigzag(300, 15*time.Minute, 1),
		market.TF1h:  zigzag(150, time.Hour, 2),
	}

	mtf, err := a.AnalyzeTimeframes(context.Background(), frames, market.TF15m)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, ok := mtf.Results[market.TF5m]; ok {
		t.Error("Expected lower timeframes to be skipped")
	}
	if _, ok := mtf.Results[market.TF1h]; !ok {
		t.Error("Expected the 1h frame to be analyzed")
	}
	if mtf.BaseResult().Candles != 300 {
		t.Errorf("Expected base result over 300 candles, got %d", mtf.BaseResult().Candles)
	}
	if _, ok := mtf.Trends[market.TF1h]; !ok {
		t.Error("Expected a 1h trend")
	}
	if mtf.Alignment < 0 || mtf.Alignment > 1 {
		t.Errorf("Expected alignment in [0,1], got %f", mtf.Alignment)
	}
}

func TestAnalyzeTimeframesMissingBase(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), zerolog.Nop())
	frames := map[market.Timeframe][]market.Candle{market.TF1h: zigzag(50, time.Hour, 1)}

	_, err := a.AnalyzeTimeframes(context.Background(), frames, market.TF15m)

	if !errors.Is(err, ErrMissingTimeframe) {
		t.Errorf("Expected ErrMissingTimeframe, got %v", err)
	}
}

func TestAnalyzeTimeframesCancelled(t *testing.T) {
	a := NewAnalyzer(DefaultConfig(), zerolog.Nop())
	frames := map[market.Timeframe][]market.Candle{
		market.TF15m: zigzag(100, 15*time.Minute, 1),
		market.TF1h:  zigzag(100, time.Hour, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.AnalyzeTimeframes(ctx, frames, market.TF15m); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestSortedTimeframes(t *testing.T) {
	frames := map[market.Timeframe][]market.Candle{
		market.TF1d:  nil,
		market.TF1m:  nil,
		market.TF1h:  nil,
		market.TF15m: nil,
	}

	got := SortedTimeframes(frames)
	want := []market.Timeframe{market.TF1m, market.TF15m, market.TF1h, market.TF1d}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
