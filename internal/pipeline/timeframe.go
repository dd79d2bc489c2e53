package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"liquidity-trap-engine/internal/analysis"
	"liquidity-trap-engine/internal/market"
)

// ErrMissingTimeframe is returned when the base frame has no candles
var ErrMissingTimeframe = errors.New("base timeframe missing")

// MultiTimeframeResult holds one Result per timeframe
type MultiTimeframeResult struct {
	Base      market.Timeframe                    `json:"base"`
	Results   map[market.Timeframe]Result         `json:"results"`
	Trends    map[market.Timeframe]analysis.Trend `json:"trends"`
	Alignment float64                             `json:"alignment"` // share of higher frames agreeing with the base trend
}

// BaseResult returns the result for the base timeframe
func (m *MultiTimeframeResult) BaseResult() Result {
	return m.Results[m.Base]
}

// AnalyzeTimeframes analyzes the higher frames in parallel, then the base
// frame with their trends as alignment context
func (a *Analyzer) AnalyzeTimeframes(ctx context.Context, frames map[market.Timeframe][]market.Candle, base market.Timeframe) (*MultiTimeframeResult, error) {
	baseCandles, ok := frames[base]
	if !ok || len(baseCandles) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingTimeframe, base)
	}

	result := &MultiTimeframeResult{
		Base:    base,
		Results: make(map[market.Timeframe]Result, len(frames)),
		Trends:  make(map[market.Timeframe]analysis.Trend, len(frames)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	// Analyze all higher timeframes in parallel
	for tf, candles := range frames {
		if tf == base || !tf.HigherThan(base) {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := a.Analyze(candles, nil)

			mu.Lock()
			result.Results[tf] = res
			result.Trends[tf] = res.Structure.Trend
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("higher timeframe analysis: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	higher := make(map[market.Timeframe]analysis.Trend, len(result.Trends))
	for tf, tr := range result.Trends {
		higher[tf] = tr
	}

	baseResult := a.Analyze(baseCandles, higher)
	result.Results[base] = baseResult
	result.Trends[base] = baseResult.Structure.Trend
	result.Alignment = alignment(baseResult.Structure.Trend, higher)

	return result, nil
}

// alignment is the share of higher frames whose trend matches base; 0.5 when
// there is nothing to compare
func alignment(base analysis.Trend, higher map[market.Timeframe]analysis.Trend) float64 {
	if len(higher) == 0 || base == analysis.TrendRanging {
		return 0.5
	}
	agree := 0
	for _, tr := range higher {
		if tr == base {
			agree++
		}
	}
	return float64(agree) / float64(len(higher))
}

// SortedTimeframes returns the frames shortest first
func SortedTimeframes(frames map[market.Timeframe][]market.Candle) []market.Timeframe {
	out := make([]market.Timeframe, 0, len(frames))
	for tf := range frames {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Rank() < out[j].Rank()
	})
	return out
}
