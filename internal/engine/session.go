package engine

import (
	"sync"
	"time"

	"liquidity-trap-engine/internal/market"
	"liquidity-trap-engine/internal/pipeline"
)

// Session is the per-symbol state. Its mutex makes it the single writer of
// the symbol's candle history and last result.
type Session struct {
	Symbol string

	mu        sync.Mutex
	frames    map[market.Timeframe][]market.Candle
	last      *pipeline.MultiTimeframeResult
	seenTraps map[string]struct{}
	updatedAt time.Time
}

func newSession(symbol string) *Session {
	return &Session{
		Symbol:    symbol,
		frames:    make(map[market.Timeframe][]market.Candle),
		seenTraps: make(map[string]struct{}),
	}
}

// merge appends candles to a frame. A candle with the same timestamp as the
// last stored bar replaces it; older candles are ignored. The history is
// trimmed to maxCandles.
func (s *Session) merge(tf market.Timeframe, candles []market.Candle, maxCandles int) int {
	history := s.frames[tf]
	added := 0
	for _, c := range candles {
		n := len(history)
		switch {
		case n == 0 || c.Timestamp.After(history[n-1].Timestamp):
			history = append(history, c)
			added++
		case c.Timestamp.Equal(history[n-1].Timestamp):
			history[n-1] = c
		}
	}
	if maxCandles > 0 && len(history) > maxCandles {
		history = append([]market.Candle(nil), history[len(history)-maxCandles:]...)
	}
	s.frames[tf] = history
	return added
}

// snapshot copies the frame map so analysis can run on a stable view
func (s *Session) snapshot() map[market.Timeframe][]market.Candle {
	out := make(map[market.Timeframe][]market.Candle, len(s.frames))
	for tf, candles := range s.frames {
		out[tf] = append([]market.Candle(nil), candles...)
	}
	return out
}

// markTrap records a trap key and reports whether it was new
func (s *Session) markTrap(key string) bool {
	if _, ok := s.seenTraps[key]; ok {
		return false
	}
	s.seenTraps[key] = struct{}{}
	return true
}

// SessionInfo is the read-only summary of a session
type SessionInfo struct {
	Symbol    string                   `json:"symbol"`
	Frames    map[market.Timeframe]int `json:"frames"`
	UpdatedAt time.Time                `json:"updated_at"`
	HasResult bool                     `json:"has_result"`
}

// Info summarizes the session
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := make(map[market.Timeframe]int, len(s.frames))
	for tf, c := range s.frames {
		frames[tf] = len(c)
	}
	return SessionInfo{Symbol: s.Symbol, Frames: frames, UpdatedAt: s.updatedAt, HasResult: s.last != nil}
}

// Last returns the most recent analysis
func (s *Session) Last() (*pipeline.MultiTimeframeResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last != nil
}
