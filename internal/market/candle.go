package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Invalid candle errors
var (
	ErrNonFinite        = errors.New("candle has non-finite field")
	ErrNonPositive      = errors.New("candle price must be positive")
	ErrNegativeVolume   = errors.New("candle volume is negative")
	ErrInvertedRange    = errors.New("candle low above high")
	ErrBodyOutOfRange   = errors.New("candle open/close outside high-low range")
	ErrNonMonotonicTime = errors.New("candle timestamp does not increase")
)

// Candle is one OHLCV bar
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate checks the ordering low <= min(open,close) <= max(open,close) <= high
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFinite
		}
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return ErrNonPositive
	}
	if c.Volume < 0 {
		return ErrNegativeVolume
	}
	if c.Low > c.High {
		return ErrInvertedRange
	}
	if math.Min(c.Open, c.Close) < c.Low || math.Max(c.Open, c.Close) > c.High {
		return ErrBodyOutOfRange
	}
	return nil
}

// Midpoint returns (high+low)/2
func (c Candle) Midpoint() float64 {
	return (c.High + c.Low) / 2
}

// Range returns high-low
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// IsBullish reports whether the bar closed above its open
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// Rejection describes a bar dropped by Sanitize
type Rejection struct {
	Index int
	Err   error
}

func (r Rejection) Error() string {
	return fmt.Sprintf("candle %d: %v", r.Index, r.Err)
}

// Sanitize returns the bars that pass Validate and strictly advance in time.
// Rejected bars are reported but never propagated downstream.
func Sanitize(candles []Candle) ([]Candle, []Rejection) {
	if len(candles) == 0 {
		return nil, nil
	}

	valid := make([]Candle, 0, len(candles))
	var rejected []Rejection
	var last time.Time

	for i, c := range candles {
		if err := c.Validate(); err != nil {
			rejected = append(rejected, Rejection{Index: i, Err: err})
			continue
		}
		if len(valid) > 0 && !c.Timestamp.After(last) {
			rejected = append(rejected, Rejection{Index: i, Err: ErrNonMonotonicTime})
			continue
		}
		valid = append(valid, c)
		last = c.Timestamp
	}

	return valid, rejected
}
