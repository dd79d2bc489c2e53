package market

import (
	"encoding/json"
	"fmt"
)

// Direction is the side of a move or trade
type Direction int

const (
	Neutral Direction = iota
	Bullish
	Bearish
)

// String returns the wire name of the direction
func (d Direction) String() string {
	switch d {
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "neutral"
	}
}

// Opposite returns the reverse direction; Neutral stays Neutral
func (d Direction) Opposite() Direction {
	switch d {
	case Bullish:
		return Bearish
	case Bearish:
		return Bullish
	default:
		return Neutral
	}
}

// Sign is +1 for bullish, -1 for bearish and 0 otherwise
func (d Direction) Sign() float64 {
	switch d {
	case Bullish:
		return 1
	case Bearish:
		return -1
	default:
		return 0
	}
}

// MarshalJSON encodes the direction as its name
func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "bullish"/"long" and "bearish"/"short"
func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection maps a name to a Direction
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "bullish", "long", "buy", "LONG", "BUY":
		return Bullish, nil
	case "bearish", "short", "sell", "SHORT", "SELL":
		return Bearish, nil
	case "neutral", "":
		return Neutral, nil
	}
	return Neutral, fmt.Errorf("unknown direction %q", s)
}

// Timeframe represents a chart interval
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// Rank orders timeframes from shortest to longest; unknown frames rank 0
func (tf Timeframe) Rank() int {
	switch tf {
	case TF1m:
		return 1
	case TF5m:
		return 2
	case TF15m:
		return 3
	case TF1h:
		return 4
	case TF4h:
		return 5
	case TF1d:
		return 6
	default:
		return 0
	}
}

// HigherThan reports whether tf is a longer interval than other
func (tf Timeframe) HigherThan(other Timeframe) bool {
	return tf.Rank() > other.Rank()
}
