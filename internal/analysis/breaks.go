package analysis

import (
	"math"
	"sort"
	"time"

	"liquidity-trap-engine/internal/market"
)

// BreakOrigin records what level was broken
type BreakOrigin int

const (
	BreakFromStructure BreakOrigin = iota + 1
	BreakFromZone
)

func (o BreakOrigin) String() string {
	if o == BreakFromZone {
		return "zone"
	}
	return "structure"
}

// MarshalText encodes the origin as its name
func (o BreakOrigin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// BreakLabel is the classifier verdict
type BreakLabel int

const (
	LabelUncertain BreakLabel = iota
	LabelLegitimate
	LabelFalse
	LabelSweep
)

func (l BreakLabel) String() string {
	switch l {
	case LabelLegitimate:
		return "legitimate"
	case LabelFalse:
		return "false"
	case LabelSweep:
		return "sweep"
	default:
		return "uncertain"
	}
}

// MarshalText encodes the label as its name
func (l BreakLabel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Break is a price move through a structure or zone level
type Break struct {
	Index      int              `json:"index"`
	Timestamp  time.Time        `json:"timestamp"`
	Level      float64          `json:"level"`
	BreakPrice float64          `json:"break_price"`
	Direction  market.Direction `json:"direction"`
	Origin     BreakOrigin      `json:"origin"`
	EventKind  StructureKind    `json:"event_kind,omitempty"`
	ZoneType   ZoneType         `json:"zone_type,omitempty"`
}

// BreakScores are the components of the composite score
type BreakScores struct {
	Initial  float64 `json:"initial"`
	Volume   float64 `json:"volume"`
	Momentum float64 `json:"momentum"`
	Retest   float64 `json:"retest"`
}

// ClassifiedBreak is a Break with its verdict
type ClassifiedBreak struct {
	Break
	Label      BreakLabel  `json:"label"`
	Score      float64     `json:"score"`
	Strength   float64     `json:"strength"`
	Components BreakScores `json:"components"`
	SweepIndex int         `json:"sweep_index"` // -1 when no sweep matched
}

// BreakClassifier scores breaks as legitimate, false, sweep or uncertain.
// It holds configuration only, so repeated calls on identical input agree.
type BreakClassifier struct {
	cfg    Config
	volume *VolumeAnalyzer
}

// NewBreakClassifier creates a new break classifier
func NewBreakClassifier(cfg Config) *BreakClassifier {
	return &BreakClassifier{
		cfg:    cfg,
		volume: NewVolumeAnalyzer(cfg.VolumePeriod, cfg.ATRPeriod),
	}
}

// Breaks collects structure-event breaks and zone-level crossings in bar order
func (bc *BreakClassifier) Breaks(candles []market.Candle, events []StructureEvent, zones []LiquidityZone) []Break {
	var breaks []Break

	for _, ev := range events {
		if ev.Index < 0 || ev.Index >= len(candles) {
			continue
		}
		price := candles[ev.Index].High
		if ev.Direction == market.Bearish {
			price = candles[ev.Index].Low
		}
		breaks = append(breaks, Break{
			Index:      ev.Index,
			Timestamp:  ev.Timestamp,
			Level:      ev.Level,
			BreakPrice: price,
			Direction:  ev.Direction,
			Origin:     BreakFromStructure,
			EventKind:  ev.Kind,
		})
	}

	for _, z := range zones {
		for i := z.CreatedIndex + 1; i < len(candles); i++ {
			prev, cur := candles[i-1], candles[i]
			if zoneSide(z, prev.Close) == SideAbove {
				if prev.High <= z.Price && cur.High > z.Price {
					breaks = append(breaks, Break{Index: i, Timestamp: cur.Timestamp, Level: z.Price, BreakPrice: cur.High,
						Direction: market.Bullish, Origin: BreakFromZone, ZoneType: z.Type})
				}
			} else if prev.Low >= z.Price && cur.Low < z.Price {
				breaks = append(breaks, Break{Index: i, Timestamp: cur.Timestamp, Level: z.Price, BreakPrice: cur.Low,
					Direction: market.Bearish, Origin: BreakFromZone, ZoneType: z.Type})
			}
		}
	}

	sort.SliceStable(breaks, func(i, j int) bool {
		return breaks[i].Index < breaks[j].Index
	})
	return breaks
}

// Classify scores one break. Missing volume or post-break data fall back to
// the neutral score; a sweep at the same level overrides the composite.
func (bc *BreakClassifier) Classify(candles []market.Candle, brk Break, sweeps []Sweep) ClassifiedBreak {
	return bc.classify(candles, bc.volume.TrailingAverages(candles), brk, sweeps)
}

// ClassifyAll scores every break against the same baseline
func (bc *BreakClassifier) ClassifyAll(candles []market.Candle, breaks []Break, sweeps []Sweep) []ClassifiedBreak {
	if len(breaks) == 0 {
		return nil
	}
	averages := bc.volume.TrailingAverages(candles)
	out := make([]ClassifiedBreak, 0, len(breaks))
	for _, b := range breaks {
		out = append(out, bc.classify(candles, averages, b, sweeps))
	}
	return out
}

func (bc *BreakClassifier) classify(candles []market.Candle, averages []float64, brk Break, sweeps []Sweep) ClassifiedBreak {
	out := ClassifiedBreak{Break: brk, SweepIndex: -1, Strength: bc.cfg.NeutralScore, Score: bc.cfg.NeutralScore}
	if brk.Index < 0 || brk.Index >= len(candles) || brk.Level <= 0 {
		return out
	}

	// 1. Raw break size and close confirmation
	initial := 0.0
	size := abs(brk.BreakPrice-brk.Level) / brk.Level
	if size > 2*bc.cfg.FalseBreakThreshold && closedBeyond(candles[brk.Index].Close, brk.Level, brk.Direction) {
		initial = 1
	}

	// 2. Break-bar volume against its trailing baseline
	volume := bc.cfg.NeutralScore
	if ratio, ok := bc.volume.Ratio(candles, averages, brk.Index); ok {
		volume = math.Min(ratio/1.5, 1)
	}

	// 3. Follow-through and retest inside the confirmation window
	end := brk.Index + bc.cfg.MomentumPeriod
	if end > len(candles)-1 {
		end = len(candles) - 1
	}
	momentum := bc.cfg.NeutralScore
	start := candles[brk.Index].Close
	if end > brk.Index && start > 0 {
		drift := (candles[end].Close - start) / start * brk.Direction.Sign()
		momentum = clamp(drift*bc.cfg.MomentumScale, 0, 1)
	}

	retest := bc.cfg.NoRetestBonus
	for k := brk.Index + 1; k <= end; k++ {
		c := candles[k]
		if c.Low <= brk.Level && c.High >= brk.Level {
			if closedBeyond(c.Close, brk.Level, brk.Direction) {
				retest = bc.cfg.RetestHeldBonus
			} else {
				retest = bc.cfg.RetestFailedPenalty
			}
			break
		}
	}

	out.Components = BreakScores{Initial: initial, Volume: volume, Momentum: momentum, Retest: retest}
	out.Score = bc.cfg.InitialWeight*initial + bc.cfg.VolumeWeight*volume + bc.cfg.MomentumWeight*momentum + retest

	// 4. Verdict
	if si := bc.matchSweep(brk, sweeps); si >= 0 {
		out.Label = LabelSweep
		out.Strength = bc.cfg.SweepStrength
		out.SweepIndex = si
		return out
	}

	switch {
	case out.Score >= bc.cfg.LegitimateThreshold:
		out.Label = LabelLegitimate
		out.Strength = math.Min(out.Score, 1)
	case out.Score <= bc.cfg.FalseThreshold:
		out.Label = LabelFalse
		out.Strength = clamp(1-out.Score, 0, 1)
	default:
		out.Label = LabelUncertain
		out.Strength = bc.cfg.NeutralScore
	}
	return out
}

// matchSweep finds a sweep on the same side of the same level whose breach
// lies within the lookahead of the break
func (bc *BreakClassifier) matchSweep(brk Break, sweeps []Sweep) int {
	tolerance := brk.Level * bc.cfg.zoneBuffer()
	window := bc.cfg.SweepLookahead

	for i, sw := range sweeps {
		if sw.Side.BreachDirection() != brk.Direction {
			continue
		}
		if abs(sw.Level-brk.Level) > tolerance {
			continue
		}
		if sw.BreachIndex < brk.Index-window || sw.BreachIndex > brk.Index+window {
			continue
		}
		return i
	}
	return -1
}
