package confluence

import (
	"fmt"
	"math"
)

// Confluence is the blended confidence of an entry candidate
type Confluence struct {
	// Individual scores (0.0 to 1.0)
	BreakStrength  float64 `json:"break_strength"`
	ZoneQuality    float64 `json:"zone_quality"`
	VolumeScore    float64 `json:"volume_score"`
	TrendAlignment float64 `json:"trend_alignment"`

	// Composite score
	TotalScore float64  `json:"total_score"`
	Grade      string   `json:"grade"` // "A+", "A", "B", "C", "D", "F"
	Reasoning  []string `json:"reasoning"`
}

// Scorer blends entry evidence into a single confidence
type Scorer struct {
	// Weights for different factors (should sum to 1.0)
	breakWeight  float64
	zoneWeight   float64
	volumeWeight float64
	trendWeight  float64
}

// NewScorer creates a scorer with the default 30/25/20/25 weights
func NewScorer() *Scorer {
	return &Scorer{
		breakWeight:  0.30,
		zoneWeight:   0.25,
		volumeWeight: 0.20,
		trendWeight:  0.25,
	}
}

// Score combines break strength, zone quality, volume ratio and trend
// alignment. volumeRatio is capped at 2 before scaling into [0,1].
func (s *Scorer) Score(breakStrength, zoneQuality, volumeRatio, trendAlignment float64) *Confluence {
	c := &Confluence{
		BreakStrength:  unit(breakStrength),
		ZoneQuality:    unit(zoneQuality),
		VolumeScore:    unit(math.Min(volumeRatio, 2) / 2),
		TrendAlignment: unit(trendAlignment),
		Reasoning:      make([]string, 0, 4),
	}

	if c.BreakStrength >= 0.7 {
		c.Reasoning = append(c.Reasoning, "Strong structure break")
	}
	if c.ZoneQuality >= 0.8 {
		c.Reasoning = append(c.Reasoning, "Clean entry zone")
	}
	if volumeRatio >= 1.5 {
		c.Reasoning = append(c.Reasoning, fmt.Sprintf("High volume confirmation (%.1fx average)", volumeRatio))
	}
	if c.TrendAlignment > 0.6 {
		c.Reasoning = append(c.Reasoning, "Closes aligned with direction")
	}

	c.TotalScore = unit(
		c.BreakStrength*s.breakWeight +
			c.ZoneQuality*s.zoneWeight +
			c.VolumeScore*s.volumeWeight +
			c.TrendAlignment*s.trendWeight)

	c.Grade = scoreToGrade(c.TotalScore)
	return c
}

// SetWeights allows custom weight configuration
func (s *Scorer) SetWeights(breakW, zone, volume, trend float64) error {
	// Validate weights sum to 1.0
	total := breakW + zone + volume + trend
	if total < 0.99 || total > 1.01 {
		return fmt.Errorf("weights must sum to 1.0, got %.2f", total)
	}

	s.breakWeight = breakW
	s.zoneWeight = zone
	s.volumeWeight = volume
	s.trendWeight = trend
	return nil
}

// scoreToGrade converts numerical score to letter grade
func scoreToGrade(score float64) string {
	switch {
	case score >= 0.90:
		return "A+"
	case score >= 0.85:
		return "A"
	case score >= 0.75:
		return "B+"
	case score >= 0.70:
		return "B"
	case score >= 0.60:
		return "C"
	case score >= 0.50:
		return "D"
	}
	return "F"
}

// unit clamps v into [0,1]; NaN becomes 0
func unit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
