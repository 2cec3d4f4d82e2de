// Package pattern matches events against learned patterns and derives the
// learning candidates a feedback record contributes to.
package pattern

import (
	"math"

	"github.com/hyperengineering/triage/internal/config"
)

// Scorer computes acceptance rate and confidence from feedback counters.
type Scorer struct {
	AcceptanceWeight  float64
	VolumeWeight      float64
	VolumeCap         int
	InitialConfidence float64
}

// NewScorer builds a scorer from the learning configuration.
func NewScorer(cfg config.LearningConfig) Scorer {
	return Scorer{
		AcceptanceWeight:  cfg.AcceptanceWeight,
		VolumeWeight:      cfg.VolumeWeight,
		VolumeCap:         cfg.VolumeCap,
		InitialConfidence: cfg.InitialConfidence,
	}
}

// DefaultScorer uses the stock weights: 0.7 acceptance, 0.3 volume capped at 20.
func DefaultScorer() Scorer {
	return Scorer{
		AcceptanceWeight:  0.7,
		VolumeWeight:      0.3,
		VolumeCap:         20,
		InitialConfidence: 0.3,
	}
}

// Score returns the acceptance rate (nil without feedback) and the blended
// confidence. Both are clamped to [0, 1].
func (s Scorer) Score(accepted, rejected int) (*float64, float64) {
	total := accepted + rejected
	if total <= 0 {
		return nil, clamp01(s.InitialConfidence)
	}

	rate := clamp01(float64(accepted) / float64(total))

	volume := 1.0
	if s.VolumeCap > 0 {
		volume = math.Min(float64(total)/float64(s.VolumeCap), 1)
	}

	confidence := clamp01(rate*s.AcceptanceWeight + volume*s.VolumeWeight)
	return &rate, confidence
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
