package triage

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// LevelSpan is the score width reserved for each ESI level. Level n owns
// scores in (n*LevelSpan - LevelSpan, n*LevelSpan].
const LevelSpan = 1000.0

// Weights tunes the intra-level adjustment. Lower scores are served first.
type Weights struct {
	// OxygenPerPoint is subtracted per SpO2 point below OxygenBaseline.
	OxygenPerPoint float64
	OxygenBaseline float64
	OxygenCap      float64

	PainPerPoint float64

	// AbnormalPerVital is subtracted per vital outside the mild band.
	AbnormalPerVital float64

	// AgingPerMinute is subtracted per minute waited, up to AgingCap.
	AgingPerMinute float64
	AgingCap       float64
}

// DefaultWeights returns weights whose worst case adjustment is 970, inside one LevelSpan.
func DefaultWeights() Weights {
	return Weights{
		OxygenPerPoint:   10,
		OxygenBaseline:   95,
		OxygenCap:        250,
		PainPerPoint:     15,
		AbnormalPerVital: 20,
		AgingPerMinute:   1,
		AgingCap:         450,
	}
}

// MaxAdjustment is the largest amount a score can be lowered below its level base.
func (w Weights) MaxAdjustment() float64 {
	return w.OxygenCap + 10*w.PainPerPoint + 6*w.AbnormalPerVital + w.AgingCap
}

// Validate rejects weights that could let a patient cross an ESI boundary.
func (w Weights) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"oxygen_per_point", w.OxygenPerPoint},
		{"oxygen_cap", w.OxygenCap},
		{"pain_per_point", w.PainPerPoint},
		{"abnormal_per_vital", w.AbnormalPerVital},
		{"aging_cap", w.AgingCap},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", f.name))
		}
	}
	if w.AgingPerMinute <= 0 {
		errs = append(errs, errors.New("aging_per_minute must be positive"))
	}
	if m := w.MaxAdjustment(); m >= LevelSpan {
		errs = append(errs, fmt.Errorf("max adjustment %.1f must stay below level span %.0f", m, LevelSpan))
	}
	return errors.Join(errs...)
}

// Scorer computes priority scores. It is pure and safe for concurrent use.
type Scorer struct {
	w  Weights
	th Thresholds
}

// NewScorer returns a Scorer. The thresholds' mild bands decide which vitals
// count as abnormal for the severity term.
func NewScorer(w Weights, th Thresholds) *Scorer {
	return &Scorer{w: w, th: th}
}

// Score returns level*LevelSpan minus severity and aging adjustments.
// Holding severity fixed it strictly decreases with wait time until AgingCap.
func (s *Scorer) Score(a *Assessment, level Level, enqueuedAt, now time.Time) float64 {
	return float64(level)*LevelSpan - s.Severity(a) - s.Aging(enqueuedAt, now)
}

// Severity is the physiologic part of the adjustment.
func (s *Scorer) Severity(a *Assessment) float64 {
	var sev float64

	if v := a.Vitals.OxygenSat; v != nil {
		deficit := s.w.OxygenBaseline - float64(*v)
		if deficit > 0 {
			sev += math.Min(deficit*s.w.OxygenPerPoint, s.w.OxygenCap)
		}
	}
	if a.Pain != nil {
		sev += float64(*a.Pain) * s.w.PainPerPoint
	}
	sev += float64(len(abnormalVitals(&a.Vitals, s.th.Mild))) * s.w.AbnormalPerVital

	return sev
}

// Aging is the wait-time part of the adjustment.
func (s *Scorer) Aging(enqueuedAt, now time.Time) float64 {
	minutes := now.Sub(enqueuedAt).Minutes()
	if minutes <= 0 {
		return 0
	}
	return math.Min(minutes*s.w.AgingPerMinute, s.w.AgingCap)
}

// LevelOf recovers the ESI level a score belongs to.
func LevelOf(score float64) Level {
	return Level(math.Ceil(score / LevelSpan))
}
