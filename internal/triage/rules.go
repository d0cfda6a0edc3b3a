package triage

import (
	"context"
	"fmt"
	"strings"
)

// Reason codes emitted by the rule ladder.
const (
	ReasonUnresponsive        = "unresponsive"
	ReasonLowOxygen           = "low_oxygen_saturation"
	ReasonTraumaticShock      = "bleeding_trauma_hypotension"
	ReasonBreathingDifficulty = "breathing_difficulty"
	ReasonHypotension         = "systolic_below_90"
	ReasonSeverePain          = "pain_scale_ge_8"
	ReasonHeartRateExtreme    = "heart_rate_extreme"
	ReasonModeratePain        = "pain_scale_ge_5"
	ReasonAltered             = "altered_consciousness"
	ReasonMildPain            = "pain_scale_ge_3"
	ReasonNoIndicators        = "no_acuity_indicators"
	ReasonOneResource         = "requires_1_resource"

	moderatePrefix = "moderately_abnormal_"
	mildPrefix     = "mildly_abnormal_"
)

// RuleClassifier is the deterministic escalation ladder. It needs no I/O and
// is always available, so it doubles as the fallback for learned classifiers.
type RuleClassifier struct {
	th Thresholds
}

// NewRuleClassifier returns a rule classifier using th.
func NewRuleClassifier(th Thresholds) *RuleClassifier {
	return &RuleClassifier{th: th}
}

// Classify implements Classifier. It never fails and leaves Confidence nil.
func (c *RuleClassifier) Classify(_ context.Context, a *Assessment) Decision {
	level, reasons := c.Evaluate(a)
	return Decision{
		Level:   level,
		Reasons: reasons,
		Source:  SourceRules,
	}
}

// Evaluate walks the ladder top-down. The first level with any matching
// condition wins and every condition matched at that level is returned in
// evaluation order.
func (c *RuleClassifier) Evaluate(a *Assessment) (Level, []string) {
	if r := c.resuscitation(a); len(r) > 0 {
		return LevelResuscitation, r
	}
	if r := c.emergent(a); len(r) > 0 {
		return LevelEmergent, r
	}
	if r := c.urgent(a); len(r) > 0 {
		return LevelUrgent, r
	}
	if r := c.lessUrgent(a); len(r) > 0 {
		return LevelLessUrgent, r
	}
	return LevelNonUrgent, []string{ReasonNoIndicators}
}

func (c *RuleClassifier) resuscitation(a *Assessment) []string {
	var r []string
	if a.Consciousness == ConsciousnessUnresponsive {
		r = append(r, ReasonUnresponsive)
	}
	if v := a.Vitals.OxygenSat; v != nil && float64(*v) < c.th.OxygenCritical {
		r = append(r, ReasonLowOxygen)
	}
	if a.Bleeding && a.Trauma && a.Vitals.Systolic != nil && float64(*a.Vitals.Systolic) < c.th.SystolicShock {
		r = append(r, ReasonTraumaticShock)
	}
	return r
}

func (c *RuleClassifier) emergent(a *Assessment) []string {
	var r []string
	if a.BreathingDiff {
		r = append(r, ReasonBreathingDifficulty)
	}
	if v := a.Vitals.Systolic; v != nil && float64(*v) < c.th.SystolicShock {
		r = append(r, ReasonHypotension)
	}
	if a.Pain != nil && *a.Pain >= c.th.PainSevere {
		r = append(r, ReasonSeverePain)
	}
	if v := a.Vitals.HeartRate; v != nil && (float64(*v) > c.th.HeartRateHigh || float64(*v) < c.th.HeartRateLow) {
		r = append(r, ReasonHeartRateExtreme)
	}
	return r
}

func (c *RuleClassifier) urgent(a *Assessment) []string {
	var r []string
	if a.Pain != nil && *a.Pain >= c.th.PainModerate {
		r = append(r, ReasonModeratePain)
	}
	if c.th.AlteredModerate && (a.Consciousness == ConsciousnessVoice || a.Consciousness == ConsciousnessPain) {
		r = append(r, ReasonAltered)
	}
	for _, name := range abnormalVitals(&a.Vitals, c.th.Moderate) {
		r = append(r, moderatePrefix+name)
	}
	if n := c.resources(a); n >= 2 {
		r = append(r, fmt.Sprintf("requires_%d_resources", n))
	}
	return r
}

func (c *RuleClassifier) lessUrgent(a *Assessment) []string {
	var r []string
	if a.Pain != nil && *a.Pain >= c.th.PainMild {
		r = append(r, ReasonMildPain)
	}
	for _, name := range abnormalVitals(&a.Vitals, c.th.Mild) {
		r = append(r, mildPrefix+name)
	}
	if c.resources(a) == 1 {
		r = append(r, ReasonOneResource)
	}
	return r
}

// resources estimates how many care resources a patient needs; 0 when the
// estimate is disabled.
func (c *RuleClassifier) resources(a *Assessment) int {
	rr := &c.th.Resources
	if !rr.Enabled {
		return 0
	}
	complaint := strings.ToLower(a.ChiefComplaint)
	n := 0
	for _, words := range [][]string{rr.Labs, rr.Imaging, rr.Procedures} {
		if containsAny(complaint, words) {
			n++
		}
	}
	if a.Pain != nil && *a.Pain >= rr.MedicationPain {
		n++
	}
	return min(n, 3)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// abnormalVitals lists, in fixed order, the known vitals outside their band.
func abnormalVitals(v *Vitals, b VitalBands) []string {
	var out []string
	check := func(name string, val *float64, band Band) {
		if val != nil && band.Outside(*val) {
			out = append(out, name)
		}
	}
	check("bp_systolic", intf(v.Systolic), b.Systolic)
	check("bp_diastolic", intf(v.Diastolic), b.Diastolic)
	check("heart_rate", intf(v.HeartRate), b.HeartRate)
	check("temperature", v.Temperature, b.Temperature)
	check("o2_saturation", intf(v.OxygenSat), b.OxygenSat)
	check("respiratory_rate", intf(v.RespiratoryRate), b.RespiratoryRate)
	return out
}

func intf(p *int) *float64 {
	if p == nil {
		return nil
	}
	f := float64(*p)
	return &f
}
