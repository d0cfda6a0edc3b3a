package triage

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Band is a normal range; values strictly below Low or above High are abnormal.
type Band struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// Outside reports whether v falls outside the band.
func (b Band) Outside(v float64) bool { return v < b.Low || v > b.High }

// VitalBands holds one band per vital sign.
type VitalBands struct {
	Systolic        Band `yaml:"bp_systolic"`
	Diastolic       Band `yaml:"bp_diastolic"`
	HeartRate       Band `yaml:"heart_rate"`
	Temperature     Band `yaml:"temperature"`
	OxygenSat       Band `yaml:"o2_saturation"`
	RespiratoryRate Band `yaml:"respiratory_rate"`
}

// Thresholds parameterizes the rule ladder. The ESI 1/2 cut-offs are fixed by
// triage protocol; the moderate (ESI 3) and mild (ESI 4) bands are local policy.
type Thresholds struct {
	OxygenCritical  float64    `yaml:"o2_critical"`
	SystolicShock   float64    `yaml:"systolic_shock"`
	HeartRateHigh   float64    `yaml:"heart_rate_high"`
	HeartRateLow    float64    `yaml:"heart_rate_low"`
	PainSevere      int        `yaml:"pain_severe"`
	PainModerate    int        `yaml:"pain_moderate"`
	PainMild        int        `yaml:"pain_mild"`
	Moderate        VitalBands `yaml:"moderate"`
	Mild            VitalBands `yaml:"mild"`
	AlteredModerate bool       `yaml:"altered_consciousness_moderate"`
	// Resources counts the care resources a complaint is likely to need and
	// places ESI 3 (two or more) and ESI 4 (one). Off by default.
	Resources ResourceRules `yaml:"resources"`
}

// ResourceRules estimates resource needs from chief-complaint keywords and
// pain. Each matched category counts once; the count is capped at three.
type ResourceRules struct {
	Enabled    bool     `yaml:"enabled"`
	Labs       []string `yaml:"labs"`
	Imaging    []string `yaml:"imaging"`
	Procedures []string `yaml:"procedures"`
	// MedicationPain is the pain score at which IV fluids or medication count.
	MedicationPain int `yaml:"medication_pain"`
}

// DefaultThresholds returns the department defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OxygenCritical: 90,
		SystolicShock:  90,
		HeartRateHigh:  150,
		HeartRateLow:   40,
		PainSevere:     8,
		PainModerate:   5,
		PainMild:       3,
		Moderate: VitalBands{
			Systolic:        Band{Low: 100, High: 180},
			Diastolic:       Band{Low: 50, High: 110},
			HeartRate:       Band{Low: 50, High: 120},
			Temperature:     Band{Low: 35.0, High: 39.0},
			OxygenSat:       Band{Low: 92, High: 100},
			RespiratoryRate: Band{Low: 10, High: 28},
		},
		Mild: VitalBands{
			Systolic:        Band{Low: 110, High: 160},
			Diastolic:       Band{Low: 60, High: 95},
			HeartRate:       Band{Low: 60, High: 100},
			Temperature:     Band{Low: 36.0, High: 38.0},
			OxygenSat:       Band{Low: 95, High: 100},
			RespiratoryRate: Band{Low: 12, High: 20},
		},
		AlteredModerate: true,
		Resources: ResourceRules{
			Labs:           []string{"fever", "infection", "diabetes", "kidney"},
			Imaging:        []string{"fracture", "trauma", "fall", "head injury"},
			Procedures:     []string{"laceration", "wound", "suture"},
			MedicationPain: 4,
		},
	}
}

// LoadThresholds reads YAML overrides on top of DefaultThresholds.
// Unknown keys are rejected so a typo cannot silently keep a default.
func LoadThresholds(r io.Reader) (Thresholds, error) {
	th := DefaultThresholds()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&th); err != nil && !errors.Is(err, io.EOF) {
		return Thresholds{}, fmt.Errorf("decode thresholds: %w", err)
	}
	if err := th.Validate(); err != nil {
		return Thresholds{}, err
	}
	return th, nil
}

// Validate checks that bands are well formed and that every mild band lies
// inside its moderate band, so a moderately abnormal value is always mildly abnormal too.
func (t Thresholds) Validate() error {
	var errs []error

	if !(t.PainMild <= t.PainModerate && t.PainModerate <= t.PainSevere) {
		errs = append(errs, fmt.Errorf("pain thresholds must satisfy mild <= moderate <= severe (got %d, %d, %d)",
			t.PainMild, t.PainModerate, t.PainSevere))
	}
	if t.HeartRateLow >= t.HeartRateHigh {
		errs = append(errs, fmt.Errorf("heart_rate_low %.0f must be below heart_rate_high %.0f", t.HeartRateLow, t.HeartRateHigh))
	}

	pairs := []struct {
		name           string
		moderate, mild Band
	}{
		{"bp_systolic", t.Moderate.Systolic, t.Mild.Systolic},
		{"bp_diastolic", t.Moderate.Diastolic, t.Mild.Diastolic},
		{"heart_rate", t.Moderate.HeartRate, t.Mild.HeartRate},
		{"temperature", t.Moderate.Temperature, t.Mild.Temperature},
		{"o2_saturation", t.Moderate.OxygenSat, t.Mild.OxygenSat},
		{"respiratory_rate", t.Moderate.RespiratoryRate, t.Mild.RespiratoryRate},
	}
	for _, p := range pairs {
		if p.moderate.Low > p.moderate.High || p.mild.Low > p.mild.High {
			errs = append(errs, fmt.Errorf("%s: band low must not exceed high", p.name))
			continue
		}
		if p.mild.Low < p.moderate.Low || p.mild.High > p.moderate.High {
			errs = append(errs, fmt.Errorf("%s: mild band [%g, %g] must lie within moderate band [%g, %g]",
				p.name, p.mild.Low, p.mild.High, p.moderate.Low, p.moderate.High))
		}
	}

	if t.Resources.Enabled && (t.Resources.MedicationPain < 0 || t.Resources.MedicationPain > 10) {
		errs = append(errs, fmt.Errorf("resources.medication_pain %d must be 0..10", t.Resources.MedicationPain))
	}

	return errors.Join(errs...)
}
