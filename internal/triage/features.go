package triage

import "strings"

// Features is the normalized feature vector sent to model collaborators.
// Vitals that were not measured are null, never imputed.
type Features struct {
	Systolic        *float64 `json:"bp_systolic"`
	Diastolic       *float64 `json:"bp_diastolic"`
	HeartRate       *float64 `json:"heart_rate"`
	Temperature     *float64 `json:"temperature"`
	OxygenSat       *float64 `json:"o2_saturation"`
	RespiratoryRate *float64 `json:"respiratory_rate"`
	Pain            *float64 `json:"pain_scale"`

	Age       float64 `json:"age"`
	IsMale    float64 `json:"is_male"`
	IsInfant  float64 `json:"is_infant"`
	IsChild   float64 `json:"is_child"`
	IsElderly float64 `json:"is_elderly"`

	IsUnresponsive float64 `json:"is_unresponsive"`
	IsAltered      float64 `json:"is_altered"`
	HasBleeding    float64 `json:"has_bleeding"`
	HasBreathing   float64 `json:"has_breathing_difficulty"`
	HasTrauma      float64 `json:"has_trauma"`

	ChronicConditions float64 `json:"num_chronic_conditions"`
	Medications       float64 `json:"medications_count"`
	HasAllergies      float64 `json:"has_allergies"`

	PulsePressure *float64 `json:"pulse_pressure"`
	ShockIndex    *float64 `json:"shock_index"`

	BPAbnormal    float64 `json:"bp_abnormal"`
	HRAbnormal    float64 `json:"hr_abnormal"`
	O2Abnormal    float64 `json:"o2_abnormal"`
	TempAbnormal  float64 `json:"temp_abnormal"`
	RRAbnormal    float64 `json:"rr_abnormal"`
	AbnormalCount float64 `json:"vital_abnormality_count"`
}

// ExtractFeatures derives the model feature vector from a.
// The abnormality cut-offs are part of the model contract and do not follow
// the rule ladder's configurable thresholds.
func ExtractFeatures(a *Assessment) Features {
	v := &a.Vitals
	f := Features{
		Systolic:        intf(v.Systolic),
		Diastolic:       intf(v.Diastolic),
		HeartRate:       intf(v.HeartRate),
		Temperature:     v.Temperature,
		OxygenSat:       intf(v.OxygenSat),
		RespiratoryRate: intf(v.RespiratoryRate),
		Pain:            intf(a.Pain),

		Age:       float64(a.Age),
		IsMale:    flag(strings.EqualFold(a.Gender, "male")),
		IsInfant:  flag(a.Age < 2),
		IsChild:   flag(a.Age >= 2 && a.Age < 12),
		IsElderly: flag(a.Age >= 65),

		IsUnresponsive: flag(a.Consciousness == ConsciousnessUnresponsive),
		IsAltered:      flag(a.Consciousness == ConsciousnessVoice || a.Consciousness == ConsciousnessPain),
		HasBleeding:    flag(a.Bleeding),
		HasBreathing:   flag(a.BreathingDiff),
		HasTrauma:      flag(a.Trauma),

		ChronicConditions: float64(len(a.History)),
		Medications:       float64(len(a.Medications)),
		HasAllergies:      flag(len(a.Allergies) > 0),
	}

	if f.Systolic != nil && f.Diastolic != nil {
		pp := *f.Systolic - *f.Diastolic
		f.PulsePressure = &pp
	}
	if f.Systolic != nil && f.HeartRate != nil && *f.Systolic > 0 {
		si := *f.HeartRate / *f.Systolic
		f.ShockIndex = &si
	}

	f.BPAbnormal = flag(outside(f.Systolic, 90, 180) || outside(f.Diastolic, 60, 110))
	f.HRAbnormal = flag(outside(f.HeartRate, 50, 120))
	f.O2Abnormal = flag(outside(f.OxygenSat, 92, 100))
	f.TempAbnormal = flag(outside(f.Temperature, 35.5, 38.5))
	f.RRAbnormal = flag(outside(f.RespiratoryRate, 10, 30))
	f.AbnormalCount = f.BPAbnormal + f.HRAbnormal + f.O2Abnormal + f.TempAbnormal + f.RRAbnormal

	return f
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func outside(v *float64, lo, hi float64) bool {
	return v != nil && (*v < lo || *v > hi)
}
