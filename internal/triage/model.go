package triage

import (
	"fmt"
	"time"
)

// Level is an Emergency Severity Index acuity level, 1 (resuscitation) through 5 (non-urgent).
type Level int

const (
	LevelResuscitation Level = 1
	LevelEmergent      Level = 2
	LevelUrgent        Level = 3
	LevelLessUrgent    Level = 4
	LevelNonUrgent     Level = 5
)

// Valid reports whether l is within 1..5.
func (l Level) Valid() bool { return l >= LevelResuscitation && l <= LevelNonUrgent }

// Critical reports whether l requires immediate or emergent care (ESI 1 or 2).
func (l Level) Critical() bool { return l == LevelResuscitation || l == LevelEmergent }

func (l Level) String() string { return fmt.Sprintf("ESI-%d", int(l)) }

// Consciousness is the AVPU responsiveness scale.
type Consciousness string

const (
	ConsciousnessUnknown      Consciousness = ""
	ConsciousnessAlert        Consciousness = "Alert"
	ConsciousnessVoice        Consciousness = "Voice"
	ConsciousnessPain         Consciousness = "Pain"
	ConsciousnessUnresponsive Consciousness = "Unresponsive"
)

// Status tracks where a patient is in the department lifecycle.
type Status string

const (
	// StatusWaiting means triaged and waiting to be seen
	StatusWaiting Status = "waiting"

	// StatusInTreatment means a clinician has started treatment
	StatusInTreatment Status = "in_treatment"

	// StatusCompleted means treatment finished, awaiting discharge paperwork
	StatusCompleted Status = "completed"

	// StatusDischarged means the patient left the department (terminal)
	StatusDischarged Status = "discharged"
)

// Vitals holds the measured vital signs. A nil field means the value is unknown
// and must never be read as normal.
type Vitals struct {
	Systolic        *int     `json:"bp_systolic,omitempty"`
	Diastolic       *int     `json:"bp_diastolic,omitempty"`
	HeartRate       *int     `json:"heart_rate,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	OxygenSat       *int     `json:"o2_saturation,omitempty"`
	RespiratoryRate *int     `json:"respiratory_rate,omitempty"`
}

// Assessment is a normalized patient presentation. It is treated as immutable
// once built; a re-assessment is a new Assessment for the same PatientID.
type Assessment struct {
	PatientID      string            `json:"patient_id"`
	Name           string            `json:"name"`
	Age            int               `json:"age"`
	Gender         string            `json:"gender,omitempty"`
	ChiefComplaint string            `json:"chief_complaint"`
	Vitals         Vitals            `json:"vitals"`
	Pain           *int              `json:"pain_scale,omitempty"`
	Consciousness  Consciousness     `json:"consciousness_level,omitempty"`
	Bleeding       bool              `json:"bleeding"`
	BreathingDiff  bool              `json:"breathing_difficulty"`
	Trauma         bool              `json:"trauma_indicator"`
	History        map[string]string `json:"medical_history,omitempty"`
	Allergies      []string          `json:"allergies,omitempty"`
	Medications    []string          `json:"current_medications,omitempty"`
	ArrivedAt      time.Time         `json:"arrived_at"`
}

// PainScore returns the reported pain, or 0 when pain was not reported.
func (a *Assessment) PainScore() int {
	if a.Pain == nil {
		return 0
	}
	return *a.Pain
}

// Source identifies what produced a TriageResult.
type Source string

const (
	SourceRules    Source = "rules"
	SourceModel    Source = "model"
	SourceOverride Source = "override"
)

// Decision is the output of a Classifier.
type Decision struct {
	Level         Level    `json:"esi_level"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Reasons       []string `json:"reasons"`
	Source        Source   `json:"source"`
	ModelVersion  string   `json:"model_version,omitempty"`
	Degraded      bool     `json:"degraded"`
	DegradedCause string   `json:"degraded_cause,omitempty"`
}

// Result is a scored classification. It is superseded, never mutated, on
// re-assessment. An aging re-score replaces PriorityScore and ScoredAt only.
type Result struct {
	Decision
	PriorityScore float64   `json:"priority_score"`
	ProducedAt    time.Time `json:"produced_at"`
	ScoredAt      time.Time `json:"scored_at"`
}

// Entry is a patient's record in the triage queue.
type Entry struct {
	PatientID        string      `json:"patient_id"`
	Name             string      `json:"name"`
	Assessment       *Assessment `json:"-"`
	Result           Result      `json:"result"`
	Status           Status      `json:"status"`
	EnqueuedAt       time.Time   `json:"enqueued_at"`
	TreatmentStartAt time.Time   `json:"treatment_start_at,omitzero"`
	CompletedAt      time.Time   `json:"completed_at,omitzero"`
}

// WaitMinutes is the time spent waiting, frozen once the patient leaves waiting.
func (e *Entry) WaitMinutes(now time.Time) float64 {
	end := now
	if e.Status != StatusWaiting && !e.TreatmentStartAt.IsZero() {
		end = e.TreatmentStartAt
	}
	d := end.Sub(e.EnqueuedAt).Minutes()
	if d < 0 {
		return 0
	}
	return d
}

// EntryView is the externally visible form of an Entry at a point in time.
type EntryView struct {
	PatientID     string   `json:"patient_id"`
	Name          string   `json:"name"`
	Level         Level    `json:"esi_level"`
	PriorityScore float64  `json:"priority_score"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Reasons       []string `json:"reasons"`
	Degraded      bool     `json:"degraded"`
	Status        Status   `json:"status"`
	WaitMinutes   float64  `json:"wait_minutes"`
	Position      int      `json:"queue_position"`
}

// View renders e at queue position pos with waits evaluated at now.
func (e *Entry) View(pos int, now time.Time) EntryView {
	return EntryView{
		PatientID:     e.PatientID,
		Name:          e.Name,
		Level:         e.Result.Level,
		PriorityScore: e.Result.PriorityScore,
		Confidence:    e.Result.Confidence,
		Reasons:       e.Result.Reasons,
		Degraded:      e.Result.Degraded,
		Status:        e.Status,
		WaitMinutes:   e.WaitMinutes(now),
		Position:      pos,
	}
}
