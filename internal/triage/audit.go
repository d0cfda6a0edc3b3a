package triage

import (
	"context"
	"errors"
	"time"
)

// EventKind distinguishes audit records.
type EventKind string

const (
	EventTransition     EventKind = "transition"
	EventClassification EventKind = "classification"
)

// AuditEvent is one append-only record of something that happened to a
// patient. Transition events carry From/To; classification events carry the
// TriageResult fields, including the degraded flag.
type AuditEvent struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	PatientID string    `json:"patient_id"`
	Actor     string    `json:"actor,omitempty"`
	At        time.Time `json:"at"`
	Reason    string    `json:"reason,omitempty"`

	From Status `json:"from,omitempty"`
	To   Status `json:"to,omitempty"`

	Level         Level    `json:"esi_level,omitempty"`
	PrevLevel     Level    `json:"prev_esi_level,omitempty"`
	Source        Source   `json:"source,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Reasons       []string `json:"reasons,omitempty"`
	Degraded      bool     `json:"degraded,omitempty"`
	DegradedCause string   `json:"degraded_cause,omitempty"`
	ModelVersion  string   `json:"model_version,omitempty"`
	PriorityScore float64  `json:"priority_score,omitempty"`
}

// Auditor receives audit events after the queue change they describe has
// been committed. A failing Auditor never rolls the change back.
type Auditor interface {
	Record(ctx context.Context, ev *AuditEvent) error
}

// Store is an Auditor that can also answer history queries.
type Store interface {
	Auditor
	History(ctx context.Context, patientID string) ([]AuditEvent, error)
}

// Auditors fans one event out to several auditors. Every auditor is called;
// failures are joined.
type Auditors []Auditor

// Record implements Auditor.
func (as Auditors) Record(ctx context.Context, ev *AuditEvent) error {
	var errs []error
	for _, a := range as {
		if a == nil {
			continue
		}
		if err := a.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
