package triage

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// transitions is the lifecycle graph. Nothing moves backward and nothing
// leaves discharged; a worsening patient is re-assessed, not rolled back.
var transitions = map[Status][]Status{
	StatusWaiting:     {StatusInTreatment, StatusDischarged},
	StatusInTreatment: {StatusCompleted, StatusDischarged},
	StatusCompleted:   {StatusDischarged},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanReassess reports whether a new TriageResult may replace the current one.
func CanReassess(s Status) bool {
	return s == StatusWaiting || s == StatusInTreatment
}

func validateTransition(id string, from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{PatientID: id, From: from, To: to}
	}
	return nil
}

// Lifecycle owns patient status changes. It applies them through the queue,
// which re-checks the current status inside its exclusive section, and then
// records each committed change with the auditor.
type Lifecycle struct {
	queue  *Queue
	audit  Auditor
	logger log.Logger
	hooks  Hooks
	now    func() time.Time
}

// NewLifecycle returns a Lifecycle driving q. audit may be nil.
func NewLifecycle(q *Queue, audit Auditor, logger log.Logger, hooks Hooks, now func() time.Time) *Lifecycle {
	if logger == nil {
		logger = log.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{queue: q, audit: audit, logger: logger, hooks: hooks, now: now}
}

// Transition moves a patient to status to. A transition to discharged evicts
// the patient from the queue. The returned Entry reflects the new status.
func (l *Lifecycle) Transition(ctx context.Context, id string, to Status, actor, reason string) (Entry, error) {
	at := l.now()
	before, after, err := l.queue.Transition(id, to, at)
	if err != nil {
		return Entry{}, err
	}

	if l.hooks.OnTransition != nil {
		l.hooks.OnTransition(before.Status, to)
	}
	l.logger.Info(ctx, "patient status changed",
		"patient_id", id,
		"from", before.Status,
		"to", to,
		"actor", actor,
		"esi", int(before.Result.Level),
		"wait_minutes", before.WaitMinutes(at),
	)
	l.record(ctx, &AuditEvent{
		Kind:      EventTransition,
		PatientID: id,
		Actor:     actor,
		At:        at,
		From:      before.Status,
		To:        to,
		Reason:    reason,
		Level:     before.Result.Level,
	})

	return after, nil
}

// Reassess replaces the patient's TriageResult and, when a is non-nil, the
// assessment it was derived from. It is allowed only while the patient is
// waiting or in treatment and never changes status.
func (l *Lifecycle) Reassess(ctx context.Context, id string, r Result, a *Assessment, actor, reason string) (before, after Entry, err error) {
	before, after, err = l.queue.UpdateScore(id, r, a)
	if err != nil {
		return Entry{}, Entry{}, err
	}

	l.logger.Info(ctx, "patient re-assessed",
		"patient_id", id,
		"actor", actor,
		"source", r.Source,
		"from_esi", int(before.Result.Level),
		"to_esi", int(r.Level),
		"priority_score", r.PriorityScore,
	)
	l.record(ctx, classificationEvent(id, actor, reason, r, before.Result.Level))

	return before, after, nil
}

func (l *Lifecycle) record(ctx context.Context, ev *AuditEvent) {
	if l.audit == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if err := l.audit.Record(ctx, ev); err != nil {
		l.logger.Error(ctx, err, "failed to record audit event", "patient_id", ev.PatientID, "kind", ev.Kind)
	}
}

func classificationEvent(id, actor, reason string, r Result, prev Level) *AuditEvent {
	return &AuditEvent{
		Kind:          EventClassification,
		PatientID:     id,
		Actor:         actor,
		At:            r.ProducedAt,
		Reason:        reason,
		Level:         r.Level,
		PrevLevel:     prev,
		Source:        r.Source,
		Confidence:    r.Confidence,
		Reasons:       r.Reasons,
		Degraded:      r.Degraded,
		DegradedCause: r.DegradedCause,
		ModelVersion:  r.ModelVersion,
		PriorityScore: r.PriorityScore,
	}
}
