package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

var tracer = otel.Tracer("github.com/linnemanlabs/acuity/internal/triage")

// Actors recorded when no clinician is involved.
const (
	ActorIntake = "intake"
	ActorSystem = "system"
)

// ReasonOverride is the only reason code on a clinician override.
const ReasonOverride = "clinician_override"

// ErrInvalidOverride is returned for an override without a valid level or reason.
var ErrInvalidOverride = errors.New("invalid override")

// Registration is the outcome of registering or re-assessing a patient.
type Registration struct {
	PatientID            string   `json:"patient_id"`
	Level                Level    `json:"esi_level"`
	PreviousLevel        Level    `json:"previous_esi_level,omitempty"`
	PriorityScore        float64  `json:"priority_score"`
	Confidence           *float64 `json:"confidence,omitempty"`
	Position             int      `json:"queue_position"`
	Source               Source   `json:"source"`
	Degraded             bool     `json:"degraded"`
	DegradedCause        string   `json:"degraded_cause,omitempty"`
	Reasons              []string `json:"reasons"`
	RecommendedActions   []string `json:"recommended_actions"`
	EstimatedWaitMinutes float64  `json:"estimated_wait_minutes"`
}

// Override is a clinician's manual ESI assignment.
type Override struct {
	Level      Level  `json:"esi_level"`
	Reason     string `json:"reason"`
	AssessedBy string `json:"assessed_by"`
}

// Options configures a Service. Classifier and Scorer are required.
type Options struct {
	Classifier Classifier
	Scorer     *Scorer

	// Store answers history queries and receives every audit event.
	Store Store
	// Auditor receives every audit event in addition to Store.
	Auditor Auditor

	Notifier  Notifier
	Alerts    *AlertBoard
	Staleness time.Duration
	Logger    log.Logger
	Hooks     Hooks
	Now       func() time.Time
}

// Service is the business boundary for one department's triage queue.
type Service struct {
	classifier Classifier
	scorer     *Scorer
	queue      *Queue
	lifecycle  *Lifecycle
	snapshots  *Snapshots
	store      Store
	alerts     *AlertBoard
	notifier   Notifier
	logger     log.Logger
	hooks      Hooks
	now        func() time.Time

	notifying sync.WaitGroup
}

// NewService wires the triage core.
func NewService(o Options) *Service {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Alerts == nil {
		o.Alerts = NewAlertBoard(0)
	}

	var audit Auditors
	if o.Store != nil {
		audit = append(audit, o.Store)
	}
	if o.Auditor != nil {
		audit = append(audit, o.Auditor)
	}

	q := NewQueue(o.Now)
	s := &Service{
		classifier: o.Classifier,
		scorer:     o.Scorer,
		queue:      q,
		snapshots:  NewSnapshots(q, o.Staleness, o.Now),
		store:      o.Store,
		alerts:     o.Alerts,
		notifier:   o.Notifier,
		logger:     o.Logger,
		hooks:      o.Hooks,
		now:        o.Now,
	}
	var auditor Auditor
	if len(audit) > 0 {
		auditor = audit
	}
	s.lifecycle = NewLifecycle(q, auditor, o.Logger, o.Hooks, o.Now)
	return s
}

// Snapshots exposes the snapshot service for read-only consumers.
func (s *Service) Snapshots() *Snapshots { return s.snapshots }

// Register classifies a new arrival and inserts it into the queue. An empty
// PatientID is assigned a fresh id.
func (s *Service) Register(ctx context.Context, a *Assessment) (*Registration, error) {
	cp := *a
	if cp.PatientID == "" {
		cp.PatientID = ulid.Make().String()
	}

	ctx, span := tracer.Start(ctx, "triage.Register", trace.WithAttributes(
		attribute.String("patient.id", cp.PatientID),
	))
	defer span.End()

	if _, ok := s.queue.Get(cp.PatientID); ok {
		return nil, s.reject(span, "register", &DuplicateEntryError{PatientID: cp.PatientID})
	}

	d := s.classifier.Classify(ctx, &cp)

	now := s.now()
	if cp.ArrivedAt.IsZero() {
		cp.ArrivedAt = now
	}
	r := Result{
		Decision:      d,
		PriorityScore: s.scorer.Score(&cp, d.Level, now, now),
		ProducedAt:    now,
		ScoredAt:      now,
	}
	e := Entry{
		PatientID:  cp.PatientID,
		Name:       cp.Name,
		Assessment: &cp,
		Result:     r,
		Status:     StatusWaiting,
		EnqueuedAt: now,
	}
	if err := s.queue.Insert(e); err != nil {
		return nil, s.reject(span, "register", err)
	}

	span.SetAttributes(attribute.Int("esi.level", int(d.Level)), attribute.Bool("degraded", d.Degraded))
	if s.hooks.OnClassify != nil {
		s.hooks.OnClassify(d.Level, d.Source, d.DegradedCause)
	}
	s.logger.Info(ctx, "patient registered",
		"patient_id", cp.PatientID,
		"esi", int(d.Level),
		"source", d.Source,
		"degraded", d.Degraded,
		"priority_score", r.PriorityScore,
	)
	s.lifecycle.record(ctx, classificationEvent(cp.PatientID, ActorIntake, "registration", r, 0))

	if d.Level.Critical() {
		sev := SeverityHigh
		if d.Level == LevelResuscitation {
			sev = SeverityCritical
		}
		s.raise(ctx, Alert{
			PatientID: cp.PatientID,
			Kind:      AlertCriticalPatient,
			Severity:  sev,
			Level:     d.Level,
			Message:   fmt.Sprintf("Critical patient requires immediate attention - %s", d.Level),
			CreatedAt: now,
		})
	}

	return s.registration(cp.PatientID, r, 0), nil
}

// Reassess re-classifies an active patient from a new assessment. The wait
// already accrued keeps counting toward the score; aging stops at treatment start.
func (s *Service) Reassess(ctx context.Context, a *Assessment, actor string) (*Registration, error) {
	ctx, span := tracer.Start(ctx, "triage.Reassess", trace.WithAttributes(
		attribute.String("patient.id", a.PatientID),
	))
	defer span.End()

	cur, ok := s.queue.Get(a.PatientID)
	if !ok {
		return nil, s.reject(span, "reassess", &NotFoundError{PatientID: a.PatientID})
	}
	if !CanReassess(cur.Status) {
		return nil, s.reject(span, "reassess", &InvalidTransitionError{PatientID: a.PatientID, From: cur.Status})
	}

	cp := *a
	if cp.ArrivedAt.IsZero() && cur.Assessment != nil {
		cp.ArrivedAt = cur.Assessment.ArrivedAt
	}
	d := s.classifier.Classify(ctx, &cp)

	now := s.now()
	r := Result{
		Decision:      d,
		PriorityScore: s.scorer.Score(&cp, d.Level, cur.EnqueuedAt, agingEnd(cur, now)),
		ProducedAt:    now,
		ScoredAt:      now,
	}
	return s.applyResult(ctx, span, "reassess", cp.PatientID, r, &cp, actor, "reassessment")
}

// Override replaces a patient's level with a clinician's judgement.
func (s *Service) Override(ctx context.Context, id string, o Override) (*Registration, error) {
	ctx, span := tracer.Start(ctx, "triage.Override", trace.WithAttributes(
		attribute.String("patient.id", id),
		attribute.Int("esi.level", int(o.Level)),
	))
	defer span.End()

	if !o.Level.Valid() {
		return nil, s.reject(span, "override", fmt.Errorf("%w: esi level %d out of range", ErrInvalidOverride, o.Level))
	}
	if o.Reason == "" {
		return nil, s.reject(span, "override", fmt.Errorf("%w: reason is required", ErrInvalidOverride))
	}

	cur, ok := s.queue.Get(id)
	if !ok {
		return nil, s.reject(span, "override", &NotFoundError{PatientID: id})
	}
	a := cur.Assessment
	if a == nil {
		a = &Assessment{PatientID: id}
	}

	now := s.now()
	r := Result{
		Decision: Decision{
			Level:   o.Level,
			Reasons: []string{ReasonOverride},
			Source:  SourceOverride,
		},
		PriorityScore: s.scorer.Score(a, o.Level, cur.EnqueuedAt, agingEnd(cur, now)),
		ProducedAt:    now,
		ScoredAt:      now,
	}
	actor := o.AssessedBy
	if actor == "" {
		actor = ActorSystem
	}
	return s.applyResult(ctx, span, "override", id, r, nil, actor, o.Reason)
}

func (s *Service) applyResult(ctx context.Context, span trace.Span, op, id string, r Result, a *Assessment, actor, reason string) (*Registration, error) {
	before, _, err := s.lifecycle.Reassess(ctx, id, r, a, actor, reason)
	if err != nil {
		return nil, s.reject(span, op, err)
	}
	if s.hooks.OnClassify != nil {
		s.hooks.OnClassify(r.Level, r.Source, r.DegradedCause)
	}

	prev := before.Result.Level
	if prev != r.Level {
		sev := SeverityMedium
		verb := "improved"
		if r.Level < prev {
			sev = SeverityHigh
			verb = "worsened"
		}
		s.raise(ctx, Alert{
			PatientID: id,
			Kind:      AlertConditionChange,
			Severity:  sev,
			Level:     r.Level,
			Message:   fmt.Sprintf("Patient condition %s: %s -> %s", verb, prev, r.Level),
			CreatedAt: r.ProducedAt,
		})
	}
	return s.registration(id, r, prev), nil
}

func (s *Service) registration(id string, r Result, prev Level) *Registration {
	snap := s.snapshots.Fresh()
	view, _ := snap.Find(id)
	return &Registration{
		PatientID:            id,
		Level:                r.Level,
		PreviousLevel:        prev,
		PriorityScore:        r.PriorityScore,
		Confidence:           r.Confidence,
		Position:             view.Position,
		Source:               r.Source,
		Degraded:             r.Degraded,
		DegradedCause:        r.DegradedCause,
		Reasons:              r.Reasons,
		RecommendedActions:   RecommendedActions(r.Level),
		EstimatedWaitMinutes: snap.EstimatedWait(r.Level, id),
	}
}

// Queue returns the current ordered queue.
func (s *Service) Queue(_ context.Context) *Snapshot {
	return s.snapshots.Latest()
}

// Position returns one patient's current queue view.
func (s *Service) Position(_ context.Context, id string) (EntryView, error) {
	v, ok := s.snapshots.Latest().Find(id)
	if !ok {
		return EntryView{}, &NotFoundError{PatientID: id}
	}
	return v, nil
}

// StartTreatment moves a waiting patient into treatment.
func (s *Service) StartTreatment(ctx context.Context, id, actor string) (Entry, error) {
	return s.transition(ctx, "start", id, StatusInTreatment, actor, "treatment started")
}

// CompleteTreatment marks a patient's treatment as finished.
func (s *Service) CompleteTreatment(ctx context.Context, id, actor string) (Entry, error) {
	return s.transition(ctx, "complete", id, StatusCompleted, actor, "treatment completed")
}

// Discharge removes a patient from the department.
func (s *Service) Discharge(ctx context.Context, id, actor, reason string) (Entry, error) {
	if reason == "" {
		reason = "discharged"
	}
	e, err := s.transition(ctx, "discharge", id, StatusDischarged, actor, reason)
	if err == nil {
		s.alerts.Forget(id)
	}
	return e, err
}

func (s *Service) transition(ctx context.Context, op, id string, to Status, actor, reason string) (Entry, error) {
	ctx, span := tracer.Start(ctx, "triage.Transition", trace.WithAttributes(
		attribute.String("patient.id", id),
		attribute.String("status.to", string(to)),
	))
	defer span.End()

	if actor == "" {
		actor = ActorSystem
	}
	e, err := s.lifecycle.Transition(ctx, id, to, actor, reason)
	if err != nil {
		return Entry{}, s.reject(span, op, err)
	}
	return e, nil
}

// Statistics summarizes the current queue.
func (s *Service) Statistics(_ context.Context) Statistics {
	return s.snapshots.Latest().Statistics()
}

// History returns the audit trail for a patient, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]AuditEvent, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.History(ctx, id)
}

// Alerts returns unacknowledged alerts, newest first.
func (s *Service) Alerts(_ context.Context, limit int) []Alert {
	return s.alerts.Active(limit)
}

// AcknowledgeAlert records that actor has seen an alert.
func (s *Service) AcknowledgeAlert(ctx context.Context, id, actor string) (Alert, error) {
	a, err := s.alerts.Acknowledge(id, actor, s.now())
	if err != nil {
		return Alert{}, err
	}
	s.logger.Info(ctx, "alert acknowledged", "alert_id", id, "patient_id", a.PatientID, "actor", actor)
	return a, nil
}

type classifierInfo interface {
	Info() ClassifierInfo
}

// ClassifierInfo describes the active classifier.
func (s *Service) ClassifierInfo() ClassifierInfo {
	if c, ok := s.classifier.(classifierInfo); ok {
		return c.Info()
	}
	return ClassifierInfo{Strategy: "custom"}
}

// Sweep re-scores waiting patients for time waited and raises wait-time
// alerts. Levels never change. It returns how many entries moved.
func (s *Service) Sweep(ctx context.Context) int {
	now := s.now()
	rescored := 0
	for _, e := range s.queue.Entries() {
		if e.Status != StatusWaiting {
			continue
		}
		if e.Assessment != nil && s.queue.Reprioritize(e.PatientID, now, s.agingScore(now)) {
			rescored++
		}
		if waited := e.WaitMinutes(now); waited > TargetWait(e.Result.Level).Minutes() {
			if a, ok := s.alerts.RaiseWaitExceeded(e.PatientID, e.Result.Level, waited, now); ok {
				s.announce(ctx, a)
			}
		}
	}

	st := s.snapshots.Fresh().Statistics()
	if s.hooks.OnSweep != nil {
		s.hooks.OnSweep(st, rescored)
	}
	return rescored
}

// agingEnd is when e stopped accruing wait: treatment start once it has left waiting.
func agingEnd(e Entry, now time.Time) time.Time {
	if e.Status != StatusWaiting && !e.TreatmentStartAt.IsZero() {
		return e.TreatmentStartAt
	}
	return now
}

// agingScore re-scores a stored waiting entry from its own assessment.
func (s *Service) agingScore(now time.Time) func(Entry) float64 {
	return func(e Entry) float64 {
		if e.Assessment == nil {
			return e.Result.PriorityScore
		}
		return s.scorer.Score(e.Assessment, e.Result.Level, e.EnqueuedAt, now)
	}
}

// Run sweeps every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Flush waits for in-flight alert notifications.
func (s *Service) Flush() {
	s.notifying.Wait()
}

func (s *Service) raise(ctx context.Context, a Alert) {
	s.announce(ctx, s.alerts.Raise(a))
}

func (s *Service) announce(ctx context.Context, a Alert) {
	if s.hooks.OnAlert != nil {
		s.hooks.OnAlert(a.Kind, a.Severity)
	}
	s.logger.Warn(ctx, "alert raised",
		"alert_id", a.ID,
		"patient_id", a.PatientID,
		"kind", a.Kind,
		"severity", a.Severity,
	)
	if s.notifier == nil {
		return
	}

	// detach from the request so a client disconnect does not drop the notification.
	nctx := context.WithoutCancel(ctx)
	s.notifying.Add(1)
	go func() {
		defer s.notifying.Done()
		if err := s.notifier.Notify(nctx, &a); err != nil {
			s.logger.Error(nctx, err, "alert notification failed", "alert_id", a.ID, "patient_id", a.PatientID)
		}
	}()
}

func (s *Service) reject(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if s.hooks.OnRejected != nil {
		s.hooks.OnRejected(op, rejectReason(err))
	}
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateEntry):
		return "duplicate"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidOverride):
		return "invalid_override"
	default:
		return "error"
	}
}
