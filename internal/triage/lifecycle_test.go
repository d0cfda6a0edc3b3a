package triage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	all := []Status{StatusWaiting, StatusInTreatment, StatusCompleted, StatusDischarged}
	allowed := map[[2]Status]bool{
		{StatusWaiting, StatusInTreatment}:    true,
		{StatusWaiting, StatusDischarged}:     true,
		{StatusInTreatment, StatusCompleted}:  true,
		{StatusInTreatment, StatusDischarged}: true,
		{StatusCompleted, StatusDischarged}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCanReassess(t *testing.T) {
	t.Parallel()

	for s, want := range map[Status]bool{
		StatusWaiting:     true,
		StatusInTreatment: true,
		StatusCompleted:   false,
		StatusDischarged:  false,
	} {
		if got := CanReassess(s); got != want {
			t.Errorf("CanReassess(%s) = %v, want %v", s, got, want)
		}
	}
}

func TestLifecycle_TransitionAudits(t *testing.T) {
	t.Parallel()

	clk := newTestClock()
	q := NewQueue(clk.Now)
	audit := &recordingAuditor{}
	var hooked [][2]Status
	l := NewLifecycle(q, audit, nil, Hooks{
		OnTransition: func(from, to Status) { hooked = append(hooked, [2]Status{from, to}) },
	}, clk.Now)
	mustInsert(t, q, testEntry("a", LevelUrgent, 3000, clk.Now()))

	clk.Advance(5 * time.Minute)
	e, err := l.Transition(context.Background(), "a", StatusInTreatment, "dr.house", "treatment started")
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if e.Status != StatusInTreatment || !e.TreatmentStartAt.Equal(clk.Now()) {
		t.Errorf("entry = %s at %v", e.Status, e.TreatmentStartAt)
	}

	evs := audit.all()
	if len(evs) != 1 {
		t.Fatalf("audit events = %d, want 1", len(evs))
	}
	ev := evs[0]
	if ev.Kind != EventTransition || ev.From != StatusWaiting || ev.To != StatusInTreatment {
		t.Errorf("event = %+v", ev)
	}
	if ev.Actor != "dr.house" || ev.Reason != "treatment started" || !ev.At.Equal(clk.Now()) || ev.ID == "" {
		t.Errorf("event metadata = %+v", ev)
	}
	if len(hooked) != 1 || hooked[0] != [2]Status{StatusWaiting, StatusInTreatment} {
		t.Errorf("hooks = %v", hooked)
	}
}

func TestLifecycle_RejectedTransitionNotAudited(t *testing.T) {
	t.Parallel()

	q := NewQueue(nil)
	audit := &recordingAuditor{}
	l := NewLifecycle(q, audit, nil, Hooks{}, nil)
	mustInsert(t, q, testEntry("a", LevelUrgent, 3000, baseTime))

	_, err := l.Transition(context.Background(), "a", StatusCompleted, "nurse", "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if _, err := l.Transition(context.Background(), "nobody", StatusInTreatment, "nurse", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if n := len(audit.all()); n != 0 {
		t.Errorf("audit events = %d, want 0", n)
	}
}

func TestLifecycle_AuditFailureKeepsChange(t *testing.T) {
	t.Parallel()

	q := NewQueue(nil)
	audit := &recordingAuditor{err: errors.New("disk full")}
	l := NewLifecycle(q, audit, nil, Hooks{}, nil)
	mustInsert(t, q, testEntry("a", LevelUrgent, 3000, baseTime))

	if _, err := l.Transition(context.Background(), "a", StatusInTreatment, "nurse", ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if e, _ := q.Get("a"); e.Status != StatusInTreatment {
		t.Errorf("status = %s, want in_treatment", e.Status)
	}
}

func TestLifecycle_Reassess(t *testing.T) {
	t.Parallel()

	q := NewQueue(nil)
	audit := &recordingAuditor{}
	l := NewLifecycle(q, audit, nil, Hooks{}, nil)
	mustInsert(t, q, testEntry("a", LevelNonUrgent, 5000, baseTime))

	conf := 0.9
	r := Result{
		Decision:      Decision{Level: LevelEmergent, Confidence: &conf, Reasons: []string{"x"}, Source: SourceModel, Degraded: false},
		PriorityScore: 1950,
		ProducedAt:    baseTime.Add(time.Minute),
	}
	na := normalAssessment("a")
	na.Pain = ip(9)
	before, after, err := l.Reassess(context.Background(), "a", r, na, "nurse", "pain worse")
	if err != nil {
		t.Fatalf("Reassess: %v", err)
	}
	if before.Result.Level != LevelNonUrgent || after.Result.Level != LevelEmergent || after.Status != StatusWaiting {
		t.Errorf("before %d after %d status %s", before.Result.Level, after.Result.Level, after.Status)
	}
	if after.Assessment != na {
		t.Error("assessment not replaced")
	}

	evs := audit.all()
	if len(evs) != 1 || evs[0].Kind != EventClassification {
		t.Fatalf("events = %+v", evs)
	}
	if evs[0].PrevLevel != LevelNonUrgent || evs[0].Level != LevelEmergent || evs[0].Source != SourceModel {
		t.Errorf("event = %+v", evs[0])
	}
}
