package triage

import (
	"context"
	"sync"
	"time"
)

func ip(v int) *int         { return &v }
func fp(v float64) *float64 { return &v }

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// normalAssessment has every vital measured and inside the mild bands.
func normalAssessment(id string) *Assessment {
	return &Assessment{
		PatientID:      id,
		Name:           "Patient " + id,
		Age:            40,
		ChiefComplaint: "check-up",
		Vitals: Vitals{
			Systolic:        ip(120),
			Diastolic:       ip(80),
			HeartRate:       ip(75),
			Temperature:     fp(37.0),
			OxygenSat:       ip(98),
			RespiratoryRate: ip(16),
		},
		Pain:          ip(0),
		Consciousness: ConsciousnessAlert,
		ArrivedAt:     baseTime,
	}
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: baseTime} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingAuditor implements Store for testing.
type recordingAuditor struct {
	mu     sync.Mutex
	events []AuditEvent
	err    error
}

func (r *recordingAuditor) Record(_ context.Context, ev *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return r.err
}

func (r *recordingAuditor) History(_ context.Context, id string) ([]AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AuditEvent
	for _, ev := range r.events {
		if ev.PatientID == id {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *recordingAuditor) all() []AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}
