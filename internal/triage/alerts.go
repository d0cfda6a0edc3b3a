package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrAlertNotFound is returned when acknowledging an unknown alert.
var ErrAlertNotFound = errors.New("alert not found")

// AlertKind classifies alerts raised for clinicians.
type AlertKind string

const (
	AlertCriticalPatient AlertKind = "critical_patient"
	AlertConditionChange AlertKind = "condition_change"
	AlertWaitExceeded    AlertKind = "wait_time_exceeded"
)

// AlertSeverity is how urgently an alert needs attention.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityHigh     AlertSeverity = "high"
	SeverityMedium   AlertSeverity = "medium"
)

// DefaultAlertRetention is how many alerts the board keeps.
const DefaultAlertRetention = 1000

// Alert is a notice for department staff about one patient.
type Alert struct {
	ID           string        `json:"id"`
	PatientID    string        `json:"patient_id"`
	Kind         AlertKind     `json:"alert_type"`
	Severity     AlertSeverity `json:"severity"`
	Level        Level         `json:"esi_level"`
	Message      string        `json:"message"`
	CreatedAt    time.Time     `json:"created_at"`
	Acknowledged bool          `json:"acknowledged"`
	AckBy        string        `json:"acknowledged_by,omitempty"`
	AckAt        time.Time     `json:"acknowledged_at,omitzero"`
}

// Notifier delivers alerts outside the process, e.g. to a chat channel.
type Notifier interface {
	Notify(ctx context.Context, a *Alert) error
}

// AlertBoard holds recent alerts in memory.
type AlertBoard struct {
	mu         sync.Mutex
	byID       map[string]*Alert
	order      []string
	waitRaised map[string]Level
	retention  int
}

// NewAlertBoard returns a board that keeps at most retention alerts, dropping
// the oldest first. Non-positive retention uses DefaultAlertRetention.
func NewAlertBoard(retention int) *AlertBoard {
	if retention <= 0 {
		retention = DefaultAlertRetention
	}
	return &AlertBoard{
		byID:       make(map[string]*Alert),
		waitRaised: make(map[string]Level),
		retention:  retention,
	}
}

// Raise stores a and returns the stored copy. An empty ID is filled in.
func (b *AlertBoard) Raise(a Alert) Alert {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(a)
	return a
}

// RaiseWaitExceeded raises a wait_time_exceeded alert unless one was already
// raised for the patient at this level.
func (b *AlertBoard) RaiseWaitExceeded(patientID string, level Level, waited float64, at time.Time) (Alert, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if l, ok := b.waitRaised[patientID]; ok && l == level {
		return Alert{}, false
	}
	b.waitRaised[patientID] = level

	a := Alert{
		ID:        ulid.Make().String(),
		PatientID: patientID,
		Kind:      AlertWaitExceeded,
		Severity:  waitSeverity(level),
		Level:     level,
		Message:   fmt.Sprintf("Patient waiting %.0f minutes, target for %s is %.0f", waited, level, TargetWait(level).Minutes()),
		CreatedAt: at,
	}
	b.add(a)
	return a, true
}

func waitSeverity(l Level) AlertSeverity {
	if l.Critical() {
		return SeverityHigh
	}
	return SeverityMedium
}

// Forget drops wait bookkeeping for a patient that left the queue.
func (b *AlertBoard) Forget(patientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.waitRaised, patientID)
}

// add must be called with mu held.
func (b *AlertBoard) add(a Alert) {
	cp := a
	b.byID[a.ID] = &cp
	b.order = append(b.order, a.ID)
	for len(b.order) > b.retention {
		delete(b.byID, b.order[0])
		b.order = b.order[1:]
	}
}

// Active returns unacknowledged alerts, newest first. limit <= 0 means all.
func (b *AlertBoard) Active(limit int) []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Alert
	for i := len(b.order) - 1; i >= 0; i-- {
		a := b.byID[b.order[i]]
		if a.Acknowledged {
			continue
		}
		out = append(out, *a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Acknowledge marks an alert as seen by actor.
func (b *AlertBoard) Acknowledge(id, actor string, at time.Time) (Alert, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.byID[id]
	if !ok {
		return Alert{}, fmt.Errorf("acknowledge %s: %w", id, ErrAlertNotFound)
	}
	if !a.Acknowledged {
		a.Acknowledged = true
		a.AckBy = actor
		a.AckAt = at
	}
	return *a, nil
}
