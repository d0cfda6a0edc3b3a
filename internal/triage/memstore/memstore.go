// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/linnemanlabs/acuity/internal/triage"
)

// Store holds audit events in memory. Suitable for dev/testing.
type Store struct {
	mu        sync.RWMutex
	byPatient map[string][]triage.AuditEvent // patient ID -> events in record order
	ids       map[string]struct{}            // event IDs already stored
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		byPatient: make(map[string][]triage.AuditEvent),
		ids:       make(map[string]struct{}),
	}
}

// Record stores a copy of the event. Re-recording an event ID is a no-op.
func (s *Store) Record(_ context.Context, ev *triage.AuditEvent) error {
	cp := *ev
	cp.Reasons = slices.Clone(ev.Reasons)
	if ev.Confidence != nil {
		c := *ev.Confidence
		cp.Confidence = &c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cp.ID != "" {
		if _, dup := s.ids[cp.ID]; dup {
			return nil
		}
		s.ids[cp.ID] = struct{}{}
	}
	s.byPatient[cp.PatientID] = append(s.byPatient[cp.PatientID], cp)
	return nil
}

// History returns a copy of the patient's events, oldest first.
func (s *Store) History(_ context.Context, patientID string) ([]triage.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.byPatient[patientID]), nil
}
