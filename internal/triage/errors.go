package triage

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is matching on the typed errors below.
var (
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrClassifierTimeout = errors.New("classifier timeout")
)

// DuplicateEntryError is returned when inserting a patient that is already active.
type DuplicateEntryError struct {
	PatientID string
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("patient %s is already in the queue", e.PatientID)
}

func (e *DuplicateEntryError) Is(target error) bool { return target == ErrDuplicateEntry }

// NotFoundError is returned when a patient is not active in the queue.
type NotFoundError struct {
	PatientID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("patient %s not found in queue", e.PatientID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidTransitionError is returned when a status change or re-assessment is
// not allowed from the patient's current status.
type InvalidTransitionError struct {
	PatientID string
	From      Status
	To        Status
}

func (e *InvalidTransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("patient %s cannot be re-assessed while %s", e.PatientID, e.From)
	}
	return fmt.Sprintf("patient %s cannot transition from %s to %s", e.PatientID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ClassifierTimeoutError records that the model collaborator did not answer in time.
// It is absorbed by the ensemble classifier, which falls back to rules.
type ClassifierTimeoutError struct {
	Timeout time.Duration
}

func (e *ClassifierTimeoutError) Error() string {
	return fmt.Sprintf("classifier model did not respond within %s", e.Timeout)
}

func (e *ClassifierTimeoutError) Is(target error) bool { return target == ErrClassifierTimeout }
