// Package triage is the emergency department triage core: ESI
// classification, priority scoring, the ordered treatment queue, the patient
// lifecycle and read-only queue snapshots. It performs no transport or
// storage I/O of its own; collaborators (model, auditor, notifier) are
// injected through small interfaces.
package triage
