package queueapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/acuity/internal/intake"
	"github.com/linnemanlabs/acuity/internal/triage"
)

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	raw, ok := decodeForm(w, r)
	if !ok {
		return
	}
	assessment, err := intake.Normalize(raw)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	reg, err := a.svc.Register(r.Context(), assessment)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("acuity.patient.id", reg.PatientID),
		attribute.Int("acuity.esi_level", int(reg.Level)),
	)
	writeJSON(w, http.StatusCreated, reg)
}

func (a *API) handlePosition(w http.ResponseWriter, r *http.Request) {
	id := patientID(r)
	v, err := a.svc.Position(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := patientID(r)
	events, err := a.svc.History(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if events == nil {
		events = []triage.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patient_id": id, "events": events})
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if !decodeOptional(w, r, &body) {
		return
	}
	e, err := a.svc.StartTreatment(r.Context(), patientID(r), actorOf(r, body.Actor))
	a.writeEntry(w, r, e, err)
}

func (a *API) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if !decodeOptional(w, r, &body) {
		return
	}
	e, err := a.svc.CompleteTreatment(r.Context(), patientID(r), actorOf(r, body.Actor))
	a.writeEntry(w, r, e, err)
}

func (a *API) handleDischarge(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if !decodeOptional(w, r, &body) {
		return
	}
	e, err := a.svc.Discharge(r.Context(), patientID(r), actorOf(r, body.Actor), body.Reason)
	a.writeEntry(w, r, e, err)
}

func (a *API) writeEntry(w http.ResponseWriter, r *http.Request, e triage.Entry, err error) {
	if err != nil {
		a.fail(w, r, err)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("acuity.status", string(e.Status)))
	writeJSON(w, http.StatusOK, e)
}

// handleReassess takes a full registration form. The path id wins; a body
// patient_id naming someone else is rejected.
func (a *API) handleReassess(w http.ResponseWriter, r *http.Request) {
	id := patientID(r)
	raw, ok := decodeForm(w, r)
	if !ok {
		return
	}
	if bodyID, ok := raw["patient_id"].(string); ok && bodyID != "" && bodyID != id {
		writeError(w, http.StatusBadRequest, "patient_id does not match path")
		return
	}
	raw["patient_id"] = id

	claimed, _ := raw["assessed_by"].(string)
	actor := actorOf(r, claimed)
	assessment, err := intake.Normalize(raw)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	reg, err := a.svc.Reassess(r.Context(), assessment, actor)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (a *API) handleOverride(w http.ResponseWriter, r *http.Request) {
	var o triage.Override
	if !decodeOptional(w, r, &o) {
		return
	}
	o.AssessedBy = actorOf(r, o.AssessedBy)
	reg, err := a.svc.Override(r.Context(), patientID(r), o)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func patientID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("acuity.patient.id", id))
	return id
}
