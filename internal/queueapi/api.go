// Package queueapi exposes the triage service as a JSON HTTP API.
package queueapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/acuity/internal/authmw"
	"github.com/linnemanlabs/acuity/internal/intake"
	"github.com/linnemanlabs/acuity/internal/triage"
)

// TriageService defines the business operations queueapi needs.
type TriageService interface {
	Register(ctx context.Context, a *triage.Assessment) (*triage.Registration, error)
	Reassess(ctx context.Context, a *triage.Assessment, actor string) (*triage.Registration, error)
	Override(ctx context.Context, id string, o triage.Override) (*triage.Registration, error)
	Queue(ctx context.Context) *triage.Snapshot
	Position(ctx context.Context, id string) (triage.EntryView, error)
	StartTreatment(ctx context.Context, id, actor string) (triage.Entry, error)
	CompleteTreatment(ctx context.Context, id, actor string) (triage.Entry, error)
	Discharge(ctx context.Context, id, actor, reason string) (triage.Entry, error)
	Statistics(ctx context.Context) triage.Statistics
	History(ctx context.Context, id string) ([]triage.AuditEvent, error)
	Alerts(ctx context.Context, limit int) []triage.Alert
	AcknowledgeAlert(ctx context.Context, id, actor string) (triage.Alert, error)
	ClassifierInfo() triage.ClassifierInfo
}

const defaultAlertLimit = 50

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/patients", a.handleRegister)
		r.Get("/queue", a.handleQueue)
		r.Get("/statistics", a.handleStatistics)
		r.Get("/classifier", a.handleClassifier)

		r.Route("/patients/{id}", func(r chi.Router) {
			r.Get("/", a.handlePosition)
			r.Get("/history", a.handleHistory)
			r.Post("/start", a.handleStart)
			r.Post("/complete", a.handleComplete)
			r.Post("/discharge", a.handleDischarge)
			r.Post("/reassess", a.handleReassess)
			r.Post("/override", a.handleOverride)
		})

		r.Get("/alerts", a.handleAlerts)
		r.Post("/alerts/{id}/ack", a.handleAcknowledge)
	})
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Queue(r.Context()))
}

func (a *API) handleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Statistics(r.Context()))
}

func (a *API) handleClassifier(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.ClassifierInfo())
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	alerts := a.svc.Alerts(r.Context(), limit)
	if alerts == nil {
		alerts = []triage.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var body actionRequest
	if !decodeOptional(w, r, &body) {
		return
	}
	al, err := a.svc.AcknowledgeAlert(r.Context(), chi.URLParam(r, "id"), actorOf(r, body.Actor))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, al)
}

// actionRequest is the optional body of lifecycle and acknowledge calls.
type actionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// actorOf returns the authenticated actor, falling back to the one named in
// the request body when the API runs without authentication.
func actorOf(r *http.Request, claimed string) string {
	if a, ok := authmw.ActorFromContext(r.Context()); ok {
		return a
	}
	return claimed
}

// decodeOptional decodes a JSON body into v. An empty body leaves v as is.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid payload")
	return false
}

// decodeForm decodes a JSON object keeping numbers as json.Number for intake.
func decodeForm(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil || raw == nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return nil, false
	}
	return raw, true
}

type errorBody struct {
	Error  string              `json:"error"`
	Fields []intake.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing useful to do with a write error here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// fail maps service errors onto HTTP statuses. Unknown errors are logged and
// hidden behind a 500.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *intake.ValidationError
		duplicate  *triage.DuplicateEntryError
		notFound   *triage.NotFoundError
		invalid    *triage.InvalidTransitionError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: validation.Fields})
	case errors.As(err, &duplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, triage.ErrInvalidOverride):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, triage.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
