package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// Op recorded for queries issued without a QueryLabel (pool ping, ad hoc SQL).
const unlabelledOp = "unlabelled"

var queryObserver atomic.Pointer[queryObserverHolder]

type queryLabelKey struct{}

type queryStateKey struct{}

type dbStatsKey struct{}

type queryObserverHolder struct{ QueryObserver }

// QueryLabel names the store operation behind the queries issued with a
// context, e.g. {Op: "audit.record", PatientID: "p-17"}.
type QueryLabel struct {
	Op        string
	PatientID string
}

// queryState carries one query from TraceQueryStart to TraceQueryEnd.
type queryState struct {
	label QueryLabel
	sql   string
	nargs int
	start time.Time
}

// ReqDBStats accumulates per-request database query statistics.
type ReqDBStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, op, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, op, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, op, outcome string, dur time.Duration) {
	f(ctx, op, outcome, dur)
}

// AddQuery records a single query execution.
func (s *ReqDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// SetQueryObserver sets the global query observer (typically a Prometheus histogram).
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

// WithQueryLabel tags every query issued with the returned context.
func WithQueryLabel(ctx context.Context, l QueryLabel) context.Context {
	return context.WithValue(ctx, queryLabelKey{}, l)
}

func queryLabelFromContext(ctx context.Context) QueryLabel {
	l, _ := ctx.Value(queryLabelKey{}).(QueryLabel)
	if l.Op == "" {
		l.Op = unlabelledOp
	}
	return l
}

// NewReqDBStatsContext returns a new context with an empty ReqDBStats attached.
func NewReqDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, dbStatsKey{}, &ReqDBStats{})
}

// ReqDBStatsFromContext extracts the ReqDBStats from the context, if present.
func ReqDBStatsFromContext(ctx context.Context) (*ReqDBStats, bool) {
	s, ok := ctx.Value(dbStatsKey{}).(*ReqDBStats)
	return s, ok
}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) and adds the
// operation label, department and a structured log line per query. Bind
// arguments carry patient data and are never logged, only counted.
type loggingTracer struct {
	inner       pgx.QueryTracer
	minDuration time.Duration
	department  string
}

// wrapQueryTracer wraps inner. Successful queries faster than minDuration are
// not logged; 0 logs everything.
func wrapQueryTracer(inner pgx.QueryTracer, minDuration time.Duration, department string) pgx.QueryTracer {
	return loggingTracer{inner: inner, minDuration: minDuration, department: department}
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	st := &queryState{
		label: queryLabelFromContext(ctx),
		sql:   compactSQL(data.SQL),
		nargs: len(data.Args),
		start: time.Now(),
	}

	// inner creates the query span
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	ctx = context.WithValue(ctx, queryStateKey{}, st)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := []attribute.KeyValue{attribute.String("db.query.name", st.label.Op)}
		if st.label.PatientID != "" {
			attrs = append(attrs, attribute.String("acuity.patient.id", st.label.PatientID))
		}
		if t.department != "" {
			attrs = append(attrs, attribute.String("acuity.department", t.department))
		}
		span.SetAttributes(attrs...)
	}
	return ctx
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	// inner first so the span ends with the query
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	st, ok := ctx.Value(queryStateKey{}).(*queryState)
	if !ok {
		return
	}
	dur := time.Since(st.start)

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if obs := getQueryObserver(); obs != nil {
		obs.ObserveQuery(ctx, st.label.Op, outcome, dur)
	}

	if t.minDuration > 0 && dur < t.minDuration && data.Err == nil {
		return
	}

	fields := []any{
		"db.query.name", st.label.Op,
		"db.statement", st.sql,
		"db.arg_count", st.nargs,
		"db.duration", dur.Seconds(),
	}
	if st.label.PatientID != "" {
		fields = append(fields, "patient_id", st.label.PatientID)
	}
	if t.department != "" {
		fields = append(fields, "department", t.department)
	}
	if tag := data.CommandTag.String(); tag != "" {
		fields = append(fields, "pg.command_tag", tag, "db.rows", data.CommandTag.RowsAffected())
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

// compactSQL collapses whitespace so multi-line statements log on one line.
func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
