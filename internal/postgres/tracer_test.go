package postgres

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestReqDBStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &ReqDBStats{}

	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, nil)

	if s.QueryCount != 3 {
		t.Errorf("QueryCount = %d, want 3", s.QueryCount)
	}
	if s.TotalDuration != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", s.TotalDuration)
	}
	if s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
}

func TestReqDBStatsContext_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := NewReqDBStatsContext(context.Background())
	got, ok := ReqDBStatsFromContext(ctx)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got == nil {
		t.Fatal("expected non-nil stats")
	}

	// Verify it's the same pointer
	got.AddQuery(time.Millisecond, nil)
	got2, _ := ReqDBStatsFromContext(ctx)
	if got2.QueryCount != 1 {
		t.Errorf("QueryCount = %d, want 1 (same pointer)", got2.QueryCount)
	}
}

func TestReqDBStatsFromContext_Missing(t *testing.T) {
	t.Parallel()

	_, ok := ReqDBStatsFromContext(context.Background())
	if ok {
		t.Error("expected ok=false for plain context")
	}
}

// The observer is global, so tests that set it do not run in parallel.
func TestSetQueryObserver(t *testing.T) {
	defer SetQueryObserver(nil)

	called := false
	obs := QueryObserverFunc(func(_ context.Context, _, _ string, _ time.Duration) {
		called = true
	})

	SetQueryObserver(obs)
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "audit.record", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	got = getQueryObserver()
	if got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}

type recordingTracer struct {
	starts, ends int
}

func (r *recordingTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	r.starts++
	return ctx
}

func (r *recordingTracer) TraceQueryEnd(context.Context, *pgx.Conn, pgx.TraceQueryEndData) {
	r.ends++
}

func TestLoggingTracer_DelegatesAndCountsStats(t *testing.T) {
	t.Parallel()

	inner := &recordingTracer{}
	tr := wrapQueryTracer(inner, time.Hour, "")

	ctx := NewReqDBStatsContext(context.Background())
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{
		SQL:  "SELECT 1 WHERE $1",
		Args: []any{"patient-secret"},
	})
	st, ok := ctx.Value(queryStateKey{}).(*queryState)
	if !ok {
		t.Fatal("query state missing from context")
	}
	if st.nargs != 1 || st.sql != "SELECT 1 WHERE $1" {
		t.Errorf("state = %+v, want 1 arg and the statement", st)
	}

	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{
		CommandTag: pgconn.NewCommandTag("SELECT 1"),
		Err:        errors.New("boom"),
	})

	if inner.starts != 1 || inner.ends != 1 {
		t.Errorf("inner tracer starts=%d ends=%d, want 1 and 1", inner.starts, inner.ends)
	}
	s, _ := ReqDBStatsFromContext(ctx)
	if s.QueryCount != 1 || s.ErrorCount != 1 {
		t.Errorf("stats = %+v, want 1 query and 1 error", s)
	}
}

func TestRequestStats_AttachesStats(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	var sawStats bool
	h := RequestStats(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		s, ok := ReqDBStatsFromContext(r.Context())
		sawStats = ok
		if ok {
			s.AddQuery(time.Millisecond, nil)
			s.AddQuery(time.Millisecond, errors.New("boom"))
		}
	}))

	ctx, span := tp.Tracer("test").Start(context.Background(), "POST /api/v1/patients")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", http.NoBody).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), req)
	span.End()

	if !sawStats {
		t.Fatal("handler did not see request stats")
	}
	attrs := spanAttrs(rec.Ended()[0])
	if attrs["db.query_count"] != "2" || attrs["db.error_count"] != "1" {
		t.Errorf("span attributes = %v, want 2 queries and 1 error", attrs)
	}
}

func TestLoggingTracer_LabelsQueries(t *testing.T) {
	defer SetQueryObserver(nil)

	var gotOp, gotOutcome string
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, op, outcome string, _ time.Duration) {
		gotOp, gotOutcome = op, outcome
	}))

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tr := wrapQueryTracer(nil, 0, "ed-north")

	ctx, span := tp.Tracer("test").Start(context.Background(), "query")
	ctx = WithQueryLabel(ctx, QueryLabel{Op: "audit.history", PatientID: "p-17"})
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{
		SQL: "SELECT id\n\t FROM audit_events\n WHERE patient_id = $1",
	})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 3")})
	span.End()

	if gotOp != "audit.history" || gotOutcome != "ok" {
		t.Errorf("observer saw op=%q outcome=%q", gotOp, gotOutcome)
	}
	attrs := spanAttrs(rec.Ended()[0])
	want := map[string]string{
		"db.query.name":     "audit.history",
		"acuity.patient.id": "p-17",
		"acuity.department": "ed-north",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, attrs[k], v)
		}
	}
	st := ctx.Value(queryStateKey{}).(*queryState)
	if st.sql != "SELECT id FROM audit_events WHERE patient_id = $1" {
		t.Errorf("sql = %q, want whitespace collapsed", st.sql)
	}
}

func TestLoggingTracer_Unlabelled(t *testing.T) {
	defer SetQueryObserver(nil)

	var gotOp, gotOutcome string
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, op, outcome string, _ time.Duration) {
		gotOp, gotOutcome = op, outcome
	}))

	tr := wrapQueryTracer(nil, 0, "")
	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("conn reset")})

	if gotOp != unlabelledOp || gotOutcome != "error" {
		t.Errorf("observer saw op=%q outcome=%q, want %q error", gotOp, gotOutcome, unlabelledOp)
	}
}

func TestLoggingTracer_EndWithoutStart(t *testing.T) {
	t.Parallel()

	inner := &recordingTracer{}
	ctx := NewReqDBStatsContext(context.Background())
	wrapQueryTracer(inner, 0, "").TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	if inner.ends != 1 {
		t.Errorf("inner ends = %d, want 1", inner.ends)
	}
	if s, _ := ReqDBStatsFromContext(ctx); s.QueryCount != 0 {
		t.Errorf("QueryCount = %d, want 0 without a started query", s.QueryCount)
	}
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[string]string {
	out := make(map[string]string)
	for _, kv := range s.Attributes() {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
