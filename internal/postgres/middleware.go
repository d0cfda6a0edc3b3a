package postgres

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestStats attaches a ReqDBStats to every request. When the request
// issued queries the totals are added to the active span.
func RequestStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := NewReqDBStatsContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))

		s, _ := ReqDBStatsFromContext(ctx)
		s.mu.Lock()
		count, total, errs := s.QueryCount, s.TotalDuration, s.ErrorCount
		s.mu.Unlock()
		if count == 0 {
			return
		}
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(
				attribute.Int("db.query_count", count),
				attribute.Float64("db.total_duration_s", total.Seconds()),
				attribute.Int("db.error_count", errs),
			)
		}
	})
}
