// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/acuity/internal/postgres"
	"github.com/linnemanlabs/acuity/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/acuity/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists audit events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	ctx = postgres.WithQueryLabel(ctx, postgres.QueryLabel{Op: "audit.schema"})
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const eventColumns = `id, kind, patient_id, actor, at, reason, from_status, to_status,
	esi_level, prev_esi_level, source, confidence, reasons, degraded, degraded_cause,
	model_version, priority_score`

// Record appends ev. Replaying an event with an ID already stored is a no-op.
func (s *Store) Record(ctx context.Context, ev *triage.AuditEvent) error {
	ctx, span := tracer.Start(ctx, "pgstore.Record", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
		attribute.String("audit.kind", string(ev.Kind)),
	))
	defer span.End()
	ctx = postgres.WithQueryLabel(ctx, postgres.QueryLabel{Op: "audit.record", PatientID: ev.PatientID})

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := insertEvent(ctx, tx, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// History returns the events for patientID in the order they happened.
func (s *Store) History(ctx context.Context, patientID string) ([]triage.AuditEvent, error) {
	ctx, span := tracer.Start(ctx, "pgstore.History", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()
	ctx = postgres.WithQueryLabel(ctx, postgres.QueryLabel{Op: "audit.history", PatientID: patientID})

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE patient_id = $1 ORDER BY at, id`,
		patientID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []triage.AuditEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	span.SetAttributes(attribute.Int("audit.events", len(out)))
	return out, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev *triage.AuditEvent) error {
	reasons := ev.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO audit_events (`+eventColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, string(ev.Kind), ev.PatientID, ev.Actor, ev.At, ev.Reason,
		string(ev.From), string(ev.To), int(ev.Level), int(ev.PrevLevel), string(ev.Source),
		ev.Confidence, reasonsJSON, ev.Degraded, ev.DegradedCause, ev.ModelVersion, ev.PriorityScore,
	)
	if err != nil {
		return fmt.Errorf("insert audit event %s: %w", ev.ID, err)
	}
	return nil
}

func scanEvent(row pgx.Row) (triage.AuditEvent, error) {
	var (
		ev          triage.AuditEvent
		kind        string
		from, to    string
		level, prev int
		source      string
		reasonsJSON []byte
	)
	err := row.Scan(
		&ev.ID, &kind, &ev.PatientID, &ev.Actor, &ev.At, &ev.Reason, &from, &to,
		&level, &prev, &source, &ev.Confidence, &reasonsJSON, &ev.Degraded, &ev.DegradedCause,
		&ev.ModelVersion, &ev.PriorityScore,
	)
	if err != nil {
		return triage.AuditEvent{}, fmt.Errorf("scan: %w", err)
	}

	ev.Kind = triage.EventKind(kind)
	ev.From = triage.Status(from)
	ev.To = triage.Status(to)
	ev.Level = triage.Level(level)
	ev.PrevLevel = triage.Level(prev)
	ev.Source = triage.Source(source)
	ev.At = ev.At.UTC()

	if err := json.Unmarshal(reasonsJSON, &ev.Reasons); err != nil {
		return triage.AuditEvent{}, fmt.Errorf("unmarshal reasons: %w", err)
	}
	if len(ev.Reasons) == 0 {
		ev.Reasons = nil
	}
	return ev, nil
}
