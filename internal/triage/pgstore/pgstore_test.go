package pgstore_test

import (
	"context"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/acuity/internal/postgres"
	"github.com/linnemanlabs/acuity/internal/triage"
	"github.com/linnemanlabs/acuity/internal/triage/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("ACUITY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ACUITY_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{})
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func TestRecordAndHistory(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	patient := "pg-" + ulid.Make().String()
	now := time.Now().Truncate(time.Microsecond).UTC()
	conf := 0.82

	classified := &triage.AuditEvent{
		ID:            ulid.Make().String(),
		Kind:          triage.EventClassification,
		PatientID:     patient,
		Actor:         "intake",
		At:            now,
		Reason:        "registration",
		Level:         triage.LevelEmergent,
		Source:        triage.SourceModel,
		Confidence:    &conf,
		Reasons:       []string{"severe_pain", "breathing_difficulty"},
		ModelVersion:  "esi-v3",
		PriorityScore: 1933.5,
	}
	moved := &triage.AuditEvent{
		ID:        ulid.Make().String(),
		Kind:      triage.EventTransition,
		PatientID: patient,
		Actor:     "nurse-7",
		At:        now.Add(time.Minute),
		From:      triage.StatusWaiting,
		To:        triage.StatusInTreatment,
	}

	// Recorded out of order; History sorts by time.
	if err := s.Record(ctx, moved); err != nil {
		t.Fatalf("Record transition: %v", err)
	}
	if err := s.Record(ctx, classified); err != nil {
		t.Fatalf("Record classification: %v", err)
	}

	got, err := s.History(ctx, patient)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("History len = %d, want 2", len(got))
	}

	first := got[0]
	assertEqual(t, "ID", classified.ID, first.ID)
	assertEqual(t, "Kind", triage.EventClassification, first.Kind)
	assertEqual(t, "Level", triage.LevelEmergent, first.Level)
	assertEqual(t, "Source", triage.SourceModel, first.Source)
	assertEqual(t, "ModelVersion", "esi-v3", first.ModelVersion)
	assertEqual(t, "PriorityScore", 1933.5, first.PriorityScore)
	if !first.At.Equal(now) {
		t.Errorf("At = %v, want %v", first.At, now)
	}
	if first.Confidence == nil || *first.Confidence != conf {
		t.Errorf("Confidence = %v, want %v", first.Confidence, conf)
	}
	if !slices.Equal(first.Reasons, classified.Reasons) {
		t.Errorf("Reasons = %v, want %v", first.Reasons, classified.Reasons)
	}

	second := got[1]
	assertEqual(t, "From", triage.StatusWaiting, second.From)
	assertEqual(t, "To", triage.StatusInTreatment, second.To)
	assertEqual(t, "Actor", "nurse-7", second.Actor)
	if second.Confidence != nil {
		t.Errorf("transition Confidence = %v, want nil", *second.Confidence)
	}
	if second.Reasons != nil {
		t.Errorf("transition Reasons = %v, want nil", second.Reasons)
	}
}

func TestRecordReplayIsNoop(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	patient := "pg-" + ulid.Make().String()
	ev := &triage.AuditEvent{
		ID:        ulid.Make().String(),
		Kind:      triage.EventTransition,
		PatientID: patient,
		At:        time.Now().UTC(),
		From:      triage.StatusCompleted,
		To:        triage.StatusDischarged,
	}
	for i := 0; i < 3; i++ {
		if err := s.Record(ctx, ev); err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
	}

	got, err := s.History(ctx, patient)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("History len = %d, want 1", len(got))
	}
}

func TestHistoryMissing(t *testing.T) {
	s := openStore(t)

	got, err := s.History(context.Background(), "pg-never-seen")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("History = %v, want empty", got)
	}
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if want != got {
		t.Errorf("%s: got %v, want %v", field, got, want)
	}
}
