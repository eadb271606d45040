package aggregate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/store"
	"github.com/pulseboard/pulseboard/internal/store/sqlite"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "aggregate_test.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := sqlite.EnsureSchema(db); err != nil {
		t.Fatalf("sqlite schema: %v", err)
	}
	return sqlite.NewWithDB(db)
}

func seedPerson(t *testing.T, st store.Store, externalID string) *model.Person {
	t.Helper()
	p, err := st.Persons().Create(context.Background(), &model.Person{ExternalID: externalID, Username: externalID})
	if err != nil {
		t.Fatalf("seed person %s: %v", externalID, err)
	}
	return p
}

func seedEvents(t *testing.T, st store.Store, personID int64, day time.Time, conversations, tasks int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < conversations; i++ {
		if _, err := st.Activities().UpsertConversation(ctx, &model.Conversation{
			PersonID:   personID,
			ExternalID: model.FormatDay(day) + "-conv-" + string(rune('a'+i)),
			Title:      "conversation",
			OccurredAt: day.Add(time.Duration(i+1) * time.Hour),
		}); err != nil {
			t.Fatalf("seed conversation: %v", err)
		}
	}
	for i := 0; i < tasks; i++ {
		if _, err := st.Activities().UpsertTask(ctx, &model.TaskCompletion{
			PersonID:    personID,
			ExternalID:  model.FormatDay(day) + "-task-" + string(rune('a'+i)),
			Title:       "task",
			CompletedAt: day.Add(time.Duration(i+10) * time.Hour),
		}); err != nil {
			t.Fatalf("seed task: %v", err)
		}
	}
}

func TestAggregate_CountsAndScore(t *testing.T) {
	st := newTestStore(t)
	p := seedPerson(t, st, "u-1")
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	seedEvents(t, st, p.ID, day, 3, 2)

	agg := New(st, zerolog.Nop())
	sum, err := agg.Aggregate(context.Background(), p.ID, day)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if sum.Conversations != 3 || sum.TasksCompleted != 2 || sum.Score != 7 {
		t.Fatalf("summary: %+v", sum)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	st := newTestStore(t)
	p := seedPerson(t, st, "u-1")
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	seedEvents(t, st, p.ID, day, 2, 1)

	agg := New(st, zerolog.Nop())
	first, err := agg.Aggregate(context.Background(), p.ID, day)
	if err != nil {
		t.Fatalf("first aggregate: %v", err)
	}
	second, err := agg.Aggregate(context.Background(), p.ID, day)
	if err != nil {
		t.Fatalf("second aggregate: %v", err)
	}
	if first.Score != second.Score || second.Score != 4 {
		t.Fatalf("repeat aggregation changed result: %d vs %d", first.Score, second.Score)
	}

	// New events are picked up by the next recomputation.
	if _, err := st.Activities().UpsertTask(context.Background(), &model.TaskCompletion{
		PersonID:    p.ID,
		ExternalID:  "late-task",
		Title:       "task",
		CompletedAt: day.Add(20 * time.Hour),
	}); err != nil {
		t.Fatalf("seed late task: %v", err)
	}
	third, err := agg.Aggregate(context.Background(), p.ID, day)
	if err != nil {
		t.Fatalf("third aggregate: %v", err)
	}
	if third.TasksCompleted != 2 || third.Score != 6 {
		t.Fatalf("recompute after new event: %+v", third)
	}
}

func TestAggregate_EmptyDayWritesZeroRow(t *testing.T) {
	st := newTestStore(t)
	p := seedPerson(t, st, "u-1")
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	agg := New(st, zerolog.Nop())
	if _, err := agg.Aggregate(context.Background(), p.ID, day); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	got, err := st.Summaries().Get(context.Background(), p.ID, day)
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if got.Conversations != 0 || got.TasksCompleted != 0 || got.Score != 0 {
		t.Fatalf("expected all-zero row: %+v", got)
	}
}

func TestBulkAggregate_RangeTimesPersons(t *testing.T) {
	st := newTestStore(t)
	pa := seedPerson(t, st, "u-a")
	pb := seedPerson(t, st, "u-b")
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	seedEvents(t, st, pa.ID, day, 1, 0)
	seedEvents(t, st, pb.ID, day.AddDate(0, 0, 2), 0, 1)

	agg := New(st, zerolog.Nop())
	written, err := agg.BulkAggregate(context.Background(), day, day.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("bulk aggregate: %v", err)
	}
	if written != 6 {
		t.Fatalf("written: want 6 (3 days x 2 persons), got %d", written)
	}

	sb, err := st.Summaries().Get(context.Background(), pb.ID, day.AddDate(0, 0, 2))
	if err != nil || sb.Score != 2 {
		t.Fatalf("person b summary: %+v err=%v", sb, err)
	}
}

func TestBulkAggregate_RejectsInvertedRange(t *testing.T) {
	st := newTestStore(t)
	agg := New(st, zerolog.Nop())
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if _, err := agg.BulkAggregate(context.Background(), day, day.AddDate(0, 0, -1)); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestBulkAggregate_HonorsCancellation(t *testing.T) {
	st := newTestStore(t)
	seedPerson(t, st, "u-a")
	agg := New(st, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	written, err := agg.BulkAggregate(ctx, day, day)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if written != 0 {
		t.Fatalf("written after cancel: %d", written)
	}
}
