package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/source"
	"github.com/pulseboard/pulseboard/internal/store"
	"github.com/pulseboard/pulseboard/internal/store/sqlite"
)

type fakeProvider struct {
	conversations []source.Conversation
	tasks         []source.CompletedTask
	fetchErr      error
}

func (f *fakeProvider) FetchProjects(ctx context.Context) ([]source.Project, error) { return nil, nil }
func (f *fakeProvider) FetchTasks(ctx context.Context) ([]source.Task, error)       { return nil, nil }
func (f *fakeProvider) FetchTodos(ctx context.Context) ([]source.Todo, error)       { return nil, nil }
func (f *fakeProvider) FetchMembers(ctx context.Context) ([]source.Member, error)   { return nil, nil }

func (f *fakeProvider) FetchConversations(ctx context.Context) ([]source.Conversation, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.conversations, nil
}

func (f *fakeProvider) FetchCompletedTasks(ctx context.Context) ([]source.CompletedTask, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.tasks, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "sync_test.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := sqlite.EnsureSchema(db); err != nil {
		t.Fatalf("sqlite schema: %v", err)
	}
	return sqlite.NewWithDB(db)
}

func testRecords() ([]source.Conversation, []source.CompletedTask) {
	occurred := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	conversations := []source.Conversation{{
		ExternalID: "conv-1",
		Title:      "weekly sync",
		OccurredAt: occurred,
		Attendees: []source.Person{
			{ExternalID: "u-alice", Username: "alice"},
			{ExternalID: "u-bob", Username: "bob"},
		},
	}}
	project := "Atlas"
	tasks := []source.CompletedTask{{
		ExternalID:  "task-1",
		Title:       "ship docs",
		ProjectName: &project,
		CompletedAt: occurred.Add(5 * time.Hour),
		Assignee:    source.Person{ExternalID: "u-alice", Username: "alice"},
	}}
	return conversations, tasks
}

func TestSyncerRun_CreatesPersonsAndEvents(t *testing.T) {
	st := newTestStore(t)
	conversations, tasks := testRecords()
	sy := NewSyncer(st, &fakeProvider{conversations: conversations, tasks: tasks}, zerolog.Nop())

	stats, err := sy.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.ConversationsSynced != 2 || stats.TasksSynced != 1 {
		t.Fatalf("synced counts: %+v", stats)
	}
	if stats.PersonsCreated != 2 || stats.PersonsUpdated != 0 {
		t.Fatalf("person counts: %+v", stats)
	}
	if len(stats.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", stats.Errors)
	}

	alice, err := st.Persons().GetByExternalID(context.Background(), "u-alice")
	if err != nil {
		t.Fatalf("get alice: %v", err)
	}
	convs, err := st.Activities().ListConversations(context.Background(), alice.ID, nil, nil)
	if err != nil || len(convs) != 1 {
		t.Fatalf("alice conversations: n=%d err=%v", len(convs), err)
	}
	taskRows, err := st.Activities().ListTasks(context.Background(), alice.ID, nil, nil)
	if err != nil || len(taskRows) != 1 || taskRows[0].ProjectName == nil || *taskRows[0].ProjectName != "Atlas" {
		t.Fatalf("alice tasks: %+v err=%v", taskRows, err)
	}
}

func TestSyncerRun_Idempotent(t *testing.T) {
	st := newTestStore(t)
	conversations, tasks := testRecords()
	sy := NewSyncer(st, &fakeProvider{conversations: conversations, tasks: tasks}, zerolog.Nop())

	if _, err := sy.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stats, err := sy.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.PersonsCreated != 0 || stats.PersonsUpdated != 0 {
		t.Fatalf("second run should not touch persons: %+v", stats)
	}
	if stats.ConversationsSynced != 2 || stats.TasksSynced != 1 {
		t.Fatalf("second run counts: %+v", stats)
	}

	bob, err := st.Persons().GetByExternalID(context.Background(), "u-bob")
	if err != nil {
		t.Fatalf("get bob: %v", err)
	}
	convs, err := st.Activities().ListConversations(context.Background(), bob.ID, nil, nil)
	if err != nil || len(convs) != 1 {
		t.Fatalf("repeat sync duplicated rows: n=%d err=%v", len(convs), err)
	}
}

func TestSyncerRun_RefreshesChangedProfile(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.Persons().Create(context.Background(), &model.Person{ExternalID: "u-alice", Username: "old-alice"}); err != nil {
		t.Fatalf("seed person: %v", err)
	}

	conversations, tasks := testRecords()
	sy := NewSyncer(st, &fakeProvider{conversations: conversations, tasks: tasks}, zerolog.Nop())
	stats, err := sy.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.PersonsCreated != 1 || stats.PersonsUpdated != 1 {
		t.Fatalf("person counts: %+v", stats)
	}

	alice, err := st.Persons().GetByExternalID(context.Background(), "u-alice")
	if err != nil || alice.Username != "alice" {
		t.Fatalf("username not refreshed: %+v err=%v", alice, err)
	}
}

func TestSyncerRun_FetchFailureAborts(t *testing.T) {
	st := newTestStore(t)
	sy := NewSyncer(st, &fakeProvider{fetchErr: errors.New("upstream down")}, zerolog.Nop())
	if _, err := sy.Run(context.Background()); err == nil {
		t.Fatal("expected error when snapshot fetch fails")
	}
}

func TestSyncerRun_AccumulatesRecordErrors(t *testing.T) {
	st := newTestStore(t)
	email := "shared@example.test"
	occurred := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	conversations := []source.Conversation{{
		ExternalID: "conv-1",
		Title:      "pairing",
		OccurredAt: occurred,
		Attendees: []source.Person{
			{ExternalID: "u-1", Username: "first", Email: &email},
			// Same email under a different external id violates identity uniqueness.
			{ExternalID: "u-2", Username: "second", Email: &email},
		},
	}}
	sy := NewSyncer(st, &fakeProvider{conversations: conversations}, zerolog.Nop())

	stats, err := sy.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.ConversationsSynced != 1 {
		t.Fatalf("only the valid attendee should sync: %+v", stats)
	}
	if len(stats.Errors) != 1 {
		t.Fatalf("expected one accumulated error: %v", stats.Errors)
	}
}
