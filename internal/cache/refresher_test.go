package cache

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/aggregate"
	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/source"
	"github.com/pulseboard/pulseboard/internal/store"
	"github.com/pulseboard/pulseboard/internal/store/sqlite"
	activitysync "github.com/pulseboard/pulseboard/internal/sync"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "cache_test.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := sqlite.EnsureSchema(db); err != nil {
		t.Fatalf("sqlite schema: %v", err)
	}
	return sqlite.NewWithDB(db)
}

type fakeProvider struct {
	projects      []source.Project
	tasks         []source.Task
	todos         []source.Todo
	members       []source.Member
	conversations []source.Conversation
	completed     []source.CompletedTask

	tasksErr error
	// When set, FetchProjects blocks until the channel closes.
	block chan struct{}
}

func (p *fakeProvider) FetchProjects(ctx context.Context) ([]source.Project, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.projects, nil
}

func (p *fakeProvider) FetchTasks(context.Context) ([]source.Task, error) {
	if p.tasksErr != nil {
		return nil, p.tasksErr
	}
	return p.tasks, nil
}

func (p *fakeProvider) FetchTodos(context.Context) ([]source.Todo, error)     { return p.todos, nil }
func (p *fakeProvider) FetchMembers(context.Context) ([]source.Member, error) { return p.members, nil }

func (p *fakeProvider) FetchConversations(context.Context) ([]source.Conversation, error) {
	return p.conversations, nil
}

func (p *fakeProvider) FetchCompletedTasks(context.Context) ([]source.CompletedTask, error) {
	return p.completed, nil
}

// newRefresher wires a refresher over the fake with today pinned to
// 2024-01-10.
func newRefresher(st store.Store, fp *fakeProvider) *Refresher {
	now := func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) }
	log := zerolog.Nop()
	syncer := activitysync.NewSyncer(st, fp, log)
	agg := aggregate.New(st, log)
	return NewRefresherWithClock(st, fp, syncer, agg, log, now)
}

func someProjects() []source.Project {
	return []source.Project{
		{PageID: "pr-1", Name: "Atlas", HealthColor: "green", Assignees: []string{"Alice"}},
		{PageID: "pr-2", Name: "Borealis", HealthColor: "red", Assignees: []string{"Alice", "Bob"}},
		{PageID: "pr-3", Name: "Comet"},
	}
}

func TestRefresh_ProjectsRoundTrip(t *testing.T) {
	st := newTestStore(t)
	fp := &fakeProvider{projects: someProjects()}
	r := newRefresher(st, fp)
	ctx := context.Background()

	res, err := r.Refresh(ctx, model.CacheProjects)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.Status != StatusSuccess || res.Records != 3 {
		t.Fatalf("result: %+v", res)
	}

	md, err := st.Caches().GetMetadata(ctx, model.CacheProjects)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if md.IsUpdating || md.TotalRecords != 3 || md.LastUpdated == nil || md.LastError != nil {
		t.Fatalf("metadata after success: %+v", md)
	}

	// A smaller second snapshot fully replaces the first.
	fp.projects = fp.projects[:1]
	if _, err := r.Refresh(ctx, model.CacheProjects); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	rows, err := st.Caches().ListProjects(ctx)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(rows) != 1 || rows[0].PageID != "pr-1" {
		t.Fatalf("stale rows survived the replace: %+v", rows)
	}
}

func TestRefresh_TodosDedupeAndRoster(t *testing.T) {
	st := newTestStore(t)
	deadline := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	fp := &fakeProvider{
		members: []source.Member{
			{Name: "Alice", Position: "Engineer"},
			{Name: "Bob", Position: "Designer"},
		},
		todos: []source.Todo{
			{TodoID: "td-1", MemberName: "Alice", Name: "write doc", Status: "To-do", Deadline: &deadline, Overdue: true},
			{TodoID: "td-2", MemberName: "Bob", Name: "review doc", Status: "In progress"},
			// Shared board item shows up twice; only the first copy counts.
			{TodoID: "td-1", MemberName: "Bob", Name: "write doc", Status: "To-do"},
		},
	}
	r := newRefresher(st, fp)
	ctx := context.Background()

	res, err := r.Refresh(ctx, model.CacheTodos)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.Records != 2 {
		t.Fatalf("records: want 2 deduped todos, got %d", res.Records)
	}

	todos, err := st.Caches().ListTodos(ctx)
	if err != nil || len(todos) != 2 {
		t.Fatalf("todos: %d err=%v", len(todos), err)
	}
	members, err := st.Caches().ListMembers(ctx)
	if err != nil || len(members) != 2 {
		t.Fatalf("members: %d err=%v", len(members), err)
	}
}

func TestRefresh_FetchFailureRecordsError(t *testing.T) {
	st := newTestStore(t)
	fp := &fakeProvider{tasksErr: errors.New("upstream 502")}
	r := newRefresher(st, fp)
	ctx := context.Background()

	res, err := r.Refresh(ctx, model.CacheTasks)
	if err == nil {
		t.Fatal("expected refresh error")
	}
	if res == nil || res.Status != StatusError || !strings.Contains(res.Error, "upstream 502") {
		t.Fatalf("result: %+v", res)
	}

	md, err := st.Caches().GetMetadata(ctx, model.CacheTasks)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if md.IsUpdating {
		t.Fatal("lock not released after failure")
	}
	if md.LastError == nil || !strings.Contains(*md.LastError, "upstream 502") {
		t.Fatalf("lastError: %v", md.LastError)
	}
	rows, err := st.Caches().ListTasks(ctx)
	if err != nil || len(rows) != 0 {
		t.Fatalf("partial data committed: %d err=%v", len(rows), err)
	}
}

func TestRefresh_SkipsWhenLockHeld(t *testing.T) {
	st := newTestStore(t)
	r := newRefresher(st, &fakeProvider{projects: someProjects()})
	ctx := context.Background()

	if ok, err := st.Caches().BeginRefresh(ctx, model.CacheProjects); err != nil || !ok {
		t.Fatalf("take lock: ok=%v err=%v", ok, err)
	}

	res, err := r.Refresh(ctx, model.CacheProjects)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.Status != StatusSkipped || res.Records != 0 {
		t.Fatalf("result: %+v", res)
	}

	// The holder's state is untouched by the skipped attempt.
	md, err := st.Caches().GetMetadata(ctx, model.CacheProjects)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if !md.IsUpdating || md.LastUpdated != nil || md.TotalRecords != 0 {
		t.Fatalf("metadata mutated by skip: %+v", md)
	}
	rows, err := st.Caches().ListProjects(ctx)
	if err != nil || len(rows) != 0 {
		t.Fatalf("cache mutated by skip: %d err=%v", len(rows), err)
	}
}

func TestRefresh_ConcurrentSecondSkips(t *testing.T) {
	st := newTestStore(t)
	release := make(chan struct{})
	fp := &fakeProvider{projects: someProjects(), block: release}
	r := newRefresher(st, fp)
	ctx := context.Background()

	first := make(chan *RefreshResult, 1)
	go func() {
		res, _ := r.Refresh(ctx, model.CacheProjects)
		first <- res
	}()

	// Wait for the first refresh to take the lock before racing it.
	waitForLock(t, st, model.CacheProjects)

	second, err := r.Refresh(ctx, model.CacheProjects)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if second.Status != StatusSkipped {
		t.Fatalf("second status: %s", second.Status)
	}

	close(release)
	if res := <-first; res.Status != StatusSuccess || res.Records != 3 {
		t.Fatalf("first result: %+v", res)
	}
}

func waitForLock(t *testing.T, st store.Store, cacheType string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		md, err := st.Caches().GetMetadata(context.Background(), cacheType)
		if err == nil && md.IsUpdating {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("refresh never took the lock")
}

func TestRefresh_ActivitiesSyncsAndAggregates(t *testing.T) {
	st := newTestStore(t)
	fp := &fakeProvider{
		conversations: []source.Conversation{{
			ExternalID: "conv-1",
			Title:      "kickoff",
			OccurredAt: time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC),
			Attendees:  []source.Person{{ExternalID: "ext-alice", Username: "alice"}},
		}},
		completed: []source.CompletedTask{{
			ExternalID:  "task-1",
			Title:       "ship it",
			CompletedAt: time.Date(2024, 1, 6, 17, 0, 0, 0, time.UTC),
			Assignee:    source.Person{ExternalID: "ext-alice", Username: "alice"},
		}},
	}
	r := newRefresher(st, fp)
	ctx := context.Background()

	res, err := r.Refresh(ctx, model.CacheActivities)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.Status != StatusSuccess || res.Records != 2 {
		t.Fatalf("result: %+v", res)
	}

	alice, err := st.Persons().GetByExternalID(ctx, "ext-alice")
	if err != nil {
		t.Fatalf("person: %v", err)
	}
	s5, err := st.Summaries().Get(ctx, alice.ID, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	if err != nil || s5.Score != 1 {
		t.Fatalf("summary jan 5: %+v err=%v", s5, err)
	}
	s6, err := st.Summaries().Get(ctx, alice.ID, time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC))
	if err != nil || s6.Score != 2 {
		t.Fatalf("summary jan 6: %+v err=%v", s6, err)
	}
	// Year-to-date aggregation wrote the quiet days too.
	s2, err := st.Summaries().Get(ctx, alice.ID, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil || s2.Score != 0 {
		t.Fatalf("summary jan 2: %+v err=%v", s2, err)
	}

	md, err := st.Caches().GetMetadata(ctx, model.CacheActivities)
	if err != nil || md.IsUpdating || md.TotalRecords != 2 {
		t.Fatalf("metadata: %+v err=%v", md, err)
	}
}

func TestRefresh_UnknownType(t *testing.T) {
	st := newTestStore(t)
	r := newRefresher(st, &fakeProvider{})
	if _, err := r.Refresh(context.Background(), "bogus"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestForceUnlock_RecoversStuckLock(t *testing.T) {
	st := newTestStore(t)
	r := newRefresher(st, &fakeProvider{projects: someProjects()})
	ctx := context.Background()

	if ok, err := st.Caches().BeginRefresh(ctx, model.CacheProjects); err != nil || !ok {
		t.Fatalf("take lock: ok=%v err=%v", ok, err)
	}
	if res, _ := r.Refresh(ctx, model.CacheProjects); res.Status != StatusSkipped {
		t.Fatalf("expected skip while stuck, got %s", res.Status)
	}

	if err := r.ForceUnlock(ctx, model.CacheProjects); err != nil {
		t.Fatalf("force unlock: %v", err)
	}
	res, err := r.Refresh(ctx, model.CacheProjects)
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("refresh after unlock: %+v err=%v", res, err)
	}
}
