package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/store"
)

// Run exercises a compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store and return it from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	// Unique test identifiers so the suite can also run against a shared database.
	extA := "ext-" + uuid.New().String()
	extB := "ext-" + uuid.New().String()
	userA := "user-" + uuid.New().String()
	userB := "user-" + uuid.New().String()

	// Persons
	pa, err := s.Persons().Create(ctx, &model.Person{ExternalID: extA, Username: userA})
	if err != nil {
		t.Fatalf("CreatePerson A: %v", err)
	}
	if pa.ID == 0 || pa.CreatedAt.IsZero() {
		t.Fatalf("CreatePerson A: missing id or created_at: %+v", pa)
	}
	pb, err := s.Persons().Create(ctx, &model.Person{ExternalID: extB, Username: userB})
	if err != nil {
		t.Fatalf("CreatePerson B: %v", err)
	}
	if _, err := s.Persons().Create(ctx, &model.Person{ExternalID: extA, Username: "someone-else"}); !errors.Is(err, model.ErrDuplicateIdentity) {
		t.Fatalf("CreatePerson duplicate external id: want ErrDuplicateIdentity, got %v", err)
	}
	if got, err := s.Persons().Get(ctx, pa.ID); err != nil || got.ExternalID != extA {
		t.Fatalf("GetPerson: got=%v err=%v", got, err)
	}
	if _, err := s.Persons().Get(ctx, -1); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetPerson missing: want ErrNotFound, got %v", err)
	}
	if got, err := s.Persons().GetByExternalID(ctx, extB); err != nil || got.ID != pb.ID {
		t.Fatalf("GetByExternalID: got=%v err=%v", got, err)
	}
	if _, err := s.Persons().GetByExternalID(ctx, "never-seen"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetByExternalID missing: want ErrNotFound, got %v", err)
	}

	// List with search narrows to the single matching username.
	if lst, total, err := s.Persons().List(ctx, model.ListPersonsRequest{Search: userA}); err != nil || total != 1 || len(lst) != 1 || lst[0].ID != pa.ID {
		t.Fatalf("ListPersons search: n=%d total=%d err=%v", len(lst), total, err)
	}
	if ids, err := s.Persons().ListIDs(ctx); err != nil || len(ids) < 2 {
		t.Fatalf("ListPersonIDs: n=%d err=%v", len(ids), err)
	}

	// Partial update touches only the provided fields.
	newName := userA + "-renamed"
	email := userA + "@example.test"
	if _, err := s.Persons().Update(ctx, pa.ID, model.UpdatePersonRequest{Email: &email}); err != nil {
		t.Fatalf("UpdatePerson email: %v", err)
	}
	upd, err := s.Persons().Update(ctx, pa.ID, model.UpdatePersonRequest{Username: &newName})
	if err != nil {
		t.Fatalf("UpdatePerson username: %v", err)
	}
	if upd.Username != newName || upd.Email == nil || *upd.Email != email {
		t.Fatalf("UpdatePerson should keep untouched fields: %+v", upd)
	}
	if _, err := s.Persons().Update(ctx, -1, model.UpdatePersonRequest{Username: &newName}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("UpdatePerson missing: want ErrNotFound, got %v", err)
	}

	// Activity ledger
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	c1, err := s.Activities().UpsertConversation(ctx, &model.Conversation{
		PersonID:   pa.ID,
		ExternalID: "conv-" + uuid.New().String(),
		Title:      "standup notes",
		OccurredAt: day.Add(9 * time.Hour),
		Metadata:   map[string]interface{}{"channel": "general"},
	})
	if err != nil {
		t.Fatalf("UpsertConversation: %v", err)
	}
	if c1.ID == 0 || c1.LastSyncedAt.IsZero() {
		t.Fatalf("UpsertConversation: missing id or last_synced_at: %+v", c1)
	}

	// Re-upserting the same external event keeps the row and refreshes fields.
	c2, err := s.Activities().UpsertConversation(ctx, &model.Conversation{
		PersonID:   pa.ID,
		ExternalID: c1.ExternalID,
		Title:      "standup notes (edited)",
		OccurredAt: day.Add(9*time.Hour + 30*time.Minute),
	})
	if err != nil {
		t.Fatalf("UpsertConversation repeat: %v", err)
	}
	if c2.ID != c1.ID {
		t.Fatalf("UpsertConversation repeat: id changed %d -> %d", c1.ID, c2.ID)
	}

	// Same external conversation id under a different person is a distinct event.
	if cb, err := s.Activities().UpsertConversation(ctx, &model.Conversation{
		PersonID:   pb.ID,
		ExternalID: c1.ExternalID,
		Title:      "same thread, other person",
		OccurredAt: day.Add(10 * time.Hour),
	}); err != nil || cb.ID == c1.ID {
		t.Fatalf("UpsertConversation other person: id=%v err=%v", cb, err)
	}

	taskExt := "task-" + uuid.New().String()
	tk, err := s.Activities().UpsertTask(ctx, &model.TaskCompletion{
		PersonID:    pa.ID,
		ExternalID:  taskExt,
		Title:       "ship release notes",
		CompletedAt: day.Add(15 * time.Hour),
	})
	if err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	if tk2, err := s.Activities().UpsertTask(ctx, &model.TaskCompletion{
		PersonID:    pa.ID,
		ExternalID:  taskExt,
		Title:       "ship release notes v2",
		CompletedAt: day.Add(16 * time.Hour),
	}); err != nil || tk2.ID != tk.ID {
		t.Fatalf("UpsertTask repeat: id=%v err=%v", tk2, err)
	}

	if lst, err := s.Activities().ListConversations(ctx, pa.ID, nil, nil); err != nil || len(lst) != 1 {
		t.Fatalf("ListConversations: n=%d err=%v", len(lst), err)
	}
	if lst, err := s.Activities().ListTasks(ctx, pa.ID, nil, nil); err != nil || len(lst) != 1 {
		t.Fatalf("ListTasks: n=%d err=%v", len(lst), err)
	}

	// The counting window is half-open: an event at next-day midnight is out.
	if _, err := s.Activities().UpsertConversation(ctx, &model.Conversation{
		PersonID:   pa.ID,
		ExternalID: "conv-" + uuid.New().String(),
		Title:      "midnight edge",
		OccurredAt: day.AddDate(0, 0, 1),
	}); err != nil {
		t.Fatalf("UpsertConversation boundary: %v", err)
	}
	conv, tasks, err := s.Activities().CountInRange(ctx, pa.ID, day, day.AddDate(0, 0, 1))
	if err != nil || conv != 1 || tasks != 1 {
		t.Fatalf("CountInRange [day, day+1): conv=%d tasks=%d err=%v", conv, tasks, err)
	}

	// Daily summaries
	sum, err := s.Summaries().Upsert(ctx, &model.DailySummary{
		PersonID: pa.ID, Day: day, Conversations: 1, TasksCompleted: 1, Score: 3,
	})
	if err != nil {
		t.Fatalf("UpsertSummary: %v", err)
	}
	if sum.UpdatedAt.IsZero() {
		t.Fatalf("UpsertSummary: missing updated_at: %+v", sum)
	}

	// Recomputing a day replaces the previous rollup.
	if _, err := s.Summaries().Upsert(ctx, &model.DailySummary{
		PersonID: pa.ID, Day: day, Conversations: 2, TasksCompleted: 1, Score: 4,
	}); err != nil {
		t.Fatalf("UpsertSummary recompute: %v", err)
	}
	got, err := s.Summaries().Get(ctx, pa.ID, day)
	if err != nil || got.Score != 4 || got.Conversations != 2 {
		t.Fatalf("GetSummary after recompute: got=%+v err=%v", got, err)
	}
	if model.FormatDay(got.Day) != "2024-03-10" {
		t.Fatalf("GetSummary day: want 2024-03-10, got %s", model.FormatDay(got.Day))
	}
	if _, err := s.Summaries().Get(ctx, pa.ID, day.AddDate(0, 0, 7)); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetSummary missing: want ErrNotFound, got %v", err)
	}

	// Range listing is ascending and inclusive; zero-score days are not active.
	day2 := day.AddDate(0, 0, 1)
	day3 := day.AddDate(0, 0, 2)
	if _, err := s.Summaries().Upsert(ctx, &model.DailySummary{PersonID: pa.ID, Day: day2, Score: 0}); err != nil {
		t.Fatalf("UpsertSummary day2: %v", err)
	}
	if _, err := s.Summaries().Upsert(ctx, &model.DailySummary{PersonID: pa.ID, Day: day3, Conversations: 1, Score: 1}); err != nil {
		t.Fatalf("UpsertSummary day3: %v", err)
	}
	rng, err := s.Summaries().ListRange(ctx, pa.ID, day, day3)
	if err != nil || len(rng) != 3 {
		t.Fatalf("ListRange: n=%d err=%v", len(rng), err)
	}
	if !rng[0].Day.Before(rng[1].Day) || !rng[1].Day.Before(rng[2].Day) {
		t.Fatalf("ListRange not ascending: %v %v %v", rng[0].Day, rng[1].Day, rng[2].Day)
	}
	active, err := s.Summaries().ListActiveDays(ctx, pa.ID)
	if err != nil || len(active) != 2 {
		t.Fatalf("ListActiveDays: n=%d err=%v", len(active), err)
	}

	// Leaderboard: descending score; ties resolve by ascending person id.
	if _, err := s.Summaries().Upsert(ctx, &model.DailySummary{PersonID: pb.ID, Day: day, Conversations: 5, Score: 5}); err != nil {
		t.Fatalf("UpsertSummary leaderboard: %v", err)
	}
	board, err := s.Summaries().Leaderboard(ctx, day, day3, 100)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	posA, posB := -1, -1
	for i, e := range board {
		if e.Rank != i+1 {
			t.Fatalf("Leaderboard rank: want %d, got %d", i+1, e.Rank)
		}
		switch e.PersonID {
		case pa.ID:
			posA = i
			if e.Score != 5 || e.Conversations != 3 || e.TasksCompleted != 1 {
				t.Fatalf("Leaderboard totals for A: %+v", e)
			}
		case pb.ID:
			posB = i
		}
	}
	if posA < 0 || posB < 0 {
		t.Fatalf("Leaderboard missing test persons: A=%d B=%d", posA, posB)
	}
	// Equal 5-point totals: A was created before B, so A ranks first.
	if posA > posB {
		t.Fatalf("Leaderboard tie break: person %d should precede %d", pa.ID, pb.ID)
	}

	// Workspace caches
	edited := day.Add(12 * time.Hour)
	n, err := s.Caches().ReplaceProjects(ctx, []*model.CachedProject{
		{PageID: "proj-1", Name: "Atlas", HealthStatus: "On track", HealthColor: "green",
			Status: "In progress", Assignees: []string{"alice", "bob"}, TaskCount: 7, SourceEditedAt: &edited},
		{PageID: "proj-2", Name: "Borealis", HealthStatus: "At risk", HealthColor: "yellow"},
	})
	if err != nil || n != 2 {
		t.Fatalf("ReplaceProjects: n=%d err=%v", n, err)
	}
	projects, err := s.Caches().ListProjects(ctx)
	if err != nil || len(projects) != 2 {
		t.Fatalf("ListProjects: n=%d err=%v", len(projects), err)
	}
	if projects[0].Name != "Atlas" || len(projects[0].Assignees) != 2 || projects[0].CachedAt.IsZero() {
		t.Fatalf("ListProjects round trip: %+v", projects[0])
	}

	// Replace is a full swap, not a merge.
	if _, err := s.Caches().ReplaceProjects(ctx, []*model.CachedProject{
		{PageID: "proj-3", Name: "Cygnus"},
	}); err != nil {
		t.Fatalf("ReplaceProjects swap: %v", err)
	}
	if projects, err = s.Caches().ListProjects(ctx); err != nil || len(projects) != 1 || projects[0].PageID != "proj-3" {
		t.Fatalf("ReplaceProjects swap result: n=%d err=%v", len(projects), err)
	}

	due := day.AddDate(0, 0, 10)
	if n, err := s.Caches().ReplaceTasks(ctx, []*model.CachedTask{
		{PageID: "task-1", Name: "Write docs", Status: "In progress", Types: []string{"docs"}, Assignees: []string{"alice"}, DueDate: &due},
	}); err != nil || n != 1 {
		t.Fatalf("ReplaceTasks: n=%d err=%v", n, err)
	}
	tasksLst, err := s.Caches().ListTasks(ctx)
	if err != nil || len(tasksLst) != 1 || tasksLst[0].DueDate == nil || !tasksLst[0].DueDate.Equal(due) {
		t.Fatalf("ListTasks round trip: %+v err=%v", tasksLst, err)
	}

	deadline := day.AddDate(0, 0, 3)
	if n, err := s.Caches().ReplaceTodos(ctx, []*model.CachedTodo{
		{TodoID: "todo-1", MemberName: "alice", Name: "review PR", Status: "pending", Deadline: &deadline, ProjectIDs: []string{"proj-3"}},
		{TodoID: "todo-2", MemberName: "bob", Name: "rotate keys", Status: "done", Overdue: true},
	}); err != nil || n != 2 {
		t.Fatalf("ReplaceTodos: n=%d err=%v", n, err)
	}
	todos, err := s.Caches().ListTodos(ctx)
	if err != nil || len(todos) != 2 {
		t.Fatalf("ListTodos: n=%d err=%v", len(todos), err)
	}

	// Members upsert in place rather than swapping the table.
	if _, err := s.Caches().UpsertMembers(ctx, []*model.CachedMember{
		{Name: "alice", Position: "engineer", Status: "active"},
	}); err != nil {
		t.Fatalf("UpsertMembers: %v", err)
	}
	if _, err := s.Caches().UpsertMembers(ctx, []*model.CachedMember{
		{Name: "alice", Position: "staff engineer", Status: "active"},
		{Name: "bob", Position: "designer", Status: "active"},
	}); err != nil {
		t.Fatalf("UpsertMembers repeat: %v", err)
	}
	members, err := s.Caches().ListMembers(ctx)
	if err != nil || len(members) != 2 {
		t.Fatalf("ListMembers: n=%d err=%v", len(members), err)
	}
	if members[0].Name != "alice" || members[0].Position != "staff engineer" {
		t.Fatalf("UpsertMembers should update in place: %+v", members[0])
	}

	// Refresh bookkeeping: the flag admits exactly one holder.
	cacheType := model.CacheProjects
	ok, err := s.Caches().BeginRefresh(ctx, cacheType)
	if err != nil || !ok {
		t.Fatalf("BeginRefresh first: ok=%v err=%v", ok, err)
	}
	if ok, err := s.Caches().BeginRefresh(ctx, cacheType); err != nil || ok {
		t.Fatalf("BeginRefresh while held: ok=%v err=%v", ok, err)
	}
	if err := s.Caches().CompleteRefresh(ctx, cacheType, 42, 1500*time.Millisecond); err != nil {
		t.Fatalf("CompleteRefresh: %v", err)
	}
	meta, err := s.Caches().GetMetadata(ctx, cacheType)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.IsUpdating || meta.LastUpdated == nil || meta.TotalRecords != 42 || meta.LastError != nil {
		t.Fatalf("GetMetadata after success: %+v", meta)
	}
	if meta.LastDurationSeconds < 1.0 || meta.LastDurationSeconds > 2.0 {
		t.Fatalf("GetMetadata duration: %v", meta.LastDurationSeconds)
	}

	// Failure releases the lock, records the message, and still bumps last_updated.
	if ok, err := s.Caches().BeginRefresh(ctx, cacheType); err != nil || !ok {
		t.Fatalf("BeginRefresh after complete: ok=%v err=%v", ok, err)
	}
	if err := s.Caches().FailRefresh(ctx, cacheType, "upstream timeout", 2*time.Second); err != nil {
		t.Fatalf("FailRefresh: %v", err)
	}
	meta, err = s.Caches().GetMetadata(ctx, cacheType)
	if err != nil || meta.IsUpdating || meta.LastError == nil || *meta.LastError != "upstream timeout" {
		t.Fatalf("GetMetadata after failure: %+v err=%v", meta, err)
	}
	if meta.LastUpdated == nil {
		t.Fatalf("GetMetadata after failure: last_updated not bumped")
	}

	// ForceUnlock recovers a flag left behind by a dead refresher.
	if ok, err := s.Caches().BeginRefresh(ctx, cacheType); err != nil || !ok {
		t.Fatalf("BeginRefresh before unlock: ok=%v err=%v", ok, err)
	}
	if err := s.Caches().ForceUnlock(ctx, cacheType); err != nil {
		t.Fatalf("ForceUnlock: %v", err)
	}
	if ok, err := s.Caches().BeginRefresh(ctx, cacheType); err != nil || !ok {
		t.Fatalf("BeginRefresh after unlock: ok=%v err=%v", ok, err)
	}
	if err := s.Caches().ForceUnlock(ctx, cacheType); err != nil {
		t.Fatalf("ForceUnlock release: %v", err)
	}

	if _, err := s.Caches().GetMetadata(ctx, "no-such-cache"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetMetadata missing: want ErrNotFound, got %v", err)
	}
	if lst, err := s.Caches().ListMetadata(ctx); err != nil || len(lst) == 0 {
		t.Fatalf("ListMetadata: n=%d err=%v", len(lst), err)
	}

	// Deleting a person clears the ledger rows beneath it.
	if err := s.Persons().Delete(ctx, pb.ID); err != nil {
		t.Fatalf("DeletePerson: %v", err)
	}
	if err := s.Persons().Delete(ctx, pb.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("DeletePerson repeat: want ErrNotFound, got %v", err)
	}
	if lst, err := s.Activities().ListConversations(ctx, pb.ID, nil, nil); err != nil || len(lst) != 0 {
		t.Fatalf("ListConversations after delete: n=%d err=%v", len(lst), err)
	}
}
