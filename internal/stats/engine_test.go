package stats

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/store"
	"github.com/pulseboard/pulseboard/internal/store/sqlite"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "stats_test.db"))
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

func seedSummary(t *testing.T, st store.Store, personID int64, day time.Time, conversations, tasks int) {
	t.Helper()
	_, err := st.Summaries().Upsert(context.Background(), &model.DailySummary{
		PersonID:       personID,
		Day:            day,
		Conversations:  conversations,
		TasksCompleted: tasks,
		Score:          model.ComputeScore(conversations, tasks),
	})
	if err != nil {
		t.Fatalf("seed summary %s: %v", model.FormatDay(day), err)
	}
}

// fixedEngine pins today to 2024-03-20 (a Wednesday).
func fixedEngine(st store.Store) (*Engine, time.Time) {
	now := time.Date(2024, 3, 20, 15, 30, 0, 0, time.UTC)
	return NewWithClock(st, func() time.Time { return now }), model.DayOf(now)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("")
	if err != nil || p != PeriodMonthly {
		t.Fatalf("empty period: %v %v", p, err)
	}
	if p, err = ParsePeriod("weekly"); err != nil || p != PeriodWeekly {
		t.Fatalf("weekly: %v %v", p, err)
	}
	if _, err = ParsePeriod("fortnightly"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestTimeline_MergesAndPaginates(t *testing.T) {
	st := newTestStore(t)
	p := seedPerson(t, st, "u-1")
	ctx := context.Background()

	base := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	if _, err := st.Activities().UpsertConversation(ctx, &model.Conversation{
		PersonID: p.ID, ExternalID: "conv-1", Title: "standup", OccurredAt: base,
	}); err != nil {
		t.Fatalf("seed conv-1: %v", err)
	}
	if _, err := st.Activities().UpsertConversation(ctx, &model.Conversation{
		PersonID: p.ID, ExternalID: "conv-2", Title: "design review", OccurredAt: base.Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("seed conv-2: %v", err)
	}
	project := "Atlas"
	if _, err := st.Activities().UpsertTask(ctx, &model.TaskCompletion{
		PersonID: p.ID, ExternalID: "task-1", Title: "ship it", ProjectName: &project, CompletedAt: base.Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed task-1: %v", err)
	}

	eng := New(st)
	page, err := eng.Timeline(ctx, model.TimelineRequest{PersonID: p.ID})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 3 || page.HasMore {
		t.Fatalf("page: total=%d items=%d hasMore=%v", page.Total, len(page.Items), page.HasMore)
	}
	wantOrder := []string{"conv-2", "task-1", "conv-1"}
	for i, want := range wantOrder {
		if page.Items[i].ExternalID != want {
			t.Fatalf("item %d: want %s, got %s", i, want, page.Items[i].ExternalID)
		}
	}
	if page.Items[1].Kind != model.KindTask || page.Items[1].ProjectName == nil || *page.Items[1].ProjectName != "Atlas" {
		t.Fatalf("task item: %+v", page.Items[1])
	}

	first, err := eng.Timeline(ctx, model.TimelineRequest{PersonID: p.ID, Limit: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Items) != 2 || !first.HasMore {
		t.Fatalf("first page: items=%d hasMore=%v", len(first.Items), first.HasMore)
	}
	second, err := eng.Timeline(ctx, model.TimelineRequest{PersonID: p.ID, Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Items) != 1 || second.HasMore || second.Items[0].ExternalID != "conv-1" {
		t.Fatalf("second page: %+v", second)
	}

	tasksOnly, err := eng.Timeline(ctx, model.TimelineRequest{PersonID: p.ID, Kind: model.KindTask})
	if err != nil {
		t.Fatalf("tasks only: %v", err)
	}
	if tasksOnly.Total != 1 || tasksOnly.Items[0].ExternalID != "task-1" {
		t.Fatalf("tasks only: %+v", tasksOnly)
	}
}

func TestTimeline_UnknownPerson(t *testing.T) {
	st := newTestStore(t)
	eng := New(st)
	if _, err := eng.Timeline(context.Background(), model.TimelineRequest{PersonID: 99}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPeriodStats_Ranges(t *testing.T) {
	st := newTestStore(t)
	p := seedPerson(t, st, "u-1")
	eng, today := fixedEngine(st)
	ctx := context.Background()

	// Monday 03-18 scores 2, today scores 3. The February row only shows
	// up in yearly totals.
	monday := today.AddDate(0, 0, -2)
	seedSummary(t, st, p.ID, monday, 2, 0)
	seedSummary(t, st, p.ID, today, 1, 1)
	seedSummary(t, st, p.ID, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), 4, 0)

	weekly, err := eng.PeriodStats(ctx, p.ID, PeriodWeekly, nil, nil)
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	if weekly.From != "2024-03-18" || weekly.To != "2024-03-20" {
		t.Fatalf("weekly range: %s..%s", weekly.From, weekly.To)
	}
	if weekly.Conversations != 3 || weekly.TasksCompleted != 1 || weekly.Score != 5 {
		t.Fatalf("weekly totals: %+v", weekly)
	}
	if len(weekly.Daily) != 2 || !weekly.Daily[0].Day.Before(weekly.Daily[1].Day) {
		t.Fatalf("weekly breakdown: %+v", weekly.Daily)
	}

	daily, err := eng.PeriodStats(ctx, p.ID, PeriodDaily, nil, nil)
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if daily.From != "2024-03-20" || daily.To != "2024-03-20" || daily.Score != 3 {
		t.Fatalf("daily: %+v", daily)
	}

	monthly, err := eng.PeriodStats(ctx, p.ID, PeriodMonthly, nil, nil)
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if monthly.From != "2024-03-01" || monthly.Score != 5 {
		t.Fatalf("monthly: %+v", monthly)
	}

	yearly, err := eng.PeriodStats(ctx, p.ID, PeriodYearly, nil, nil)
	if err != nil {
		t.Fatalf("yearly: %v", err)
	}
	if yearly.From != "2024-01-01" || yearly.Score != 9 {
		t.Fatalf("yearly: %+v", yearly)
	}
}

func TestPeriodStats_ExplicitRangeOverridesPeriod(t *testing.T) {
	st := newTestStore(t)
	p := seedPerson(t, st, "u-1")
	eng, today := fixedEngine(st)

	seedSummary(t, st, p.ID, today.AddDate(0, 0, -10), 1, 0)
	seedSummary(t, st, p.ID, today, 2, 0)

	from := today.AddDate(0, 0, -12)
	to := today.AddDate(0, 0, -9)
	got, err := eng.PeriodStats(context.Background(), p.ID, PeriodDaily, &from, &to)
	if err != nil {
		t.Fatalf("explicit range: %v", err)
	}
	if got.From != model.FormatDay(from) || got.To != model.FormatDay(to) {
		t.Fatalf("range echo: %s..%s", got.From, got.To)
	}
	if got.Score != 1 || len(got.Daily) != 1 {
		t.Fatalf("explicit range stats: %+v", got)
	}

	if _, err := eng.PeriodStats(context.Background(), p.ID, PeriodDaily, &to, &from); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("inverted range: want ErrValidation, got %v", err)
	}
}

func TestHeatmap_LevelsScaleToWindowMax(t *testing.T) {
	st := newTestStore(t)
	p := seedPerson(t, st, "u-1")
	eng, today := fixedEngine(st)

	// Scores 0, 1, 5, 10 across the last four days.
	seedSummary(t, st, p.ID, today.AddDate(0, 0, -3), 0, 0)
	seedSummary(t, st, p.ID, today.AddDate(0, 0, -2), 1, 0)
	seedSummary(t, st, p.ID, today.AddDate(0, 0, -1), 1, 2)
	seedSummary(t, st, p.ID, today, 2, 4)

	hm, err := eng.Heatmap(context.Background(), p.ID, 7)
	if err != nil {
		t.Fatalf("heatmap: %v", err)
	}
	if hm.TotalDays != 7 || len(hm.Points) != 7 {
		t.Fatalf("window: totalDays=%d points=%d", hm.TotalDays, len(hm.Points))
	}
	if hm.From != "2024-03-14" || hm.To != "2024-03-20" {
		t.Fatalf("window range: %s..%s", hm.From, hm.To)
	}
	if hm.MaxActivity != 10 || hm.ActiveDays != 3 {
		t.Fatalf("maxActivity=%d activeDays=%d", hm.MaxActivity, hm.ActiveDays)
	}
	wantLevels := []int{0, 0, 0, 0, 1, 3, 4}
	for i, pt := range hm.Points {
		if pt.Level != wantLevels[i] {
			t.Fatalf("point %s: count=%d level=%d want %d", pt.Day, pt.Count, pt.Level, wantLevels[i])
		}
	}
	if hm.Points[6].Count != 10 {
		t.Fatalf("today count: %d", hm.Points[6].Count)
	}
}

func TestHeatmap_EmptyWindow(t *testing.T) {
	st := newTestStore(t)
	p := seedPerson(t, st, "u-1")
	eng, _ := fixedEngine(st)

	hm, err := eng.Heatmap(context.Background(), p.ID, 14)
	if err != nil {
		t.Fatalf("heatmap: %v", err)
	}
	if len(hm.Points) != 14 || hm.ActiveDays != 0 || hm.MaxActivity != 1 {
		t.Fatalf("empty window: points=%d activeDays=%d max=%d", len(hm.Points), hm.ActiveDays, hm.MaxActivity)
	}
	for _, pt := range hm.Points {
		if pt.Count != 0 || pt.Level != 0 {
			t.Fatalf("point %s: count=%d level=%d", pt.Day, pt.Count, pt.Level)
		}
	}

	if _, err := eng.Heatmap(context.Background(), p.ID, 0); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("zero days: want ErrValidation, got %v", err)
	}
}

func TestStreak_CurrentAndLongest(t *testing.T) {
	st := newTestStore(t)
	p := seedPerson(t, st, "u-1")
	eng, today := fixedEngine(st)

	// Two runs: a 3-day run ending 7 days ago and a 4-day run ending today.
	for _, offset := range []int{-9, -8, -7, -3, -2, -1, 0} {
		seedSummary(t, st, p.ID, today.AddDate(0, 0, offset), 1, 0)
	}

	s, err := eng.Streak(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("streak: %v", err)
	}
	if s.CurrentStreak != 4 || s.LongestStreak != 4 {
		t.Fatalf("streaks: current=%d longest=%d", s.CurrentStreak, s.LongestStreak)
	}
	if s.CurrentStreakStart == nil || *s.CurrentStreakStart != "2024-03-17" {
		t.Fatalf("currentStart: %v", s.CurrentStreakStart)
	}
	if s.LongestStreakStart == nil || *s.LongestStreakStart != "2024-03-17" {
		t.Fatalf("longestStart: %v", s.LongestStreakStart)
	}
	if s.LongestStreakEnd == nil || *s.LongestStreakEnd != "2024-03-20" {
		t.Fatalf("longestEnd: %v", s.LongestStreakEnd)
	}
}

func TestStreak_BreaksWhenStale(t *testing.T) {
	st := newTestStore(t)
	p := seedPerson(t, st, "u-1")
	eng, today := fixedEngine(st)

	// Longest run of 3 ended five days ago; current streak is over.
	for _, offset := range []int{-7, -6, -5} {
		seedSummary(t, st, p.ID, today.AddDate(0, 0, offset), 1, 0)
	}

	s, err := eng.Streak(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("streak: %v", err)
	}
	if s.CurrentStreak != 0 || s.CurrentStreakStart != nil {
		t.Fatalf("stale current streak: %+v", s)
	}
	if s.LongestStreak != 3 || s.LongestStreakStart == nil || *s.LongestStreakStart != "2024-03-13" {
		t.Fatalf("longest: %+v", s)
	}
	if s.LongestStreakEnd == nil || *s.LongestStreakEnd != "2024-03-15" {
		t.Fatalf("longestEnd: %v", s.LongestStreakEnd)
	}
}

func TestStreak_YesterdayStillCounts(t *testing.T) {
	st := newTestStore(t)
	p := seedPerson(t, st, "u-1")
	eng, today := fixedEngine(st)

	seedSummary(t, st, p.ID, today.AddDate(0, 0, -2), 1, 0)
	seedSummary(t, st, p.ID, today.AddDate(0, 0, -1), 1, 0)

	s, err := eng.Streak(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("streak: %v", err)
	}
	if s.CurrentStreak != 2 || s.CurrentStreakStart == nil || *s.CurrentStreakStart != "2024-03-18" {
		t.Fatalf("yesterday-anchored streak: %+v", s)
	}
}

func TestStreak_NoActivity(t *testing.T) {
	st := newTestStore(t)
	p := seedPerson(t, st, "u-1")
	eng, _ := fixedEngine(st)

	s, err := eng.Streak(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("streak: %v", err)
	}
	if s.CurrentStreak != 0 || s.LongestStreak != 0 {
		t.Fatalf("empty streaks: %+v", s)
	}
	if s.CurrentStreakStart != nil || s.LongestStreakStart != nil || s.LongestStreakEnd != nil {
		t.Fatalf("empty streak dates: %+v", s)
	}
}

func TestLeaderboard_RanksByPeriodScore(t *testing.T) {
	st := newTestStore(t)
	pa := seedPerson(t, st, "u-a")
	pb := seedPerson(t, st, "u-b")
	eng, today := fixedEngine(st)

	// Person a scores 1 this month, person b scores 5+2.
	seedSummary(t, st, pa.ID, today.AddDate(0, 0, -1), 1, 0)
	seedSummary(t, st, pb.ID, today.AddDate(0, 0, -1), 1, 2)
	seedSummary(t, st, pb.ID, today, 2, 0)

	lb, err := eng.Leaderboard(context.Background(), PeriodMonthly, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if lb.Period != "monthly" || lb.From != "2024-03-01" || lb.To != "2024-03-20" {
		t.Fatalf("leaderboard range: %+v", lb)
	}
	if len(lb.Entries) != 2 {
		t.Fatalf("entries: %d", len(lb.Entries))
	}
	if lb.Entries[0].PersonID != pb.ID || lb.Entries[0].Score != 7 || lb.Entries[0].Rank != 1 {
		t.Fatalf("first entry: %+v", lb.Entries[0])
	}
	if lb.Entries[1].PersonID != pa.ID || lb.Entries[1].Score != 1 || lb.Entries[1].Rank != 2 {
		t.Fatalf("second entry: %+v", lb.Entries[1])
	}
}
