// Package stats derives read-side statistics from daily summaries and the
// activity ledger. The engine never writes.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/store"
)

// Period names accepted by period-scoped statistics.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
	PeriodAllTime Period = "all_time"
)

// allTimeStart bounds all_time ranges; no tracked activity predates it.
var allTimeStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// ParsePeriod maps a wire value onto a Period. Empty defaults to monthly.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "":
		return PeriodMonthly, nil
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodYearly, PeriodAllTime:
		return Period(s), nil
	}
	return "", fmt.Errorf("%w: unknown period %q", model.ErrValidation, s)
}

// PeriodStats aggregates a person's summaries over a day range.
type PeriodStats struct {
	PersonID       int64                 `json:"personId"`
	Period         string                `json:"period,omitempty"`
	From           string                `json:"from"`
	To             string                `json:"to"`
	Conversations  int                   `json:"conversations"`
	TasksCompleted int                   `json:"tasksCompleted"`
	Score          int                   `json:"score"`
	Daily          []*model.DailySummary `json:"dailyBreakdown"`
}

// HeatmapPoint is one day cell with its GitHub-style intensity level.
type HeatmapPoint struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
	Level int    `json:"level"`
}

// Heatmap covers a fixed window of consecutive days ending today.
type Heatmap struct {
	PersonID    int64           `json:"personId"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	TotalDays   int             `json:"totalDays"`
	ActiveDays  int             `json:"activeDays"`
	MaxActivity int             `json:"maxActivity"`
	Points      []*HeatmapPoint `json:"points"`
}

// Streak reports consecutive-active-day runs. Day fields are nil when the
// corresponding streak is zero.
type Streak struct {
	PersonID           int64   `json:"personId"`
	CurrentStreak      int     `json:"currentStreak"`
	LongestStreak      int     `json:"longestStreak"`
	CurrentStreakStart *string `json:"currentStreakStart,omitempty"`
	LongestStreakStart *string `json:"longestStreakStart,omitempty"`
	LongestStreakEnd   *string `json:"longestStreakEnd,omitempty"`
}

// Leaderboard ranks everyone with activity inside the period.
type Leaderboard struct {
	Period  string                    `json:"period"`
	From    string                    `json:"from"`
	To      string                    `json:"to"`
	Entries []*model.LeaderboardEntry `json:"entries"`
}

// Engine computes statistics against a store. The clock is injected so tests
// can pin what "today" means.
type Engine struct {
	store store.Store
	now   func() time.Time
}

func New(st store.Store) *Engine { return &Engine{store: st, now: time.Now} }

// NewWithClock builds an engine with a fixed notion of the current instant.
func NewWithClock(st store.Store, now func() time.Time) *Engine {
	return &Engine{store: st, now: now}
}

func (e *Engine) today() time.Time { return model.DayOf(e.now()) }

// rangeFor returns the inclusive [from, to] day range of a period ending today.
func (e *Engine) rangeFor(p Period) (time.Time, time.Time) {
	today := e.today()
	switch p {
	case PeriodDaily:
		return today, today
	case PeriodWeekly:
		offset := (int(today.Weekday()) + 6) % 7 // days since Monday
		return today.AddDate(0, 0, -offset), today
	case PeriodYearly:
		return time.Date(today.Year(), 1, 1, 0, 0, 0, 0, time.UTC), today
	case PeriodAllTime:
		return allTimeStart, today
	default:
		return time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC), today
	}
}

// Timeline merges both event kinds into one reverse-chronological page.
func (e *Engine) Timeline(ctx context.Context, req model.TimelineRequest) (*model.TimelinePage, error) {
	if _, err := e.store.Persons().Get(ctx, req.PersonID); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	items := make([]*model.TimelineItem, 0)
	if req.Kind == "" || req.Kind == model.KindConversation {
		conversations, err := e.store.Activities().ListConversations(ctx, req.PersonID, req.From, req.To)
		if err != nil {
			return nil, err
		}
		for _, c := range conversations {
			items = append(items, &model.TimelineItem{
				Kind:       model.KindConversation,
				ExternalID: c.ExternalID,
				Title:      c.Title,
				OccurredAt: c.OccurredAt,
			})
		}
	}
	if req.Kind == "" || req.Kind == model.KindTask {
		tasks, err := e.store.Activities().ListTasks(ctx, req.PersonID, req.From, req.To)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			items = append(items, &model.TimelineItem{
				Kind:        model.KindTask,
				ExternalID:  t.ExternalID,
				Title:       t.Title,
				ProjectName: t.ProjectName,
				OccurredAt:  t.CompletedAt,
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].OccurredAt.After(items[j].OccurredAt)
	})

	total := len(items)
	start := offset
	if start > total {
		start = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return &model.TimelinePage{
		Total:   total,
		Items:   items[start:end],
		HasMore: offset+limit < total,
	}, nil
}

// PeriodStats sums the person's summaries over a named period or an explicit
// range; both range bounds must be set to override the period.
func (e *Engine) PeriodStats(ctx context.Context, personID int64, period Period, from, to *time.Time) (*PeriodStats, error) {
	if _, err := e.store.Persons().Get(ctx, personID); err != nil {
		return nil, err
	}

	var start, end time.Time
	if from != nil && to != nil {
		start, end = model.DayOf(*from), model.DayOf(*to)
		if end.Before(start) {
			return nil, fmt.Errorf("%w: end day before start day", model.ErrValidation)
		}
	} else {
		start, end = e.rangeFor(period)
	}

	summaries, err := e.store.Summaries().ListRange(ctx, personID, start, end)
	if err != nil {
		return nil, err
	}

	out := &PeriodStats{
		PersonID: personID,
		Period:   string(period),
		From:     model.FormatDay(start),
		To:       model.FormatDay(end),
		Daily:    summaries,
	}
	if out.Daily == nil {
		out.Daily = make([]*model.DailySummary, 0)
	}
	for _, s := range summaries {
		out.Conversations += s.Conversations
		out.TasksCompleted += s.TasksCompleted
		out.Score += s.Score
	}
	return out, nil
}

// Heatmap produces exactly days points ending today. Missing summaries count
// as zero; levels scale against the window maximum.
func (e *Engine) Heatmap(ctx context.Context, personID int64, days int) (*Heatmap, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", model.ErrValidation)
	}
	if _, err := e.store.Persons().Get(ctx, personID); err != nil {
		return nil, err
	}

	end := e.today()
	start := end.AddDate(0, 0, -(days - 1))
	summaries, err := e.store.Summaries().ListRange(ctx, personID, start, end)
	if err != nil {
		return nil, err
	}

	scoreByDay := make(map[string]int, len(summaries))
	maxActivity := 0
	for _, s := range summaries {
		scoreByDay[model.FormatDay(s.Day)] = s.Score
		if s.Score > maxActivity {
			maxActivity = s.Score
		}
	}
	if len(summaries) == 0 {
		maxActivity = 1
	}

	out := &Heatmap{
		PersonID:    personID,
		From:        model.FormatDay(start),
		To:          model.FormatDay(end),
		TotalDays:   days,
		MaxActivity: maxActivity,
		Points:      make([]*HeatmapPoint, 0, days),
	}
	for day := start; !day.After(end); day = model.NextDay(day) {
		count := scoreByDay[model.FormatDay(day)]
		if count > 0 {
			out.ActiveDays++
		}
		out.Points = append(out.Points, &HeatmapPoint{
			Day:   model.FormatDay(day),
			Count: count,
			Level: heatmapLevel(count, maxActivity),
		})
	}
	return out, nil
}

func heatmapLevel(count, maxActivity int) int {
	m := float64(maxActivity)
	switch {
	case count == 0:
		return 0
	case float64(count) >= m*0.75:
		return 4
	case float64(count) >= m*0.5:
		return 3
	case float64(count) >= m*0.25:
		return 2
	default:
		return 1
	}
}

// Streak walks the person's active days. The current streak counts only when
// the most recent active day is today or yesterday.
func (e *Engine) Streak(ctx context.Context, personID int64) (*Streak, error) {
	if _, err := e.store.Persons().Get(ctx, personID); err != nil {
		return nil, err
	}

	activeDays, err := e.store.Summaries().ListActiveDays(ctx, personID)
	if err != nil {
		return nil, err
	}
	out := &Streak{PersonID: personID}
	if len(activeDays) == 0 {
		return out, nil
	}

	var longestStart, longestEnd time.Time
	tempStreak := 1
	tempStart := activeDays[0]
	for i := 1; i < len(activeDays); i++ {
		if model.DaysApart(activeDays[i-1], activeDays[i]) == 1 {
			tempStreak++
			continue
		}
		if tempStreak > out.LongestStreak {
			out.LongestStreak = tempStreak
			longestStart, longestEnd = tempStart, activeDays[i-1]
		}
		tempStreak = 1
		tempStart = activeDays[i]
	}
	if tempStreak > out.LongestStreak {
		out.LongestStreak = tempStreak
		longestStart, longestEnd = tempStart, activeDays[len(activeDays)-1]
	}
	out.LongestStreakStart = dayPtr(longestStart)
	out.LongestStreakEnd = dayPtr(longestEnd)

	today := e.today()
	last := activeDays[len(activeDays)-1]
	if model.DaysApart(last, today) <= 1 {
		out.CurrentStreak = 1
		currentStart := last
		for i := len(activeDays) - 2; i >= 0; i-- {
			if model.DaysApart(activeDays[i], activeDays[i+1]) != 1 {
				break
			}
			out.CurrentStreak++
			currentStart = activeDays[i]
		}
		out.CurrentStreakStart = dayPtr(currentStart)
	}
	return out, nil
}

// Leaderboard ranks per-person score sums over the period ending today.
func (e *Engine) Leaderboard(ctx context.Context, period Period, limit int) (*Leaderboard, error) {
	from, to := e.rangeFor(period)
	entries, err := e.store.Summaries().Leaderboard(ctx, from, to, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = make([]*model.LeaderboardEntry, 0)
	}
	return &Leaderboard{
		Period:  string(period),
		From:    model.FormatDay(from),
		To:      model.FormatDay(to),
		Entries: entries,
	}, nil
}

func dayPtr(day time.Time) *string {
	s := model.FormatDay(day)
	return &s
}
