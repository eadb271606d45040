// Package cache maintains local mirrors of the workspace source and serves
// reads from them. Refreshes replace whole snapshots under a per-type lock;
// reads never wait on a refresh in flight.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/aggregate"
	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/source"
	"github.com/pulseboard/pulseboard/internal/store"
	activitysync "github.com/pulseboard/pulseboard/internal/sync"
)

// Refresh outcome statuses reported to callers and the scheduler.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// RefreshResult reports one refresh attempt. A skipped result means another
// refresh of the same type held the lock; nothing was fetched or written.
type RefreshResult struct {
	CacheType       string  `json:"cacheType"`
	Status          string  `json:"status"`
	Records         int     `json:"records"`
	DurationSeconds float64 `json:"durationSeconds"`
	Error           string  `json:"error,omitempty"`
}

// Refresher drives the per-type refresh protocol: take the lock, fetch a full
// snapshot, replace atomically, record metadata, release.
type Refresher struct {
	store    store.Store
	provider source.Provider
	syncer   *activitysync.Syncer
	agg      *aggregate.Aggregator
	log      zerolog.Logger
	now      func() time.Time
}

func NewRefresher(st store.Store, p source.Provider, syncer *activitysync.Syncer, agg *aggregate.Aggregator, log zerolog.Logger) *Refresher {
	return &Refresher{store: st, provider: p, syncer: syncer, agg: agg, log: log, now: time.Now}
}

// NewRefresherWithClock pins the refresher's clock; the activities refresh
// derives its year-to-date aggregation range from it.
func NewRefresherWithClock(st store.Store, p source.Provider, syncer *activitysync.Syncer, agg *aggregate.Aggregator, log zerolog.Logger, now func() time.Time) *Refresher {
	r := NewRefresher(st, p, syncer, agg, log)
	r.now = now
	return r
}

// Refresh runs one refresh attempt for cacheType. The error return is non-nil
// only for real failures, which the result mirrors with StatusError; callers
// that retry do so from the lock step.
func (r *Refresher) Refresh(ctx context.Context, cacheType string) (*RefreshResult, error) {
	if !model.ValidCacheType(cacheType) {
		return nil, fmt.Errorf("%w: unknown cache type %q", model.ErrValidation, cacheType)
	}

	ok, err := r.store.Caches().BeginRefresh(ctx, cacheType)
	if err != nil {
		return nil, fmt.Errorf("begin refresh %s: %w", cacheType, err)
	}
	if !ok {
		r.log.Info().Str("cache_type", cacheType).Msg("refresh already in progress, skipping")
		return &RefreshResult{CacheType: cacheType, Status: StatusSkipped}, nil
	}

	start := time.Now()
	records, err := r.load(ctx, cacheType)
	duration := time.Since(start)

	// The run context may already be canceled or past its deadline; the
	// metadata write releasing the lock gets its own.
	metaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err != nil {
		if mdErr := r.store.Caches().FailRefresh(metaCtx, cacheType, err.Error(), duration); mdErr != nil {
			r.log.Error().Err(mdErr).Str("cache_type", cacheType).Msg("failed to record refresh failure")
		}
		r.log.Error().Err(err).Str("cache_type", cacheType).Msg("cache refresh failed")
		return &RefreshResult{
			CacheType:       cacheType,
			Status:          StatusError,
			DurationSeconds: duration.Seconds(),
			Error:           err.Error(),
		}, err
	}

	if err := r.store.Caches().CompleteRefresh(metaCtx, cacheType, records, duration); err != nil {
		return nil, fmt.Errorf("complete refresh %s: %w", cacheType, err)
	}
	r.log.Info().
		Str("cache_type", cacheType).
		Int("records", records).
		Float64("duration_s", duration.Seconds()).
		Msg("cache refreshed")
	return &RefreshResult{
		CacheType:       cacheType,
		Status:          StatusSuccess,
		Records:         records,
		DurationSeconds: duration.Seconds(),
	}, nil
}

// ForceUnlock clears a lock left behind by a refresh that died mid-flight.
// Operator action; there is no automatic timeout.
func (r *Refresher) ForceUnlock(ctx context.Context, cacheType string) error {
	if !model.ValidCacheType(cacheType) {
		return fmt.Errorf("%w: unknown cache type %q", model.ErrValidation, cacheType)
	}
	if err := r.store.Caches().ForceUnlock(ctx, cacheType); err != nil {
		return err
	}
	r.log.Warn().Str("cache_type", cacheType).Msg("refresh lock force-cleared")
	return nil
}

func (r *Refresher) load(ctx context.Context, cacheType string) (int, error) {
	switch cacheType {
	case model.CacheProjects:
		return r.loadProjects(ctx)
	case model.CacheTasks:
		return r.loadTasks(ctx)
	case model.CacheTodos:
		return r.loadTodos(ctx)
	case model.CacheActivities:
		return r.loadActivities(ctx)
	}
	return 0, fmt.Errorf("%w: unknown cache type %q", model.ErrValidation, cacheType)
}

func (r *Refresher) loadProjects(ctx context.Context) (int, error) {
	projects, err := r.provider.FetchProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch projects: %w", err)
	}
	items := make([]*model.CachedProject, 0, len(projects))
	for _, p := range projects {
		items = append(items, &model.CachedProject{
			PageID:          p.PageID,
			Name:            p.Name,
			HealthStatus:    p.HealthStatus,
			HealthColor:     p.HealthColor,
			Status:          p.Status,
			Priority:        p.Priority,
			PriorityColor:   p.PriorityColor,
			Assignees:       p.Assignees,
			TaskCount:       p.TaskCount,
			URL:             p.URL,
			SourceCreatedAt: p.CreatedAt,
			SourceEditedAt:  p.EditedAt,
		})
	}
	return r.store.Caches().ReplaceProjects(ctx, items)
}

func (r *Refresher) loadTasks(ctx context.Context) (int, error) {
	tasks, err := r.provider.FetchTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch tasks: %w", err)
	}
	items := make([]*model.CachedTask, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, &model.CachedTask{
			PageID:          t.PageID,
			Name:            t.Name,
			Status:          t.Status,
			Priority:        t.Priority,
			Effort:          t.Effort,
			Description:     t.Description,
			DueDate:         t.DueDate,
			Types:           t.Types,
			Assignees:       t.Assignees,
			SourceCreatedAt: t.CreatedAt,
			SourceEditedAt:  t.EditedAt,
		})
	}
	return r.store.Caches().ReplaceTasks(ctx, items)
}

// loadTodos refreshes the member roster alongside the todo boards; the source
// serves both from the same board walk. The record count covers todos only.
func (r *Refresher) loadTodos(ctx context.Context) (int, error) {
	members, err := r.provider.FetchMembers(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch members: %w", err)
	}
	roster := make([]*model.CachedMember, 0, len(members))
	for _, m := range members {
		roster = append(roster, &model.CachedMember{
			Name:       m.Name,
			Position:   m.Position,
			Status:     m.Status,
			TelegramID: m.TelegramID,
			StartDate:  m.StartDate,
		})
	}
	if _, err := r.store.Caches().UpsertMembers(ctx, roster); err != nil {
		return 0, fmt.Errorf("upsert members: %w", err)
	}

	todos, err := r.provider.FetchTodos(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch todos: %w", err)
	}
	// The same todo can sit on several member boards; first occurrence wins.
	seen := make(map[string]bool, len(todos))
	items := make([]*model.CachedTodo, 0, len(todos))
	for _, td := range todos {
		if seen[td.TodoID] {
			continue
		}
		seen[td.TodoID] = true
		items = append(items, &model.CachedTodo{
			TodoID:     td.TodoID,
			MemberName: td.MemberName,
			Name:       td.Name,
			Status:     td.Status,
			Deadline:   td.Deadline,
			DoneAt:     td.DoneAt,
			Overdue:    td.Overdue,
			ProjectIDs: td.ProjectIDs,
			URL:        td.URL,
		})
	}
	return r.store.Caches().ReplaceTodos(ctx, items)
}

// loadActivities runs a full activity sync followed by a year-to-date
// aggregation so every summary this year reflects the fresh ledger.
func (r *Refresher) loadActivities(ctx context.Context) (int, error) {
	stats, err := r.syncer.Run(ctx)
	if err != nil {
		return 0, err
	}

	today := model.DayOf(r.now())
	startOfYear := time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	written, err := r.agg.BulkAggregate(ctx, startOfYear, today)
	if err != nil {
		return 0, fmt.Errorf("aggregate year to date: %w", err)
	}
	r.log.Info().
		Int("conversations", stats.ConversationsSynced).
		Int("tasks", stats.TasksSynced).
		Int("summaries_written", written).
		Msg("activities refreshed")
	return stats.ConversationsSynced + stats.TasksSynced, nil
}
