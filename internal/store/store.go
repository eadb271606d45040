package store

import (
	"context"
	"time"

	"github.com/pulseboard/pulseboard/internal/model"
)

// Store exposes persistence operations required by services.
// Implementations live under internal/store/<driver>/ (e.g., postgres, sqlite).
type Store interface {
	Persons() Persons
	Activities() Activities
	Summaries() Summaries
	Caches() Caches
}

type Persons interface {
	Create(ctx context.Context, p *model.Person) (*model.Person, error)
	Get(ctx context.Context, id int64) (*model.Person, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.Person, error)
	// List returns one page plus the total match count.
	List(ctx context.Context, req model.ListPersonsRequest) ([]*model.Person, int, error)
	ListIDs(ctx context.Context) ([]int64, error)
	Update(ctx context.Context, id int64, req model.UpdatePersonRequest) (*model.Person, error)
	Delete(ctx context.Context, id int64) error
}

type Activities interface {
	// UpsertConversation inserts or refreshes one (external, person) event.
	// Display fields follow the source; OccurredAt is rewritten only when the
	// source reports a different instant.
	UpsertConversation(ctx context.Context, c *model.Conversation) (*model.Conversation, error)
	UpsertTask(ctx context.Context, t *model.TaskCompletion) (*model.TaskCompletion, error)
	ListConversations(ctx context.Context, personID int64, from, to *time.Time) ([]*model.Conversation, error)
	ListTasks(ctx context.Context, personID int64, from, to *time.Time) ([]*model.TaskCompletion, error)
	// CountInRange counts both kinds in the half-open interval [from, to).
	CountInRange(ctx context.Context, personID int64, from, to time.Time) (conversations, tasks int, err error)
}

type Summaries interface {
	// Upsert fully replaces the (person, day) rollup.
	Upsert(ctx context.Context, s *model.DailySummary) (*model.DailySummary, error)
	Get(ctx context.Context, personID int64, day time.Time) (*model.DailySummary, error)
	// ListRange returns summaries for days in [from, to] ascending by day.
	ListRange(ctx context.Context, personID int64, from, to time.Time) ([]*model.DailySummary, error)
	// ListActiveDays returns every day with score > 0, ascending.
	ListActiveDays(ctx context.Context, personID int64) ([]time.Time, error)
	// Leaderboard sums scores per person over [from, to] and ranks them
	// descending; equal scores order by ascending person ID.
	Leaderboard(ctx context.Context, from, to time.Time, limit int) ([]*model.LeaderboardEntry, error)
}

type Caches interface {
	ReplaceProjects(ctx context.Context, items []*model.CachedProject) (int, error)
	ListProjects(ctx context.Context) ([]*model.CachedProject, error)
	ReplaceTasks(ctx context.Context, items []*model.CachedTask) (int, error)
	ListTasks(ctx context.Context) ([]*model.CachedTask, error)
	ReplaceTodos(ctx context.Context, items []*model.CachedTodo) (int, error)
	ListTodos(ctx context.Context) ([]*model.CachedTodo, error)
	UpsertMembers(ctx context.Context, items []*model.CachedMember) (int, error)
	ListMembers(ctx context.Context) ([]*model.CachedMember, error)

	// BeginRefresh attempts to take the per-type refresh lock with a
	// conditional update. It returns false when another refresh holds it.
	BeginRefresh(ctx context.Context, cacheType string) (bool, error)
	// CompleteRefresh records a successful refresh and releases the lock.
	CompleteRefresh(ctx context.Context, cacheType string, records int, duration time.Duration) error
	// FailRefresh records the failure message and releases the lock.
	FailRefresh(ctx context.Context, cacheType string, message string, duration time.Duration) error
	GetMetadata(ctx context.Context, cacheType string) (*model.CacheMetadata, error)
	ListMetadata(ctx context.Context) ([]*model.CacheMetadata, error)
	// ForceUnlock clears the in-progress flag unconditionally. Operator
	// recovery for a refresh that died without releasing the lock.
	ForceUnlock(ctx context.Context, cacheType string) error
}
