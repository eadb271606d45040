package api

import (
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/aggregate"
	"github.com/pulseboard/pulseboard/internal/api/recovery"
	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/jobs"
	"github.com/pulseboard/pulseboard/internal/services"
	"github.com/pulseboard/pulseboard/internal/source"
	"github.com/pulseboard/pulseboard/internal/stats"
	"github.com/pulseboard/pulseboard/internal/store"
	activitysync "github.com/pulseboard/pulseboard/internal/sync"
)

// NewRouter wires HTTP routes to handlers. Services are built here from the
// injected store and provider; nothing reaches for globals.
func NewRouter(st store.Store, provider source.Provider, recorder jobs.Recorder, cfg *config.Config, log zerolog.Logger) *mux.Router {
	root := mux.NewRouter()
	root.Use(recovery.Middleware)

	// Person directory
	personSvc := services.NewPersonService(st)
	person := NewPersonHandler(personSvc)
	root.HandleFunc("/api/v1/persons", person.CreatePerson).Methods("POST")
	root.HandleFunc("/api/v1/persons", person.ListPersons).Methods("GET")
	root.HandleFunc("/api/v1/persons/by-external/{externalId}", person.GetPersonByExternalID).Methods("GET")
	root.HandleFunc("/api/v1/persons/{personId}", person.GetPerson).Methods("GET")
	root.HandleFunc("/api/v1/persons/{personId}", person.UpdatePerson).Methods("PUT")
	root.HandleFunc("/api/v1/persons/{personId}", person.DeletePerson).Methods("DELETE")

	// Activity statistics
	engine := stats.New(st)
	activity := NewStatsHandler(engine)
	root.HandleFunc("/api/v1/activities/leaderboard", activity.Leaderboard).Methods("GET")
	root.HandleFunc("/api/v1/activities/person/{personId}", activity.Timeline).Methods("GET")
	root.HandleFunc("/api/v1/activities/person/{personId}/stats", activity.PeriodStats).Methods("GET")
	root.HandleFunc("/api/v1/activities/person/{personId}/heatmap", activity.Heatmap).Methods("GET")
	root.HandleFunc("/api/v1/activities/person/{personId}/streak", activity.Streak).Methods("GET")

	// Workspace cache reads
	cacheSvc := cache.NewService(st)
	cached := NewCacheHandler(cacheSvc, time.Duration(cfg.CacheMaxAgeMinutes)*time.Minute)
	root.HandleFunc("/api/v1/projects", cached.Projects).Methods("GET")
	root.HandleFunc("/api/v1/projects/statistics", cached.ProjectStatistics).Methods("GET")
	root.HandleFunc("/api/v1/projects/health/{healthColor}", cached.ProjectsByHealth).Methods("GET")
	root.HandleFunc("/api/v1/tasks", cached.Tasks).Methods("GET")
	root.HandleFunc("/api/v1/tasks/filter", cached.FilterTasks).Methods("GET")
	root.HandleFunc("/api/v1/todos", cached.Todos).Methods("GET")
	root.HandleFunc("/api/v1/todos/overdue", cached.OverdueTodos).Methods("GET")
	root.HandleFunc("/api/v1/todos/statistics", cached.TodoStatistics).Methods("GET")
	root.HandleFunc("/api/v1/todos/active", cached.ActiveTodos).Methods("GET")
	root.HandleFunc("/api/v1/todos/member/{memberName}", cached.MemberTodos).Methods("GET")
	root.HandleFunc("/api/v1/members", cached.Members).Methods("GET")
	root.HandleFunc("/api/v1/employees", cached.Employees).Methods("GET")
	root.HandleFunc("/api/v1/cache/status", cached.ListStatus).Methods("GET")
	root.HandleFunc("/api/v1/cache/status/{cacheType}", cached.Status).Methods("GET")
	root.HandleFunc("/api/v1/cache/fresh/{cacheType}", cached.Fresh).Methods("GET")

	// Maintenance surface
	syncer := activitysync.NewSyncer(st, provider, log)
	agg := aggregate.New(st, log)
	refresher := cache.NewRefresher(st, provider, syncer, agg, log)
	admin := NewAdminHandler(refresher, syncer, agg, recorder)
	root.HandleFunc("/api/v1/cache/refresh/{cacheType}", admin.TriggerRefresh).Methods("POST")
	root.HandleFunc("/api/v1/cache/unlock/{cacheType}", admin.ForceUnlock).Methods("POST")
	root.HandleFunc("/api/v1/activities/sync", admin.SyncActivities).Methods("POST")
	root.HandleFunc("/api/v1/activities/aggregate", admin.Aggregate).Methods("POST")
	root.HandleFunc("/api/v1/activities/aggregate-month", admin.AggregateMonth).Methods("POST")
	root.HandleFunc("/api/v1/admin/jobs/{job}", admin.LastJobRun).Methods("GET")

	// Health
	healthHandler := NewHealthHandler()
	root.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")

	return root
}
