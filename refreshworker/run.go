package refreshworker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulseboard/pulseboard/internal/aggregate"
	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/factory"
	"github.com/pulseboard/pulseboard/internal/logger"
	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/scheduler"
	activitysync "github.com/pulseboard/pulseboard/internal/sync"
)

// Run starts the refresh worker and blocks until shutdown.
func Run() error {
	log := logger.New("refresh-worker")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store open")
	}

	provider, err := factory.NewSourceProvider(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("workspace source")
	}

	recorder, err := factory.NewJobRecorder(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("job recorder")
	}

	syncer := activitysync.NewSyncer(st, provider, log)
	agg := aggregate.New(st, log)
	refresher := cache.NewRefresher(st, provider, syncer, agg, log)

	// Optional one-shot backfill so a fresh deployment has history before the
	// first scheduled activities run.
	if cfg.AggregateBackfillDays > 0 {
		to := model.DayOf(time.Now().UTC())
		from := to.AddDate(0, 0, -(cfg.AggregateBackfillDays - 1))
		written, err := agg.BulkAggregate(ctx, from, to)
		if err != nil {
			log.Error().Stack().Err(err).Msg("startup aggregation backfill failed")
		} else {
			log.Info().Int("summaries", written).Int("days", cfg.AggregateBackfillDays).Msg("startup aggregation backfill complete")
		}
	}

	sched := scheduler.New(refresher, recorder, scheduler.Config{
		CacheRefreshInterval:    time.Duration(cfg.CacheRefreshMinutes) * time.Minute,
		ActivityRefreshInterval: time.Duration(cfg.ActivityRefreshHours) * time.Hour,
		JobTimeout:              time.Duration(cfg.JobTimeoutMinutes) * time.Minute,
		RetryBase:               time.Duration(cfg.RefreshRetryBaseSecs) * time.Second,
		// RefreshMaxRetries counts retries; attempts include the first try.
		MaxAttempts: cfg.RefreshMaxRetries + 1,
	}, log)

	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("scheduler start")
	}
	log.Info().
		Int("cache_refresh_minutes", cfg.CacheRefreshMinutes).
		Int("activity_refresh_hours", cfg.ActivityRefreshHours).
		Msg("refresh worker running")

	<-ctx.Done()
	sched.Stop()
	return nil
}
