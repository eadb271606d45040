// Package scheduler drives the periodic cache refreshes: one cron job per
// cache type, each run bounded by a deadline and retried with exponential
// backoff on failure.
package scheduler

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/jobs"
	"github.com/pulseboard/pulseboard/internal/model"
)

// Config controls cadence, per-run deadlines and the retry policy.
type Config struct {
	CacheRefreshInterval    time.Duration // projects, tasks, todos
	ActivityRefreshInterval time.Duration // activities sync + aggregation
	JobTimeout              time.Duration // hard deadline per run
	RetryBase               time.Duration // first retry wait, doubling after
	MaxAttempts             int           // attempts per run including the first
}

// Scheduler owns the cron table. Jobs for different cache types may overlap;
// the refresher's lock keeps a single type from overlapping itself.
type Scheduler struct {
	refresher *cache.Refresher
	recorder  jobs.Recorder
	cfg       Config
	log       zerolog.Logger
	cron      *rcron.Cron
}

func New(r *cache.Refresher, rec jobs.Recorder, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.CacheRefreshInterval <= 0 {
		cfg.CacheRefreshInterval = 30 * time.Minute
	}
	if cfg.ActivityRefreshInterval <= 0 {
		cfg.ActivityRefreshInterval = 12 * time.Hour
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	return &Scheduler{refresher: r, recorder: rec, cfg: cfg, log: log}
}

// Start registers every cache type and begins ticking.
func (s *Scheduler) Start() error {
	s.cron = rcron.New()
	for _, cacheType := range model.CacheTypes {
		interval := s.cfg.CacheRefreshInterval
		if cacheType == model.CacheActivities {
			interval = s.cfg.ActivityRefreshInterval
		}
		ct := cacheType
		if _, err := s.cron.AddFunc("@every "+interval.String(), func() { s.runJob(ct) }); err != nil {
			return err
		}
		s.log.Info().Str("cache_type", ct).Dur("interval", interval).Msg("refresh job scheduled")
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron table and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runJob(cacheType string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	record := s.RunOnce(ctx, cacheType)

	// The job deadline may already be spent; the record write gets its own.
	recCtx, recCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer recCancel()
	if err := s.recorder.Record(recCtx, record); err != nil {
		s.log.Warn().Err(err).Str("cache_type", cacheType).Msg("failed to record job run")
	}
}

// RunOnce executes a single scheduled run: refresh, retrying failures with
// exponential backoff until MaxAttempts or the context gives out. Skipped
// results are terminal; another refresh already holds the type.
func (s *Scheduler) RunOnce(ctx context.Context, cacheType string) jobs.RunRecord {
	start := time.Now()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.RetryBase
	exp.Multiplier = 2
	exp.MaxInterval = 30 * time.Minute
	exp.MaxElapsedTime = 0
	exp.Reset()

	attempts := 0
	var res *cache.RefreshResult
	var err error
	for {
		res, err = s.refresher.Refresh(ctx, cacheType)
		attempts++
		if err == nil || attempts >= s.cfg.MaxAttempts {
			break
		}
		wait := exp.NextBackOff()
		s.log.Warn().
			Str("cache_type", cacheType).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Err(err).
			Msg("refresh attempt failed")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	record := jobs.RunRecord{
		Job:             cacheType,
		Attempts:        attempts,
		DurationSeconds: time.Since(start).Seconds(),
		FinishedAt:      time.Now().UTC(),
	}
	if res != nil {
		record.Status = res.Status
		record.Records = res.Records
	}
	if err != nil {
		if record.Status == "" {
			record.Status = cache.StatusError
		}
		record.Error = err.Error()
	}
	return record
}
