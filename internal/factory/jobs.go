package factory

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/jobs"
)

// NewJobRecorder returns the configured run-result backend. Without a Redis
// URL recording is disabled and the noop recorder is returned; job outcomes
// then live only in the logs.
func NewJobRecorder(cfg *config.Config, log zerolog.Logger) (jobs.Recorder, error) {
	if cfg.RedisURL == "" {
		log.Info().Msg("no redis url configured; job run recording disabled")
		return jobs.NoopRecorder{}, nil
	}
	rec, err := jobs.NewRedisRecorder(cfg.RedisURL, time.Duration(cfg.JobResultTTLSecs)*time.Second)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
