package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// RecorderHealthChecker monitors the Redis result backend. Only wired when a
// RedisRecorder is configured; the noop recorder needs no checking.
type RecorderHealthChecker struct {
	recorder     *RedisRecorder
	healthy      atomic.Int32
	log          zerolog.Logger
	probeTimeout time.Duration
}

func NewRecorderHealthChecker(r *RedisRecorder, log zerolog.Logger, probeTimeout time.Duration) *RecorderHealthChecker {
	hc := &RecorderHealthChecker{recorder: r, log: log, probeTimeout: probeTimeout}
	hc.healthy.Store(0) // start unhealthy until first successful probe
	return hc
}

func (c *RecorderHealthChecker) Name() string    { return "jobs" }
func (c *RecorderHealthChecker) IsHealthy() bool { return c.healthy.Load() == 1 }

func (c *RecorderHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		to := c.probeTimeout
		if to <= 0 {
			to = 2 * time.Second
		}
		checkCtx, cancel := context.WithTimeout(ctx, to)
		defer cancel()

		if err := c.recorder.Ping(checkCtx); err != nil {
			c.healthy.Store(0)
			c.log.Error().Stack().Str("checker", c.Name()).Err(err).Msg("redis health check failed")
			return
		}
		c.healthy.Store(1)
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
