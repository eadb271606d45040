// Package jobs records scheduled job outcomes in Redis so operators can see
// the most recent run per job without trawling logs. Records expire; Redis
// holds recent history, not an audit trail.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulseboard/pulseboard/internal/model"
)

// DefaultTTL matches the original deployment's one-hour result retention.
const DefaultTTL = time.Hour

// RunRecord is one finished scheduler run.
type RunRecord struct {
	Job             string    `json:"job"`
	Status          string    `json:"status"`
	Records         int       `json:"records"`
	Attempts        int       `json:"attempts"`
	DurationSeconds float64   `json:"durationSeconds"`
	Error           string    `json:"error,omitempty"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// Recorder persists run outcomes. The scheduler treats recording as best
// effort; a recorder failure never fails the job itself.
type Recorder interface {
	Record(ctx context.Context, rec RunRecord) error
	LastRun(ctx context.Context, job string) (*RunRecord, error)
}

// RedisRecorder keeps the latest record per job under a TTL'd key.
type RedisRecorder struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Recorder = (*RedisRecorder)(nil)

// NewRedisRecorder connects to redisURL and verifies the connection.
func NewRedisRecorder(redisURL string, ttl time.Duration) (*RedisRecorder, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisRecorderWithClient(client, ttl), nil
}

// NewRedisRecorderWithClient wraps an existing client.
func NewRedisRecorderWithClient(client *redis.Client, ttl time.Duration) *RedisRecorder {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRecorder{client: client, prefix: "jobrun:", ttl: ttl}
}

func (r *RedisRecorder) key(job string) string { return r.prefix + job }

func (r *RedisRecorder) Record(ctx context.Context, rec RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	if err := r.client.Set(ctx, r.key(rec.Job), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("record job run: %w", err)
	}
	return nil
}

func (r *RedisRecorder) LastRun(ctx context.Context, job string) (*RunRecord, error) {
	data, err := r.client.Get(ctx, r.key(job)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: no recent run for job %q", model.ErrNotFound, job)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup job run: %w", err)
	}
	var rec RunRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	return &rec, nil
}

// Ping reports whether Redis is reachable.
func (r *RedisRecorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRecorder) Close() error { return r.client.Close() }

// NoopRecorder drops records. Used when no Redis is configured.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) Record(context.Context, RunRecord) error { return nil }

func (NoopRecorder) LastRun(_ context.Context, job string) (*RunRecord, error) {
	return nil, fmt.Errorf("%w: no recent run for job %q", model.ErrNotFound, job)
}
