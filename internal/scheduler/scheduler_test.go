package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/aggregate"
	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/jobs"
	"github.com/pulseboard/pulseboard/internal/model"
	"github.com/pulseboard/pulseboard/internal/source"
	"github.com/pulseboard/pulseboard/internal/store"
	"github.com/pulseboard/pulseboard/internal/store/sqlite"
	activitysync "github.com/pulseboard/pulseboard/internal/sync"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "scheduler_test.db"))
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := sqlite.EnsureSchema(db); err != nil {
		t.Fatalf("sqlite schema: %v", err)
	}
	return sqlite.NewWithDB(db)
}

type fakeProvider struct {
	projects    []source.Project
	projectsErr error
}

func (p *fakeProvider) FetchProjects(context.Context) ([]source.Project, error) {
	if p.projectsErr != nil {
		return nil, p.projectsErr
	}
	return p.projects, nil
}

func (p *fakeProvider) FetchTasks(context.Context) ([]source.Task, error)     { return nil, nil }
func (p *fakeProvider) FetchTodos(context.Context) ([]source.Todo, error)     { return nil, nil }
func (p *fakeProvider) FetchMembers(context.Context) ([]source.Member, error) { return nil, nil }

func (p *fakeProvider) FetchConversations(context.Context) ([]source.Conversation, error) {
	return nil, nil
}

func (p *fakeProvider) FetchCompletedTasks(context.Context) ([]source.CompletedTask, error) {
	return nil, nil
}

type captureRecorder struct {
	mu      sync.Mutex
	records []jobs.RunRecord
}

func (c *captureRecorder) Record(_ context.Context, rec jobs.RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *captureRecorder) LastRun(_ context.Context, job string) (*jobs.RunRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.records) - 1; i >= 0; i-- {
		if c.records[i].Job == job {
			rec := c.records[i]
			return &rec, nil
		}
	}
	return nil, model.ErrNotFound
}

func newScheduler(t *testing.T, st store.Store, fp *fakeProvider, rec jobs.Recorder, cfg Config) *Scheduler {
	t.Helper()
	log := zerolog.Nop()
	refresher := cache.NewRefresher(st, fp, activitysync.NewSyncer(st, fp, log), aggregate.New(st, log), log)
	return New(refresher, rec, cfg, log)
}

func TestRunOnce_SuccessFirstAttempt(t *testing.T) {
	st := newTestStore(t)
	fp := &fakeProvider{projects: []source.Project{{PageID: "pr-1", Name: "Atlas"}}}
	s := newScheduler(t, st, fp, &captureRecorder{}, Config{})

	rec := s.RunOnce(context.Background(), model.CacheProjects)
	if rec.Status != cache.StatusSuccess || rec.Attempts != 1 || rec.Records != 1 {
		t.Fatalf("record: %+v", rec)
	}
}

func TestRunOnce_RetriesUntilAttemptsExhausted(t *testing.T) {
	st := newTestStore(t)
	fp := &fakeProvider{projectsErr: errors.New("upstream 502")}
	s := newScheduler(t, st, fp, &captureRecorder{}, Config{RetryBase: time.Millisecond, MaxAttempts: 3})

	rec := s.RunOnce(context.Background(), model.CacheProjects)
	if rec.Status != cache.StatusError || rec.Attempts != 3 {
		t.Fatalf("record: %+v", rec)
	}
	if !strings.Contains(rec.Error, "upstream 502") {
		t.Fatalf("error: %q", rec.Error)
	}

	md, err := st.Caches().GetMetadata(context.Background(), model.CacheProjects)
	if err != nil || md.IsUpdating || md.LastError == nil {
		t.Fatalf("metadata after retries: %+v err=%v", md, err)
	}
}

func TestRunOnce_SkippedIsTerminal(t *testing.T) {
	st := newTestStore(t)
	// The provider would fail, but a held lock means it is never consulted.
	fp := &fakeProvider{projectsErr: errors.New("unreachable")}
	s := newScheduler(t, st, fp, &captureRecorder{}, Config{RetryBase: time.Millisecond, MaxAttempts: 5})

	if ok, err := st.Caches().BeginRefresh(context.Background(), model.CacheProjects); err != nil || !ok {
		t.Fatalf("take lock: ok=%v err=%v", ok, err)
	}

	rec := s.RunOnce(context.Background(), model.CacheProjects)
	if rec.Status != cache.StatusSkipped || rec.Attempts != 1 || rec.Error != "" {
		t.Fatalf("record: %+v", rec)
	}
}

func TestRunOnce_StopsAtDeadline(t *testing.T) {
	st := newTestStore(t)
	fp := &fakeProvider{projectsErr: errors.New("upstream 502")}
	s := newScheduler(t, st, fp, &captureRecorder{}, Config{RetryBase: 10 * time.Second, MaxAttempts: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	rec := s.RunOnce(ctx, model.CacheProjects)
	if rec.Status != cache.StatusError || rec.Attempts != 1 {
		t.Fatalf("record: %+v", rec)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("deadline ignored, ran %v", elapsed)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	st := newTestStore(t)
	fp := &fakeProvider{projects: []source.Project{{PageID: "pr-1", Name: "Atlas"}}}
	rec := &captureRecorder{}
	s := newScheduler(t, st, fp, rec, Config{
		CacheRefreshInterval:    time.Second,
		ActivityRefreshInterval: time.Second,
		JobTimeout:              5 * time.Second,
		RetryBase:               time.Millisecond,
		MaxAttempts:             1,
	})

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if run, err := rec.LastRun(context.Background(), model.CacheProjects); err == nil {
			if run.Status != cache.StatusSuccess {
				t.Fatalf("scheduled run: %+v", run)
			}
			rows, err := st.Caches().ListProjects(context.Background())
			if err != nil || len(rows) != 1 {
				t.Fatalf("projects after scheduled refresh: %d err=%v", len(rows), err)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("scheduled refresh never ran")
}
