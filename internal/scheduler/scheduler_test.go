package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/pipeline"
	"github.com/mtzanidakis/quorum/internal/store"
)

type fakeLauncher struct {
	mu      sync.Mutex
	queries []string
	modes   []string
	err     error
}

func (f *fakeLauncher) Run(_ context.Context, query, mode string) (*pipeline.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.modes = append(f.modes, mode)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.RunResult{RunID: "run-x", Status: pipeline.StatusSucceeded}, nil
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "quorum.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPollLaunchesDueQueries(t *testing.T) {
	st := testStore(t)
	past := time.Now().Add(-time.Minute)
	if err := st.CreateScheduledQuery(&store.ScheduledQuery{
		ID: "q1", Name: "daily digest", Query: "summarize the day", Mode: "quick",
		Schedule: `{"kind":"interval","interval_ms":3600000}`, NextRunAt: &past,
	}); err != nil {
		t.Fatalf("create query: %v", err)
	}

	fl := &fakeLauncher{}
	s := New(st, fl, nil, config.SchedulerConfig{PollInterval: time.Hour})
	s.poll(context.Background())

	if len(fl.queries) != 1 || fl.queries[0] != "summarize the day" || fl.modes[0] != "quick" {
		t.Fatalf("unexpected launches: %v %v", fl.queries, fl.modes)
	}

	q, err := st.GetScheduledQuery("q1")
	if err != nil {
		t.Fatalf("get query: %v", err)
	}
	if q.LastStatus != "success" {
		t.Fatalf("expected success recorded, got %q (%q)", q.LastStatus, q.LastError)
	}
	if q.NextRunAt == nil || !q.NextRunAt.After(time.Now()) {
		t.Fatalf("expected future next run, got %v", q.NextRunAt)
	}

	// Nothing due anymore, a second poll launches nothing.
	s.poll(context.Background())
	if len(fl.queries) != 1 {
		t.Fatalf("expected no second launch, got %d", len(fl.queries))
	}
}

func TestPollRecordsFailure(t *testing.T) {
	st := testStore(t)
	past := time.Now().Add(-time.Minute)
	if err := st.CreateScheduledQuery(&store.ScheduledQuery{
		ID: "q1", Name: "broken", Query: "q", Mode: "quick",
		Schedule: `{"kind":"interval","interval_ms":60000}`, NextRunAt: &past,
	}); err != nil {
		t.Fatalf("create query: %v", err)
	}

	fl := &fakeLauncher{err: errors.New("all backends down")}
	s := New(st, fl, nil, config.SchedulerConfig{PollInterval: time.Hour})
	s.poll(context.Background())

	q, _ := st.GetScheduledQuery("q1")
	if q.LastStatus != "error" || q.LastError == "" {
		t.Fatalf("expected error recorded, got %+v", q)
	}
	if q.NextRunAt == nil {
		t.Fatal("interval schedule must keep firing after a failure")
	}
}

func TestOneShotDeactivatesAfterRun(t *testing.T) {
	st := testStore(t)
	past := time.Now().Add(-time.Minute)
	if err := st.CreateScheduledQuery(&store.ScheduledQuery{
		ID: "q1", Name: "one shot", Query: "q", Mode: "quick",
		Schedule: `{"kind":"once","at_ms":1}`, NextRunAt: &past,
	}); err != nil {
		t.Fatalf("create query: %v", err)
	}

	fl := &fakeLauncher{}
	s := New(st, fl, nil, config.SchedulerConfig{PollInterval: time.Hour})
	s.poll(context.Background())

	q, _ := st.GetScheduledQuery("q1")
	if q.Status != "completed" || q.NextRunAt != nil {
		t.Fatalf("expected one-shot completed, got %+v", q)
	}
}
