package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/pipeline"
	"github.com/mtzanidakis/quorum/internal/store"
)

type stubLauncher struct {
	lastQuery string
	lastMode  string
	result    *pipeline.RunResult
	err       error
}

func (s *stubLauncher) Run(_ context.Context, query, mode string) (*pipeline.RunResult, error) {
	s.lastQuery = query
	s.lastMode = mode
	return s.result, s.err
}

func testServer(t *testing.T, auth string, launcher Launcher) (*Server, *store.Store) {
	t.Helper()
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "quorum.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Modes: map[string]config.ModeConfig{"quick": {}, "council": {}},
		Web:   config.WebConfig{Auth: auth},
	}
	return NewServer(st, launcher, nil, nil, cfg, "test"), st
}

func TestAuthRequired(t *testing.T) {
	s, _ := testServer(t, "hunter2", &stubLauncher{})
	h := s.Handler()

	req := httptest.NewRequest("GET", "/api/runs", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/runs", nil)
	req.SetBasicAuth("quorum", "hunter2")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", rec.Code)
	}

	// Health stays public for probes.
	req = httptest.NewRequest("GET", "/api/health", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected public health endpoint, got %d", rec.Code)
	}
}

func TestCreateRun(t *testing.T) {
	launcher := &stubLauncher{result: &pipeline.RunResult{
		RunID:  "run-1",
		Status: pipeline.StatusSucceeded,
		Answer: "the answer",
	}}
	s, _ := testServer(t, "", launcher)
	h := s.Handler()

	body := strings.NewReader(`{"query": "what changed?", "mode": "council"}`)
	req := httptest.NewRequest("POST", "/api/runs", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if launcher.lastQuery != "what changed?" || launcher.lastMode != "council" {
		t.Fatalf("launcher got %q/%q", launcher.lastQuery, launcher.lastMode)
	}

	var result pipeline.RunResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.RunID != "run-1" || result.Answer != "the answer" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCreateRunPreconditionIs400(t *testing.T) {
	launcher := &stubLauncher{err: &pipeline.PreconditionError{Reason: "unknown mode"}}
	s, _ := testServer(t, "", launcher)

	req := httptest.NewRequest("POST", "/api/runs", strings.NewReader(`{"query": "q", "mode": "bogus"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for precondition failure, got %d", rec.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s, _ := testServer(t, "", &stubLauncher{})

	req := httptest.NewRequest("GET", "/api/runs/nope", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestScheduledLifecycle(t *testing.T) {
	s, st := testServer(t, "", &stubLauncher{})
	h := s.Handler()

	body := strings.NewReader(`{"name": "digest", "query": "summarize", "mode": "quick", "schedule": "0 9 * * *"}`)
	req := httptest.NewRequest("POST", "/api/scheduled", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created store.ScheduledQuery
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.NextRunAt == nil {
		t.Fatal("expected next run computed on creation")
	}

	queries, err := st.ListScheduledQueries()
	if err != nil || len(queries) != 1 {
		t.Fatalf("expected 1 stored query, got %v (%v)", queries, err)
	}

	req = httptest.NewRequest("DELETE", "/api/scheduled/"+created.ID, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestScheduledRejectsBadSchedule(t *testing.T) {
	s, _ := testServer(t, "", &stubLauncher{})

	body := strings.NewReader(`{"name": "bad", "query": "q", "schedule": "whenever"}`)
	req := httptest.NewRequest("POST", "/api/scheduled", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid schedule, got %d", rec.Code)
	}
}
