package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/events"
	"github.com/mtzanidakis/quorum/internal/llm"
	"github.com/mtzanidakis/quorum/internal/swarm"
	"github.com/mtzanidakis/quorum/internal/verify"
)

// scriptedClient answers based on which stage's system prompt it sees.
type scriptedClient struct {
	mu      sync.Mutex
	calls   []llm.ChatRequest
	respond func(system string, req llm.ChatRequest) (*llm.ChatResponse, error)
}

func (s *scriptedClient) Backend() string { return "test" }

func (s *scriptedClient) CreateChatCompletion(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	system := ""
	if len(req.Messages) > 0 && req.Messages[0].Role == "system" {
		system = req.Messages[0].Content
	}
	return s.respond(system, req)
}

func happyResponder(system string, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	switch {
	case strings.Contains(system, "panel of independent experts"):
		return &llm.ChatResponse{Content: `{"answer": "The gateway caches responses."}`}, nil
	case strings.Contains(system, "extract factual claims"):
		return &llm.ChatResponse{Content: `[
			{"text": "the gateway caches responses for ten minutes by default", "confidence": 0.9},
			{"text": "the gateway rewrites responses into esperanto on sundays", "confidence": 0.2}
		]`}, nil
	case strings.Contains(system, "adversarial reviewer"):
		return &llm.ChatResponse{Content: `[{"counter": "no source given for the cache lifetime", "support_score": 0.4}]`}, nil
	case strings.Contains(system, "final answer for the user"):
		return &llm.ChatResponse{Content: "The gateway caches responses for a fixed window."}, nil
	case strings.Contains(system, "Revise the draft"):
		return &llm.ChatResponse{Content: "The gateway caches responses, though the exact window depends on configuration."}, nil
	}
	return nil, &llm.CallError{Kind: llm.ErrorKindBadRequest, Message: "unexpected prompt"}
}

func testConfig() *config.Config {
	return &config.Config{
		Backends: map[string]config.BackendConfig{
			"test": {BaseURL: "http://test", MaxConcurrent: 4, MaxAttempts: 1},
		},
		Modes: map[string]config.ModeConfig{
			"quick": {
				Agents: []config.AgentDef{
					{ID: "generalist", Name: "Generalist", Backend: "test", Model: "m1", Generalist: true},
					{ID: "analyst", Name: "Analyst", Backend: "test", Model: "m2"},
				},
				FallbackAgents: []config.AgentDef{
					{ID: "fallback", Name: "Fallback", Backend: "test", Model: "m3"},
				},
				MaxTokens: 512,
				ChunkSize: 200,
			},
		},
	}
}

func testRunner(respond func(string, llm.ChatRequest) (*llm.ChatResponse, error), sink events.Sink) (*Runner, *scriptedClient) {
	sc := &scriptedClient{respond: respond}
	backends := map[string]swarm.BackendRuntime{
		"test": {Client: sc, MaxConcurrent: 4, Retry: llm.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}},
	}
	return NewRunner(testConfig(), backends, sink), sc
}

func TestRunnerHappyPath(t *testing.T) {
	sink := events.NewMemorySink()
	r, _ := testRunner(happyResponder, sink)

	result, err := r.Run(context.Background(), "how does the gateway cache?", "quick")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", result.Status, result.Error)
	}
	if len(result.Stages) != 10 {
		t.Fatalf("expected 10 stage statuses, got %d", len(result.Stages))
	}
	for _, st := range result.Stages {
		if st.Status != StatusSucceeded {
			t.Fatalf("stage %s: expected succeeded, got %s (%s)", st.Name, st.Status, st.Error)
		}
	}

	if !strings.Contains(result.Answer, "depends on configuration") {
		t.Fatalf("expected refined draft in answer, got:\n%s", result.Answer)
	}
	if !strings.Contains(result.Answer, "## Verification") {
		t.Fatalf("expected verification report appended, got:\n%s", result.Answer)
	}
	if got := strings.Join(result.Chunks, ""); got != result.Answer {
		t.Fatal("chunks do not reassemble into the answer")
	}

	if starts := sink.OfType(events.TypeStepStart); len(starts) != 10 {
		t.Fatalf("expected 10 step_start events, got %d", len(starts))
	}
	if chunks := sink.OfType(events.TypeChunk); len(chunks) != len(result.Chunks) {
		t.Fatalf("expected %d chunk events, got %d", len(result.Chunks), len(chunks))
	}
}

func TestRunnerStageOrder(t *testing.T) {
	sink := events.NewMemorySink()
	r, _ := testRunner(happyResponder, sink)

	if _, err := r.Run(context.Background(), "q", "quick"); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{
		StageSwarm, StageExtraction, StageFactResolution, StageCritique,
		StageSynthesis, StageVerification, StageRefinement, StageFormatting,
		StageGuard, StagePackaging,
	}
	starts := sink.OfType(events.TypeStepStart)
	for i, e := range starts {
		if e.Step != want[i] {
			t.Fatalf("stage %d: expected %s, got %s", i, want[i], e.Step)
		}
	}
}

func TestRunnerPreconditions(t *testing.T) {
	r, _ := testRunner(happyResponder, events.NopSink{})

	var pe *PreconditionError
	if _, err := r.Run(context.Background(), "q", "nonexistent"); !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError for unknown mode, got %v", err)
	}
	if _, err := r.Run(context.Background(), "   ", "quick"); !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError for empty query, got %v", err)
	}
}

func TestRunnerPlaceholderAbortsRun(t *testing.T) {
	respond := func(system string, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if strings.Contains(system, "final answer for the user") {
			return &llm.ChatResponse{Content: "TODO: finish this draft"}, nil
		}
		return happyResponder(system, req)
	}
	r, _ := testRunner(respond, events.NopSink{})

	result, err := r.Run(context.Background(), "q", "quick")
	if !errors.Is(err, verify.ErrPlaceholder) {
		t.Fatalf("expected ErrPlaceholder, got %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", result.Status)
	}

	byName := map[string]StageStatus{}
	for _, st := range result.Stages {
		byName[st.Name] = st
	}
	if byName[StageVerification].Status != StatusFailed {
		t.Fatalf("expected verification failed, got %s", byName[StageVerification].Status)
	}
	for _, name := range []string{StageRefinement, StageFormatting, StageGuard, StagePackaging} {
		if byName[name].Status != StatusSkipped {
			t.Fatalf("expected %s skipped after failure, got %s", name, byName[name].Status)
		}
	}
}

func TestRunnerCritiqueFailureIsAdvisory(t *testing.T) {
	respond := func(system string, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if strings.Contains(system, "adversarial reviewer") {
			return &llm.ChatResponse{Content: "I refuse to answer in JSON."}, nil
		}
		return happyResponder(system, req)
	}
	r, _ := testRunner(respond, events.NopSink{})

	result, err := r.Run(context.Background(), "q", "quick")
	if err != nil {
		t.Fatalf("critique failure must not abort the run: %v", err)
	}
	if result.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", result.Status)
	}
}

func TestRunnerSwarmFailureAborts(t *testing.T) {
	respond := func(system string, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, &llm.CallError{
			BackendID:  "test",
			ModelID:    req.Model,
			HTTPStatus: 500,
			Kind:       llm.ErrorKindServerError,
			Message:    "backend exploded",
		}
	}
	r, _ := testRunner(respond, events.NopSink{})

	result, err := r.Run(context.Background(), "q", "quick")
	var aae *swarm.AllAgentsError
	if !errors.As(err, &aae) {
		t.Fatalf("expected AllAgentsError, got %v", err)
	}
	skipped := 0
	for _, st := range result.Stages {
		if st.Status == StatusSkipped {
			skipped++
		}
	}
	if skipped != 9 {
		t.Fatalf("expected 9 skipped stages after swarm failure, got %d", skipped)
	}
}

func TestRunnerCancelledContext(t *testing.T) {
	r, sc := testRunner(happyResponder, events.NopSink{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := r.Run(ctx, "q", "quick")
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	for _, st := range result.Stages {
		if st.Status != StatusSkipped {
			t.Fatalf("expected all stages skipped, %s was %s", st.Name, st.Status)
		}
	}
	sc.mu.Lock()
	calls := len(sc.calls)
	sc.mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no backend calls after cancellation, got %d", calls)
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []string
	finished map[string]string
}

func (f *fakeRecorder) RunStarted(runID, mode, query string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, runID)
	return nil
}

func (f *fakeRecorder) RunFinished(runID, status, _, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished == nil {
		f.finished = map[string]string{}
	}
	f.finished[runID] = status
	return nil
}

func TestRunnerRecordsRuns(t *testing.T) {
	r, _ := testRunner(happyResponder, events.NopSink{})
	rec := &fakeRecorder{}
	r.WithRecorder(rec)

	result, err := r.Run(context.Background(), "q", "quick")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rec.started) != 1 || rec.started[0] != result.RunID {
		t.Fatalf("expected run start recorded, got %v", rec.started)
	}
	if rec.finished[result.RunID] != StatusSucceeded {
		t.Fatalf("expected finish recorded as succeeded, got %q", rec.finished[result.RunID])
	}
}
