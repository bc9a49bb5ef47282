package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/events"
	"github.com/mtzanidakis/quorum/internal/llm"
	"github.com/mtzanidakis/quorum/internal/swarm"
)

// Recorder persists run bookkeeping. The pipeline treats it as best-effort:
// a recording failure is logged and the run continues.
type Recorder interface {
	RunStarted(runID, mode, query string, startedAt time.Time) error
	RunFinished(runID, status, answer, errMsg string, finishedAt time.Time) error
}

// Runner drives one query through the ten-stage pipeline. Stages run
// strictly in order; a stage failure aborts the run and later stages are
// skipped. Safe for concurrent use, each run carries its own Context.
type Runner struct {
	cfg      *config.Config
	backends map[string]swarm.BackendRuntime
	exec     *swarm.Executor
	sink     events.Sink
	rec      Recorder
}

func NewRunner(cfg *config.Config, backends map[string]swarm.BackendRuntime, sink events.Sink) *Runner {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Runner{
		cfg:      cfg,
		backends: backends,
		exec:     swarm.NewExecutor(backends, swarm.NewAvailabilityCache(0), sink),
		sink:     sink,
	}
}

// WithRecorder attaches run bookkeeping.
func (r *Runner) WithRecorder(rec Recorder) *Runner {
	r.rec = rec
	return r
}

// BuildBackends constructs the per-backend runtimes from config.
func BuildBackends(cfg *config.Config) map[string]swarm.BackendRuntime {
	backends := make(map[string]swarm.BackendRuntime, len(cfg.Backends))
	for name, bc := range cfg.Backends {
		backends[name] = swarm.BackendRuntime{
			Client:        llm.NewHTTPClient(name, bc.BaseURL, bc.APIKey, bc.RequestTimeout),
			MaxConcurrent: int64(bc.MaxConcurrent),
			Retry:         llm.RetryPolicy{MaxAttempts: bc.MaxAttempts, BaseDelay: bc.RetryBaseDelay},
		}
	}
	return backends
}

type stage struct {
	name string
	fn   func(context.Context, *Context) error
}

func (r *Runner) stages() []stage {
	return []stage{
		{StageSwarm, r.stageSwarm},
		{StageExtraction, r.stageExtraction},
		{StageFactResolution, r.stageFactResolution},
		{StageCritique, r.stageCritique},
		{StageSynthesis, r.stageSynthesis},
		{StageVerification, r.stageVerification},
		{StageRefinement, r.stageRefinement},
		{StageFormatting, r.stageFormatting},
		{StageGuard, r.stageGuard},
		{StagePackaging, r.stagePackaging},
	}
}

// Run executes the pipeline for one query. It returns a RunResult even on
// failure so the caller can show per-stage outcomes; the error is non-nil
// whenever the run did not complete.
func (r *Runner) Run(ctx context.Context, query, mode string) (*RunResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &PreconditionError{Reason: "empty query"}
	}
	if err := r.cfg.Validate(mode); err != nil {
		return nil, &PreconditionError{Reason: err.Error()}
	}

	pc := &Context{RunID: uuid.NewString(), Query: query, Mode: mode}
	result := &RunResult{RunID: pc.RunID, Mode: mode}

	slog.Info("pipeline run starting", "run", pc.RunID, "mode", mode, "query", truncate(query, 120))
	if r.rec != nil {
		if err := r.rec.RunStarted(pc.RunID, mode, query, time.Now().UTC()); err != nil {
			slog.Warn("record run start failed", "run", pc.RunID, "error", err)
		}
	}

	var runErr error
	for _, st := range r.stages() {
		if runErr == nil && ctx.Err() != nil {
			runErr = fmt.Errorf("run cancelled: %w", ctx.Err())
			slog.Warn("pipeline run cancelled", "run", pc.RunID, "stage", st.name)
		}
		if runErr != nil {
			result.Stages = append(result.Stages, StageStatus{Name: st.name, Status: StatusSkipped})
			continue
		}

		start := time.Now()
		r.sink.Emit(events.StepStart(pc.RunID, st.name))
		r.sink.Emit(events.StepProgress(pc.RunID, st.name, 0))

		err := st.fn(ctx, pc)
		duration := time.Since(start)

		if err != nil {
			msg := llm.Redact(err.Error())
			slog.Error("pipeline stage failed", "run", pc.RunID, "stage", st.name, "error", msg)
			r.sink.Emit(events.StepFinish(pc.RunID, st.name, "error", duration, msg))
			result.Stages = append(result.Stages, StageStatus{
				Name:       st.name,
				Status:     StatusFailed,
				DurationMs: duration.Milliseconds(),
				Error:      msg,
			})
			runErr = fmt.Errorf("stage %s: %w", st.name, err)
			continue
		}

		r.sink.Emit(events.StepProgress(pc.RunID, st.name, 100))
		r.sink.Emit(events.StepFinish(pc.RunID, st.name, "completed", duration, ""))
		result.Stages = append(result.Stages, StageStatus{
			Name:       st.name,
			Status:     StatusSucceeded,
			DurationMs: duration.Milliseconds(),
		})
	}

	if runErr != nil {
		result.Status = StatusFailed
		result.Error = llm.Redact(runErr.Error())
		r.finishRecord(pc.RunID, StatusFailed, "", result.Error)
		return result, runErr
	}

	result.Status = StatusSucceeded
	result.Answer = pc.Guard.Text
	result.Chunks = pc.Chunks
	r.finishRecord(pc.RunID, StatusSucceeded, result.Answer, "")
	slog.Info("pipeline run finished", "run", pc.RunID, "chunks", len(result.Chunks))
	return result, nil
}

func (r *Runner) finishRecord(runID, status, answer, errMsg string) {
	if r.rec == nil {
		return
	}
	if err := r.rec.RunFinished(runID, status, answer, errMsg, time.Now().UTC()); err != nil {
		slog.Warn("record run finish failed", "run", runID, "error", err)
	}
}

// callGeneralist sends one prompt to the mode's generalist agent with the
// backend's retry policy. Used by the LLM-backed stages after the swarm.
func (r *Runner) callGeneralist(ctx context.Context, pc *Context, system, user string, jsonMode bool) (string, error) {
	gen, ok := r.cfg.Generalist(pc.Mode)
	if !ok {
		return "", fmt.Errorf("mode %q has no generalist agent", pc.Mode)
	}
	rt, ok := r.backends[gen.Backend]
	if !ok {
		return "", fmt.Errorf("backend %q is not configured", gen.Backend)
	}

	req := llm.ChatRequest{
		Model: gen.Model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: r.cfg.Modes[pc.Mode].MaxTokens,
		JSONMode:  jsonMode,
	}

	resp, ce := llm.CallWithRetry(ctx, rt.Client, req, rt.Retry, func(msg string) {
		r.sink.Emit(events.Log(pc.RunID, msg))
	})
	if ce != nil {
		return "", ce
	}
	return resp.Content, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
