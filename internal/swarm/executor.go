package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mtzanidakis/quorum/internal/events"
	"github.com/mtzanidakis/quorum/internal/llm"
	"golang.org/x/sync/semaphore"
)

// BackendRuntime bundles what the executor needs per backend: a transport,
// the concurrency cap, and the retry policy for that provider.
type BackendRuntime struct {
	Client        llm.Client
	MaxConcurrent int64
	Retry         llm.RetryPolicy
}

// Executor fans one prompt out to a set of agents under per-backend
// concurrency limits. It guarantees one Result per agent, cascades once to a
// fallback agent set when every primary fails, and fails deterministically
// with a per-kind breakdown when the cascade is exhausted too.
type Executor struct {
	backends map[string]BackendRuntime
	cache    *AvailabilityCache
	sink     events.Sink
}

func NewExecutor(backends map[string]BackendRuntime, cache *AvailabilityCache, sink events.Sink) *Executor {
	if cache == nil {
		cache = NewAvailabilityCache(0)
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Executor{
		backends: backends,
		cache:    cache,
		sink:     sink,
	}
}

// Run dispatches the request. The returned slice holds one Result per
// attempted agent (fallback agents included when the cascade ran); the error
// is non-nil only when zero agents succeeded anywhere.
func (e *Executor) Run(ctx context.Context, req Request) ([]Result, error) {
	results := e.runTier(ctx, req, req.Agents)

	if countCompleted(results) == 0 && len(req.Fallback) > 0 {
		slog.Warn("all primary agents failed, cascading to fallback set",
			"run", req.RunID, "primaries", len(req.Agents), "fallbacks", len(req.Fallback))
		e.sink.Emit(events.Log(req.RunID, fmt.Sprintf(
			"all %d primary agents failed, trying %d fallback agents", len(req.Agents), len(req.Fallback))))

		results = append(results, e.runTier(ctx, req, req.Fallback)...)
	}

	if countCompleted(results) == 0 {
		err := NewAllAgentsError(results)
		e.sink.Emit(events.Log(req.RunID, err.Error()))
		return results, err
	}
	return results, nil
}

// runTier executes one agent set. Agents are partitioned by backend and each
// backend runs under its own weighted semaphore, so a pool of size N never
// has more than N calls in flight. Slot acquisition happens in submission
// order; completion order is whatever the network gives us.
func (e *Executor) runTier(ctx context.Context, req Request, agents []Agent) []Result {
	results := make([]Result, len(agents))

	var backendOrder []string
	byBackend := make(map[string][]int)
	for i, a := range agents {
		if _, seen := byBackend[a.Backend]; !seen {
			backendOrder = append(backendOrder, a.Backend)
		}
		byBackend[a.Backend] = append(byBackend[a.Backend], i)
	}

	var wg sync.WaitGroup
	for _, backend := range backendOrder {
		rt, ok := e.backends[backend]
		if !ok {
			for _, i := range byBackend[backend] {
				results[i] = e.failResult(req, agents[i], &llm.CallError{
					BackendID: backend,
					ModelID:   agents[i].Model,
					Kind:      llm.ErrorKindUnknown,
					Message:   fmt.Sprintf("backend %q is not configured", backend),
				}, 0)
			}
			continue
		}

		limit := rt.MaxConcurrent
		if limit < 1 {
			limit = 1
		}
		sem := semaphore.NewWeighted(limit)
		idxs := byBackend[backend]

		wg.Add(1)
		go func(rt BackendRuntime, idxs []int) {
			defer wg.Done()

			var pool sync.WaitGroup
			for _, i := range idxs {
				if err := sem.Acquire(ctx, 1); err != nil {
					results[i] = e.failResult(req, agents[i], &llm.CallError{
						BackendID: agents[i].Backend,
						ModelID:   agents[i].Model,
						Kind:      llm.ErrorKindTimeout,
						Message:   "cancelled while waiting for a dispatch slot",
					}, 0)
					continue
				}
				pool.Add(1)
				go func(i int) {
					defer pool.Done()
					defer sem.Release(1)
					results[i] = e.runAgent(ctx, req, rt, agents[i])
				}(i)
			}
			pool.Wait()
		}(rt, idxs)
	}
	wg.Wait()

	return results
}

// runAgent walks the agent's model candidates: the configured model first,
// then alternates. Only model_not_found advances to the next candidate; any
// other failure is final for this agent.
func (e *Executor) runAgent(ctx context.Context, req Request, rt BackendRuntime, agent Agent) Result {
	start := time.Now()
	e.sink.Emit(events.Event{
		Type:      events.TypeAgentStart,
		RunID:     req.RunID,
		Agent:     agent.ID,
		AgentName: agent.Name,
		Model:     agent.Model,
		At:        time.Now().UTC(),
	})

	candidates := append([]string{agent.Model}, agent.AltModels...)

	var lastErr *llm.CallError
	for _, model := range candidates {
		if e.cache.NotFound(model) {
			e.sink.Emit(events.Log(req.RunID, fmt.Sprintf(
				"agent %s: skipping model %s (cached not_found)", agent.ID, model)))
			lastErr = &llm.CallError{
				BackendID:  agent.Backend,
				ModelID:    model,
				HTTPStatus: 404,
				Kind:       llm.ErrorKindModelNotFound,
				Message:    "model cached as unavailable",
			}
			continue
		}

		content, ce := e.callModel(ctx, req, rt, agent, model)
		if ce == nil {
			e.cache.MarkAvailable(model)
			duration := time.Since(start)
			e.sink.Emit(events.Event{
				Type:       events.TypeAgentFinish,
				RunID:      req.RunID,
				Agent:      agent.ID,
				AgentName:  agent.Name,
				Model:      model,
				Status:     string(OutcomeCompleted),
				DurationMs: duration.Milliseconds(),
				Message:    truncate(llm.Redact(content), 200),
				At:         time.Now().UTC(),
			})
			return Result{
				AgentID:   agent.ID,
				AgentName: agent.Name,
				Backend:   agent.Backend,
				Model:     model,
				Outcome:   OutcomeCompleted,
				Content:   content,
				Duration:  duration,
			}
		}

		lastErr = ce
		if ce.Kind == llm.ErrorKindModelNotFound {
			e.cache.MarkNotFound(model)
			e.sink.Emit(events.Log(req.RunID, fmt.Sprintf(
				"agent %s: model %s not found, advancing to alternate", agent.ID, model)))
			continue
		}
		break
	}

	return e.failResult(req, agent, lastErr, time.Since(start))
}

// callModel performs the retried call and validates that the reply parses as
// JSON. An unparseable reply earns exactly one corrective re-prompt demanding
// strict JSON before the candidate is given up on.
func (e *Executor) callModel(ctx context.Context, req Request, rt BackendRuntime, agent Agent, model string) (string, *llm.CallError) {
	notify := func(msg string) {
		e.sink.Emit(events.Log(req.RunID, fmt.Sprintf("agent %s: %s", agent.ID, msg)))
	}

	messages := []llm.Message{}
	if req.System != "" {
		messages = append(messages, llm.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, llm.Message{Role: "user", Content: req.Prompt})

	call := llm.ChatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		JSONMode:  true,
	}

	resp, ce := llm.CallWithRetry(ctx, rt.Client, call, rt.Retry, notify)
	if ce != nil {
		return "", ce
	}

	if cleaned, ok := llm.CleanJSON(resp.Content); ok {
		return cleaned, nil
	}

	notify("reply is not valid JSON, issuing corrective re-prompt")
	call.Messages = append(call.Messages,
		llm.Message{Role: "assistant", Content: resp.Content},
		llm.Message{Role: "user", Content: "Your previous reply was not valid JSON. Respond again with strict JSON only: no prose, no code fences."},
	)
	resp, ce = llm.CallWithRetry(ctx, rt.Client, call, llm.RetryPolicy{MaxAttempts: 1, BaseDelay: rt.Retry.BaseDelay}, notify)
	if ce != nil {
		return "", ce
	}
	if cleaned, ok := llm.CleanJSON(resp.Content); ok {
		return cleaned, nil
	}

	return "", &llm.CallError{
		BackendID:  agent.Backend,
		ModelID:    model,
		HTTPStatus: 200,
		Kind:       llm.ErrorKindJSONInvalid,
		Message:    "reply is not valid JSON after corrective re-prompt",
		RequestID:  resp.RequestID,
	}
}

func (e *Executor) failResult(req Request, agent Agent, ce *llm.CallError, duration time.Duration) Result {
	if ce == nil {
		ce = &llm.CallError{
			BackendID: agent.Backend,
			ModelID:   agent.Model,
			Kind:      llm.ErrorKindUnknown,
			Message:   "agent produced no result",
		}
	}
	e.sink.Emit(events.Event{
		Type:       events.TypeAgentFinish,
		RunID:      req.RunID,
		Agent:      agent.ID,
		AgentName:  agent.Name,
		Model:      ce.ModelID,
		Status:     string(OutcomeFailed),
		DurationMs: duration.Milliseconds(),
		Error:      llm.Redact(ce.Message),
		At:         time.Now().UTC(),
	})
	return Result{
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Backend:   agent.Backend,
		Model:     ce.ModelID,
		Outcome:   OutcomeFailed,
		Err:       ce,
		Duration:  duration,
	}
}

func countCompleted(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Completed() {
			n++
		}
	}
	return n
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
