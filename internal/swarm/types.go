package swarm

import (
	"time"

	"github.com/mtzanidakis/quorum/internal/llm"
)

// Agent is one configured (backend, model) dispatch target.
type Agent struct {
	ID         string
	Name       string
	Backend    string
	Model      string
	AltModels  []string
	Generalist bool
}

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Result is the immutable outcome of one dispatched agent. Model records the
// candidate that actually answered, which may be an alternate of the
// configured model.
type Result struct {
	AgentID   string
	AgentName string
	Backend   string
	Model     string
	Outcome   Outcome
	Content   string
	Err       *llm.CallError
	Duration  time.Duration
}

func (r Result) Completed() bool {
	return r.Outcome == OutcomeCompleted
}

// Request is one swarm dispatch: a prompt fanned out to a primary agent set,
// with an optional fallback set used once if every primary fails.
type Request struct {
	RunID     string
	System    string
	Prompt    string
	MaxTokens int
	Agents    []Agent
	Fallback  []Agent
}
