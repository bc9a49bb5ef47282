package pipeline

import (
	"github.com/mtzanidakis/quorum/internal/critique"
	"github.com/mtzanidakis/quorum/internal/facts"
	"github.com/mtzanidakis/quorum/internal/guard"
	"github.com/mtzanidakis/quorum/internal/swarm"
	"github.com/mtzanidakis/quorum/internal/verify"
)

// Stage names, in execution order.
const (
	StageSwarm          = "swarm"
	StageExtraction     = "extraction"
	StageFactResolution = "fact_resolution"
	StageCritique       = "critique"
	StageSynthesis      = "synthesis"
	StageVerification   = "verification"
	StageRefinement     = "refinement"
	StageFormatting     = "formatting"
	StageGuard          = "guard"
	StagePackaging      = "packaging"
)

// Context is the single mutable struct threaded through the run. Each stage
// writes exactly one field and treats the rest as read-only; a run never
// shares its context with another run.
type Context struct {
	RunID string
	Query string
	Mode  string

	SwarmResults []swarm.Result
	Facts        []facts.Fact
	Resolution   *facts.Resolution
	Attacks      []critique.Attack
	Draft        string
	Verification *verify.Report
	Refined      string
	Formatted    string
	Guard        *guard.Result
	Chunks       []string
}

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// StageStatus is the per-stage outcome reported back to the caller.
type StageStatus struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RunResult is what a finished (or failed) run hands back.
type RunResult struct {
	RunID  string        `json:"run_id"`
	Mode   string        `json:"mode"`
	Status string        `json:"status"`
	Answer string        `json:"answer,omitempty"`
	Chunks []string      `json:"chunks,omitempty"`
	Error  string        `json:"error,omitempty"`
	Stages []StageStatus `json:"stages"`
}
