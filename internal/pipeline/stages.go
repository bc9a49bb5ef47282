package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/critique"
	"github.com/mtzanidakis/quorum/internal/events"
	"github.com/mtzanidakis/quorum/internal/facts"
	"github.com/mtzanidakis/quorum/internal/guard"
	"github.com/mtzanidakis/quorum/internal/llm"
	"github.com/mtzanidakis/quorum/internal/present"
	"github.com/mtzanidakis/quorum/internal/swarm"
	"github.com/mtzanidakis/quorum/internal/verify"
)

// An attack at or above this score forces a refinement pass even when
// verification flagged nothing.
const strongAttackThreshold = 0.7

func (r *Runner) stageSwarm(ctx context.Context, pc *Context) error {
	mc := r.cfg.Modes[pc.Mode]

	results, err := r.exec.Run(ctx, swarm.Request{
		RunID:     pc.RunID,
		System:    swarmSystem,
		Prompt:    pc.Query,
		MaxTokens: mc.MaxTokens,
		Agents:    toSwarmAgents(mc.Agents),
		Fallback:  toSwarmAgents(mc.FallbackAgents),
	})
	pc.SwarmResults = results
	return err
}

func (r *Runner) stageExtraction(ctx context.Context, pc *Context) error {
	for _, res := range pc.SwarmResults {
		if !res.Completed() {
			continue
		}

		reply, err := r.callGeneralist(ctx, pc, extractionSystem, agentAnswer(res.Content), true)
		if err != nil {
			// One agent's claims going unextracted is recoverable; losing
			// all of them is handled below.
			slog.Warn("extraction call failed", "run", pc.RunID, "agent", res.AgentID, "error", err)
			r.sink.Emit(events.Log(pc.RunID, fmt.Sprintf(
				"extraction failed for agent %s: %s", res.AgentID, llm.Redact(err.Error()))))
			continue
		}

		for _, f := range parseFacts(reply) {
			f.SourceAgentID = res.AgentID
			f.SourceModelID = res.Model
			pc.Facts = append(pc.Facts, f)
		}
	}

	if len(pc.Facts) == 0 {
		return fmt.Errorf("extraction produced no facts from %d swarm results", len(pc.SwarmResults))
	}
	r.sink.Emit(events.Log(pc.RunID, fmt.Sprintf("extracted %d facts", len(pc.Facts))))
	return nil
}

func (r *Runner) stageFactResolution(_ context.Context, pc *Context) error {
	generalistID := ""
	if gen, ok := r.cfg.Generalist(pc.Mode); ok {
		generalistID = gen.ID
	}

	res, err := facts.Resolve(pc.Facts, generalistID)
	if err != nil {
		return err
	}
	pc.Resolution = res

	r.sink.Emit(events.Log(pc.RunID, fmt.Sprintf(
		"fact resolution: %d accepted, %d rejected, %d conflicts",
		len(res.Accepted), len(res.Rejected), len(res.Conflicts))))
	return nil
}

func (r *Runner) stageCritique(ctx context.Context, pc *Context) error {
	reply, err := r.callGeneralist(ctx, pc, critiqueSystem, factList(pc.Resolution.Accepted), true)
	if err != nil {
		pc.Attacks = critique.Fallback(err)
		r.sink.Emit(events.Log(pc.RunID, "critique call failed, continuing with synthetic attack"))
		return nil
	}

	attacks, perr := critique.Normalize(reply)
	if perr != nil {
		pc.Attacks = critique.Fallback(perr)
		r.sink.Emit(events.Log(pc.RunID, "critique reply unparseable, continuing with synthetic attack"))
		return nil
	}

	pc.Attacks = attacks
	r.sink.Emit(events.Log(pc.RunID, fmt.Sprintf("critique produced %d attacks", len(attacks))))
	return nil
}

func (r *Runner) stageSynthesis(ctx context.Context, pc *Context) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n\nAccepted facts:\n%s", pc.Query, factList(pc.Resolution.Accepted))
	if len(pc.Attacks) > 0 {
		b.WriteString("\nObjections:\n")
		for _, a := range pc.Attacks {
			fmt.Fprintf(&b, "- [%.2f] %s\n", a.SupportScore, a.Counter)
		}
	}

	draft, err := r.callGeneralist(ctx, pc, synthesisSystem, b.String(), false)
	if err != nil {
		return err
	}
	if strings.TrimSpace(draft) == "" {
		return fmt.Errorf("synthesis returned an empty draft")
	}
	pc.Draft = draft
	return nil
}

func (r *Runner) stageVerification(_ context.Context, pc *Context) error {
	report, err := verify.Run(pc.Draft, pc.Resolution.Accepted)
	if err != nil {
		return err
	}
	pc.Verification = report

	r.sink.Emit(events.Log(pc.RunID, fmt.Sprintf(
		"verification: %d verified, %d flagged", len(report.Verified), len(report.Flagged))))
	return nil
}

func (r *Runner) stageRefinement(ctx context.Context, pc *Context) error {
	if !needsRefinement(pc) {
		pc.Refined = pc.Draft
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Draft:\n%s\n", pc.Draft)
	if len(pc.Verification.Flagged) > 0 {
		b.WriteString("\nFlagged facts:\n")
		for _, vf := range pc.Verification.Flagged {
			fmt.Fprintf(&b, "- [%.2f] %s\n", vf.BlendedScore, vf.Fact.Text)
		}
	}
	for _, a := range pc.Attacks {
		if a.SupportScore >= strongAttackThreshold {
			fmt.Fprintf(&b, "\nStrong objection: %s\n", a.Counter)
		}
	}

	refined, err := r.callGeneralist(ctx, pc, refineSystem, b.String(), false)
	if err != nil {
		return err
	}
	if strings.TrimSpace(refined) == "" {
		return fmt.Errorf("refinement returned an empty draft")
	}
	pc.Refined = refined
	return nil
}

func needsRefinement(pc *Context) bool {
	if len(pc.Verification.Flagged) > 0 {
		return true
	}
	for _, a := range pc.Attacks {
		if a.SupportScore >= strongAttackThreshold {
			return true
		}
	}
	return false
}

func (r *Runner) stageFormatting(_ context.Context, pc *Context) error {
	pc.Formatted = strings.TrimSpace(pc.Refined) + "\n\n" + strings.TrimSpace(pc.Verification.Text) + "\n"
	return nil
}

func (r *Runner) stageGuard(_ context.Context, pc *Context) error {
	res := guard.Scan(pc.Formatted)
	pc.Guard = res

	for _, f := range res.Flags {
		r.sink.Emit(events.Log(pc.RunID, fmt.Sprintf("guard flag %s: %s", f.Kind, f.Evidence)))
	}
	return nil
}

func (r *Runner) stagePackaging(_ context.Context, pc *Context) error {
	mc := r.cfg.Modes[pc.Mode]
	pc.Chunks = present.Chunk(pc.Guard.Text, mc.ChunkSize)

	for i, chunk := range pc.Chunks {
		r.sink.Emit(events.Event{
			Type:    events.TypeChunk,
			RunID:   pc.RunID,
			Seq:     i + 1,
			Message: chunk,
		})
	}
	return nil
}

func toSwarmAgents(defs []config.AgentDef) []swarm.Agent {
	agents := make([]swarm.Agent, len(defs))
	for i, d := range defs {
		agents[i] = swarm.Agent{
			ID:         d.ID,
			Name:       d.Name,
			Backend:    d.Backend,
			Model:      d.Model,
			AltModels:  d.AltModels,
			Generalist: d.Generalist,
		}
	}
	return agents
}

// agentAnswer unwraps the {"answer": ...} envelope the swarm prompt asks
// for; raw content is used as-is when the envelope is absent.
func agentAnswer(content string) string {
	var env struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(content), &env); err == nil && env.Answer != "" {
		return env.Answer
	}
	return content
}

func parseFacts(reply string) []facts.Fact {
	cleaned, ok := llm.CleanJSON(reply)
	if !ok {
		return nil
	}

	type rawFact struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}

	var items []rawFact
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		var wrapper struct {
			Facts []rawFact `json:"facts"`
		}
		if werr := json.Unmarshal([]byte(cleaned), &wrapper); werr != nil {
			return nil
		}
		items = wrapper.Facts
	}

	var out []facts.Fact
	for _, it := range items {
		if strings.TrimSpace(it.Text) == "" {
			continue
		}
		conf := it.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		out = append(out, facts.Fact{Text: it.Text, Confidence: conf})
	}
	return out
}

func factList(fs []facts.Fact) string {
	var b strings.Builder
	for _, f := range fs {
		fmt.Fprintf(&b, "- [%.2f] %s\n", f.Confidence, f.Text)
	}
	return b.String()
}
