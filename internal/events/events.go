package events

import "time"

// Event types emitted over the run event stream.
const (
	TypeStepStart    = "step_start"
	TypeStepProgress = "step_progress"
	TypeStepFinish   = "step_finish"
	TypeAgentStart   = "agent_start"
	TypeAgentFinish  = "agent_finish"
	TypeLog          = "log"
	TypeChunk        = "chunk"
)

// Event is one lifecycle notification. Only the fields relevant to its Type
// are populated; the type tag is explicit rather than inferred from field
// presence.
type Event struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	Step       string    `json:"step,omitempty"`
	Status     string    `json:"status,omitempty"`
	Percent    int       `json:"percent"`
	Message    string    `json:"message,omitempty"`
	Agent      string    `json:"agent,omitempty"`
	AgentName  string    `json:"agent_name,omitempty"`
	Model      string    `json:"model,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	Seq        int       `json:"seq,omitempty"`
	At         time.Time `json:"at"`
}

// Sink receives events. Implementations must not block the pipeline and must
// swallow their own failures; nothing in the engine consumes a return value
// from emission.
type Sink interface {
	Emit(e Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// Log builds a log event.
func Log(runID, message string) Event {
	return Event{Type: TypeLog, RunID: runID, Message: message, At: time.Now().UTC()}
}

// StepStart builds a step_start event.
func StepStart(runID, step string) Event {
	return Event{Type: TypeStepStart, RunID: runID, Step: step, At: time.Now().UTC()}
}

// StepProgress builds a step_progress event.
func StepProgress(runID, step string, percent int) Event {
	return Event{Type: TypeStepProgress, RunID: runID, Step: step, Percent: percent, At: time.Now().UTC()}
}

// StepFinish builds a step_finish event.
func StepFinish(runID, step, status string, duration time.Duration, message string) Event {
	return Event{
		Type:       TypeStepFinish,
		RunID:      runID,
		Step:       step,
		Status:     status,
		DurationMs: duration.Milliseconds(),
		Message:    message,
		At:         time.Now().UTC(),
	}
}
