package critique

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mtzanidakis/quorum/internal/llm"
)

// Attack is one adversarial objection against the draft. SupportScore says
// how strongly the critic believes the objection holds, in [0,1].
type Attack struct {
	Counter      string  `json:"counter"`
	TargetFact   string  `json:"target_fact,omitempty"`
	SupportScore float64 `json:"support_score"`
}

// fallbackScore is attached to the synthetic attack produced when the
// external critique call fails. Low on purpose: the objection is about the
// critic, not the draft.
const fallbackScore = 0.1

// defaultScore is assumed when an object-shaped attack omits its score.
const defaultScore = 0.5

type rawAttack struct {
	Counter      string   `json:"counter"`
	TargetFact   string   `json:"target_fact"`
	Target       string   `json:"targetFact"`
	SupportScore *float64 `json:"support_score"`
	Support      *float64 `json:"supportScore"`
}

// Normalize coerces a critique reply into a uniform attack list. The reply
// may be a JSON array of free-text strings, an array of attack objects in
// either snake_case or camelCase, or either of those wrapped in an object
// under "attacks" or "critiques". Empty counters are dropped and out-of-range
// scores clamped into [0,1].
func Normalize(reply string) ([]Attack, error) {
	payload := []byte(strings.TrimSpace(reply))

	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		var wrapper struct {
			Attacks   []json.RawMessage `json:"attacks"`
			Critiques []json.RawMessage `json:"critiques"`
		}
		if werr := json.Unmarshal(payload, &wrapper); werr != nil {
			return nil, fmt.Errorf("parse critique reply: %w", err)
		}
		items = wrapper.Attacks
		if items == nil {
			items = wrapper.Critiques
		}
		if items == nil {
			return nil, fmt.Errorf("critique reply carries no attack list")
		}
	}

	var attacks []Attack
	for _, item := range items {
		var text string
		if err := json.Unmarshal(item, &text); err == nil {
			if strings.TrimSpace(text) == "" {
				continue
			}
			attacks = append(attacks, Attack{Counter: text, SupportScore: defaultScore})
			continue
		}

		var obj rawAttack
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		if strings.TrimSpace(obj.Counter) == "" {
			continue
		}

		target := obj.TargetFact
		if target == "" {
			target = obj.Target
		}
		score := defaultScore
		if obj.SupportScore != nil {
			score = *obj.SupportScore
		} else if obj.Support != nil {
			score = *obj.Support
		}

		attacks = append(attacks, Attack{
			Counter:      obj.Counter,
			TargetFact:   target,
			SupportScore: clamp(score),
		})
	}
	return attacks, nil
}

// Fallback builds the single synthetic attack used when the external critique
// call failed outright. Critique is advisory, so the failure is reported as a
// weak objection instead of aborting the run.
func Fallback(err error) []Attack {
	msg := "critique stage unavailable"
	if err != nil {
		msg = fmt.Sprintf("critique stage unavailable: %s", llm.Redact(err.Error()))
	}
	return []Attack{{Counter: msg, SupportScore: fallbackScore}}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
