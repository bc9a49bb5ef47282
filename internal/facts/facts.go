package facts

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

// MaxAccepted caps the accepted fact list after resolution.
const MaxAccepted = 60

// Fact is one extracted claim. Text is never rewritten during resolution,
// only re-labeled with a rejection reason.
type Fact struct {
	Text          string  `json:"text"`
	SourceAgentID string  `json:"source_agent_id"`
	SourceModelID string  `json:"source_model_id"`
	Confidence    float64 `json:"confidence"`
}

type RejectReason string

const (
	ReasonLowConfidenceLanguage RejectReason = "low_confidence_language"
	ReasonRedundantSameTopic    RejectReason = "redundant_same_topic"
	ReasonConflictRejected      RejectReason = "conflict_rejected"
)

// Rejected pairs a fact with why it was dropped. Winner carries the accepted
// fact's text when the rejection came from a conflict tie-break.
type Rejected struct {
	Fact   Fact         `json:"fact"`
	Reason RejectReason `json:"reason"`
	Winner string       `json:"winner,omitempty"`
}

// Conflict records one observed same-topic contradiction and the rule that
// decided it.
type Conflict struct {
	TopicKey string `json:"topic_key"`
	FactA    Fact   `json:"fact_a"`
	FactB    Fact   `json:"fact_b"`
	TieBreak string `json:"tie_break"`
}

const (
	TieBreakGeneralist = "generalist_source"
	TieBreakConfidence = "highest_confidence"
)

// Resolution is the full outcome: what survived, what was dropped and why,
// and every contradiction observed along the way.
type Resolution struct {
	Accepted  []Fact     `json:"accepted"`
	Rejected  []Rejected `json:"rejected"`
	Conflicts []Conflict `json:"conflicts"`
}

var ErrNoAcceptedFacts = errors.New("fact resolution rejected every fact")

var (
	markdownStrip = strings.NewReplacer(
		"*", " ", "_", " ", "`", " ", "#", " ", ">", " ",
		"~", " ", "|", " ", "[", " ", "]", " ", "(", " ", ")", " ",
	)
	hedgePattern    = regexp.MustCompile(`(?i)\b(?:maybe|might|perhaps|possibly|probably|presumably|i think|i believe|i guess|not sure|unsure|unclear|it seems|seemingly|could be)\b`)
	negationPattern = regexp.MustCompile(`\b(?:not|never|cannot|can't|cant|won't|wont|doesn't|doesnt|don't|dont|isn't|isnt|aren't|arent|no)\b`)
)

// Normalize lowercases, strips markdown punctuation and collapses whitespace.
// It is idempotent.
func Normalize(text string) string {
	s := strings.ToLower(text)
	s = markdownStrip.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Tokens that carry polarity or tense rather than topic. They are dropped
// before the topic key is built so that "X works" and "X does not work" land
// in the same cluster and can be detected as contradicting.
var topicStopTokens = map[string]bool{
	"not": true, "never": true, "cannot": true, "can't": true, "cant": true,
	"won't": true, "wont": true, "don't": true, "dont": true,
	"doesn't": true, "doesnt": true, "isn't": true, "isnt": true,
	"aren't": true, "arent": true, "no": true,
	"do": true, "does": true, "did": true,
	"is": true, "are": true, "was": true, "were": true,
	"can": true, "will": true, "would": true, "should": true, "could": true,
}

// TopicKey clusters facts by the first ten topic-bearing tokens of their
// normalized text, with naive plural stemming.
func TopicKey(text string) string {
	var tokens []string
	for _, tok := range strings.Fields(Normalize(text)) {
		if topicStopTokens[tok] {
			continue
		}
		tokens = append(tokens, stemToken(tok))
		if len(tokens) == 10 {
			break
		}
	}
	return strings.Join(tokens, " ")
}

func stemToken(tok string) string {
	if len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") {
		return tok[:len(tok)-1]
	}
	return tok
}

// Hedged reports whether the raw text contains hedging language.
func Hedged(text string) bool {
	return hedgePattern.MatchString(text)
}

func negated(text string) bool {
	return negationPattern.MatchString(Normalize(text))
}

// Conflicting reports a same-topic, opposite-polarity contradiction: the two
// texts share a topic key and exactly one of them carries negation language.
// This is a lexical signal, not semantic entailment, and it is symmetric.
func Conflicting(a, b string) bool {
	if TopicKey(a) != TopicKey(b) {
		return false
	}
	return negated(a) != negated(b)
}

// Resolve clusters facts by topic key, filters hedged claims, settles
// contradictions deterministically and returns the surviving facts sorted by
// confidence descending, capped at MaxAccepted. generalistAgentID names the
// agent whose facts win conflict tie-breaks; pass "" when no generalist is
// designated.
func Resolve(input []Fact, generalistAgentID string) (*Resolution, error) {
	res := &Resolution{}

	var keyOrder []string
	clusters := make(map[string][]Fact)
	for _, f := range input {
		key := TopicKey(f.Text)
		if _, seen := clusters[key]; !seen {
			keyOrder = append(keyOrder, key)
		}
		clusters[key] = append(clusters[key], f)
	}

	var accepted []Fact
	for _, key := range keyOrder {
		var kept []Fact
		for _, f := range clusters[key] {
			if Hedged(f.Text) {
				res.Rejected = append(res.Rejected, Rejected{Fact: f, Reason: ReasonLowConfidenceLanguage})
				continue
			}
			kept = append(kept, f)
		}
		if len(kept) == 0 {
			continue
		}

		conflicted := false
		var pairs [][2]int
		for i := 0; i < len(kept); i++ {
			for j := i + 1; j < len(kept); j++ {
				if Conflicting(kept[i].Text, kept[j].Text) {
					conflicted = true
					pairs = append(pairs, [2]int{i, j})
				}
			}
		}

		winner, rule := pickWinner(kept, conflicted, generalistAgentID)

		for _, p := range pairs {
			res.Conflicts = append(res.Conflicts, Conflict{
				TopicKey: key,
				FactA:    kept[p[0]],
				FactB:    kept[p[1]],
				TieBreak: rule,
			})
		}

		accepted = append(accepted, kept[winner])
		for i, f := range kept {
			if i == winner {
				continue
			}
			rej := Rejected{Fact: f, Reason: ReasonRedundantSameTopic}
			if conflicted {
				rej.Reason = ReasonConflictRejected
				rej.Winner = kept[winner].Text
			}
			res.Rejected = append(res.Rejected, rej)
		}
	}

	accepted = dedupeByNormalized(accepted)
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Confidence > accepted[j].Confidence
	})
	if len(accepted) > MaxAccepted {
		accepted = accepted[:MaxAccepted]
	}
	res.Accepted = accepted

	if len(res.Accepted) == 0 {
		return nil, ErrNoAcceptedFacts
	}
	return res, nil
}

// pickWinner selects the index of the surviving fact in a cluster. Under a
// contradiction the designated generalist wins outright; in every other case
// the highest confidence does, first occurrence breaking ties.
func pickWinner(kept []Fact, conflicted bool, generalistAgentID string) (int, string) {
	if conflicted && generalistAgentID != "" {
		for i, f := range kept {
			if f.SourceAgentID == generalistAgentID {
				return i, TieBreakGeneralist
			}
		}
	}
	best := 0
	for i, f := range kept {
		if f.Confidence > kept[best].Confidence {
			best = i
		}
	}
	return best, TieBreakConfidence
}

func dedupeByNormalized(facts []Fact) []Fact {
	seen := make(map[string]bool, len(facts))
	out := facts[:0]
	for _, f := range facts {
		key := Normalize(f.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
