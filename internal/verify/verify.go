package verify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mtzanidakis/quorum/internal/facts"
)

// VerifiedFact is the per-fact scoring outcome. Not persisted beyond the run.
type VerifiedFact struct {
	Fact            facts.Fact `json:"fact"`
	PriorConfidence float64    `json:"prior_confidence"`
	TruthScore      float64    `json:"truth_score"`
	BlendedScore    float64    `json:"blended_score"`
	MatchedPatterns []string   `json:"matched_patterns,omitempty"`
}

// Report splits the accepted facts into verified and flagged and carries the
// human-readable section appended to the draft downstream.
type Report struct {
	Verified []VerifiedFact `json:"verified"`
	Flagged  []VerifiedFact `json:"flagged"`
	Text     string         `json:"text"`
}

var (
	ErrPlaceholder             = errors.New("draft contains placeholder text")
	ErrContradictoryConstraint = errors.New("report exceeds contradictory-constraint density")
)

// Hard-fail markers. A draft carrying any of these went out the door
// unfinished no matter what the facts say.
var placeholderMarkers = []string{"TODO:", "[PLACEHOLDER]", "FIXME"}

var loremPattern = regexp.MustCompile(`(?i)lorem ipsum`)

type truthPattern struct {
	id     string
	re     *regexp.Regexp
	weight float64
}

// Domain signals that make a claim checkable. Weights are fixed; the table
// order only affects the order of MatchedPatterns.
var truthPatterns = []truthPattern{
	{"url", regexp.MustCompile(`https?://\S+`), 0.35},
	{"file_path", regexp.MustCompile(`(?:^|\s)(?:/|\./|~/)[\w./-]+`), 0.30},
	{"command", regexp.MustCompile(`\b(?:go|git|curl|docker|make|kubectl|npm)\s+[a-z][\w-]*`), 0.30},
	{"version", regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+)?\b`), 0.25},
	{"quantity", regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:ms|ns|s|kb|mb|gb|%|percent|bytes?|seconds?|minutes?|requests?)\b`), 0.25},
	{"citation", regexp.MustCompile(`(?i)\b(?:according to|documented in|defined in|specified in|rfc\s*\d+)\b`), 0.20},
	{"identifier", regexp.MustCompile("`[^`]+`"), 0.15},
}

var absolutePattern = regexp.MustCompile(`(?i)\b(?:always|never|guaranteed?s?|100%|certainly|impossible|definitely|absolutely|every single)\b`)

const (
	absolutePenalty   = 0.2
	priorWeight       = 0.65
	truthWeight       = 0.35
	verifiedThreshold = 0.55

	// Co-occurrence ceiling for "must" and "cannot" in the assembled text.
	contradictionLimit = 6
)

var (
	mustPattern   = regexp.MustCompile(`(?i)\bmust\b`)
	cannotPattern = regexp.MustCompile(`(?i)\bcannot\b`)
)

// Run scores the accepted facts against the draft. It hard-fails on
// placeholder text in the draft and on excessive contradictory-constraint
// density in the draft plus report; every other finding is advisory.
func Run(draft string, accepted []facts.Fact) (*Report, error) {
	for _, marker := range placeholderMarkers {
		if strings.Contains(draft, marker) {
			return nil, fmt.Errorf("%w: %q", ErrPlaceholder, marker)
		}
	}
	if loremPattern.MatchString(draft) {
		return nil, fmt.Errorf("%w: %q", ErrPlaceholder, "lorem ipsum")
	}

	report := &Report{}
	for _, f := range accepted {
		vf := Score(f)
		if vf.BlendedScore >= verifiedThreshold {
			report.Verified = append(report.Verified, vf)
		} else {
			report.Flagged = append(report.Flagged, vf)
		}
	}
	report.Text = renderReport(report)

	assembled := draft + "\n" + report.Text
	musts := len(mustPattern.FindAllString(assembled, -1))
	cannots := len(cannotPattern.FindAllString(assembled, -1))
	if musts >= contradictionLimit && cannots >= contradictionLimit {
		return nil, fmt.Errorf("%w: must=%d cannot=%d", ErrContradictoryConstraint, musts, cannots)
	}

	return report, nil
}

// Score computes the pattern-weighted truth score for one fact and blends it
// with the prior confidence.
func Score(f facts.Fact) VerifiedFact {
	var (
		truth   float64
		matched []string
	)
	for _, p := range truthPatterns {
		if p.re.MatchString(f.Text) {
			truth += p.weight
			matched = append(matched, p.id)
		}
	}
	if truth > 1 {
		truth = 1
	}
	if absolutePattern.MatchString(f.Text) {
		truth -= absolutePenalty
	}
	truth = clamp(truth)

	return VerifiedFact{
		Fact:            f,
		PriorConfidence: f.Confidence,
		TruthScore:      truth,
		BlendedScore:    clamp(f.Confidence*priorWeight + truth*truthWeight),
		MatchedPatterns: matched,
	}
}

func renderReport(r *Report) string {
	var b strings.Builder
	b.WriteString("## Verification\n\n")
	fmt.Fprintf(&b, "Verified facts (%d):\n", len(r.Verified))
	for _, vf := range r.Verified {
		fmt.Fprintf(&b, "- [%.2f] %s\n", vf.BlendedScore, vf.Fact.Text)
	}
	fmt.Fprintf(&b, "\nFlagged facts (%d):\n", len(r.Flagged))
	for _, vf := range r.Flagged {
		fmt.Fprintf(&b, "- [%.2f] %s\n", vf.BlendedScore, vf.Fact.Text)
	}
	return b.String()
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
