package guard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mtzanidakis/quorum/internal/llm"
)

type FlagKind string

const (
	FlagProfanity         FlagKind = "profanity"
	FlagBiasKeyword       FlagKind = "bias_keyword"
	FlagHallucinationRisk FlagKind = "hallucination_risk"
)

// Flag is one guard finding. Findings annotate the answer, they never block
// it.
type Flag struct {
	Kind     FlagKind `json:"kind"`
	Evidence string   `json:"evidence"`
}

// Result carries the flags, the computed hallucination risk and the redacted
// text that replaces the input downstream.
type Result struct {
	Flags []Flag  `json:"flags,omitempty"`
	Risk  float64 `json:"risk"`
	Text  string  `json:"text"`
}

// riskThreshold is the score at or above which a hallucination-risk flag is
// raised.
const riskThreshold = 0.55

var (
	profanityPattern = regexp.MustCompile(`(?i)\b(?:damn|crap|shit|bullshit|fuck(?:ing|ed)?|asshole)\b`)
	biasPattern      = regexp.MustCompile(`(?i)\b(?:race|racial|religion|religious|ethnicity|ethnic|gender|nationality)\b`)

	hedgePattern    = regexp.MustCompile(`(?i)\b(?:maybe|might|perhaps|possibly|probably|presumably|seems?|likely|unclear|roughly|approximately)\b`)
	absolutePattern = regexp.MustCompile(`(?i)\b(?:always|never|guaranteed?s?|100%|certainly|impossible|definitely|absolutely|undoubtedly)\b`)
	numberPattern   = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)

	// Concrete, checkable references lower risk: paths, URLs, commands,
	// inline code.
	referencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`https?://\S+`),
		regexp.MustCompile(`(?:^|\s)(?:/|\./|~/)[\w./-]+`),
		regexp.MustCompile(`\b(?:go|git|curl|docker|make|kubectl|npm)\s+[a-z][\w-]*`),
		regexp.MustCompile("`[^`]+`"),
	}
)

// Risk weights over per-word hit densities. References contribute
// negatively.
const (
	hedgeWeight     = 2.0
	absoluteWeight  = 2.0
	numberWeight    = 1.5
	referenceWeight = 2.5
)

// Scan checks the formatted text for profanity and sensitive-category
// keywords, computes the hallucination-risk score and redacts
// credential-shaped substrings. It never fails.
func Scan(text string) *Result {
	res := &Result{Text: llm.Redact(text)}

	for _, hit := range dedupe(profanityPattern.FindAllString(text, -1)) {
		res.Flags = append(res.Flags, Flag{Kind: FlagProfanity, Evidence: strings.ToLower(hit)})
	}
	for _, hit := range dedupe(biasPattern.FindAllString(text, -1)) {
		res.Flags = append(res.Flags, Flag{Kind: FlagBiasKeyword, Evidence: strings.ToLower(hit)})
	}

	res.Risk = HallucinationRisk(text)
	if res.Risk >= riskThreshold {
		res.Flags = append(res.Flags, Flag{
			Kind:     FlagHallucinationRisk,
			Evidence: fmt.Sprintf("risk score %.2f", res.Risk),
		})
	}

	return res
}

// HallucinationRisk scores unverifiable-sounding text: dense hedging,
// absolute claims and bare numbers raise it, concrete references pull it
// down.
func HallucinationRisk(text string) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}

	hedges := len(hedgePattern.FindAllString(text, -1))
	absolutes := len(absolutePattern.FindAllString(text, -1))
	numbers := len(numberPattern.FindAllString(text, -1))
	references := 0
	for _, re := range referencePatterns {
		references += len(re.FindAllString(text, -1))
	}

	n := float64(words)
	risk := hedgeWeight*float64(hedges)/n +
		absoluteWeight*float64(absolutes)/n +
		numberWeight*float64(numbers)/n -
		referenceWeight*float64(references)/n

	if risk < 0 {
		return 0
	}
	if risk > 1 {
		return 1
	}
	return risk
}

func dedupe(hits []string) []string {
	seen := make(map[string]bool, len(hits))
	var out []string
	for _, h := range hits {
		key := strings.ToLower(h)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	return out
}
