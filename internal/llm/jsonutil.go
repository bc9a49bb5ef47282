package llm

import (
	"encoding/json"
	"strings"
)

// CleanJSON strips markdown code fences and surrounding prose from a model
// reply and reports whether the remainder is valid JSON. Models regularly
// wrap structured output in ```json fences even when asked not to.
func CleanJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	// Fall back to the outermost brace/bracket span when the model added
	// prose around the payload.
	if !json.Valid([]byte(s)) {
		start := strings.IndexAny(s, "{[")
		end := strings.LastIndexAny(s, "}]")
		if start >= 0 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s, json.Valid([]byte(s))
}
