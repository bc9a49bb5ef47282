package llm

import "regexp"

// Credential-shaped substrings are replaced before any error message or
// agent output leaves the engine. The prefixes cover the backends quorum is
// configured against plus the generic bearer-token shape.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{8,}=*`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{16,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)(api[_-]?key|authorization)\s*[:=]\s*[^\s"']{8,}`),
}

const redactedMarker = "[REDACTED]"

// Redact replaces credential-shaped substrings with a fixed marker.
func Redact(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, redactedMarker)
	}
	return s
}
