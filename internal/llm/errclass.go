package llm

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind is the classified failure category of a backend call.
type ErrorKind string

const (
	ErrorKindModelNotFound      ErrorKind = "model_not_found"
	ErrorKindRateLimited        ErrorKind = "rate_limited"
	ErrorKindBadRequest         ErrorKind = "bad_request"
	ErrorKindUnauthorized       ErrorKind = "unauthorized"
	ErrorKindServerError        ErrorKind = "server_error"
	ErrorKindNetworkError       ErrorKind = "network_error"
	ErrorKindJSONInvalid        ErrorKind = "json_invalid"
	ErrorKindUnsupportedFeature ErrorKind = "unsupported_feature"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindUnknown            ErrorKind = "unknown"
)

var networkIndicators = []string{
	"connection refused",
	"econnrefused",
	"no such host",
	"network is unreachable",
	"dns",
	"broken pipe",
	"connection reset",
}

var timeoutIndicators = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
}

var jsonModeIndicators = []string{
	"response_format",
	"json mode",
	"json_object",
	"structured output",
	"structured-output",
}

// Classify maps a raw backend failure to an ErrorKind. status is the HTTP
// status code, or a negative value for transport-level failures. message is
// matched case-insensitively.
func Classify(status int, message string) ErrorKind {
	msg := strings.ToLower(message)

	if status < 0 {
		// Transport failure: a client-side timeout is its own kind so the
		// per-call deadline surfaces distinctly; everything else is network.
		if containsAny(msg, timeoutIndicators) {
			return ErrorKindTimeout
		}
		return ErrorKindNetworkError
	}
	if containsAny(msg, networkIndicators) {
		return ErrorKindNetworkError
	}

	switch {
	case status == http.StatusNotFound:
		return ErrorKindModelNotFound
	case status == http.StatusTooManyRequests:
		return ErrorKindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorKindUnauthorized
	case status == http.StatusBadRequest:
		if containsAny(msg, jsonModeIndicators) {
			return ErrorKindUnsupportedFeature
		}
		return ErrorKindBadRequest
	case status >= 500:
		return ErrorKindServerError
	}

	if containsAny(msg, timeoutIndicators) {
		return ErrorKindTimeout
	}
	if strings.Contains(msg, "json") &&
		(strings.Contains(msg, "parse") || strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid")) {
		return ErrorKindJSONInvalid
	}

	return ErrorKindUnknown
}

// IsRetryable reports whether a kind is worth another attempt.
func IsRetryable(kind ErrorKind) bool {
	switch kind {
	case ErrorKindRateLimited, ErrorKindServerError, ErrorKindNetworkError, ErrorKindTimeout:
		return true
	}
	return false
}

// RetryAfterHint extracts a server-supplied retry delay from response
// headers. Returns zero when no usable hint is present.
func RetryAfterHint(headers http.Header) time.Duration {
	if headers == nil {
		return 0
	}
	v := headers.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
