package llm

import (
	"context"
	"fmt"
	"time"
)

// Message is a single chat message sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes one chat-completion call. JSONMode asks the backend
// for structured (json_object) output; backends that reject it surface
// ErrorKindUnsupportedFeature and the retrying caller strips the option.
type ChatRequest struct {
	Model     string
	Messages  []Message
	MaxTokens int
	JSONMode  bool
}

// ChatResponse is the successful result of a chat-completion call.
type ChatResponse struct {
	Content   string
	RequestID string
}

// Client is implemented by backend transports. The production implementation
// is HTTPClient; tests inject fakes.
type Client interface {
	Backend() string
	CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// CallError is the structured failure of a backend call. It is returned, not
// panicked, and carries the retry bookkeeping accumulated by CallWithRetry.
// Message is always redacted before the error is constructed.
type CallError struct {
	BackendID       string
	ModelID         string
	HTTPStatus      int
	Kind            ErrorKind
	Message         string
	RetryCount      int
	TotalRetryDelay time.Duration
	RetryAfter      time.Duration
	RequestID       string
	Endpoint        string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call failed (%s, model=%s, status=%d, retries=%d): %s",
		e.BackendID, e.Kind, e.ModelID, e.HTTPStatus, e.RetryCount, e.Message)
}

// Retryable reports whether another attempt may succeed. An absent status
// code with an unclassified error is assumed transient.
func (e *CallError) Retryable() bool {
	if IsRetryable(e.Kind) {
		return true
	}
	return e.Kind == ErrorKindUnknown && e.HTTPStatus <= 0
}
