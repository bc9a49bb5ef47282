package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint with
// bearer-token auth.
type HTTPClient struct {
	backendID string
	baseURL   string
	apiKey    string
	httpc     *http.Client
}

func NewHTTPClient(backendID, baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		backendID: backendID,
		baseURL:   baseURL,
		apiKey:    apiKey,
		httpc:     &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Backend() string {
	return c.backendID
}

type chatCompletionBody struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *HTTPClient) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	endpoint := c.baseURL + "/chat/completions"

	body := chatCompletionBody{
		Model:     req.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		kind := ErrorKindNetworkError
		if os.IsTimeout(err) || ctx.Err() == context.DeadlineExceeded {
			kind = ErrorKindTimeout
		}
		return nil, &CallError{
			BackendID:  c.backendID,
			ModelID:    req.Model,
			HTTPStatus: -1,
			Kind:       kind,
			Message:    Redact(err.Error()),
			Endpoint:   endpoint,
		}
	}
	defer resp.Body.Close()

	requestID := resp.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &CallError{
			BackendID:  c.backendID,
			ModelID:    req.Model,
			HTTPStatus: -1,
			Kind:       ErrorKindNetworkError,
			Message:    Redact(err.Error()),
			RequestID:  requestID,
			Endpoint:   endpoint,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiErrorBody
		msg := string(raw)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, &CallError{
			BackendID:  c.backendID,
			ModelID:    req.Model,
			HTTPStatus: resp.StatusCode,
			Kind:       Classify(resp.StatusCode, msg),
			Message:    Redact(msg),
			RetryAfter: RetryAfterHint(resp.Header),
			RequestID:  requestID,
			Endpoint:   endpoint,
		}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &CallError{
			BackendID:  c.backendID,
			ModelID:    req.Model,
			HTTPStatus: resp.StatusCode,
			Kind:       ErrorKindJSONInvalid,
			Message:    Redact(fmt.Sprintf("parse completion response: %v", err)),
			RequestID:  requestID,
			Endpoint:   endpoint,
		}
	}
	if len(parsed.Choices) == 0 {
		return nil, &CallError{
			BackendID:  c.backendID,
			ModelID:    req.Model,
			HTTPStatus: resp.StatusCode,
			Kind:       ErrorKindJSONInvalid,
			Message:    "completion response has no choices",
			RequestID:  requestID,
			Endpoint:   endpoint,
		}
	}

	return &ChatResponse{
		Content:   parsed.Choices[0].Message.Content,
		RequestID: requestID,
	}, nil
}
