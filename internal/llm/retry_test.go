package llm

import (
	"context"
	"strings"
	"testing"
	"time"
)

// fakeClient returns queued errors until they run out, then succeeds.
type fakeClient struct {
	backend  string
	failures []*CallError
	calls    int
	lastReq  ChatRequest
	content  string
}

func (f *fakeClient) Backend() string { return f.backend }

func (f *fakeClient) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.calls++
	f.lastReq = req
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	content := f.content
	if content == "" {
		content = "ok"
	}
	return &ChatResponse{Content: content, RequestID: "req-1"}, nil
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func TestCallWithRetryRecoversFromTransientFailure(t *testing.T) {
	fc := &fakeClient{
		backend: "openai",
		failures: []*CallError{
			{BackendID: "openai", Kind: ErrorKindServerError, HTTPStatus: 500},
			{BackendID: "openai", Kind: ErrorKindRateLimited, HTTPStatus: 429},
		},
	}

	resp, ce := CallWithRetry(context.Background(), fc, ChatRequest{Model: "gpt-test"}, fastPolicy(3), nil)
	if ce != nil {
		t.Fatalf("expected success, got %v", ce)
	}
	if resp.Content != "ok" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if fc.calls != 3 {
		t.Errorf("expected 3 calls, got %d", fc.calls)
	}
}

func TestCallWithRetryTerminalFailureIsImmediate(t *testing.T) {
	fc := &fakeClient{
		backend: "openai",
		failures: []*CallError{
			{BackendID: "openai", Kind: ErrorKindUnauthorized, HTTPStatus: 401, Message: "bad key"},
		},
	}

	_, ce := CallWithRetry(context.Background(), fc, ChatRequest{Model: "gpt-test"}, fastPolicy(5), nil)
	if ce == nil {
		t.Fatal("expected failure")
	}
	if ce.Kind != ErrorKindUnauthorized {
		t.Errorf("expected unauthorized, got %s", ce.Kind)
	}
	if fc.calls != 1 {
		t.Errorf("expected 1 call for terminal failure, got %d", fc.calls)
	}
}

func TestCallWithRetryExhaustionCarriesBookkeeping(t *testing.T) {
	fc := &fakeClient{
		backend: "openai",
		failures: []*CallError{
			{Kind: ErrorKindServerError, HTTPStatus: 500},
			{Kind: ErrorKindServerError, HTTPStatus: 500},
			{Kind: ErrorKindServerError, HTTPStatus: 500},
		},
	}

	_, ce := CallWithRetry(context.Background(), fc, ChatRequest{Model: "gpt-test"}, fastPolicy(3), nil)
	if ce == nil {
		t.Fatal("expected failure after exhaustion")
	}
	if ce.RetryCount != 2 {
		t.Errorf("expected 2 retries recorded, got %d", ce.RetryCount)
	}
	if ce.TotalRetryDelay <= 0 {
		t.Errorf("expected cumulative delay > 0, got %v", ce.TotalRetryDelay)
	}
	if fc.calls != 3 {
		t.Errorf("expected 3 calls, got %d", fc.calls)
	}
}

func TestCallWithRetryHonorsRetryAfterHint(t *testing.T) {
	fc := &fakeClient{
		backend: "openai",
		failures: []*CallError{
			{Kind: ErrorKindRateLimited, HTTPStatus: 429, RetryAfter: 5 * time.Millisecond},
		},
	}

	var logs []string
	start := time.Now()
	_, ce := CallWithRetry(context.Background(), fc, ChatRequest{Model: "gpt-test"},
		RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}, func(m string) { logs = append(logs, m) })
	if ce != nil {
		t.Fatalf("expected success, got %v", ce)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("expected at least the hinted delay, slept %v", elapsed)
	}

	found := false
	for _, l := range logs {
		if strings.Contains(l, "rate_limited") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a retry log naming the error kind, got %v", logs)
	}
}

func TestCallWithRetryStripsJSONModeOnUnsupportedFeature(t *testing.T) {
	fc := &fakeClient{
		backend: "local",
		failures: []*CallError{
			{Kind: ErrorKindUnsupportedFeature, HTTPStatus: 400, Message: "response_format not supported"},
		},
	}

	resp, ce := CallWithRetry(context.Background(), fc, ChatRequest{Model: "m", JSONMode: true}, fastPolicy(1), nil)
	if ce != nil {
		t.Fatalf("expected success after stripping JSON mode, got %v", ce)
	}
	if resp == nil || resp.Content != "ok" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if fc.lastReq.JSONMode {
		t.Error("expected JSON mode to be stripped on the second attempt")
	}
	if fc.calls != 2 {
		t.Errorf("expected exactly 2 calls, got %d", fc.calls)
	}
}

func TestCallWithRetryContextCancellation(t *testing.T) {
	fc := &fakeClient{
		backend: "openai",
		failures: []*CallError{
			{Kind: ErrorKindServerError, HTTPStatus: 500},
			{Kind: ErrorKindServerError, HTTPStatus: 500},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ce := CallWithRetry(ctx, fc, ChatRequest{Model: "m"},
		RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}, nil)
	if ce == nil {
		t.Fatal("expected failure when context is cancelled")
	}
	if fc.calls != 1 {
		t.Errorf("expected no further attempts after cancellation, got %d calls", fc.calls)
	}
}
