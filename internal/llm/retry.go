package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

const (
	maxBackoff    = 20 * time.Second
	maxRetryHint  = 60 * time.Second
	jitterCeiling = 250 * time.Millisecond
)

// RetryPolicy bounds the retrying caller.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the per-backend defaults in config.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// CallWithRetry executes req against client up to policy.MaxAttempts times.
// Retryable failures back off exponentially (capped at 20s) unless the server
// supplied a retry hint, which is honored capped at 60s. A failure classified
// unsupported_feature or bad_request while the request asked for JSON-mode
// output earns one extra attempt with the option stripped.
//
// On exhaustion the returned *CallError carries the retry count and the
// cumulative delay spent waiting. notify, if non-nil, receives a log line
// before each backoff sleep; it must not block.
func CallWithRetry(ctx context.Context, client Client, req ChatRequest, policy RetryPolicy, notify func(string)) (*ChatResponse, *CallError) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}

	var (
		lastErr      *CallError
		totalDelay   time.Duration
		retries      int
		strippedJSON bool
	)

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		resp, err := client.CreateChatCompletion(ctx, req)
		if err == nil {
			if lastErr != nil && notify != nil {
				notify(fmt.Sprintf("call recovered after %d retries", retries))
			}
			return resp, nil
		}

		ce := asCallError(err, client.Backend(), req.Model)
		ce.RetryCount = retries
		ce.TotalRetryDelay = totalDelay
		lastErr = ce

		// A backend that rejects structured output gets one extra try with
		// the option removed before the failure is final. This does not
		// consume a regular attempt.
		if req.JSONMode && !strippedJSON &&
			(ce.Kind == ErrorKindUnsupportedFeature || ce.Kind == ErrorKindBadRequest) {
			req.JSONMode = false
			strippedJSON = true
			if notify != nil {
				notify(fmt.Sprintf("backend rejected JSON mode, retrying without response_format (model=%s)", req.Model))
			}
			attempt--
			continue
		}

		if !ce.Retryable() || attempt == policy.MaxAttempts {
			return nil, ce
		}

		delay := backoffDelay(policy.BaseDelay, attempt)
		if ce.RetryAfter > 0 {
			delay = ce.RetryAfter
			if delay > maxRetryHint {
				delay = maxRetryHint
			}
		}

		if notify != nil {
			notify(fmt.Sprintf("retrying %s call (attempt %d, kind=%s, delay=%v)",
				client.Backend(), attempt, ce.Kind, delay))
		}

		select {
		case <-ctx.Done():
			ce.RetryCount = retries
			ce.TotalRetryDelay = totalDelay
			return nil, ce
		case <-time.After(delay):
		}

		totalDelay += delay
		retries++
	}

	return nil, lastErr
}

// backoffDelay computes min(20s, base * 2^(attempt-1) + jitter).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	d += time.Duration(rand.Int63n(int64(jitterCeiling)))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// asCallError normalizes any error into a *CallError with redacted message.
func asCallError(err error, backend, model string) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		if ce.BackendID == "" {
			ce.BackendID = backend
		}
		if ce.ModelID == "" {
			ce.ModelID = model
		}
		return ce
	}
	return &CallError{
		BackendID:  backend,
		ModelID:    model,
		HTTPStatus: -1,
		Kind:       Classify(-1, err.Error()),
		Message:    Redact(err.Error()),
	}
}
