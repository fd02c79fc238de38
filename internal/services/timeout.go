package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// TimeoutLLM bounds every call to the wrapped service. A call that runs
// past the deadline returns ErrTimeout even if the provider ignores
// context cancellation.
type TimeoutLLM struct {
	next    LLMService
	timeout time.Duration
	logger  *slog.Logger
}

var _ LLMService = (*TimeoutLLM)(nil)

func WithTimeout(next LLMService, timeout time.Duration, logger *slog.Logger) *TimeoutLLM {
	return &TimeoutLLM{next: next, timeout: timeout, logger: logger}
}

func (t *TimeoutLLM) Name() string {
	return t.next.Name()
}

func (t *TimeoutLLM) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("LLM provider panicked", "provider", t.next.Name(), "profile", req.Profile, "panic", r)
				done <- result{err: fmt.Errorf("llm panic: %v", r)}
			}
		}()
		text, err := t.next.Complete(ctx, req)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", t.timedOut(req)
		}
		return r.text, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", t.timedOut(req)
		}
		return "", ctx.Err()
	}
}

func (t *TimeoutLLM) timedOut(req CompletionRequest) error {
	t.logger.Warn("LLM call timed out", "provider", t.next.Name(), "profile", req.Profile, "timeout", t.timeout)
	return fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
}
