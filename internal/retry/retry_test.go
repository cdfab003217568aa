package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_DoSuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestPolicy_DoSuccessOnRetry(t *testing.T) {
	var calls int
	err := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestPolicy_DoAllAttemptsExhausted(t *testing.T) {
	var calls int
	sentinel := errors.New("always fails")
	err := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestPolicy_DoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestPolicy_RetryableClassifier(t *testing.T) {
	notRetryable := errors.New("invalid request")
	p := Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, notRetryable) },
	}

	var calls int
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return notRetryable
	})
	if !errors.Is(err, notRetryable) || calls != 1 {
		t.Fatalf("expected single non-retried call, got calls=%d err=%v", calls, err)
	}
}

func TestPolicy_MaxDelayCaps(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: 5 * time.Millisecond, MaxDelay: 5 * time.Millisecond}

	start := time.Now()
	_ = p.Do(context.Background(), func(context.Context) error { return errors.New("x") })
	// Uncapped would sleep ~5+10+20ms; capped sleeps at most ~3*6.25ms.
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("backoff not capped, took %v", elapsed)
	}
}
