package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsOnLaterAttempt(t *testing.T) {
	strategy := Strategy{Delays: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}}

	var attempts []int
	err := Retry(context.Background(), strategy, func(_ context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Errorf("attempts = %v", attempts)
	}
}

func TestRetryExhaustionWrapsLastError(t *testing.T) {
	strategy := Strategy{Delays: []time.Duration{time.Millisecond, time.Millisecond}}
	sentinel := errors.New("still down")

	err := Retry(context.Background(), strategy, func(context.Context, int) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", err)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	strategy := Strategy{Delays: []time.Duration{time.Minute}}

	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, strategy, func(context.Context, int) error {
			return errors.New("transient")
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not stop on cancel")
	}
}
