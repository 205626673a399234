package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	wantErr := errors.New("permanent")
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err=%v, want last failure", err)
	}
	if calls != 2 {
		t.Fatalf("calls=%d, want 2", calls)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, DefaultRetryConfig(), func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want 1 before cancellation is noticed", calls)
	}
}

func TestCalculateBackoff(t *testing.T) {
	if got := CalculateBackoff(0, time.Second, 30*time.Second, 2.0); got != time.Second {
		t.Fatalf("attempt 0 backoff=%v", got)
	}
	if got := CalculateBackoff(2, time.Second, 30*time.Second, 2.0); got != 4*time.Second {
		t.Fatalf("attempt 2 backoff=%v", got)
	}
	if got := CalculateBackoff(10, time.Second, 30*time.Second, 2.0); got != 30*time.Second {
		t.Fatalf("backoff must cap at max, got %v", got)
	}
}

func TestCalculateBackoffWithJitterStaysBounded(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		base := CalculateBackoff(attempt, time.Second, 30*time.Second, 2.0)
		got := CalculateBackoffWithJitter(attempt, time.Second, 30*time.Second, 2.0)
		if got < base || got > 30*time.Second {
			t.Fatalf("attempt %d: jittered=%v outside [%v, 30s]", attempt, got, base)
		}
	}
}

func TestRound2(t *testing.T) {
	cases := map[float64]float64{
		11.1111: 11.11,
		11.115:  11.12,
		-2.005:  -2.0,
		0:       0,
	}
	for in, want := range cases {
		if got := Round2(in); got != want {
			t.Fatalf("Round2(%v)=%v, want %v", in, got, want)
		}
	}
}
