package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNewRetrier_Defaults(t *testing.T) {
	r := NewRetrier(RetrierConfig{Name: "test"})
	if r.maxAttempts != 5 {
		t.Errorf("maxAttempts = %d, want 5", r.maxAttempts)
	}
	if r.initialBackoff != 2*time.Second {
		t.Errorf("initialBackoff = %v, want 2s", r.initialBackoff)
	}
	if r.maxBackoff != 60*time.Second {
		t.Errorf("maxBackoff = %v, want 60s", r.maxBackoff)
	}
}

func TestRetrier_SucceedsFirstTry(t *testing.T) {
	r := NewRetrier(RetrierConfig{Name: "test"})
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetrier_RetriesOnRetriableError(t *testing.T) {
	r := NewRetrier(RetrierConfig{
		Name:           "test",
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("503 service unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrier_GivesUpAfterMaxAttempts(t *testing.T) {
	r := NewRetrier(RetrierConfig{
		Name:           "test",
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
	})
	calls := 0
	wantErr := errors.New("429 too many requests")
	err := r.Do(context.Background(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetrier_DoesNotRetryNonRetriableError(t *testing.T) {
	r := NewRetrier(RetrierConfig{Name: "test", MaxAttempts: 5})
	calls := 0
	wantErr := errors.New("permission denied")
	err := r.Do(context.Background(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-retriable error should not retry)", calls)
	}
}

func TestRetrier_ContextCancelledDuringBackoff(t *testing.T) {
	r := NewRetrier(RetrierConfig{
		Name:           "test",
		MaxAttempts:    5,
		InitialBackoff: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, func() error {
			calls++
			return errors.New("timeout")
		})
	}()
	// Give the first call a moment to run and enter backoff, then cancel.
	time.Sleep(10 * time.Millisecond)
	cancel()
	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetrier_MinIntervalPacesCalls(t *testing.T) {
	r := NewRetrier(RetrierConfig{
		Name:        "test",
		MaxAttempts: 1,
		MinInterval: 30 * time.Millisecond,
	})
	ctx := context.Background()

	start := time.Now()
	_ = r.Do(ctx, func() error { return nil })
	_ = r.Do(ctx, func() error { return nil })
	elapsed := time.Since(start)

	if elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want at least MinInterval (30ms) between calls", elapsed)
	}
}

func TestDefaultRetriable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.DeadlineExceeded, true},
		{errors.New("HTTP 429: rate limited"), true},
		{errors.New("502 bad gateway"), true},
		{errors.New("connection reset by peer"), true},
		{errors.New("invalid API key"), false},
	}
	for _, tc := range cases {
		if got := DefaultRetriable(tc.err); got != tc.want {
			t.Errorf("DefaultRetriable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestJitter_StaysWithinBounds(t *testing.T) {
	d := 10 * time.Second
	for i := 0; i < 100; i++ {
		j := jitter(d)
		if j < 8*time.Second || j > 10*time.Second+1 {
			t.Fatalf("jitter(%v) = %v, outside expected spread", d, j)
		}
	}
}
