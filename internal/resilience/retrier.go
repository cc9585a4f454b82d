package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"
)

// RetrierConfig tunes a [Retrier]'s backoff schedule and retry budget.
type RetrierConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxAttempts caps the number of calls to the retried function,
	// including the first one. Default: 5.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Subsequent
	// delays double. Default: 2s.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed delay. Default: 60s.
	MaxBackoff time.Duration

	// MinInterval, if non-zero, enforces a minimum gap between the start
	// of any two calls regardless of retry state — a pacing floor shared
	// across every call made through this Retrier, not just the retries
	// of a single operation.
	MinInterval time.Duration

	// Retriable reports whether err warrants another attempt. Defaults
	// to [DefaultRetriable].
	Retriable func(error) bool
}

// Retrier re-runs an operation with exponential backoff and jittered
// delays, optionally pacing calls to a minimum interval apart. A single
// Retrier instance is meant to be shared across all calls against one
// downstream (one client strategy, one ASR backend) so MinInterval
// pacing applies across the whole series of calls, not just one retry
// chain.
//
// Retrier is safe for concurrent use.
type Retrier struct {
	name           string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	minInterval    time.Duration
	retriable      func(error) bool

	mu       sync.Mutex
	lastCall time.Time
}

// NewRetrier creates a [Retrier] with the supplied configuration.
// Zero-value fields are replaced with sensible defaults.
func NewRetrier(cfg RetrierConfig) *Retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.Retriable == nil {
		cfg.Retriable = DefaultRetriable
	}
	return &Retrier{
		name:           cfg.Name,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		minInterval:    cfg.MinInterval,
		retriable:      cfg.Retriable,
	}
}

// Do runs op, retrying with exponential backoff and jitter while
// r.retriable(err) holds, up to MaxAttempts. It blocks for MinInterval
// pacing before every attempt, including the first. Returns the last
// error if every attempt fails, or ctx.Err() if the context is cancelled
// while waiting.
func (r *Retrier) Do(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := r.waitForWindow(ctx); err != nil {
			return err
		}

		r.markCall()
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= r.maxAttempts || !r.retriable(err) {
			return err
		}

		backoff := r.initialBackoff * time.Duration(uint64(1)<<uint(attempt-1))
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
		backoff = jitter(backoff)

		slog.Warn("retrying after transient error",
			"name", r.name,
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"backoff", backoff,
			"err", err)

		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
	}
	return lastErr
}

// waitForWindow blocks until MinInterval has elapsed since the last
// call started, or returns immediately if this is the first call.
func (r *Retrier) waitForWindow(ctx context.Context) error {
	if r.minInterval <= 0 {
		return nil
	}
	r.mu.Lock()
	last := r.lastCall
	r.mu.Unlock()

	if last.IsZero() {
		return nil
	}
	if elapsed := time.Since(last); elapsed < r.minInterval {
		return sleepWithContext(ctx, r.minInterval-elapsed)
	}
	return nil
}

func (r *Retrier) markCall() {
	r.mu.Lock()
	r.lastCall = time.Now()
	r.mu.Unlock()
}

// jitter adds up to 20% random variance to d to avoid retry storms from
// multiple workers backing off in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := d / 5
	return d - spread + time.Duration(rand.Int64N(int64(spread)+1))
}

// sleepWithContext blocks for d, returning early with ctx.Err() if the
// context is cancelled first.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DefaultRetriable reports whether err looks like a transient network or
// rate-limit condition: context deadlines, timeouts, connection resets,
// and HTTP 429/502/503/504 responses surfaced as plain error text.
func DefaultRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, code := range []string{"429", "502", "503", "504", "rate limit"} {
		if strings.Contains(message, code) {
			return true
		}
	}
	for _, token := range []string{
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"temporary failure",
		"eof",
	} {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}
