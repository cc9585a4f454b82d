// Package fetch obtains a local audio file for one source_id, trying a
// sequence of player-client strategies with retry and validating the result
// before handing it to the ASR stage.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MrWong99/castbox/internal/resilience"
)

// Kind classifies a fetch failure per spec §4.2/§7's taxonomy.
type Kind string

const (
	KindRateLimited     Kind = "rate_limited"
	KindBotChallenged   Kind = "bot_challenged"
	KindUnavailable     Kind = "unavailable_source"
	KindCorruptDownload Kind = "corrupt_download"
)

// Error is the FetchError described in spec §7: per-video and recoverable
// across a run, except for KindCorruptDownload which is non-retriable
// within the same session.
type Error struct {
	Kind   Kind
	Client string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch: %s (client=%s): %v", e.Kind, e.Client, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether this failure should be retried with the next
// client strategy or backoff attempt. Only CorruptDownload is non-retriable
// for the current session, per spec §4.2's failure policy.
func (e *Error) Retriable() bool { return e.Kind != KindCorruptDownload }

// AudioArtifact is the result of a successful fetch: a local, validated,
// 16 kHz mono WAV file.
type AudioArtifact struct {
	Path       string
	DurationS  float64
	SampleRate int
}

// ClientStrategy downloads audio for one source using a specific player
// client identity (e.g., "web", "mobile", "default" in the spec's ordering).
// Implementations are responsible for attaching PO-token/cookie-jar
// credentials when configured.
type ClientStrategy interface {
	Name() string
	Download(ctx context.Context, sourceID string, destDir string) (path string, declaredDurationS float64, err error)
}

// Converter normalizes a downloaded container to 16 kHz mono WAV, required
// by the ASR and diarization stages (spec §4.2: "Convert to 16 kHz mono WAV
// if not already").
type Converter interface {
	ConvertTo16kMono(ctx context.Context, srcPath string) (path string, sampleRate int, durationS float64, err error)
}

// Config tunes retry behavior and validation tolerances.
type Config struct {
	// MaxRetriesPerStrategy caps retry attempts within one client strategy.
	// Spec default: 15.
	MaxRetriesPerStrategy int

	// InitialBackoff is the first retry delay. Spec: base 1-2s.
	InitialBackoff time.Duration

	// MinSizeBytes is the minimum acceptable downloaded file size. Spec:
	// 50 KiB.
	MinSizeBytes int64

	// DurationTolerance is the allowed fractional deviation between the
	// declared duration and the converted file's measured duration. Spec:
	// ±5%.
	DurationTolerance float64

	// CircuitBreaker tunes the per-strategy breaker that trips a client
	// identity out of rotation once it fails repeatedly across videos in
	// the same run. Zero value applies [resilience.CircuitBreakerConfig]'s
	// own defaults.
	CircuitBreaker resilience.CircuitBreakerConfig
}

// DefaultConfig returns the spec's literal defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetriesPerStrategy: 15,
		InitialBackoff:        2 * time.Second,
		MinSizeBytes:          50 * 1024,
		DurationTolerance:     0.05,
	}
}

// Fetcher obtains AudioArtifacts by trying ClientStrategies in order, each
// with its own retry budget and circuit breaker, per spec §4.2.
type Fetcher struct {
	group     *resilience.FallbackGroup[ClientStrategy]
	converter Converter
	cfg       Config
	tempDir   string
}

// New constructs a Fetcher that tries strategies in the given order, rotating
// away from a strategy whose circuit breaker has opened from repeated
// failures. strategies must be non-empty.
func New(strategies []ClientStrategy, converter Converter, tempDir string, cfg Config) (*Fetcher, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("fetch: at least one client strategy is required")
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	group := resilience.NewFallbackGroup(strategies[0], strategies[0].Name(), resilience.FallbackConfig{
		CircuitBreaker: cfg.CircuitBreaker,
	})
	for _, s := range strategies[1:] {
		group.AddFallback(s.Name(), s)
	}

	return &Fetcher{group: group, converter: converter, cfg: cfg, tempDir: tempDir}, nil
}

// Fetch downloads and validates audio for sourceID, returning the first
// healthy strategy's successful, validated result. Strategies whose circuit
// breaker has opened from prior failures this run are skipped. If every
// strategy fails or is circuit-open, the last error is returned.
func (f *Fetcher) Fetch(ctx context.Context, sourceID string) (AudioArtifact, error) {
	artifact, err := resilience.ExecuteWithResult(f.group, func(strategy ClientStrategy) (AudioArtifact, error) {
		return f.tryStrategy(ctx, strategy, sourceID)
	})
	if err != nil {
		return AudioArtifact{}, err
	}
	return artifact, nil
}

func (f *Fetcher) tryStrategy(ctx context.Context, strategy ClientStrategy, sourceID string) (AudioArtifact, error) {
	retrier := resilience.NewRetrier(resilience.RetrierConfig{
		Name:           strategy.Name(),
		MaxAttempts:    f.cfg.MaxRetriesPerStrategy,
		InitialBackoff: f.cfg.InitialBackoff,
		Retriable: func(err error) bool {
			if fe, ok := err.(*Error); ok {
				return fe.Retriable()
			}
			return resilience.DefaultRetriable(err)
		},
	})

	var artifact AudioArtifact
	err := retrier.Do(ctx, func() error {
		path, declaredDuration, err := strategy.Download(ctx, sourceID, f.tempDir)
		if err != nil {
			var fe *Error
			if errors.As(err, &fe) {
				return fe
			}
			return &Error{Kind: KindUnavailable, Client: strategy.Name(), Err: err}
		}

		if err := f.validate(path); err != nil {
			_ = os.Remove(path)
			return &Error{Kind: KindCorruptDownload, Client: strategy.Name(), Err: err}
		}

		convertedPath, sampleRate, measuredDuration, err := f.converter.ConvertTo16kMono(ctx, path)
		if err != nil {
			return &Error{Kind: KindCorruptDownload, Client: strategy.Name(), Err: fmt.Errorf("convert: %w", err)}
		}

		if declaredDuration > 0 && !withinTolerance(declaredDuration, measuredDuration, f.cfg.DurationTolerance) {
			return &Error{Kind: KindCorruptDownload, Client: strategy.Name(), Err: fmt.Errorf(
				"duration mismatch: declared %.1fs, measured %.1fs", declaredDuration, measuredDuration)}
		}

		artifact = AudioArtifact{Path: convertedPath, DurationS: measuredDuration, SampleRate: sampleRate}
		return nil
	})
	if err != nil {
		return AudioArtifact{}, err
	}
	return artifact, nil
}

func (f *Fetcher) validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if info.Size() < f.cfg.MinSizeBytes {
		return fmt.Errorf("file too small: %d bytes < %d minimum", info.Size(), f.cfg.MinSizeBytes)
	}
	return nil
}

func withinTolerance(declared, measured, tolerance float64) bool {
	if declared == 0 {
		return true
	}
	deviation := (measured - declared) / declared
	if deviation < 0 {
		deviation = -deviation
	}
	return deviation <= tolerance
}
