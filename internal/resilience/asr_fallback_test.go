package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/castbox/pkg/asr"
	asrmock "github.com/MrWong99/castbox/pkg/asr/mock"
)

func TestASRFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &asrmock.Engine{TranscribeResult: asr.Transcript{Language: "en"}}
	secondary := &asrmock.Engine{}

	fb := NewASRFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), "/audio/episode1.wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Language != "en" {
		t.Errorf("Language = %q, want en", got.Language)
	}
	if len(primary.TranscribeCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.TranscribeCalls))
	}
	if len(secondary.TranscribeCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.TranscribeCalls))
	}
}

func TestASRFallback_Transcribe_Failover(t *testing.T) {
	primary := &asrmock.Engine{TranscribeErr: errors.New("primary down")}
	secondary := &asrmock.Engine{TranscribeResult: asr.Transcript{Language: "de"}}

	fb := NewASRFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), "/audio/episode1.wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Language != "de" {
		t.Errorf("Language = %q, want de", got.Language)
	}
	if len(secondary.TranscribeCalls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.TranscribeCalls))
	}
}

func TestASRFallback_Transcribe_AllFail(t *testing.T) {
	primary := &asrmock.Engine{TranscribeErr: errors.New("primary down")}
	secondary := &asrmock.Engine{TranscribeErr: errors.New("secondary down")}

	fb := NewASRFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), "/audio/episode1.wav")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
