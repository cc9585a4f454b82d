package resilience

import (
	"context"

	"github.com/MrWong99/castbox/pkg/asr"
)

// ASRFallback implements [asr.Engine] with automatic failover across multiple
// transcription backends. Each backend has its own circuit breaker.
type ASRFallback struct {
	group *FallbackGroup[asr.Engine]
}

// Compile-time interface assertion.
var _ asr.Engine = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred backend.
func NewASRFallback(primary asr.Engine, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional ASR engine as a fallback.
func (f *ASRFallback) AddFallback(name string, engine asr.Engine) {
	f.group.AddFallback(name, engine)
}

// Transcribe transcribes audioPath using the first healthy engine in the
// group. If the primary fails, subsequent fallbacks are tried in order.
func (f *ASRFallback) Transcribe(ctx context.Context, audioPath string) (asr.Transcript, error) {
	return ExecuteWithResult(f.group, func(e asr.Engine) (asr.Transcript, error) {
		return e.Transcribe(ctx, audioPath)
	})
}
