// Package mock provides a test double for the asr.Engine interface.
//
// Use Engine to return a pre-canned Transcript without a live ASR backend
// and to verify which audio paths were submitted for transcription.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/castbox/pkg/asr"
)

// TranscribeCall records a single invocation of Engine.Transcribe.
type TranscribeCall struct {
	Ctx       context.Context
	AudioPath string
}

// Engine is a mock implementation of asr.Engine.
type Engine struct {
	mu sync.Mutex

	// TranscribeResult is returned by Transcribe.
	TranscribeResult asr.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns TranscribeResult, TranscribeErr.
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (asr.Transcript, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TranscribeCalls = append(e.TranscribeCalls, TranscribeCall{Ctx: ctx, AudioPath: audioPath})
	if e.TranscribeErr != nil {
		return asr.Transcript{}, e.TranscribeErr
	}
	return e.TranscribeResult, nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TranscribeCalls = nil
}

// Ensure Engine implements asr.Engine at compile time.
var _ asr.Engine = (*Engine)(nil)
