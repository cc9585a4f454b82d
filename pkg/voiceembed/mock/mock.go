// Package mock provides a test double for the voiceembed.Extractor interface.
//
// Use Extractor to return a pre-canned vector without a live embedding
// backend and to verify which audio spans were submitted for extraction.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/castbox/pkg/voiceembed"
)

// ExtractCall records a single invocation of Extractor.Extract.
type ExtractCall struct {
	Ctx       context.Context
	AudioPath string
	Start     float64
	End       float64
}

// Extractor is a mock implementation of voiceembed.Extractor.
type Extractor struct {
	mu sync.Mutex

	// ExtractResult is returned by Extract.
	ExtractResult []float32

	// ExtractErr, if non-nil, is returned as the error from Extract.
	ExtractErr error

	// DimensionsResult is returned by Dimensions.
	DimensionsResult int

	// ExtractCalls records every call to Extract in order.
	ExtractCalls []ExtractCall
}

// Extract records the call and returns ExtractResult, ExtractErr.
func (e *Extractor) Extract(ctx context.Context, audioPath string, start, end float64) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ExtractCalls = append(e.ExtractCalls, ExtractCall{Ctx: ctx, AudioPath: audioPath, Start: start, End: end})
	if e.ExtractErr != nil {
		return nil, e.ExtractErr
	}
	return e.ExtractResult, nil
}

// Dimensions returns DimensionsResult.
func (e *Extractor) Dimensions() int {
	return e.DimensionsResult
}

// Reset clears all recorded calls. Thread-safe.
func (e *Extractor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ExtractCalls = nil
}

// Ensure Extractor implements voiceembed.Extractor at compile time.
var _ voiceembed.Extractor = (*Extractor)(nil)
