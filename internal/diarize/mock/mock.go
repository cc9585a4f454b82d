// Package mock provides a test double for the diarize.Backend interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/castbox/internal/diarize"
	"github.com/MrWong99/castbox/pkg/domain"
)

// Backend is a mock implementation of diarize.Backend.
type Backend struct {
	mu sync.Mutex

	DiarizeFileResult []domain.Turn
	DiarizeFileErr    error
	DiarizeFileCalls  int

	DiarizeWaveformResult []domain.Turn
	DiarizeWaveformErr    error
	DiarizeWaveformCalls  int
}

// DiarizeFile records the call and returns DiarizeFileResult, DiarizeFileErr.
func (b *Backend) DiarizeFile(ctx context.Context, audioPath string, cfg diarize.Config) ([]domain.Turn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DiarizeFileCalls++
	if b.DiarizeFileErr != nil {
		return nil, b.DiarizeFileErr
	}
	return b.DiarizeFileResult, nil
}

// DiarizeWaveform records the call and returns DiarizeWaveformResult, DiarizeWaveformErr.
func (b *Backend) DiarizeWaveform(ctx context.Context, waveform []float32, sampleRate int, cfg diarize.Config) ([]domain.Turn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DiarizeWaveformCalls++
	if b.DiarizeWaveformErr != nil {
		return nil, b.DiarizeWaveformErr
	}
	return b.DiarizeWaveformResult, nil
}

// Ensure Backend implements diarize.Backend at compile time.
var _ diarize.Backend = (*Backend)(nil)
