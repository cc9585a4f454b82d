// Package teststore is an in-memory fake satisfying store.Writer, for
// orchestrator tests that should not depend on a live PostgreSQL instance.
package teststore

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/castbox/pkg/domain"
	"github.com/MrWong99/castbox/pkg/store"
)

var (
	_ store.Writer      = (*Store)(nil)
	_ store.DoneChecker = (*Store)(nil)
)

// Store is a mutex-guarded, map-backed store.Writer fake.
type Store struct {
	mu sync.Mutex

	sources map[string]domain.Source
	// startedAt tracks when each source last entered status=running, for
	// ResetAbandoned.
	startedAt map[string]time.Time

	segments   map[string][]domain.Segment
	embeddings map[string][]domain.TextEmbedding

	// CommitCalls records every CommitVideo invocation in order, letting
	// tests assert on eager per-video commit ordering.
	CommitCalls []store.VideoBatch
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sources:    make(map[string]domain.Source),
		startedAt:  make(map[string]time.Time),
		segments:   make(map[string][]domain.Segment),
		embeddings: make(map[string][]domain.TextEmbedding),
	}
}

// BeginRunning implements store.Writer.
func (s *Store) BeginRunning(ctx context.Context, sourceID string, force bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, exists := s.sources[sourceID]
	if exists && src.IngestStatus == domain.StatusDone && !force {
		return false, nil
	}
	if exists && src.IngestStatus == domain.StatusRunning && !force {
		return false, nil
	}

	src.SourceID = sourceID
	src.IngestStatus = domain.StatusRunning
	s.sources[sourceID] = src
	s.startedAt[sourceID] = time.Now()
	return true, nil
}

// CommitVideo implements store.Writer.
func (s *Store) CommitVideo(ctx context.Context, batch store.VideoBatch) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CommitCalls = append(s.CommitCalls, batch)

	sourceID := batch.Source.SourceID
	if existing, ok := s.sources[sourceID]; ok && existing.IngestStatus == domain.StatusDone && !batch.Force {
		return 0, 0, nil
	}

	batch.Source.IngestStatus = domain.StatusDone
	batch.Source.ProcessedAt = time.Now()
	s.sources[sourceID] = batch.Source
	s.segments[sourceID] = append([]domain.Segment(nil), batch.Segments...)

	embs := s.embeddings[sourceID]
	if batch.Force {
		embs = nil
	}
	s.embeddings[sourceID] = append(embs, batch.Embeddings...)

	return len(batch.Segments), len(batch.Embeddings), nil
}

// MarkError implements store.Writer.
func (s *Store) MarkError(ctx context.Context, sourceID string, lastErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.sources[sourceID]
	src.SourceID = sourceID
	src.IngestStatus = domain.StatusError
	if lastErr != nil {
		src.LastError = lastErr.Error()
	}
	src.ProcessedAt = time.Now()
	s.sources[sourceID] = src
	return nil
}

// ResetAbandoned implements store.Writer.
func (s *Store) ResetAbandoned(ctx context.Context, staleAfter time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	now := time.Now()
	for id, src := range s.sources {
		if src.IngestStatus != domain.StatusRunning {
			continue
		}
		if now.Sub(s.startedAt[id]) < staleAfter {
			continue
		}
		src.IngestStatus = domain.StatusPending
		s.sources[id] = src
		reset++
	}
	return reset, nil
}

// DoneSourceIDs implements store.DoneChecker.
func (s *Store) DoneSourceIDs(ctx context.Context, candidateIDs []string) (map[string]bool, error) {
	return s.sourceIDsByStatus(candidateIDs, domain.StatusDone), nil
}

// ErroredSourceIDs implements store.DoneChecker.
func (s *Store) ErroredSourceIDs(ctx context.Context, candidateIDs []string) (map[string]bool, error) {
	return s.sourceIDsByStatus(candidateIDs, domain.StatusError), nil
}

func (s *Store) sourceIDsByStatus(candidateIDs []string, status domain.IngestStatus) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make(map[string]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		if src, ok := s.sources[id]; ok && src.IngestStatus == status {
			matched[id] = true
		}
	}
	return matched
}

// Source returns the current state of sourceID, for test assertions.
func (s *Store) Source(sourceID string) (domain.Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	return src, ok
}

// Segments returns the committed segments for sourceID, for test assertions.
func (s *Store) Segments(sourceID string) []domain.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Segment(nil), s.segments[sourceID]...)
}
