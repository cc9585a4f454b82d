// Package store defines the Writer interface for idempotent persistence of
// one video's ingestion artifacts, and the PersistenceError taxonomy entry
// from spec §7.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/castbox/pkg/domain"
)

// PersistenceError wraps a transactional failure. Per spec §7 it is
// per-video and recoverable unless it repeats (repeated failures may
// indicate schema drift, which callers detect by tracking consecutive
// PersistenceErrors for the same source_id — this package does not track
// that counter itself).
type PersistenceError struct {
	SourceID string
	Op       string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: source %q: %v", e.Op, e.SourceID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// VideoBatch is everything produced for one source by the pipeline, handed
// to the Writer as a single eager per-video commit (spec §4.7's "critical
// rule": never accumulate across videos).
type VideoBatch struct {
	Source     domain.Source
	Segments   []domain.Segment
	Embeddings []domain.TextEmbedding
	// Force, when true, replaces any existing segments/embeddings for
	// Source.SourceID instead of treating them as an idempotent no-op.
	Force bool
}

// Writer is the abstraction over the persistence layer's write path.
//
// Implementations must be safe for concurrent use — the pipeline
// orchestrator shares one Writer across every DB worker.
type Writer interface {
	// BeginRunning upserts the Source row with ingest_status=running,
	// guarding re-entry for the same source_id via the pending→running
	// transition (spec §3 Ownership). Returns false if the source is
	// already running or done and force is false — the caller should skip
	// it.
	BeginRunning(ctx context.Context, sourceID string, force bool) (admitted bool, err error)

	// CommitVideo writes batch's segments and embeddings transactionally
	// and marks the Source done, in one per-video transaction, per spec
	// §4.7. On conflict with (source_id, ordinal) or (segment_id,
	// model_key), rows are replaced only if batch.Force is set; otherwise
	// CommitVideo is a no-op returning (0, 0, nil) for an already-done
	// source.
	CommitVideo(ctx context.Context, batch VideoBatch) (segmentsWritten, embeddingsWritten int, err error)

	// MarkError records a per-video failure: Source.ingest_status=error
	// with lastErr as the stored message. The per-video transaction for any
	// partial segment/embedding writes must already have been rolled back
	// by the caller before invoking MarkError.
	MarkError(ctx context.Context, sourceID string, lastErr error) error

	// ResetAbandoned reverts every Source still in status=running whose
	// processing began more than staleAfter ago back to status=pending
	// (SPEC_FULL's resumable-checkpoint supplement: a hard crash mid-run
	// must not permanently wedge a source in "running").
	ResetAbandoned(ctx context.Context, staleAfter time.Duration) (reset int, err error)
}

// DoneChecker is an optional capability implemented by Writer backends that
// can answer "which of these candidate ids are already fully ingested"
// without fetching a full Source row per candidate. The Source Lister uses
// this to filter a candidate list before anything enters the pipeline (spec
// §4.1: "filters against the persistence layer for already-processed
// items").
type DoneChecker interface {
	// DoneSourceIDs returns the subset of candidateIDs whose ingest_status
	// is "done".
	DoneSourceIDs(ctx context.Context, candidateIDs []string) (map[string]bool, error)

	// ErroredSourceIDs returns the subset of candidateIDs whose ingest_status
	// is "error". The Source Lister only calls this when --skip-existing is
	// set (spec §7: a video in status=error is retried on the next
	// invocation unless --skip-existing asks for the stricter behavior).
	ErroredSourceIDs(ctx context.Context, candidateIDs []string) (map[string]bool, error)
}
