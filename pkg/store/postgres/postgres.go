package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/castbox/pkg/domain"
	"github.com/MrWong99/castbox/pkg/store"
)

var (
	_ store.Writer      = (*Store)(nil)
	_ store.DoneChecker = (*Store)(nil)
)

// Store is the PostgreSQL-backed implementation of store.Writer. All
// operations are safe for concurrent use across the pipeline orchestrator's
// DB worker pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool to dsn, registers pgvector types on
// every connection, and runs Migrate with embeddingDimensions sized for the
// active text-embedding profile.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() { s.pool.Close() }

// BeginRunning implements store.Writer.
func (s *Store) BeginRunning(ctx context.Context, sourceID string, force bool) (bool, error) {
	const q = `
		INSERT INTO sources (source_id, ingest_status, started_at)
		VALUES ($1, 'running', now())
		ON CONFLICT (source_id) DO UPDATE
		    SET ingest_status = 'running', started_at = now()
		    WHERE sources.ingest_status = 'pending'
		       OR sources.ingest_status = 'error'
		       OR $2
		RETURNING ingest_status`

	rows, err := s.pool.Query(ctx, q, sourceID, force)
	if err != nil {
		return false, &store.PersistenceError{SourceID: sourceID, Op: "begin_running", Err: err}
	}
	defer rows.Close()

	admitted := rows.Next()
	if err := rows.Err(); err != nil {
		return false, &store.PersistenceError{SourceID: sourceID, Op: "begin_running", Err: err}
	}
	return admitted, nil
}

// CommitVideo implements store.Writer. It writes segments and embeddings and
// marks the source done inside a single transaction, per the "never
// accumulate across videos" rule.
func (s *Store) CommitVideo(ctx context.Context, batch store.VideoBatch) (int, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, &store.PersistenceError{SourceID: batch.Source.SourceID, Op: "commit_video", Err: err}
	}
	defer tx.Rollback(ctx)

	if !batch.Force {
		var status string
		err := tx.QueryRow(ctx, `SELECT ingest_status FROM sources WHERE source_id = $1`, batch.Source.SourceID).Scan(&status)
		if err == nil && status == string(domain.StatusDone) {
			return 0, 0, nil
		}
	}

	const upsertSource = `
		INSERT INTO sources (source_id, title, published_at, duration_seconds, channel, ingest_status, last_error, processed_at)
		VALUES ($1, $2, $3, $4, $5, 'done', '', now())
		ON CONFLICT (source_id) DO UPDATE SET
		    title            = EXCLUDED.title,
		    published_at     = EXCLUDED.published_at,
		    duration_seconds = EXCLUDED.duration_seconds,
		    channel          = EXCLUDED.channel,
		    ingest_status    = 'done',
		    last_error       = '',
		    processed_at     = now()`

	if _, err := tx.Exec(ctx, upsertSource,
		batch.Source.SourceID, batch.Source.Title, batch.Source.PublishedAt,
		batch.Source.DurationSeconds, batch.Source.Channel,
	); err != nil {
		return 0, 0, &store.PersistenceError{SourceID: batch.Source.SourceID, Op: "upsert_source", Err: err}
	}

	if batch.Force {
		if _, err := tx.Exec(ctx, `DELETE FROM segments WHERE source_id = $1`, batch.Source.SourceID); err != nil {
			return 0, 0, &store.PersistenceError{SourceID: batch.Source.SourceID, Op: "clear_segments", Err: err}
		}
	}

	segmentsWritten := 0
	for _, seg := range batch.Segments {
		const q = `
			INSERT INTO segments
			    (segment_id, source_id, ordinal, start_s, end_s, text, cluster_id,
			     speaker_label_kind, speaker_label_name, speaker_confidence, asr_confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (source_id, ordinal) DO UPDATE SET
			    segment_id         = EXCLUDED.segment_id,
			    start_s            = EXCLUDED.start_s,
			    end_s              = EXCLUDED.end_s,
			    text               = EXCLUDED.text,
			    cluster_id         = EXCLUDED.cluster_id,
			    speaker_label_kind = EXCLUDED.speaker_label_kind,
			    speaker_label_name = EXCLUDED.speaker_label_name,
			    speaker_confidence = EXCLUDED.speaker_confidence,
			    asr_confidence     = EXCLUDED.asr_confidence`

		if _, err := tx.Exec(ctx, q,
			seg.SegmentID, batch.Source.SourceID, seg.Ordinal, seg.StartS, seg.EndS, seg.Text, seg.ClusterID,
			seg.SpeakerLabel.Kind, seg.SpeakerLabel.Name, seg.SpeakerConfident, seg.ASRConfidence,
		); err != nil {
			return 0, 0, &store.PersistenceError{SourceID: batch.Source.SourceID, Op: "insert_segment", Err: err}
		}
		segmentsWritten++
	}

	embeddingsWritten := 0
	for _, emb := range batch.Embeddings {
		const q = `
			INSERT INTO text_embeddings (segment_id, model_key, dimensions, vector)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (segment_id, model_key) DO UPDATE SET
			    dimensions = EXCLUDED.dimensions,
			    vector     = EXCLUDED.vector`

		if _, err := tx.Exec(ctx, q, emb.SegmentID, emb.ModelKey, emb.Dimensions, pgvector.NewVector(emb.Vector)); err != nil {
			return 0, 0, &store.PersistenceError{SourceID: batch.Source.SourceID, Op: "insert_embedding", Err: err}
		}
		embeddingsWritten++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, &store.PersistenceError{SourceID: batch.Source.SourceID, Op: "commit", Err: err}
	}
	return segmentsWritten, embeddingsWritten, nil
}

// MarkError implements store.Writer.
func (s *Store) MarkError(ctx context.Context, sourceID string, lastErr error) error {
	const q = `
		UPDATE sources
		SET ingest_status = 'error', last_error = $2, processed_at = now()
		WHERE source_id = $1`

	msg := ""
	if lastErr != nil {
		msg = lastErr.Error()
	}
	if _, err := s.pool.Exec(ctx, q, sourceID, msg); err != nil {
		return &store.PersistenceError{SourceID: sourceID, Op: "mark_error", Err: err}
	}
	return nil
}

// DoneSourceIDs implements store.DoneChecker.
func (s *Store) DoneSourceIDs(ctx context.Context, candidateIDs []string) (map[string]bool, error) {
	return s.sourceIDsByStatus(ctx, candidateIDs, "done", "done_source_ids")
}

// ErroredSourceIDs implements store.DoneChecker.
func (s *Store) ErroredSourceIDs(ctx context.Context, candidateIDs []string) (map[string]bool, error) {
	return s.sourceIDsByStatus(ctx, candidateIDs, "error", "errored_source_ids")
}

func (s *Store) sourceIDsByStatus(ctx context.Context, candidateIDs []string, status, op string) (map[string]bool, error) {
	matched := make(map[string]bool, len(candidateIDs))
	if len(candidateIDs) == 0 {
		return matched, nil
	}

	const q = `
		SELECT source_id FROM sources
		WHERE source_id = ANY($1) AND ingest_status = $2`

	rows, err := s.pool.Query(ctx, q, candidateIDs, status)
	if err != nil {
		return nil, &store.PersistenceError{Op: op, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &store.PersistenceError{Op: op, Err: err}
		}
		matched[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, &store.PersistenceError{Op: op, Err: err}
	}
	return matched, nil
}

// ResetAbandoned implements store.Writer.
func (s *Store) ResetAbandoned(ctx context.Context, staleAfter time.Duration) (int, error) {
	const q = `
		UPDATE sources
		SET ingest_status = 'pending'
		WHERE ingest_status = 'running'
		  AND started_at < now() - ($1::bigint * interval '1 microsecond')`

	tag, err := s.pool.Exec(ctx, q, staleAfter.Microseconds())
	if err != nil {
		return 0, &store.PersistenceError{Op: "reset_abandoned", Err: err}
	}
	return int(tag.RowsAffected()), nil
}
