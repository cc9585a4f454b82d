// Package postgres is a PostgreSQL-backed implementation of store.Writer
// using pgx and pgvector for the text_embeddings.vector column.
//
// Usage:
//
//	w, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer w.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSources = `
CREATE TABLE IF NOT EXISTS sources (
    source_id        TEXT         PRIMARY KEY,
    title            TEXT         NOT NULL DEFAULT '',
    published_at     TIMESTAMPTZ,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    channel          TEXT         NOT NULL DEFAULT '',
    ingest_status    TEXT         NOT NULL DEFAULT 'pending',
    last_error       TEXT         NOT NULL DEFAULT '',
    started_at       TIMESTAMPTZ,
    processed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sources_status ON sources (ingest_status);
`

const ddlSegments = `
CREATE TABLE IF NOT EXISTS segments (
    segment_id          TEXT             PRIMARY KEY,
    source_id           TEXT             NOT NULL REFERENCES sources (source_id) ON DELETE CASCADE,
    ordinal             INT              NOT NULL,
    start_s             DOUBLE PRECISION NOT NULL,
    end_s               DOUBLE PRECISION NOT NULL,
    text                TEXT             NOT NULL,
    cluster_id          TEXT             NOT NULL DEFAULT '',
    speaker_label_kind  TEXT             NOT NULL DEFAULT '',
    speaker_label_name  TEXT             NOT NULL DEFAULT '',
    speaker_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    asr_confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
    UNIQUE (source_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_segments_source_ordinal ON segments (source_id, ordinal);
`

// ddlTextEmbeddings returns the DDL for the text_embeddings table with the
// active embedding profile's dimension baked into the vector column type, as
// in the teacher's L2 chunks table.
func ddlTextEmbeddings(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS text_embeddings (
    segment_id  TEXT    NOT NULL REFERENCES segments (segment_id) ON DELETE CASCADE,
    model_key   TEXT    NOT NULL,
    dimensions  INT     NOT NULL,
    vector      vector(%d),
    PRIMARY KEY (segment_id, model_key)
);

CREATE INDEX IF NOT EXISTS idx_text_embeddings_model_key
    ON text_embeddings USING hnsw (vector vector_cosine_ops);
`, dimensions)
}

// Migrate creates or ensures all required tables, indexes, and extensions
// exist. Idempotent; safe to call on every process start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{ddlSources, ddlSegments, ddlTextEmbeddings(embeddingDimensions)}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres store: migrate: %w", err)
		}
	}
	return nil
}
