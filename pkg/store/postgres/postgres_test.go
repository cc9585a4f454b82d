package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/castbox/pkg/domain"
	"github.com/MrWong99/castbox/pkg/store"
	"github.com/MrWong99/castbox/pkg/store/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if CASTBOX_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CASTBOX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CASTBOX_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	s, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS text_embeddings CASCADE",
		"DROP TABLE IF EXISTS segments CASCADE",
		"DROP TABLE IF EXISTS sources CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func TestBeginRunning_AdmitsPendingAndRejectsRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	admitted, err := s.BeginRunning(ctx, "video-1", false)
	if err != nil {
		t.Fatalf("BeginRunning: %v", err)
	}
	if !admitted {
		t.Fatal("expected first BeginRunning on a new source to be admitted")
	}

	admitted, err = s.BeginRunning(ctx, "video-1", false)
	if err != nil {
		t.Fatalf("BeginRunning (re-entry): %v", err)
	}
	if admitted {
		t.Fatal("expected re-entry on an already-running source to be rejected")
	}

	admitted, err = s.BeginRunning(ctx, "video-1", true)
	if err != nil {
		t.Fatalf("BeginRunning (force): %v", err)
	}
	if !admitted {
		t.Fatal("expected force=true to admit a running source")
	}
}

func TestCommitVideo_WritesSegmentsAndEmbeddingsAndMarksDone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.BeginRunning(ctx, "video-1", false); err != nil {
		t.Fatalf("BeginRunning: %v", err)
	}

	batch := store.VideoBatch{
		Source: domain.Source{SourceID: "video-1", Title: "Episode 1", Channel: "feed"},
		Segments: []domain.Segment{
			{SegmentID: "video-1-0", SourceID: "video-1", Ordinal: 0, StartS: 0, EndS: 5, Text: "hello",
				ClusterID: "cluster-0", SpeakerLabel: domain.KnownSpeaker("PRIMARY")},
			{SegmentID: "video-1-1", SourceID: "video-1", Ordinal: 1, StartS: 5, EndS: 10, Text: "world",
				ClusterID: "cluster-0", SpeakerLabel: domain.GuestSpeaker()},
		},
		Embeddings: []domain.TextEmbedding{
			{SegmentID: "video-1-0", ModelKey: "quality", Dimensions: testEmbeddingDim, Vector: []float32{1, 0, 0, 0}},
			{SegmentID: "video-1-1", ModelKey: "quality", Dimensions: testEmbeddingDim, Vector: []float32{0, 1, 0, 0}},
		},
	}

	segWritten, embWritten, err := s.CommitVideo(ctx, batch)
	if err != nil {
		t.Fatalf("CommitVideo: %v", err)
	}
	if segWritten != 2 || embWritten != 2 {
		t.Errorf("segWritten=%d embWritten=%d, want 2, 2", segWritten, embWritten)
	}

	// Re-committing without force should be a no-op since the source is done.
	segWritten, embWritten, err = s.CommitVideo(ctx, batch)
	if err != nil {
		t.Fatalf("CommitVideo (repeat): %v", err)
	}
	if segWritten != 0 || embWritten != 0 {
		t.Errorf("repeat commit: segWritten=%d embWritten=%d, want 0, 0", segWritten, embWritten)
	}

	// force=true replaces the existing rows.
	batch.Force = true
	segWritten, embWritten, err = s.CommitVideo(ctx, batch)
	if err != nil {
		t.Fatalf("CommitVideo (force): %v", err)
	}
	if segWritten != 2 || embWritten != 2 {
		t.Errorf("force commit: segWritten=%d embWritten=%d, want 2, 2", segWritten, embWritten)
	}
}

func TestMarkError_RecordsLastError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.BeginRunning(ctx, "video-2", false); err != nil {
		t.Fatalf("BeginRunning: %v", err)
	}
	if err := s.MarkError(ctx, "video-2", context.DeadlineExceeded); err != nil {
		t.Fatalf("MarkError: %v", err)
	}

	// A source marked error is treated the same as pending for BeginRunning.
	admitted, err := s.BeginRunning(ctx, "video-2", false)
	if err != nil {
		t.Fatalf("BeginRunning after error: %v", err)
	}
	if !admitted {
		t.Error("expected a source in error status to be re-admitted without force")
	}
}

func TestResetAbandoned_RevertsStaleRunningSources(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.BeginRunning(ctx, "video-3", false); err != nil {
		t.Fatalf("BeginRunning: %v", err)
	}

	reset, err := s.ResetAbandoned(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ResetAbandoned: %v", err)
	}
	if reset != 0 {
		t.Errorf("ResetAbandoned(1h) = %d, want 0 (source just started)", reset)
	}

	reset, err = s.ResetAbandoned(ctx, 0)
	if err != nil {
		t.Fatalf("ResetAbandoned: %v", err)
	}
	if reset != 1 {
		t.Errorf("ResetAbandoned(0) = %d, want 1", reset)
	}

	admitted, err := s.BeginRunning(ctx, "video-3", false)
	if err != nil {
		t.Fatalf("BeginRunning after reset: %v", err)
	}
	if !admitted {
		t.Error("expected source reset to pending to be admitted")
	}
}
