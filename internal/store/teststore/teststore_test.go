package teststore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/castbox/internal/store/teststore"
	"github.com/MrWong99/castbox/pkg/domain"
	"github.com/MrWong99/castbox/pkg/store"
)

func TestBeginRunning_RejectsRunningAndDoneWithoutForce(t *testing.T) {
	s := teststore.New()
	ctx := context.Background()

	admitted, err := s.BeginRunning(ctx, "v1", false)
	if err != nil || !admitted {
		t.Fatalf("first BeginRunning: admitted=%v err=%v", admitted, err)
	}

	admitted, err = s.BeginRunning(ctx, "v1", false)
	if err != nil || admitted {
		t.Fatalf("re-entry BeginRunning: admitted=%v err=%v, want false", admitted, err)
	}

	if _, _, err := s.CommitVideo(ctx, store.VideoBatch{Source: domain.Source{SourceID: "v1"}}); err != nil {
		t.Fatalf("CommitVideo: %v", err)
	}

	admitted, err = s.BeginRunning(ctx, "v1", false)
	if err != nil || admitted {
		t.Fatalf("BeginRunning on done source: admitted=%v err=%v, want false", admitted, err)
	}

	admitted, err = s.BeginRunning(ctx, "v1", true)
	if err != nil || !admitted {
		t.Fatalf("BeginRunning force=true: admitted=%v err=%v, want true", admitted, err)
	}
}

func TestCommitVideo_NoOpOnAlreadyDoneUnlessForced(t *testing.T) {
	s := teststore.New()
	ctx := context.Background()

	batch := store.VideoBatch{
		Source:   domain.Source{SourceID: "v1"},
		Segments: []domain.Segment{{SegmentID: "v1-0", Ordinal: 0}},
	}
	segWritten, _, err := s.CommitVideo(ctx, batch)
	if err != nil || segWritten != 1 {
		t.Fatalf("first commit: segWritten=%d err=%v", segWritten, err)
	}

	segWritten, _, err = s.CommitVideo(ctx, batch)
	if err != nil || segWritten != 0 {
		t.Fatalf("repeat commit: segWritten=%d err=%v, want 0", segWritten, err)
	}

	batch.Force = true
	segWritten, _, err = s.CommitVideo(ctx, batch)
	if err != nil || segWritten != 1 {
		t.Fatalf("forced commit: segWritten=%d err=%v, want 1", segWritten, err)
	}

	if len(s.CommitCalls) != 3 {
		t.Errorf("CommitCalls = %d, want 3", len(s.CommitCalls))
	}
}

func TestMarkError_SetsStatusAndLastError(t *testing.T) {
	s := teststore.New()
	ctx := context.Background()

	if _, err := s.BeginRunning(ctx, "v1", false); err != nil {
		t.Fatalf("BeginRunning: %v", err)
	}
	if err := s.MarkError(ctx, "v1", errors.New("boom")); err != nil {
		t.Fatalf("MarkError: %v", err)
	}

	src, ok := s.Source("v1")
	if !ok {
		t.Fatal("expected source to exist")
	}
	if src.IngestStatus != domain.StatusError || src.LastError != "boom" {
		t.Errorf("source = %+v, want status=error lastError=boom", src)
	}
}

func TestResetAbandoned_OnlyResetsStaleRunningSources(t *testing.T) {
	s := teststore.New()
	ctx := context.Background()

	if _, err := s.BeginRunning(ctx, "stale", false); err != nil {
		t.Fatalf("BeginRunning: %v", err)
	}
	if _, err := s.BeginRunning(ctx, "fresh", false); err != nil {
		t.Fatalf("BeginRunning: %v", err)
	}

	reset, err := s.ResetAbandoned(ctx, time.Hour)
	if err != nil {
		t.Fatalf("ResetAbandoned: %v", err)
	}
	if reset != 0 {
		t.Errorf("ResetAbandoned(1h) = %d, want 0", reset)
	}

	reset, err = s.ResetAbandoned(ctx, 0)
	if err != nil {
		t.Fatalf("ResetAbandoned(0): %v", err)
	}
	if reset != 2 {
		t.Errorf("ResetAbandoned(0) = %d, want 2", reset)
	}

	for _, id := range []string{"stale", "fresh"} {
		src, _ := s.Source(id)
		if src.IngestStatus != domain.StatusPending {
			t.Errorf("source %s status = %s, want pending", id, src.IngestStatus)
		}
	}
}
