package diarize_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/castbox/internal/diarize"
	diarizemock "github.com/MrWong99/castbox/internal/diarize/mock"
	"github.com/MrWong99/castbox/pkg/asr"
	"github.com/MrWong99/castbox/pkg/domain"
)

func TestDiarize_BackendSuccess(t *testing.T) {
	backend := &diarizemock.Backend{
		DiarizeFileResult: []domain.Turn{
			{Start: 0, End: 5 * time.Second, ClusterID: "a"},
			{Start: 5 * time.Second, End: 10 * time.Second, ClusterID: "b"},
		},
	}
	d := diarize.New(backend)

	turns := d.Diarize(context.Background(), "/audio.wav", 10*time.Second, diarize.Config{})
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].ClusterID != "a" || turns[1].ClusterID != "b" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestDiarize_BackendFailureDegradesToSingleTurn(t *testing.T) {
	backend := &diarizemock.Backend{DiarizeFileErr: errors.New("pipeline crashed")}
	d := diarize.New(backend)

	turns := d.Diarize(context.Background(), "/audio.wav", 30*time.Second, diarize.Config{})
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	if turns[0].ClusterID != diarize.SyntheticClusterID {
		t.Errorf("ClusterID = %q, want %q", turns[0].ClusterID, diarize.SyntheticClusterID)
	}
	if turns[0].Start != 0 || turns[0].End != 30*time.Second {
		t.Errorf("turn span = [%v, %v), want [0, 30s)", turns[0].Start, turns[0].End)
	}
}

func TestDiarize_EmptyTurnsDegradesToSingleTurn(t *testing.T) {
	backend := &diarizemock.Backend{DiarizeFileResult: nil}
	d := diarize.New(backend)

	turns := d.Diarize(context.Background(), "/audio.wav", 12*time.Second, diarize.Config{})
	if len(turns) != 1 || turns[0].ClusterID != diarize.SyntheticClusterID {
		t.Fatalf("turns = %+v, want single synthetic turn", turns)
	}
}

func TestSplitSegments_NoBoundaryCrossing(t *testing.T) {
	turns := []domain.Turn{{Start: 0, End: 10 * time.Second, ClusterID: "a"}}
	segments := []asr.RawSegment{{Start: 0, End: 5 * time.Second, Text: "hello world"}}
	words := []asr.Word{
		{Start: 0, End: 1 * time.Second, Text: "hello"},
		{Start: 1 * time.Second, End: 2 * time.Second, Text: "world"},
	}

	out, err := diarize.SplitSegments(segments, words, turns)
	if err != nil {
		t.Fatalf("SplitSegments: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].ClusterID != "a" || out[0].Text != "hello world" {
		t.Errorf("out[0] = %+v", out[0])
	}
}

func TestSplitSegments_SplitsAtTurnBoundary(t *testing.T) {
	turns := []domain.Turn{
		{Start: 0, End: 2 * time.Second, ClusterID: "a"},
		{Start: 2 * time.Second, End: 5 * time.Second, ClusterID: "b"},
	}
	segments := []asr.RawSegment{{Start: 0, End: 4 * time.Second, Text: "hello there friend"}}
	words := []asr.Word{
		{Start: 0, End: 1 * time.Second, Text: "hello"},
		{Start: 2200 * time.Millisecond, End: 3 * time.Second, Text: "there"},
		{Start: 3 * time.Second, End: 4 * time.Second, Text: "friend"},
	}

	out, err := diarize.SplitSegments(segments, words, turns)
	if err != nil {
		t.Fatalf("SplitSegments: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].ClusterID != "a" || out[0].Text != "hello" {
		t.Errorf("out[0] = %+v", out[0])
	}
	if out[1].ClusterID != "b" || out[1].Text != "there friend" {
		t.Errorf("out[1] = %+v", out[1])
	}
}

func TestSplitSegments_NoTurnsReturnsError(t *testing.T) {
	_, err := diarize.SplitSegments(nil, nil, nil)
	if !errors.Is(err, diarize.ErrNoTurns) {
		t.Fatalf("err = %v, want ErrNoTurns", err)
	}
}

func TestSplitSegments_OrdinalsAreDenseAndOrdered(t *testing.T) {
	turns := []domain.Turn{
		{Start: 0, End: 2 * time.Second, ClusterID: "a"},
		{Start: 2 * time.Second, End: 6 * time.Second, ClusterID: "b"},
	}
	segments := []asr.RawSegment{
		{Start: 0, End: 2 * time.Second, Text: "first"},
		{Start: 2 * time.Second, End: 4 * time.Second, Text: "second"},
	}
	words := []asr.Word{
		{Start: 0, End: 2 * time.Second, Text: "first"},
		{Start: 2 * time.Second, End: 4 * time.Second, Text: "second"},
	}

	out, err := diarize.SplitSegments(segments, words, turns)
	if err != nil {
		t.Fatalf("SplitSegments: %v", err)
	}
	for i, seg := range out {
		if seg.Ordinal != i {
			t.Errorf("out[%d].Ordinal = %d, want %d", i, seg.Ordinal, i)
		}
	}
}
