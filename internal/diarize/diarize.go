// Package diarize partitions a transcribed audio file into speaker turns
// (Phase A of the spec's combined Diarizer/Speaker Attributor component) and
// splits ASR segments at turn boundaries (Phase B step 1, segment
// splitting).
//
// Turn extraction calls into an external diarization pipeline (a pretrained
// community speaker-diarization model served over HTTP); this package also
// owns the degrade-to-single-turn fallback used when that call fails
// entirely, so a diarization outage never fails a video outright.
package diarize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MrWong99/castbox/pkg/asr"
	"github.com/MrWong99/castbox/pkg/domain"
)

// Error wraps a failure from the diarization backend. Diarizer.Diarize
// itself never returns Error to callers — it degrades to a single
// full-duration turn instead (per spec §4.5 Phase A) — but backend
// implementations wrap their request, transport and decode failures in it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("diarize: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// SyntheticClusterID is the cluster_id assigned to the single full-duration
// turn produced when diarization fails entirely or is skipped.
const SyntheticClusterID = "synthetic-0"

// Config configures a diarization pass. Zero values select the backend's
// own defaults.
type Config struct {
	ClusteringThreshold float64
	MinSpeakers         int
	MaxSpeakers         int
	MinOnDuration       time.Duration
	MinOffDuration      time.Duration
}

// Backend is the abstraction over a pretrained diarization pipeline.
//
// Implementations must be safe for concurrent use, though the pipeline
// orchestrator serializes calls behind a single GPU mutex regardless.
type Backend interface {
	// DiarizeFile runs the pipeline against the audio file at audioPath.
	DiarizeFile(ctx context.Context, audioPath string, cfg Config) ([]domain.Turn, error)

	// DiarizeWaveform runs the pipeline against a pre-decoded waveform, used
	// as a fallback when the backend cannot accept a file path directly
	// (known decoder import failures and similar interop errors).
	DiarizeWaveform(ctx context.Context, waveform []float32, sampleRate int, cfg Config) ([]domain.Turn, error)
}

// Diarizer runs Phase A turn extraction with the degrade-to-single-turn
// fallback the spec requires.
type Diarizer struct {
	backend Backend
}

// New returns a Diarizer backed by backend.
func New(backend Backend) *Diarizer {
	return &Diarizer{backend: backend}
}

// Diarize returns the ordered, non-overlapping turns covering speech in the
// audio file at audioPath. It calls only the backend's DiarizeFile; it does
// not retry through the waveform path ([Diarizer.DiarizeWaveform] is a
// separate entry point). When DiarizeFile fails it degrades to a single turn
// spanning [0, audioDuration) tagged with SyntheticClusterID, per spec
// §4.5's "failure in Phase A degrades to a single cluster" rule. This method
// never returns an error.
func (d *Diarizer) Diarize(ctx context.Context, audioPath string, audioDuration time.Duration, cfg Config) []domain.Turn {
	turns, err := d.backend.DiarizeFile(ctx, audioPath, cfg)
	if err == nil {
		return normalizeTurns(turns, audioDuration)
	}
	return []domain.Turn{{Start: 0, End: audioDuration, ClusterID: SyntheticClusterID}}
}

// DiarizeWaveform runs turn extraction on a waveform the caller has already
// decoded (callers own decode/free, per spec §4.5 step 2's audio-cache
// discipline), handing it to the backend directly instead of a file path.
// Like Diarize, it degrades to a single synthetic turn on backend failure.
func (d *Diarizer) DiarizeWaveform(ctx context.Context, waveform []float32, sampleRate int, audioDuration time.Duration, cfg Config) []domain.Turn {
	turns, err := d.backend.DiarizeWaveform(ctx, waveform, sampleRate, cfg)
	if err != nil {
		return []domain.Turn{{Start: 0, End: audioDuration, ClusterID: SyntheticClusterID}}
	}
	return normalizeTurns(turns, audioDuration)
}

func normalizeTurns(turns []domain.Turn, audioDuration time.Duration) []domain.Turn {
	if len(turns) == 0 {
		return []domain.Turn{{Start: 0, End: audioDuration, ClusterID: SyntheticClusterID}}
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Start < turns[j].Start })
	return turns
}

// ErrNoTurns is returned by SplitSegments when called with an empty turns
// slice; callers should not reach this since Diarize always returns at
// least the synthetic fallback turn.
var ErrNoTurns = errors.New("diarize: no turns to split against")

// SplitSegments implements spec §4.5 Phase B step 1. For each RawSegment, if
// its word midpoints span more than one turn, it is split at the turn
// boundary — never mid-word, each word assigned to the turn containing its
// midpoint. The result is an ordered slice of speaker-coherent segments,
// each tagged with the owning turn's cluster_id.
//
// words must be sorted by Start and belong to the same audio file as
// segments and turns. Words outside segments' bounds are ignored.
func SplitSegments(segments []asr.RawSegment, words []asr.Word, turns []domain.Turn) ([]domain.Segment, error) {
	if len(turns) == 0 {
		return nil, ErrNoTurns
	}

	var out []domain.Segment
	ordinal := 0

	for _, seg := range segments {
		segWords := wordsInRange(words, seg.Start, seg.End)
		if len(segWords) == 0 {
			out = append(out, domain.Segment{
				Ordinal:   ordinal,
				StartS:    seg.Start.Seconds(),
				EndS:      seg.End.Seconds(),
				Text:      seg.Text,
				ClusterID: turnAt(turns, midpoint(seg.Start, seg.End)).ClusterID,
			})
			ordinal++
			continue
		}

		var runStart = 0
		currentCluster := turnAt(turns, midpoint(segWords[0].Start, segWords[0].End)).ClusterID
		flush := func(endIdx int) {
			if runStart > endIdx {
				return
			}
			run := segWords[runStart : endIdx+1]
			text := joinWords(run)
			if text == "" {
				return
			}
			out = append(out, domain.Segment{
				Ordinal:   ordinal,
				StartS:    run[0].Start.Seconds(),
				EndS:      run[len(run)-1].End.Seconds(),
				Text:      text,
				ClusterID: currentCluster,
			})
			ordinal++
		}

		for i := 1; i < len(segWords); i++ {
			cluster := turnAt(turns, midpoint(segWords[i].Start, segWords[i].End)).ClusterID
			if cluster != currentCluster {
				flush(i - 1)
				runStart = i
				currentCluster = cluster
			}
		}
		flush(len(segWords) - 1)
	}

	return out, nil
}

func midpoint(start, end time.Duration) time.Duration {
	return start + (end-start)/2
}

func wordsInRange(words []asr.Word, start, end time.Duration) []asr.Word {
	var out []asr.Word
	for _, w := range words {
		mid := midpoint(w.Start, w.End)
		if mid >= start && mid < end {
			out = append(out, w)
		}
	}
	return out
}

// turnAt returns the turn containing t or, if t falls in a gap or before or
// after all turns, the turn whose nearer edge is closest to t (the earlier
// turn on a tie).
func turnAt(turns []domain.Turn, t time.Duration) domain.Turn {
	for _, turn := range turns {
		if t >= turn.Start && t < turn.End {
			return turn
		}
	}
	// Gap between turns or before/after all turns: attribute to the nearest.
	best := turns[0]
	bestDist := absDuration(t - best.Start)
	if t >= best.End {
		bestDist = absDuration(t - best.End)
	}
	for _, turn := range turns[1:] {
		d := absDuration(t - turn.Start)
		if t >= turn.End {
			d = absDuration(t - turn.End)
		}
		if d < bestDist {
			best = turn
			bestDist = d
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func joinWords(words []asr.Word) string {
	var out string
	for i, w := range words {
		if i > 0 {
			out += " "
		}
		out += w.Text
	}
	return out
}
