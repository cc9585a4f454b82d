// Package asr defines the Engine interface for batch speech-to-text
// transcription backends.
//
// Unlike a real-time streaming recognizer, an ASR Engine in this package
// accepts a complete audio file and returns the full transcript in one call,
// with word-level timestamps suitable for splitting segments at speaker-turn
// boundaries (see internal/diarize).
//
// Implementations must be safe for concurrent use, though the pipeline
// orchestrator serializes calls behind a single GPU mutex regardless.
package asr

import (
	"context"
	"time"
)

// Word is a single recognized word with its time span in the source audio.
type Word struct {
	Start      time.Duration
	End        time.Duration
	Text       string
	Confidence float64
}

// RawSegment is an initial grouping of words emitted by the ASR model. A
// RawSegment may span multiple speaker turns; the Diarizer is responsible for
// splitting it using the accompanying Word timestamps.
type RawSegment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Transcript is the full result of transcribing one audio file.
type Transcript struct {
	// Words holds every recognized word in the file, in chronological order.
	// Start and End are monotonically non-decreasing across the slice.
	Words []Word

	// Segments holds the model's initial segment groupings, before any
	// speaker-turn splitting.
	Segments []RawSegment

	// Language is the detected or configured BCP-47 language tag.
	Language string
}

// Engine is the abstraction over any batch ASR backend.
type Engine interface {
	// Transcribe transcribes the audio file at audioPath and returns the full
	// word-timestamped transcript. audioPath must refer to a file already in
	// a format the engine accepts (see pkg/fetch, which normalizes every
	// source to 16kHz mono WAV before handing it to the ASR stage).
	//
	// Returns an error if the file cannot be read, the backend request fails,
	// or ctx is cancelled.
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
}
