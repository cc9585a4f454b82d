// Package voiceembed defines the Extractor interface for speaker-embedding
// (voice print) backends.
//
// A voice embedding maps a span of audio to a fixed-length float32 vector
// that captures speaker identity independent of what was said. The
// attribution stage extracts embeddings for sampled windows of each
// diarized cluster, compares them with each other to detect a mixed
// cluster, and matches their centroid against known voice profile
// centroids (see pkg/voiceprofile) to attribute a speaker label. In
// per-segment fallback it extracts one embedding per segment and compares
// it with the primary profile's centroid. Clusters themselves come from
// diarization, not from these embeddings.
package voiceembed

import "context"

// Extractor is the abstraction over any speaker-embedding backend.
//
// Implementations must be safe for concurrent use, though the pipeline
// orchestrator serializes calls behind a single GPU mutex regardless.
type Extractor interface {
	// Extract computes the speaker-embedding vector for the audio spanning
	// [start, end) seconds within the file at audioPath. Returns a float32
	// slice of length Dimensions() or an error if the request fails, the
	// span is invalid, or ctx is cancelled.
	Extract(ctx context.Context, audioPath string, start, end float64) ([]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// extractor. The value is determined by the underlying model and is
	// constant for the lifetime of the Extractor instance.
	Dimensions() int
}
