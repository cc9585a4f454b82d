// Package voiceprofile loads and caches known-speaker voice centroids from
// a directory of JSON files, and provides cosine-similarity comparison
// against a query voice embedding.
//
// A profile file has the on-disk centroid shape:
//
//	{"name": "PRIMARY", "centroid": [0.01, -0.02, ...], "threshold": 0.62, "created_at": "2026-01-01T00:00:00Z"}
//
// A legacy shape carrying raw per-clip embeddings instead of a precomputed
// centroid is also accepted:
//
//	{"name": "PRIMARY", "embeddings": [[...], [...]], "threshold": 0.62}
//
// Legacy files are compressed to a centroid (mean, then L2-renormalized) at
// load time; a warning is logged for every legacy file encountered, since
// the enrollment tool is expected to emit the centroid form going forward.
//
// All Store operations are safe for concurrent use.
package voiceprofile

import (
	"context"
	"time"
)

// Profile is a known speaker's voice centroid and decision threshold.
type Profile struct {
	// Name is the speaker's display name, used as the identity label
	// assigned by the Speaker Attributor (the PK in the on-disk set).
	Name string

	// Centroid is the unit-normalized mean voice embedding, length D_voice.
	Centroid []float32

	// Threshold is the minimum cosine similarity required to assign this
	// speaker's label at the cluster level (spec's t_known). Defaults to
	// 0.62 when a file omits it.
	Threshold float32

	// CreatedAt records when the centroid was produced by the enrollment
	// tool. Zero value if the source file omitted it.
	CreatedAt time.Time

	// Legacy reports whether this profile was loaded from the deprecated
	// raw-embeddings shape and compressed at load time.
	Legacy bool
}

// defaultThreshold is applied when a profile file omits "threshold".
const defaultThreshold = 0.62

// Store exposes read-only access to the set of loaded voice profiles.
//
// Implementations must be safe for concurrent use — the pipeline orchestrator
// shares a single Store across every stage worker.
type Store interface {
	// Similarity returns the cosine similarity in [-1,1] between query and
	// the named profile's centroid. Returns [ErrUnknownProfile] if name is
	// not loaded.
	Similarity(ctx context.Context, query []float32, name string) (float32, error)

	// BestMatch compares query against every loaded profile and returns the
	// best-matching name, its similarity, and the margin over the
	// runner-up similarity (s_best - s_second). If fewer than two profiles
	// are loaded, margin is s_best itself. Returns ("", 0, 0, ErrNoProfiles)
	// if no profiles are loaded.
	BestMatch(ctx context.Context, query []float32) (name string, similarity float32, margin float32, err error)

	// ListNames returns every loaded profile's name, in no particular
	// order.
	ListNames() []string

	// Profile returns the loaded profile for name, or false if unknown.
	Profile(name string) (Profile, bool)
}
