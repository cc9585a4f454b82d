// Package domain defines the shared types that flow through the ingestion
// pipeline between the Diarizer, Speaker Attributor, Text Embedder, and
// Persistence Writer stages.
//
// These types are intentionally minimal — each provider package defines its
// own request/response shapes, but the cross-cutting pipeline data model
// lives here to avoid circular imports between internal/diarize,
// internal/attribution, and pkg/store.
package domain

import "time"

// IngestStatus is the lifecycle state of a Source row.
type IngestStatus string

const (
	StatusPending IngestStatus = "pending"
	StatusRunning IngestStatus = "running"
	StatusDone    IngestStatus = "done"
	StatusError   IngestStatus = "error"
)

// Source is one ingestable video/recording identified by an opaque external
// id.
type Source struct {
	SourceID        string
	Title           string
	PublishedAt     time.Time
	DurationSeconds float64
	Channel         string
	IngestStatus    IngestStatus
	LastError       string
	ProcessedAt     time.Time
}

// SpeakerLabel is a tagged variant encoding a segment's attributed identity,
// replacing the source ecosystem's bare string dispatch (see spec's Design
// Notes on "dynamic label-based routing").
type SpeakerLabel struct {
	// Kind is one of "known", "guest", or "" (unknown/unset).
	Kind string
	// Name holds the profile name when Kind == "known".
	Name string
}

const (
	SpeakerKindKnown   = "known"
	SpeakerKindGuest   = "guest"
	SpeakerKindUnknown = ""
)

// KnownSpeaker returns a SpeakerLabel naming a known profile.
func KnownSpeaker(name string) SpeakerLabel { return SpeakerLabel{Kind: SpeakerKindKnown, Name: name} }

// GuestSpeaker returns the SpeakerLabel for an unidentified speaker.
func GuestSpeaker() SpeakerLabel { return SpeakerLabel{Kind: SpeakerKindGuest} }

// IsSet reports whether a label carries an identity decision at all.
func (l SpeakerLabel) IsSet() bool { return l.Kind != SpeakerKindUnknown }

// String renders the label the way it is persisted: the profile name, the
// literal "GUEST", or "" for an unset label.
func (l SpeakerLabel) String() string {
	switch l.Kind {
	case SpeakerKindKnown:
		return l.Name
	case SpeakerKindGuest:
		return "GUEST"
	default:
		return ""
	}
}

// Segment is a contiguous, speaker-coherent span of speech within a Source.
type Segment struct {
	SegmentID        string
	SourceID         string
	Ordinal          int
	StartS           float64
	EndS             float64
	Text             string
	ClusterID        string
	SpeakerLabel     SpeakerLabel
	SpeakerConfident float64
	VoiceEmbedding   []float32
	ASRConfidence    float64
}

// Duration returns the segment's length in seconds.
func (s Segment) Duration() float64 { return s.EndS - s.StartS }

// TextEmbedding is a vector produced for one Segment under a named model.
type TextEmbedding struct {
	SegmentID  string
	ModelKey   string
	Dimensions int
	Vector     []float32
}

// Turn is a contiguous span output by the Diarizer with a cluster id but no
// identity.
type Turn struct {
	Start     time.Duration
	End       time.Duration
	ClusterID string
}
