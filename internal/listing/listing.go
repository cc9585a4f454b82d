// Package listing implements the Source Lister (spec §4.1): it resolves a
// channel handle, JSON manifest, or explicit id list into a finite,
// deduplicated, ordered sequence of candidate sources, filtered against the
// persistence layer for already-done work.
package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/castbox/pkg/store"
)

// Error wraps a fatal Source Lister failure (spec §7: "ListingError
// (fatal): cannot enumerate sources").
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("listing: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Candidate is one entry in the lister's output: an enumerated source ready
// to be handed to the Audio Fetcher.
type Candidate struct {
	SourceID        string
	Title           string
	PublishedAt     time.Time
	DurationSeconds float64
	Channel         string
}

// Selector identifies exactly one of the three input modes spec §4.1 allows.
// Exactly one field must be non-empty.
type Selector struct {
	ChannelHandle string
	ManifestPath  string
	ExplicitIDs   []string
}

func (s Selector) validate() error {
	set := 0
	if s.ChannelHandle != "" {
		set++
	}
	if s.ManifestPath != "" {
		set++
	}
	if len(s.ExplicitIDs) > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of channel handle, manifest path, or explicit id list must be set, got %d", set)
	}
	return nil
}

// FilterOptions narrows and orders the candidate sequence, per spec §4.1's
// {days-back N, skip-existing, force, limit, newest-first} filter set.
type FilterOptions struct {
	// DaysBack restricts candidates to those published within the last N
	// days. Zero means unbounded. Ignored for candidates with no known
	// PublishedAt (explicit id list).
	DaysBack int

	// SkipExisting additionally excludes sources left in status=error from
	// a previous run, not just status=done (spec §7: "a video in
	// status=error is retried on the next invocation unless --skip-existing
	// is strict").
	SkipExisting bool

	// Force disables the done/error exclusion entirely; every named
	// candidate is re-listed regardless of persisted status.
	Force bool

	// Limit caps the number of candidates returned after ordering. Zero
	// means unbounded.
	Limit int

	// NewestFirst orders by PublishedAt descending instead of ascending.
	NewestFirst bool
}

// ChannelEnumerator resolves a channel handle to its published videos. The
// default implementation (see [NewHTTPChannelEnumerator]) reads the
// channel's public video feed over plain HTTP; callers may inject any other
// implementation (e.g. an authenticated API client) for private or
// rate-limited catalogs.
type ChannelEnumerator interface {
	ListChannel(ctx context.Context, handle string) ([]Candidate, error)
}

// ManifestSchemaVersion is the only schema_version this lister accepts.
// Any other version makes List fail with an [Error] wrapping
// [ErrUnknownManifestSchema]; fields are never silently ignored.
const ManifestSchemaVersion = 1

// ErrUnknownManifestSchema is wrapped in an [Error] when a manifest declares
// a schema_version this lister does not understand.
type ErrUnknownManifestSchema struct {
	Got int
}

func (e *ErrUnknownManifestSchema) Error() string {
	return fmt.Sprintf("manifest schema_version %d is not supported (expected %d)", e.Got, ManifestSchemaVersion)
}

// manifestFile is the on-disk JSON shape for the manifest selector.
type manifestFile struct {
	SchemaVersion int             `json:"schema_version"`
	Channel       string          `json:"channel"`
	Videos        []manifestVideo `json:"videos"`
}

type manifestVideo struct {
	SourceID        string    `json:"source_id"`
	Title           string    `json:"title"`
	PublishedAt     time.Time `json:"published_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Channel         string    `json:"channel"`
}

// Option configures a Lister.
type Option func(*Lister)

// WithExpectedChannel sets the configured channel handle that a manifest's
// declared channel name is fuzzy-compared against, per the DOMAIN STACK's
// matchr-based defensive check. When unset, no comparison is performed.
func WithExpectedChannel(name string) Option {
	return func(l *Lister) { l.expectedChannel = name }
}

// channelMatchThreshold is the minimum Jaro-Winkler similarity below which a
// manifest's declared channel name is considered a mismatch worth warning
// about.
const channelMatchThreshold = 0.85

// Lister implements the Source Lister.
type Lister struct {
	enumerator      ChannelEnumerator
	checker         store.DoneChecker
	expectedChannel string
}

// New constructs a Lister. enumerator is used only for [Selector.ChannelHandle];
// checker is used to filter out already-processed sources unless Force is set.
func New(enumerator ChannelEnumerator, checker store.DoneChecker, opts ...Option) *Lister {
	l := &Lister{enumerator: enumerator, checker: checker}
	for _, o := range opts {
		o(l)
	}
	return l
}

// List resolves sel into a finite, deduplicated, ordered sequence of
// candidates, applying filter. Returns [Error] (fatal) on any enumeration
// failure, per spec §4.1.
func (l *Lister) List(ctx context.Context, sel Selector, filter FilterOptions) ([]Candidate, error) {
	if err := sel.validate(); err != nil {
		return nil, &Error{Op: "validate_selector", Err: err}
	}

	var candidates []Candidate
	var err error
	switch {
	case sel.ChannelHandle != "":
		candidates, err = l.listChannel(ctx, sel.ChannelHandle)
	case sel.ManifestPath != "":
		candidates, err = l.listManifest(sel.ManifestPath)
	default:
		candidates = listExplicit(sel.ExplicitIDs)
	}
	if err != nil {
		return nil, err
	}

	candidates = dedup(candidates)
	candidates = applyDaysBack(candidates, filter.DaysBack)
	sortCandidates(candidates, filter.NewestFirst)

	if !filter.Force {
		candidates, err = l.excludeProcessed(ctx, candidates, filter.SkipExisting)
		if err != nil {
			return nil, err
		}
	}

	if filter.Limit > 0 && len(candidates) > filter.Limit {
		candidates = candidates[:filter.Limit]
	}
	return candidates, nil
}

func (l *Lister) listChannel(ctx context.Context, handle string) ([]Candidate, error) {
	if l.enumerator == nil {
		return nil, &Error{Op: "list_channel", Err: fmt.Errorf("no channel enumerator configured")}
	}
	candidates, err := l.enumerator.ListChannel(ctx, handle)
	if err != nil {
		return nil, &Error{Op: "list_channel", Err: err}
	}
	return candidates, nil
}

func (l *Lister) listManifest(path string) ([]Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Op: "open_manifest", Err: err}
	}
	defer f.Close()

	var mf manifestFile
	dec := json.NewDecoder(f)
	if err := dec.Decode(&mf); err != nil && err != io.EOF {
		return nil, &Error{Op: "decode_manifest", Err: err}
	}
	if mf.SchemaVersion != ManifestSchemaVersion {
		return nil, &Error{Op: "decode_manifest", Err: &ErrUnknownManifestSchema{Got: mf.SchemaVersion}}
	}

	l.warnIfChannelMismatch(mf.Channel)

	candidates := make([]Candidate, 0, len(mf.Videos))
	for _, v := range mf.Videos {
		if v.SourceID == "" {
			return nil, &Error{Op: "decode_manifest", Err: fmt.Errorf("manifest entry missing source_id")}
		}
		candidates = append(candidates, Candidate{
			SourceID:        v.SourceID,
			Title:           v.Title,
			PublishedAt:     v.PublishedAt,
			DurationSeconds: v.DurationSeconds,
			Channel:         v.Channel,
		})
	}
	return candidates, nil
}

// warnIfChannelMismatch logs a slog.Warn (never a hard failure) when a
// manifest's declared channel diverges from the configured handle beyond
// fuzzy-matching tolerance, per the DOMAIN STACK's matchr-based check.
func (l *Lister) warnIfChannelMismatch(declared string) {
	if l.expectedChannel == "" || declared == "" {
		return
	}
	score := matchr.JaroWinkler(l.expectedChannel, declared, false)
	if score < channelMatchThreshold {
		slog.Warn("manifest channel name does not closely match configured channel",
			"expected", l.expectedChannel,
			"declared", declared,
			"similarity", score,
		)
	}
}

func listExplicit(ids []string) []Candidate {
	candidates := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		candidates = append(candidates, Candidate{SourceID: id})
	}
	return candidates
}

func dedup(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.SourceID]; ok {
			continue
		}
		seen[c.SourceID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func applyDaysBack(candidates []Candidate, daysBack int) []Candidate {
	if daysBack <= 0 {
		return candidates
	}
	cutoff := time.Now().AddDate(0, 0, -daysBack)
	out := candidates[:0:0]
	for _, c := range candidates {
		if c.PublishedAt.IsZero() || c.PublishedAt.After(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

func sortCandidates(candidates []Candidate, newestFirst bool) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if newestFirst {
			return candidates[i].PublishedAt.After(candidates[j].PublishedAt)
		}
		return candidates[i].PublishedAt.Before(candidates[j].PublishedAt)
	})
}

func (l *Lister) excludeProcessed(ctx context.Context, candidates []Candidate, skipExisting bool) ([]Candidate, error) {
	if l.checker == nil || len(candidates) == 0 {
		return candidates, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.SourceID
	}

	done, err := l.checker.DoneSourceIDs(ctx, ids)
	if err != nil {
		return nil, &Error{Op: "check_done", Err: err}
	}

	var errored map[string]bool
	if skipExisting {
		errored, err = l.checker.ErroredSourceIDs(ctx, ids)
		if err != nil {
			return nil, &Error{Op: "check_errored", Err: err}
		}
	}

	out := candidates[:0:0]
	for _, c := range candidates {
		if done[c.SourceID] || errored[c.SourceID] {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
