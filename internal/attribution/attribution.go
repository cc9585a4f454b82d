// Package attribution implements spec §4.5 Phase B steps 2-6: cluster voice
// embedding sampling, the variance-based mixed-cluster check, cluster-level
// identity assignment against known voice profiles, and the per-segment
// fallback (with time-axis smoothing) used for flagged or oversized
// clusters.
//
// Phase B step 1 (segment splitting at turn boundaries) lives in
// internal/diarize; this package starts from the already-split, cluster-
// tagged segments it produces.
package attribution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/MrWong99/castbox/pkg/domain"
	"github.com/MrWong99/castbox/pkg/voiceembed"
	"github.com/MrWong99/castbox/pkg/voiceprofile"
)

// Config holds the tunable thresholds named in spec §4.5 and §9. All of
// these are empirical and operator-configurable (internal/config.AttributionConfig).
type Config struct {
	// VarianceThreshold: a cluster whose sampled-embedding pairwise
	// similarity variance exceeds this is flagged mixed. Spec default 0.02.
	VarianceThreshold float64

	// RangeThreshold: a cluster whose sampled-embedding max-min similarity
	// range exceeds this is flagged mixed. Spec default 0.3.
	RangeThreshold float64

	// Margin: minimum (s_best - s_second) required to assign a cluster-level
	// known label. Spec default 0.05.
	Margin float64

	// SplitThreshold (t_split): minimum per-segment similarity to the
	// primary profile required to label a fallback segment known. Spec
	// default 0.65; stricter than a profile's own t_known.
	SplitThreshold float64

	// MixedClusterMaxSeconds: a cluster spanning more than this many seconds
	// of total speech is forced into per-segment fallback even if its
	// variance check passes. Spec default 300 (5 minutes).
	MixedClusterMaxSeconds float64

	// SmoothingWindow is the time-axis window used to smooth isolated label
	// flips in per-segment fallback output. Spec default 60s.
	SmoothingWindow time.Duration

	// SmoothingMinRun is the minimum consecutive-segment run length that
	// survives smoothing; shorter runs adopt the surrounding label. Spec
	// default 3.
	SmoothingMinRun int

	// PrimaryProfile names the voice profile compared against in
	// per-segment fallback (spec: "the primary speaker's centroid").
	PrimaryProfile string

	// MinSampleWindows is the number of embedding-extraction windows sampled
	// per cluster before cluster-level identification, one per selected
	// segment, spread across the cluster's full time span. A cluster with
	// fewer segments than this gets one window per segment, so fewer
	// windows are sampled.
	MinSampleWindows int

	// SampleWindowDuration is the length of each sampled window.
	SampleWindowDuration time.Duration

	// MinSegmentDuration: segments shorter than this are dropped before
	// attribution (spec boundary behavior: "a single-word segment (< 0.5s)
	// is dropped before attribution").
	MinSegmentDuration time.Duration

	// MonologueFastPath, when enabled, skips the variance/range mixed check
	// entirely for a video that diarizes to exactly one cluster: it samples
	// embeddings across the cluster's full span and assigns the resulting
	// centroid's best match to every segment directly. Default: false.
	MonologueFastPath bool
}

// DefaultConfig returns the spec's literal defaults.
func DefaultConfig() Config {
	return Config{
		VarianceThreshold:      0.02,
		RangeThreshold:         0.3,
		Margin:                 0.05,
		SplitThreshold:         0.65,
		MixedClusterMaxSeconds: 300,
		SmoothingWindow:        60 * time.Second,
		SmoothingMinRun:        3,
		MinSampleWindows:       3,
		SampleWindowDuration:   2 * time.Second,
		MinSegmentDuration:     500 * time.Millisecond,
	}
}

// Attributor assigns speaker identities to diarized, cluster-tagged segments.
type Attributor struct {
	extractor voiceembed.Extractor
	profiles  voiceprofile.Store
	cfg       Config
}

// New constructs an Attributor.
func New(extractor voiceembed.Extractor, profiles voiceprofile.Store, cfg Config) *Attributor {
	return &Attributor{extractor: extractor, profiles: profiles, cfg: cfg}
}

// Attribute assigns SpeakerLabel and SpeakerConfident to every segment, in
// place conceptually (a new slice is returned; ordinals and cluster ids from
// the input are preserved on surviving segments). Segments shorter than
// cfg.MinSegmentDuration are dropped before any further processing, per the
// spec's single-word boundary behavior.
//
// audioPath is the 16kHz mono WAV the segments were split from; it is passed
// to the voice extractor for both cluster sampling and per-segment fallback
// windows.
func (a *Attributor) Attribute(ctx context.Context, audioPath string, segments []domain.Segment) ([]domain.Segment, error) {
	kept := make([]domain.Segment, 0, len(segments))
	for _, seg := range segments {
		if seg.Duration() >= a.cfg.MinSegmentDuration.Seconds() {
			kept = append(kept, seg)
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}

	byCluster := groupByCluster(kept)
	out := make([]domain.Segment, len(kept))
	copy(out, kept)

	if a.cfg.MonologueFastPath && len(byCluster) == 1 {
		for _, idxs := range byCluster {
			a.labelMonologue(ctx, audioPath, kept, idxs, out)
		}
		return out, nil
	}

	for clusterID, idxs := range byCluster {
		totalSpeech := clusterSpeechSeconds(kept, idxs)
		mixed, centroid, err := a.classifyCluster(ctx, audioPath, kept, idxs, totalSpeech)
		if err != nil {
			return nil, fmt.Errorf("attribution: classify cluster %q: %w", clusterID, err)
		}

		if !mixed {
			label, confidence := a.clusterLevelLabel(ctx, centroid)
			for _, i := range idxs {
				out[i].SpeakerLabel = label
				out[i].SpeakerConfident = confidence
			}
			continue
		}

		if err := a.perSegmentFallback(ctx, audioPath, out, idxs); err != nil {
			return nil, fmt.Errorf("attribution: per-segment fallback for cluster %q: %w", clusterID, err)
		}
	}

	return out, nil
}

// labelMonologue implements the MonologueFastPath: skip the variance/range
// mixed check (pointless with only one speaker present) and assign the
// cluster's best-match label straight from full-span sampled embeddings.
func (a *Attributor) labelMonologue(ctx context.Context, audioPath string, segments []domain.Segment, idxs []int, out []domain.Segment) {
	windows := sampleWindows(segments, idxs, a.cfg.MinSampleWindows, a.cfg.SampleWindowDuration)
	samples := make([][]float32, 0, len(windows))
	for _, w := range windows {
		vec, err := a.extractor.Extract(ctx, audioPath, w.start, w.end)
		if err != nil {
			continue
		}
		samples = append(samples, vec)
	}

	label, confidence := domain.GuestSpeaker(), 0.0
	if len(samples) > 0 {
		label, confidence = a.clusterLevelLabel(ctx, meanVector(samples))
	}
	for _, i := range idxs {
		out[i].SpeakerLabel = label
		out[i].SpeakerConfident = confidence
	}
}

func groupByCluster(segments []domain.Segment) map[string][]int {
	byCluster := make(map[string][]int)
	for i, seg := range segments {
		byCluster[seg.ClusterID] = append(byCluster[seg.ClusterID], i)
	}
	return byCluster
}

func clusterSpeechSeconds(segments []domain.Segment, idxs []int) float64 {
	var total float64
	for _, i := range idxs {
		total += segments[i].Duration()
	}
	return total
}

// classifyCluster samples up to MinSampleWindows embeddings spread across the
// cluster's segments (which, because a cluster's turns can occur anywhere in
// the video, naturally spans the full duration rather than only the start —
// spec's late-arriving-speaker requirement), then runs the variance/range
// mixed check. Returns the cluster centroid when not mixed.
func (a *Attributor) classifyCluster(ctx context.Context, audioPath string, segments []domain.Segment, idxs []int, totalSpeechSeconds float64) (mixed bool, centroid []float32, err error) {
	if totalSpeechSeconds > a.cfg.MixedClusterMaxSeconds {
		return true, nil, nil
	}

	windows := sampleWindows(segments, idxs, a.cfg.MinSampleWindows, a.cfg.SampleWindowDuration)
	samples := make([][]float32, 0, len(windows))
	for _, w := range windows {
		vec, extractErr := a.extractor.Extract(ctx, audioPath, w.start, w.end)
		if extractErr != nil {
			// Embedding extraction failure for this video: fall back to
			// labeling all speech GUEST with confidence 0, per spec §4.5
			// "failure in embedding extraction ... neither is fatal".
			return true, nil, nil
		}
		samples = append(samples, vec)
	}
	if len(samples) == 0 {
		return true, nil, nil
	}

	variance, rng := pairwiseVarianceAndRange(samples)
	if variance > a.cfg.VarianceThreshold || rng > a.cfg.RangeThreshold {
		return true, nil, nil
	}

	return false, meanVector(samples), nil
}

type window struct{ start, end float64 }

// sampleWindows picks up to n windows of duration d, evenly distributed
// across the cluster's segments by index (a proxy for time position, since
// idxs are drawn from a time-sorted segment slice). Each window starts at a
// selected segment's start and is clipped to that segment's end; at most one
// window is taken per segment, so a cluster with fewer than n segments
// yields fewer than n windows.
func sampleWindows(segments []domain.Segment, idxs []int, n int, d time.Duration) []window {
	if len(idxs) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	count := n
	if count > len(idxs) {
		count = len(idxs)
	}

	windows := make([]window, 0, count)
	for k := 0; k < count; k++ {
		pos := 0
		if count > 1 {
			pos = k * (len(idxs) - 1) / (count - 1)
		}
		seg := segments[idxs[pos]]
		start := seg.StartS
		end := start + d.Seconds()
		if end > seg.EndS {
			end = seg.EndS
		}
		if end > start {
			windows = append(windows, window{start: start, end: end})
		}
	}
	return windows
}

func meanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
	}
	mean := make([]float32, dim)
	for i, s := range sum {
		mean[i] = float32(s / float64(len(vecs)))
	}
	return mean
}

// pairwiseVarianceAndRange computes the variance and max-min range of the
// pairwise cosine similarities among samples, per spec §4.5 step 3.
func pairwiseVarianceAndRange(samples [][]float32) (variance, rng float64) {
	var sims []float64
	for i := 0; i < len(samples); i++ {
		for j := i + 1; j < len(samples); j++ {
			sims = append(sims, cosineSimilarity(samples[i], samples[j]))
		}
	}
	if len(sims) == 0 {
		return 0, 0
	}

	var sum float64
	minSim, maxSim := sims[0], sims[0]
	for _, s := range sims {
		sum += s
		if s < minSim {
			minSim = s
		}
		if s > maxSim {
			maxSim = s
		}
	}
	mean := sum / float64(len(sims))

	var sqSum float64
	for _, s := range sims {
		d := s - mean
		sqSum += d * d
	}
	variance = sqSum / float64(len(sims))
	rng = maxSim - minSim
	return variance, rng
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// clusterLevelLabel implements spec §4.5 step 4: compare the cluster
// centroid against every profile and assign the best match iff it clears
// both its own threshold and the configured margin over the runner-up.
func (a *Attributor) clusterLevelLabel(ctx context.Context, centroid []float32) (domain.SpeakerLabel, float64) {
	name, sim, margin, err := a.profiles.BestMatch(ctx, centroid)
	if err != nil {
		return domain.GuestSpeaker(), 0
	}
	profile, ok := a.profiles.Profile(name)
	if !ok {
		return domain.GuestSpeaker(), float64(sim)
	}
	if float64(sim) >= float64(profile.Threshold) && float64(margin) >= a.cfg.Margin {
		return domain.KnownSpeaker(name), float64(sim)
	}
	return domain.GuestSpeaker(), float64(sim)
}

// perSegmentFallback implements spec §4.5 step 5: label each segment in a
// flagged cluster by comparing its own embedding to the primary profile's
// centroid against the (stricter) split threshold, then smooth isolated
// flips along the time axis.
func (a *Attributor) perSegmentFallback(ctx context.Context, audioPath string, segments []domain.Segment, idxs []int) error {
	primary, ok := a.profiles.Profile(a.cfg.PrimaryProfile)
	if !ok {
		for _, i := range idxs {
			segments[i].SpeakerLabel = domain.GuestSpeaker()
			segments[i].SpeakerConfident = 0
		}
		return nil
	}

	sort.Slice(idxs, func(i, j int) bool { return segments[idxs[i]].StartS < segments[idxs[j]].StartS })

	labels := make([]domain.SpeakerLabel, len(idxs))
	sims := make([]float64, len(idxs))
	for k, i := range idxs {
		seg := segments[i]
		vec, err := a.extractor.Extract(ctx, audioPath, seg.StartS, seg.EndS)
		if err != nil {
			labels[k] = domain.GuestSpeaker()
			sims[k] = 0
			continue
		}
		sim := cosineSimilarity(vec, primary.Centroid)
		sims[k] = sim
		if sim >= a.cfg.SplitThreshold {
			labels[k] = domain.KnownSpeaker(primary.Name)
		} else {
			labels[k] = domain.GuestSpeaker()
		}
	}

	smoothed := smoothLabels(segments, idxs, labels, a.cfg.SmoothingWindow, a.cfg.SmoothingMinRun)

	for k, i := range idxs {
		segments[i].SpeakerLabel = smoothed[k]
		segments[i].SpeakerConfident = sims[k]
	}
	return nil
}

// smoothLabels implements spec §4.5 step 5's smoothing pass: a run of
// identical labels shorter than minRun, and shorter in wall-clock time than
// window, adopts the label of its surrounding (longer) runs. Runs at either
// end of the sequence with no surrounding context are left as-is.
func smoothLabels(segments []domain.Segment, idxs []int, labels []domain.SpeakerLabel, window time.Duration, minRun int) []domain.SpeakerLabel {
	if len(labels) == 0 {
		return labels
	}
	out := append([]domain.SpeakerLabel(nil), labels...)

	type run struct{ start, end int } // inclusive indices into idxs/labels
	var runs []run
	runStart := 0
	for i := 1; i <= len(labels); i++ {
		if i == len(labels) || labels[i] != labels[runStart] {
			runs = append(runs, run{start: runStart, end: i - 1})
			runStart = i
		}
	}

	for ri, r := range runs {
		if ri == 0 || ri == len(runs)-1 {
			continue
		}
		length := r.end - r.start + 1
		duration := time.Duration((segments[idxs[r.end]].EndS - segments[idxs[r.start]].StartS) * float64(time.Second))
		if length >= minRun || duration >= window {
			continue
		}
		prev := runs[ri-1]
		next := runs[ri+1]
		replacement := labels[prev.start]
		if prev.end-prev.start < next.end-next.start {
			replacement = labels[next.start]
		}
		for i := r.start; i <= r.end; i++ {
			out[i] = replacement
		}
	}

	return out
}
