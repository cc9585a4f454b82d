// Package pipeline implements the Pipeline Orchestrator: it drains the
// Source Lister's candidate list through the Audio Fetcher, ASR Engine,
// Diarizer, Speaker Attributor, and Text Embedder stages, and hands the
// result to the Persistence Writer as one eager per-video commit (spec
// §4.7, §4.8, §9).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/castbox/internal/attribution"
	"github.com/MrWong99/castbox/internal/config"
	"github.com/MrWong99/castbox/internal/diarize"
	"github.com/MrWong99/castbox/internal/listing"
	"github.com/MrWong99/castbox/internal/observe"
	"github.com/MrWong99/castbox/pkg/asr"
	"github.com/MrWong99/castbox/pkg/domain"
	"github.com/MrWong99/castbox/pkg/embeddings"
	"github.com/MrWong99/castbox/pkg/fetch"
	"github.com/MrWong99/castbox/pkg/store"
	"github.com/MrWong99/castbox/pkg/voiceembed"
	"github.com/MrWong99/castbox/pkg/voiceprofile"
)

// Providers bundles every external backend the Orchestrator drives. It plays
// the same role here that app.Providers plays for the teacher's App: a flat
// set of already-constructed leaf dependencies that the Orchestrator wires
// into its own internal subsystems.
type Providers struct {
	Lister          *listing.Lister
	Fetcher         *fetch.Fetcher
	ASR             asr.Engine
	DiarizeBackend  diarize.Backend
	VoiceExtractor  voiceembed.Extractor
	VoiceProfiles   voiceprofile.Store
	TextEmbeddings  map[string]embeddings.Provider // keyed by profile name: "quality", "speed"
	Writer          store.Writer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProgressWriter overrides where the periodic progress table is
// written. Defaults to os.Stdout; tests typically pass io.Discard.
func WithProgressWriter(w progressWriter) Option {
	return func(o *Orchestrator) {
		if w != nil {
			o.progressWriter = w
		}
	}
}

// Orchestrator runs ingestion for a resolved candidate list end to end.
//
// It owns three fan-out stages — fetch (I/O-bound), compute (ASR, diarize,
// attribute, embed — GPU-bound), and write (persistence) — each a bounded
// worker pool built with golang.org/x/sync/errgroup.Group.SetLimit. A single
// global mutex serializes every call into the ASR engine, diarization
// backend, voice-embedding extractor, and text-embedding provider, per
// spec §5's "single global GPU mutex" design note: none of those backends
// are assumed reentrant on the same accelerator.
type Orchestrator struct {
	lister     *listing.Lister
	fetcher    *fetch.Fetcher
	asrEngine  asr.Engine
	diarizer   *diarize.Diarizer
	diarizeCfg diarize.Config
	attributor *attribution.Attributor
	embedders  map[string]embeddings.Provider
	writer     store.Writer
	metrics    *observe.Metrics

	pipelineCfg config.PipelineConfig
	ingestCfg   config.IngestConfig

	gpuMu        sync.Mutex
	warnNullOnce sync.Once

	progressWriter progressWriter
}

type progressWriter interface {
	Write(p []byte) (n int, err error)
}

// New constructs an Orchestrator from a fully-populated Providers set and
// the loaded configuration. Each step mirrors the teacher App's ordered,
// individually-wrapped initialization: the diarizer and attributor are
// built here rather than passed in directly, since both are thin
// compositions over Providers' leaf backends.
func New(providers Providers, cfg config.Config, metrics *observe.Metrics, opts ...Option) (*Orchestrator, error) {
	if providers.Lister == nil {
		return nil, fmt.Errorf("pipeline: no source lister configured")
	}
	if providers.Fetcher == nil {
		return nil, fmt.Errorf("pipeline: no audio fetcher configured")
	}
	if providers.ASR == nil {
		return nil, fmt.Errorf("pipeline: no ASR engine configured")
	}
	if providers.DiarizeBackend == nil {
		return nil, fmt.Errorf("pipeline: no diarization backend configured")
	}
	if providers.Writer == nil {
		return nil, fmt.Errorf("pipeline: no persistence writer configured")
	}
	if len(providers.TextEmbeddings) == 0 {
		return nil, fmt.Errorf("pipeline: no text-embedding providers configured")
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	attrCfg := attribution.DefaultConfig()
	attrCfg.VarianceThreshold = cfg.Attribution.VarianceThreshold
	attrCfg.RangeThreshold = cfg.Attribution.RangeThreshold
	attrCfg.Margin = cfg.Attribution.Margin
	attrCfg.SplitThreshold = cfg.Attribution.SplitThreshold
	attrCfg.MixedClusterMaxSeconds = cfg.Attribution.MixedClusterMaxSeconds
	attrCfg.SmoothingWindow = cfg.Attribution.SmoothingWindow
	attrCfg.SmoothingMinRun = cfg.Attribution.SmoothingMinRun
	attrCfg.MonologueFastPath = cfg.Ingest.MonologueFastPath
	attrCfg.PrimaryProfile = cfg.VoiceProfiles.PrimaryProfile
	if attrCfg.PrimaryProfile == "" && providers.VoiceProfiles != nil {
		if names := providers.VoiceProfiles.ListNames(); len(names) > 0 {
			attrCfg.PrimaryProfile = names[0]
		}
	}

	attributor := attribution.New(providers.VoiceExtractor, providers.VoiceProfiles, attrCfg)

	o := &Orchestrator{
		lister:     providers.Lister,
		fetcher:    providers.Fetcher,
		asrEngine:  providers.ASR,
		diarizer:   diarize.New(providers.DiarizeBackend),
		diarizeCfg: diarizeConfigFrom(cfg.Diarize),
		attributor: attributor,
		embedders:  providers.TextEmbeddings,
		writer:     providers.Writer,
		metrics:    metrics,

		pipelineCfg: applyPipelineDefaults(cfg.Pipeline),
		ingestCfg:   cfg.Ingest,

		progressWriter: os.Stdout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func diarizeConfigFrom(c config.DiarizeConfig) diarize.Config {
	return diarize.Config{
		ClusteringThreshold: c.ClusteringThreshold,
		MinSpeakers:         c.MinSpeakers,
		MaxSpeakers:         c.MaxSpeakers,
		MinOnDuration:       c.MinOnDuration,
		MinOffDuration:      c.MinOffDuration,
	}
}

func applyPipelineDefaults(c config.PipelineConfig) config.PipelineConfig {
	if c.IOWorkers <= 0 {
		c.IOWorkers = 16
	}
	if c.ASRWorkers <= 0 {
		c.ASRWorkers = 1
	}
	if c.DBWorkers <= 0 {
		c.DBWorkers = 8
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 4
	}
	return c
}

// Summary reports run-level outcome counts for the per-run report
// (SUPPLEMENTED FEATURES: "a per-run summary report").
type Summary struct {
	Completed         int
	Errored           int
	Skipped           int
	SegmentsWritten   int
	EmbeddingsWritten int
	Elapsed           time.Duration
}

// summaryAccumulator is Summary's mutex-guarded mutable counterpart, updated
// concurrently by every stage worker.
type summaryAccumulator struct {
	mu sync.Mutex
	s  Summary
}

func (a *summaryAccumulator) recordSkipped() {
	a.mu.Lock()
	a.s.Skipped++
	a.mu.Unlock()
}

func (a *summaryAccumulator) recordErrored() {
	a.mu.Lock()
	a.s.Errored++
	a.mu.Unlock()
}

func (a *summaryAccumulator) recordCompleted(segments, embeddingsCount int) {
	a.mu.Lock()
	a.s.Completed++
	a.s.SegmentsWritten += segments
	a.s.EmbeddingsWritten += embeddingsCount
	a.mu.Unlock()
}

func (a *summaryAccumulator) snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.s
}

// computeJob carries one fetched audio artifact, plus the per-video
// deadline context that was opened when the source was admitted, through
// the compute and write stages.
type computeJob struct {
	ctx       context.Context
	cancel    context.CancelFunc
	candidate listing.Candidate
	artifact  fetch.AudioArtifact
	force     bool
}

type writeJob struct {
	ctx    context.Context
	cancel context.CancelFunc
	batch  store.VideoBatch
}

// Run resolves sel/filter into a candidate list and drives every candidate
// through the full pipeline, returning once every source has reached
// status=done, status=error, or was skipped. Run respects ctx cancellation
// at every stage boundary — the CLI entry point is expected to derive ctx
// from signal.NotifyContext so an interrupt drains in-flight work instead
// of abandoning it mid-transaction.
func (o *Orchestrator) Run(ctx context.Context, sel listing.Selector, filter listing.FilterOptions, embeddingProfile string) (Summary, error) {
	started := time.Now()

	runCtx := ctx
	var cancelRun context.CancelFunc
	if o.pipelineCfg.RunDeadline > 0 {
		runCtx, cancelRun = context.WithTimeout(ctx, o.pipelineCfg.RunDeadline)
		defer cancelRun()
	}

	if o.pipelineCfg.PerVideoDeadline > 0 {
		if _, err := o.writer.ResetAbandoned(runCtx, 2*o.pipelineCfg.PerVideoDeadline); err != nil {
			slog.Warn("reset abandoned sources failed", "error", err)
		}
	}

	candidates, err := o.lister.List(runCtx, sel, filter)
	if err != nil {
		return Summary{}, fmt.Errorf("list sources: %w", err)
	}
	if len(candidates) == 0 {
		slog.Info("no candidate sources to ingest")
		return Summary{Elapsed: time.Since(started)}, nil
	}

	if embeddingProfile == "" {
		embeddingProfile = o.ingestCfg.EmbeddingProfile
	}
	provider, ok := o.embedders[embeddingProfile]
	if !ok {
		return Summary{}, fmt.Errorf("pipeline: no text-embedding provider registered for profile %q", embeddingProfile)
	}

	sum := &summaryAccumulator{}
	stopProgress := o.startProgressTicker(runCtx, sum, len(candidates))
	defer stopProgress()

	audioCh := make(chan computeJob, o.pipelineCfg.QueueCapacity)
	writeCh := make(chan writeJob, o.pipelineCfg.QueueCapacity)

	fetchGroup := &errgroup.Group{}
	fetchGroup.SetLimit(o.pipelineCfg.IOWorkers)

	for _, candidate := range candidates {
		candidate := candidate
		fetchGroup.Go(func() error {
			o.runFetch(runCtx, candidate, filter.Force, audioCh, sum)
			return nil
		})
	}
	go func() {
		_ = fetchGroup.Wait()
		close(audioCh)
	}()

	computeGroup := &errgroup.Group{}
	computeGroup.SetLimit(o.pipelineCfg.ASRWorkers)
	go func() {
		for job := range audioCh {
			job := job
			computeGroup.Go(func() error {
				o.runCompute(job, provider, embeddingProfile, writeCh, sum)
				return nil
			})
		}
		_ = computeGroup.Wait()
		close(writeCh)
	}()

	writeGroup := &errgroup.Group{}
	writeGroup.SetLimit(o.pipelineCfg.DBWorkers)
	for job := range writeCh {
		job := job
		writeGroup.Go(func() error {
			o.runWrite(job, sum)
			return nil
		})
	}
	_ = writeGroup.Wait()

	result := sum.snapshot()
	result.Elapsed = time.Since(started)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return result, context.DeadlineExceeded
	}
	return result, ctx.Err()
}

func (o *Orchestrator) runFetch(runCtx context.Context, candidate listing.Candidate, force bool, audioCh chan<- computeJob, sum *summaryAccumulator) {
	videoCtx := runCtx
	var cancel context.CancelFunc = func() {}
	if o.pipelineCfg.PerVideoDeadline > 0 {
		videoCtx, cancel = context.WithTimeout(runCtx, o.pipelineCfg.PerVideoDeadline)
	}

	admitted, err := o.writer.BeginRunning(videoCtx, candidate.SourceID, force)
	if err != nil {
		o.failVideo(videoCtx, candidate.SourceID, fmt.Errorf("begin running: %w", err), sum)
		cancel()
		return
	}
	if !admitted {
		sum.recordSkipped()
		o.metrics.VideosSkipped.Add(videoCtx, 1)
		cancel()
		return
	}

	start := time.Now()
	artifact, err := o.fetcher.Fetch(videoCtx, candidate.SourceID)
	o.metrics.FetchDuration.Record(videoCtx, time.Since(start).Seconds())
	if err != nil {
		o.failVideo(videoCtx, candidate.SourceID, fmt.Errorf("fetch: %w", err), sum)
		cancel()
		return
	}

	select {
	case audioCh <- computeJob{ctx: videoCtx, cancel: cancel, candidate: candidate, artifact: artifact, force: force}:
	case <-runCtx.Done():
		cancel()
	}
}

func (o *Orchestrator) runCompute(job computeJob, provider embeddings.Provider, profile string, writeCh chan<- writeJob, sum *summaryAccumulator) {
	ctx := job.ctx
	if !o.ingestCfg.RetainAudio {
		defer os.Remove(job.artifact.Path)
	}

	o.gpuMu.Lock()
	asrStart := time.Now()
	transcript, err := o.asrEngine.Transcribe(ctx, job.artifact.Path)
	o.metrics.ASRDuration.Record(ctx, time.Since(asrStart).Seconds())
	o.gpuMu.Unlock()
	if err != nil {
		o.failVideo(ctx, job.candidate.SourceID, fmt.Errorf("transcribe: %w", err), sum)
		job.cancel()
		return
	}

	audioDuration := secondsToDuration(job.artifact.DurationS)

	o.gpuMu.Lock()
	diarizeStart := time.Now()
	turns := o.diarizer.Diarize(ctx, job.artifact.Path, audioDuration, o.diarizeCfg)
	o.metrics.DiarizeDuration.Record(ctx, time.Since(diarizeStart).Seconds())
	o.gpuMu.Unlock()

	segments, err := diarize.SplitSegments(transcript.Segments, transcript.Words, turns)
	if err != nil {
		o.failVideo(ctx, job.candidate.SourceID, fmt.Errorf("split segments: %w", err), sum)
		job.cancel()
		return
	}

	o.gpuMu.Lock()
	attrStart := time.Now()
	attributed, err := o.attributor.Attribute(ctx, job.artifact.Path, segments)
	o.metrics.AttributeDuration.Record(ctx, time.Since(attrStart).Seconds())
	o.gpuMu.Unlock()
	if err != nil {
		o.failVideo(ctx, job.candidate.SourceID, fmt.Errorf("attribute: %w", err), sum)
		job.cancel()
		return
	}

	for i := range attributed {
		attributed[i].SegmentID = uuid.New().String()
		attributed[i].SourceID = job.candidate.SourceID
		attributed[i].Ordinal = i
	}

	textEmbeddings, err := o.embedEligible(ctx, attributed, provider, profile)
	if err != nil {
		o.failVideo(ctx, job.candidate.SourceID, fmt.Errorf("embed: %w", err), sum)
		job.cancel()
		return
	}

	source := domain.Source{
		SourceID:        job.candidate.SourceID,
		Title:           job.candidate.Title,
		PublishedAt:     job.candidate.PublishedAt,
		DurationSeconds: job.artifact.DurationS,
		Channel:         job.candidate.Channel,
	}
	batch := store.VideoBatch{Source: source, Segments: attributed, Embeddings: textEmbeddings, Force: job.force}

	select {
	case writeCh <- writeJob{ctx: ctx, cancel: job.cancel, batch: batch}:
	case <-ctx.Done():
		job.cancel()
	}
}

// embedEligible implements spec §4.7's embedding-eligibility policy plus
// DESIGN.md's null-label open-question decision: by default every segment
// with text is eligible; EmbedKnownOnly drops guest-labeled segments and
// keeps known and unset labels, and additionally ExcludeNullLabels drops
// unset labels under EmbedKnownOnly, logging a one-time warning the first
// time it does so in this Orchestrator's lifetime.
func (o *Orchestrator) embedEligible(ctx context.Context, segments []domain.Segment, provider embeddings.Provider, profile string) ([]domain.TextEmbedding, error) {
	modelKey := fmt.Sprintf("%s:%s", profile, provider.ModelID())

	eligible := make([]domain.Segment, 0, len(segments))
	for _, seg := range segments {
		if seg.Text == "" {
			continue
		}
		if o.ingestCfg.EmbedKnownOnly {
			switch seg.SpeakerLabel.Kind {
			case domain.SpeakerKindUnknown:
				if o.ingestCfg.ExcludeNullLabels {
					o.warnNullOnce.Do(func() {
						slog.Warn("embed_known_only+exclude_null_labels is dropping null-labeled segments from embedding this run")
					})
					continue
				}
			case domain.SpeakerKindGuest:
				continue
			}
		}
		eligible = append(eligible, seg)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	texts := make([]string, len(eligible))
	for i, seg := range eligible {
		texts[i] = seg.Text
	}

	o.gpuMu.Lock()
	start := time.Now()
	vectors, err := provider.EmbedBatch(ctx, texts)
	o.metrics.EmbedDuration.Record(ctx, time.Since(start).Seconds())
	o.gpuMu.Unlock()
	o.metrics.RecordProviderRequest(ctx, provider.ModelID(), "text_embedding", statusOf(err))
	if err != nil {
		o.metrics.RecordProviderError(ctx, provider.ModelID(), "text_embedding")
		return nil, err
	}

	out := make([]domain.TextEmbedding, len(eligible))
	for i, seg := range eligible {
		out[i] = domain.TextEmbedding{
			SegmentID:  seg.SegmentID,
			ModelKey:   modelKey,
			Dimensions: provider.Dimensions(),
			Vector:     vectors[i],
		}
	}
	return out, nil
}

func (o *Orchestrator) runWrite(job writeJob, sum *summaryAccumulator) {
	defer job.cancel()

	start := time.Now()
	segmentsWritten, embeddingsWritten, err := o.writer.CommitVideo(job.ctx, job.batch)
	o.metrics.WriteDuration.Record(job.ctx, time.Since(start).Seconds())
	if err != nil {
		o.failVideo(job.ctx, job.batch.Source.SourceID, fmt.Errorf("commit: %w", err), sum)
		return
	}

	sum.recordCompleted(segmentsWritten, embeddingsWritten)
	o.metrics.VideosCompleted.Add(job.ctx, 1)
	if embeddingsWritten > 0 {
		o.metrics.RecordSegmentsEmbedded(job.ctx, embeddingsModelKey(job.batch.Embeddings), int64(embeddingsWritten))
	}
}

func embeddingsModelKey(embeds []domain.TextEmbedding) string {
	if len(embeds) == 0 {
		return "none"
	}
	return embeds[0].ModelKey
}

// failVideo marks sourceID as errored in the persistence layer and records
// the failure in the run summary and metrics. MarkError failures are logged
// but not escalated further — spec §7 leaves consecutive-PersistenceError
// tracking to the caller, which this run does not attempt across restarts.
func (o *Orchestrator) failVideo(ctx context.Context, sourceID string, cause error, sum *summaryAccumulator) {
	// The per-video deadline that governed ctx may already be expired (that
	// is often why this call is happening); MarkError still needs its own
	// short-lived, uncancelled context to have a chance of writing the
	// failure record.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.writer.MarkError(markCtx, sourceID, cause); err != nil {
		slog.Error("mark error failed", "source_id", sourceID, "original_error", cause, "mark_error", err)
	}
	sum.recordErrored()
	o.metrics.RecordVideoErrored(markCtx, errorKind(cause))
	slog.Error("source failed", "source_id", sourceID, "error", cause)
}

// errorKind extracts a coarse classification tag for metrics: fetch errors
// are tagged by their kind, listing and persistence errors get their own
// tag, and every other error (transcription, embedding and the rest) is
// tagged "unknown".
func errorKind(err error) string {
	var fetchErr *fetch.Error
	if errors.As(err, &fetchErr) {
		return "fetch_" + string(fetchErr.Kind)
	}
	var listErr *listing.Error
	if errors.As(err, &listErr) {
		return "listing"
	}
	var persistErr *store.PersistenceError
	if errors.As(err, &persistErr) {
		return "persistence"
	}
	return "unknown"
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
