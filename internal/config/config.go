// Package config provides the configuration schema, loader, and provider
// registry for the castbox ingestion pipeline.
package config

import "time"

// Config is the root configuration structure for castbox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// then overlaid with INGEST_-prefixed environment variables.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Store         StoreConfig         `yaml:"store"`
	VoiceProfiles VoiceProfilesConfig `yaml:"voice_profiles"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Diarize       DiarizeConfig       `yaml:"diarize"`
	Attribution   AttributionConfig   `yaml:"attribution"`
	Ingest        IngestConfig        `yaml:"ingest"`
}

// LogLevel controls slog verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ServerConfig holds process-wide logging and observability settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Valid values: debug, info, warn, error.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the address the Prometheus scrape endpoint listens on
	// (e.g. ":9090"). Empty disables the metrics server.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProvidersConfig declares which provider implementation backs each compute
// stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// ASR selects the speech-to-text backend (e.g. "whisper", "openai").
	ASR ProviderEntry `yaml:"asr"`

	// TextEmbeddings selects the text-embedding backend for the "quality"
	// profile (e.g. "openai"). The "speed" profile always uses the local
	// Ollama-style backend and is not independently selectable.
	TextEmbeddings ProviderEntry `yaml:"text_embeddings"`

	// VoiceEmbeddings selects the speaker/voice-embedding extractor backend.
	VoiceEmbeddings ProviderEntry `yaml:"voice_embeddings"`

	// Diarize selects the diarization backend (e.g. "pyannote"). Only
	// BaseURL is meaningful today — the backend's tuning knobs live in
	// DiarizeConfig instead of ProviderEntry.Options.
	Diarize ProviderEntry `yaml:"diarize"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "whisper", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g. "large-v3", "text-embedding-3-small").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// StoreConfig configures the persistence writer's connection to the
// relational + vector store.
type StoreConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the pgvector-backed
	// store (sources, segments, text_embeddings tables).
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensionsQuality is the vector dimension for the "quality"
	// text-embedding profile. Must match Providers.TextEmbeddings' model.
	EmbeddingDimensionsQuality int `yaml:"embedding_dimensions_quality"`

	// EmbeddingDimensionsSpeed is the vector dimension for the "speed"
	// text-embedding profile.
	EmbeddingDimensionsSpeed int `yaml:"embedding_dimensions_speed"`
}

// VoiceProfilesConfig configures where known-speaker centroids are loaded
// from at process startup.
type VoiceProfilesConfig struct {
	// Dir is the directory of JSON profile files (see pkg/voiceprofile).
	Dir string `yaml:"dir"`

	// PrimaryProfile names the profile compared against in per-segment
	// attribution fallback (spec: "the primary speaker's centroid"). Empty
	// means the Speaker Attributor falls back to the first profile name
	// returned by voiceprofile.Store.ListNames(), which is only stable for
	// a single-profile deployment; multi-profile deployments should set
	// this explicitly.
	PrimaryProfile string `yaml:"primary_profile"`
}

// PipelineConfig configures the orchestrator's worker pools, queue sizes,
// and deadlines (spec §4.8).
type PipelineConfig struct {
	// IOWorkers is the size of the Audio Fetcher worker pool. Default: 16.
	IOWorkers int `yaml:"io_workers"`

	// ASRWorkers is the size of the ASR/GPU-bound worker pool. Default: 1.
	// Values > 1 are only meaningful if the GPU mutex is per-worker rather
	// than global; this repo uses a single global mutex (spec §5), so
	// raising this above 1 only parallelizes I/O-bound pre/post-processing
	// around the serialized GPU call.
	ASRWorkers int `yaml:"asr_workers"`

	// DBWorkers is the size of the Persistence Writer worker pool. Default: 8.
	DBWorkers int `yaml:"db_workers"`

	// QueueCapacity bounds each inter-stage channel. Default: 4.
	QueueCapacity int `yaml:"queue_capacity"`

	// PerVideoDeadline caps how long a single source may occupy the
	// pipeline before it is abandoned with a Timeout error. Default: 2h.
	PerVideoDeadline time.Duration `yaml:"per_video_deadline"`

	// RunDeadline caps the whole invocation's wall-clock time. Default: 10h.
	RunDeadline time.Duration `yaml:"run_deadline"`

	// ProgressInterval controls how often the orchestrator prints a
	// progress table. Default: 30s.
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// DiarizeConfig configures the diarization backend (spec §4.5 Phase A).
type DiarizeConfig struct {
	// ClusteringThreshold tunes the diarization pipeline's clustering
	// sensitivity. Lower is more sensitive (more, smaller clusters).
	// Default: 0.7.
	ClusteringThreshold float64 `yaml:"clustering_threshold"`

	// MinSpeakers and MaxSpeakers bound the expected speaker count, when
	// the diarization backend supports the hint. Zero means unbounded.
	MinSpeakers int `yaml:"min_speakers"`
	MaxSpeakers int `yaml:"max_speakers"`

	// MinOnDuration and MinOffDuration are minimum speech/silence segment
	// durations passed to the diarization pipeline, when supported.
	MinOnDuration  time.Duration `yaml:"min_on_duration"`
	MinOffDuration time.Duration `yaml:"min_off_duration"`
}

// AttributionConfig configures the Speaker Attributor's thresholds
// (spec §4.5 Phase B).
type AttributionConfig struct {
	// VarianceThreshold is the pairwise-similarity variance above which a
	// cluster is flagged as potentially mixed. Default: 0.02.
	VarianceThreshold float64 `yaml:"variance_threshold"`

	// RangeThreshold is the max-min pairwise-similarity range above which a
	// cluster is flagged as potentially mixed. Default: 0.3.
	RangeThreshold float64 `yaml:"range_threshold"`

	// Margin is the minimum gap between the best and second-best profile
	// similarity required to assign a cluster-level known label. Default: 0.05.
	Margin float64 `yaml:"margin"`

	// SplitThreshold (t_split) is the stricter per-segment similarity
	// threshold used for flagged/fallback clusters. Default: 0.65.
	SplitThreshold float64 `yaml:"split_threshold"`

	// MixedClusterMaxSeconds is the duration above which a single cluster
	// is treated as "enormous" and routed to per-segment identification
	// regardless of its variance. Default: 300s.
	MixedClusterMaxSeconds float64 `yaml:"mixed_cluster_max_seconds"`

	// SmoothingWindow is the time-axis window used to suppress isolated
	// label flips in the per-segment fallback pass. Default: 60s.
	SmoothingWindow time.Duration `yaml:"smoothing_window"`

	// SmoothingMinRun is the minimum consecutive-segment run length that
	// survives smoothing without being absorbed into its neighbors.
	// Default: 3.
	SmoothingMinRun int `yaml:"smoothing_min_run"`
}

// IngestConfig holds run-level ingestion policy knobs, including the two
// decisions recorded for the specification's open questions.
type IngestConfig struct {
	// EmbeddingProfile selects "quality" or "speed". Overridable per-run by
	// --embedding-profile. Default: "quality".
	EmbeddingProfile string `yaml:"embedding_profile"`

	// EmbeddingBatchSize is the number of text segments batched into a
	// single text-embedding request. Default: 64.
	EmbeddingBatchSize int `yaml:"embedding_batch_size"`

	// VoiceEnrollmentBatchSize is the number of sampled clips batched into
	// a single voice-embedding request during cluster identification.
	// Default: 16.
	VoiceEnrollmentBatchSize int `yaml:"voice_enrollment_batch_size"`

	// EmbedKnownOnly restricts embedding eligibility to segments with a
	// known (non-guest) speaker label, per spec §4.7's eligibility policy.
	// Default: false.
	EmbedKnownOnly bool `yaml:"embed_known_only"`

	// ExcludeNullLabels additionally excludes segments with a nil speaker
	// label from embedding when EmbedKnownOnly is set. The default reading
	// treats null labels as eligible, to avoid silently erasing embeddings
	// when speaker ID is disabled; this flag opts into the stricter
	// behavior. Default: false.
	ExcludeNullLabels bool `yaml:"exclude_null_labels"`

	// MonologueFastPath, when enabled, skips the variance/range mixed-cluster
	// check once diarization reports exactly one cluster, and labels the
	// whole video from the best profile match of embeddings sampled across
	// that cluster's full span. Default: false (opt-in).
	MonologueFastPath bool `yaml:"monologue_fast_path"`

	// VoiceEmbeddingCacheMaxAge bounds how long a decoded video's cached
	// voice-embedding samples may be reused across retries before being
	// recomputed. Default: 10m.
	VoiceEmbeddingCacheMaxAge time.Duration `yaml:"voice_embedding_cache_max_age"`

	// RetainAudio keeps the downloaded/converted WAV file after a video
	// completes instead of deleting it. Default: false.
	RetainAudio bool `yaml:"retain_audio"`
}
