package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr":              {"whisper", "whisper-native", "openai", "deepgram"},
	"text_embeddings":  {"openai", "ollama"},
	"voice_embeddings": {"pyannote", "speechbrain", "resemblyzer"},
	"diarize":          {"pyannote"},
}

// Load reads the YAML configuration file at path, applies defaults, overlays
// INGEST_-prefixed environment variables, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, overlays
// environment variables, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	applyEnvOverlay(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued fields with the defaults named in
// spec §4.8 and §6.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Pipeline.IOWorkers == 0 {
		cfg.Pipeline.IOWorkers = 16
	}
	if cfg.Pipeline.ASRWorkers == 0 {
		cfg.Pipeline.ASRWorkers = 1
	}
	if cfg.Pipeline.DBWorkers == 0 {
		cfg.Pipeline.DBWorkers = 8
	}
	if cfg.Pipeline.QueueCapacity == 0 {
		cfg.Pipeline.QueueCapacity = 4
	}
	if cfg.Pipeline.PerVideoDeadline == 0 {
		cfg.Pipeline.PerVideoDeadline = 2 * time.Hour
	}
	if cfg.Pipeline.RunDeadline == 0 {
		cfg.Pipeline.RunDeadline = 10 * time.Hour
	}
	if cfg.Pipeline.ProgressInterval == 0 {
		cfg.Pipeline.ProgressInterval = 30 * time.Second
	}

	if cfg.Diarize.ClusteringThreshold == 0 {
		cfg.Diarize.ClusteringThreshold = 0.7
	}

	if cfg.Attribution.VarianceThreshold == 0 {
		cfg.Attribution.VarianceThreshold = 0.02
	}
	if cfg.Attribution.RangeThreshold == 0 {
		cfg.Attribution.RangeThreshold = 0.3
	}
	if cfg.Attribution.Margin == 0 {
		cfg.Attribution.Margin = 0.05
	}
	if cfg.Attribution.SplitThreshold == 0 {
		cfg.Attribution.SplitThreshold = 0.65
	}
	if cfg.Attribution.MixedClusterMaxSeconds == 0 {
		cfg.Attribution.MixedClusterMaxSeconds = 300
	}
	if cfg.Attribution.SmoothingWindow == 0 {
		cfg.Attribution.SmoothingWindow = 60 * time.Second
	}
	if cfg.Attribution.SmoothingMinRun == 0 {
		cfg.Attribution.SmoothingMinRun = 3
	}

	if cfg.Ingest.EmbeddingProfile == "" {
		cfg.Ingest.EmbeddingProfile = "quality"
	}
	if cfg.Ingest.EmbeddingBatchSize == 0 {
		cfg.Ingest.EmbeddingBatchSize = 64
	}
	if cfg.Ingest.VoiceEnrollmentBatchSize == 0 {
		cfg.Ingest.VoiceEnrollmentBatchSize = 16
	}
	if cfg.Ingest.VoiceEmbeddingCacheMaxAge == 0 {
		cfg.Ingest.VoiceEmbeddingCacheMaxAge = 10 * time.Minute
	}

	if cfg.Store.EmbeddingDimensionsQuality == 0 {
		cfg.Store.EmbeddingDimensionsQuality = 1536
	}
	if cfg.Store.EmbeddingDimensionsSpeed == 0 {
		cfg.Store.EmbeddingDimensionsSpeed = 384
	}
}

// envOverlay binds an INGEST_-prefixed environment variable to a setter
// invoked only when the variable is present, per spec §6's environment
// configuration table.
type envOverlay struct {
	key string
	set func(string)
}

// applyEnvOverlay overrides cfg fields from INGEST_-prefixed environment
// variables, per spec §6. lookup is injected for testability.
func applyEnvOverlay(cfg *Config, lookup func(string) (string, bool)) {
	overlays := []envOverlay{
		{"INGEST_EMBEDDING_PROFILE", func(v string) { cfg.Ingest.EmbeddingProfile = v }},
		{"INGEST_EMBEDDING_BATCH_SIZE", intSetter(&cfg.Ingest.EmbeddingBatchSize)},
		{"INGEST_VOICE_ENROLLMENT_BATCH_SIZE", intSetter(&cfg.Ingest.VoiceEnrollmentBatchSize)},
		{"INGEST_IO_WORKERS", intSetter(&cfg.Pipeline.IOWorkers)},
		{"INGEST_ASR_WORKERS", intSetter(&cfg.Pipeline.ASRWorkers)},
		{"INGEST_DB_WORKERS", intSetter(&cfg.Pipeline.DBWorkers)},
		{"INGEST_CLUSTERING_THRESHOLD", floatSetter(&cfg.Diarize.ClusteringThreshold)},
		{"INGEST_MONOLOGUE_FAST_PATH", boolSetter(&cfg.Ingest.MonologueFastPath)},
		{"INGEST_SPLIT_THRESHOLD", floatSetter(&cfg.Attribution.SplitThreshold)},
		{"INGEST_MARGIN", floatSetter(&cfg.Attribution.Margin)},
		{"INGEST_VOICE_EMBEDDING_CACHE_MAX_AGE", durationSetter(&cfg.Ingest.VoiceEmbeddingCacheMaxAge)},
		{"INGEST_RUN_DEADLINE", durationSetter(&cfg.Pipeline.RunDeadline)},
		{"INGEST_RETAIN_AUDIO", boolSetter(&cfg.Ingest.RetainAudio)},
	}
	for _, o := range overlays {
		if v, ok := lookup(o.key); ok && v != "" {
			o.set(v)
		}
	}
}

func intSetter(dst *int) func(string) {
	return func(v string) {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*dst = n
		} else {
			slog.Warn("ignoring malformed integer environment override", "value", v)
		}
	}
}

func floatSetter(dst *float64) func(string) {
	return func(v string) {
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			*dst = f
		} else {
			slog.Warn("ignoring malformed float environment override", "value", v)
		}
	}
}

func boolSetter(dst *bool) func(string) {
	return func(v string) {
		switch v {
		case "1", "true", "TRUE", "True":
			*dst = true
		case "0", "false", "FALSE", "False":
			*dst = false
		default:
			slog.Warn("ignoring malformed boolean environment override", "value", v)
		}
	}
}

func durationSetter(dst *time.Duration) func(string) {
	return func(v string) {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			slog.Warn("ignoring malformed duration environment override", "value", v)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("text_embeddings", cfg.Providers.TextEmbeddings.Name)
	validateProviderName("voice_embeddings", cfg.Providers.VoiceEmbeddings.Name)
	validateProviderName("diarize", cfg.Providers.Diarize.Name)

	if cfg.Providers.ASR.Name == "" {
		errs = append(errs, errors.New("providers.asr.name is required"))
	}
	if cfg.Providers.VoiceEmbeddings.Name == "" {
		errs = append(errs, errors.New("providers.voice_embeddings.name is required"))
	}
	if cfg.Providers.Diarize.Name == "" {
		errs = append(errs, errors.New("providers.diarize.name is required"))
	}

	if cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required"))
	}

	if cfg.Ingest.EmbeddingProfile != "quality" && cfg.Ingest.EmbeddingProfile != "speed" {
		errs = append(errs, fmt.Errorf("ingest.embedding_profile %q is invalid; valid values: quality, speed", cfg.Ingest.EmbeddingProfile))
	}

	if cfg.VoiceProfiles.Dir == "" {
		slog.Warn("voice_profiles.dir is empty; speaker attribution will label every segment GUEST")
	}

	if cfg.Attribution.SplitThreshold < cfg.Attribution.Margin {
		slog.Warn("attribution.split_threshold is smaller than attribution.margin; per-segment fallback may be more permissive than cluster-level matching",
			"split_threshold", cfg.Attribution.SplitThreshold,
			"margin", cfg.Attribution.Margin,
		)
	}

	if cfg.Pipeline.IOWorkers <= 0 {
		errs = append(errs, errors.New("pipeline.io_workers must be positive"))
	}
	if cfg.Pipeline.ASRWorkers <= 0 {
		errs = append(errs, errors.New("pipeline.asr_workers must be positive"))
	}
	if cfg.Pipeline.DBWorkers <= 0 {
		errs = append(errs, errors.New("pipeline.db_workers must be positive"))
	}

	if joined := errors.Join(errs...); joined != nil {
		return &ConfigError{Err: joined}
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
