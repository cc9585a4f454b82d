package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/castbox/internal/config"
)

const baseLoaderYAML = `
providers:
  asr:
    name: whisper
  voice_embeddings:
    name: pyannote
  diarize:
    name: pyannote
store:
  postgres_dsn: postgres://localhost/test
`

func TestLoadFromReader_DefaultsApplied(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(baseLoaderYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Pipeline.IOWorkers != 16 {
		t.Errorf("pipeline.io_workers default: got %d, want 16", cfg.Pipeline.IOWorkers)
	}
	if cfg.Pipeline.ASRWorkers != 1 {
		t.Errorf("pipeline.asr_workers default: got %d, want 1", cfg.Pipeline.ASRWorkers)
	}
	if cfg.Pipeline.DBWorkers != 8 {
		t.Errorf("pipeline.db_workers default: got %d, want 8", cfg.Pipeline.DBWorkers)
	}
	if cfg.Pipeline.RunDeadline != 10*time.Hour {
		t.Errorf("pipeline.run_deadline default: got %v, want 10h", cfg.Pipeline.RunDeadline)
	}
	if cfg.Diarize.ClusteringThreshold != 0.7 {
		t.Errorf("diarize.clustering_threshold default: got %v, want 0.7", cfg.Diarize.ClusteringThreshold)
	}
	if cfg.Attribution.Margin != 0.05 {
		t.Errorf("attribution.margin default: got %v, want 0.05", cfg.Attribution.Margin)
	}
	if cfg.Attribution.SplitThreshold != 0.65 {
		t.Errorf("attribution.split_threshold default: got %v, want 0.65", cfg.Attribution.SplitThreshold)
	}
	if cfg.Ingest.EmbeddingProfile != "quality" {
		t.Errorf("ingest.embedding_profile default: got %q, want quality", cfg.Ingest.EmbeddingProfile)
	}
	if cfg.Store.EmbeddingDimensionsQuality != 1536 {
		t.Errorf("store.embedding_dimensions_quality default: got %d, want 1536", cfg.Store.EmbeddingDimensionsQuality)
	}
}

func TestLoadFromReader_ExplicitValuesOverrideDefaults(t *testing.T) {
	t.Parallel()
	yaml := baseLoaderYAML + `
pipeline:
  io_workers: 32
attribution:
  split_threshold: 0.8
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.IOWorkers != 32 {
		t.Errorf("pipeline.io_workers: got %d, want 32", cfg.Pipeline.IOWorkers)
	}
	if cfg.Attribution.SplitThreshold != 0.8 {
		t.Errorf("attribution.split_threshold: got %v, want 0.8", cfg.Attribution.SplitThreshold)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
ingest:
  embedding_profile: ultra
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "providers.asr") {
		t.Errorf("error should mention providers.asr, got: %v", err)
	}
	if !strings.Contains(errStr, "embedding_profile") {
		t.Errorf("error should mention embedding_profile, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	asrNames := config.ValidProviderNames["asr"]
	if len(asrNames) == 0 {
		t.Fatal(`ValidProviderNames["asr"] should not be empty`)
	}
	found := false
	for _, n := range asrNames {
		if n == "whisper" {
			found = true
			break
		}
	}
	if !found {
		t.Error(`ValidProviderNames["asr"] should contain "whisper"`)
	}
}

func TestApplyEnvOverlay_OverridesFields(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"INGEST_IO_WORKERS":           "24",
		"INGEST_CLUSTERING_THRESHOLD": "0.55",
		"INGEST_MONOLOGUE_FAST_PATH":  "true",
		"INGEST_RUN_DEADLINE":         "6h",
		"INGEST_EMBEDDING_PROFILE":    "speed",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := &config.Config{}
	config.ApplyEnvOverlayForTest(cfg, lookup)

	if cfg.Pipeline.IOWorkers != 24 {
		t.Errorf("io_workers: got %d, want 24", cfg.Pipeline.IOWorkers)
	}
	if cfg.Diarize.ClusteringThreshold != 0.55 {
		t.Errorf("clustering_threshold: got %v, want 0.55", cfg.Diarize.ClusteringThreshold)
	}
	if !cfg.Ingest.MonologueFastPath {
		t.Error("monologue_fast_path: got false, want true")
	}
	if cfg.Pipeline.RunDeadline != 6*time.Hour {
		t.Errorf("run_deadline: got %v, want 6h", cfg.Pipeline.RunDeadline)
	}
	if cfg.Ingest.EmbeddingProfile != "speed" {
		t.Errorf("embedding_profile: got %q, want speed", cfg.Ingest.EmbeddingProfile)
	}
}

func TestApplyEnvOverlay_IgnoresUnsetVars(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Pipeline: config.PipelineConfig{IOWorkers: 5}}
	config.ApplyEnvOverlayForTest(cfg, func(string) (string, bool) { return "", false })
	if cfg.Pipeline.IOWorkers != 5 {
		t.Errorf("io_workers should be untouched, got %d", cfg.Pipeline.IOWorkers)
	}
}

func TestApplyEnvOverlay_MalformedValueIsIgnored(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Pipeline: config.PipelineConfig{IOWorkers: 5}}
	lookup := func(key string) (string, bool) {
		if key == "INGEST_IO_WORKERS" {
			return "not-a-number", true
		}
		return "", false
	}
	config.ApplyEnvOverlayForTest(cfg, lookup)
	if cfg.Pipeline.IOWorkers != 5 {
		t.Errorf("io_workers should be untouched on malformed input, got %d", cfg.Pipeline.IOWorkers)
	}
}
