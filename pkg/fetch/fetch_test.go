package fetch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/castbox/pkg/fetch"
)

type stubStrategy struct {
	name          string
	downloadFn    func(ctx context.Context, sourceID, destDir string) (string, float64, error)
	downloadCalls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Download(ctx context.Context, sourceID, destDir string) (string, float64, error) {
	s.downloadCalls++
	return s.downloadFn(ctx, sourceID, destDir)
}

type stubConverter struct {
	sampleRate int
	durationS  float64
	err        error
}

func (c *stubConverter) ConvertTo16kMono(ctx context.Context, srcPath string) (string, int, float64, error) {
	if c.err != nil {
		return "", 0, 0, c.err
	}
	return srcPath, c.sampleRate, c.durationS, nil
}

func writeFile(t *testing.T, dir string, size int) string {
	t.Helper()
	path := filepath.Join(dir, "audio.raw")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestFetch_PrimarySucceeds(t *testing.T) {
	dir := t.TempDir()
	primary := &stubStrategy{name: "web", downloadFn: func(ctx context.Context, sourceID, destDir string) (string, float64, error) {
		return writeFile(t, dir, 100*1024), 60.0, nil
	}}
	converter := &stubConverter{sampleRate: 16000, durationS: 60.0}

	f, err := fetch.New([]fetch.ClientStrategy{primary}, converter, dir, fetch.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	artifact, err := f.Fetch(context.Background(), "video-1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if artifact.SampleRate != 16000 || artifact.DurationS != 60.0 {
		t.Errorf("artifact = %+v", artifact)
	}
	if primary.downloadCalls != 1 {
		t.Errorf("downloadCalls = %d, want 1", primary.downloadCalls)
	}
}

func TestFetch_FailsOverToNextStrategy(t *testing.T) {
	dir := t.TempDir()
	primary := &stubStrategy{name: "web", downloadFn: func(ctx context.Context, sourceID, destDir string) (string, float64, error) {
		return "", 0, errors.New("unavailable")
	}}
	secondary := &stubStrategy{name: "mobile", downloadFn: func(ctx context.Context, sourceID, destDir string) (string, float64, error) {
		return writeFile(t, dir, 100*1024), 60.0, nil
	}}
	converter := &stubConverter{sampleRate: 16000, durationS: 60.0}

	cfg := fetch.DefaultConfig()
	cfg.MaxRetriesPerStrategy = 1
	cfg.InitialBackoff = time.Millisecond

	f, err := fetch.New([]fetch.ClientStrategy{primary, secondary}, converter, dir, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	artifact, err := f.Fetch(context.Background(), "video-1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if artifact.Path == "" {
		t.Error("expected successful artifact from secondary strategy")
	}
	if secondary.downloadCalls != 1 {
		t.Errorf("secondary downloadCalls = %d, want 1", secondary.downloadCalls)
	}
}

func TestFetch_FileTooSmallIsCorruptDownload(t *testing.T) {
	dir := t.TempDir()
	strategy := &stubStrategy{name: "web", downloadFn: func(ctx context.Context, sourceID, destDir string) (string, float64, error) {
		return writeFile(t, dir, 10), 60.0, nil
	}}
	converter := &stubConverter{sampleRate: 16000, durationS: 60.0}

	cfg := fetch.DefaultConfig()
	cfg.MaxRetriesPerStrategy = 1
	cfg.InitialBackoff = time.Millisecond

	f, err := fetch.New([]fetch.ClientStrategy{strategy}, converter, dir, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = f.Fetch(context.Background(), "video-1")
	if err == nil {
		t.Fatal("expected error for undersized file")
	}
	var fetchErr *fetch.Error
	if !errors.As(err, &fetchErr) {
		t.Fatalf("err = %v, want *fetch.Error", err)
	}
	if fetchErr.Kind != fetch.KindCorruptDownload {
		t.Errorf("Kind = %q, want %q", fetchErr.Kind, fetch.KindCorruptDownload)
	}
}

func TestFetch_DurationMismatchIsCorruptDownload(t *testing.T) {
	dir := t.TempDir()
	strategy := &stubStrategy{name: "web", downloadFn: func(ctx context.Context, sourceID, destDir string) (string, float64, error) {
		return writeFile(t, dir, 100*1024), 60.0, nil
	}}
	converter := &stubConverter{sampleRate: 16000, durationS: 90.0} // >5% off from declared 60s

	cfg := fetch.DefaultConfig()
	cfg.MaxRetriesPerStrategy = 1
	cfg.InitialBackoff = time.Millisecond

	f, err := fetch.New([]fetch.ClientStrategy{strategy}, converter, dir, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = f.Fetch(context.Background(), "video-1")
	var fetchErr *fetch.Error
	if !errors.As(err, &fetchErr) || fetchErr.Kind != fetch.KindCorruptDownload {
		t.Fatalf("err = %v, want corrupt_download", err)
	}
}

func TestNew_NoStrategiesReturnsError(t *testing.T) {
	_, err := fetch.New(nil, &stubConverter{}, t.TempDir(), fetch.DefaultConfig())
	if err == nil {
		t.Fatal("expected error for empty strategy list")
	}
}

func TestError_RetriableClassification(t *testing.T) {
	tests := []struct {
		kind fetch.Kind
		want bool
	}{
		{fetch.KindRateLimited, true},
		{fetch.KindBotChallenged, true},
		{fetch.KindUnavailable, true},
		{fetch.KindCorruptDownload, false},
	}
	for _, tt := range tests {
		e := &fetch.Error{Kind: tt.kind, Err: errors.New("x")}
		if got := e.Retriable(); got != tt.want {
			t.Errorf("Kind %q: Retriable() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
