package whisper_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/castbox/pkg/asr/whisper"
)

func writeSilentWAV(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "audio.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVEfmt "), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func newMockServer(t *testing.T, body map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("response_format") != "verbose_json" {
			http.Error(w, "missing response_format", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_ParsesSegmentsAndWords(t *testing.T) {
	srv := newMockServer(t, map[string]any{
		"language": "en",
		"segments": []map[string]any{
			{
				"start": 0.0,
				"end":   2.5,
				"text":  "hello world",
				"words": []map[string]any{
					{"word": "hello", "start": 0.0, "end": 1.0, "probability": 0.95},
					{"word": "world", "start": 1.2, "end": 2.5, "probability": 0.9},
				},
			},
		},
	})
	defer srv.Close()

	e, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dir := t.TempDir()
	path := writeSilentWAV(t, dir)

	transcript, err := e.Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if transcript.Language != "en" {
		t.Errorf("Language = %q, want en", transcript.Language)
	}
	if len(transcript.Segments) != 1 {
		t.Fatalf("Segments = %d, want 1", len(transcript.Segments))
	}
	if transcript.Segments[0].Text != "hello world" {
		t.Errorf("Segments[0].Text = %q", transcript.Segments[0].Text)
	}
	if len(transcript.Words) != 2 {
		t.Fatalf("Words = %d, want 2", len(transcript.Words))
	}
	if transcript.Words[0].Text != "hello" || transcript.Words[0].Start != 0 {
		t.Errorf("Words[0] = %+v", transcript.Words[0])
	}
	if transcript.Words[1].End != 2500*time.Millisecond {
		t.Errorf("Words[1].End = %v, want 2.5s", transcript.Words[1].End)
	}
}

func TestTranscribe_MissingFileReturnsError(t *testing.T) {
	e, err := whisper.New("http://localhost:8080")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = e.Transcribe(context.Background(), "/nonexistent/audio.wav")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestTranscribe_NonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dir := t.TempDir()
	path := writeSilentWAV(t, dir)

	_, err = e.Transcribe(context.Background(), path)
	if err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	srv := newMockServer(t, map[string]any{"language": "en", "segments": []map[string]any{}})
	defer srv.Close()

	e, err := whisper.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dir := t.TempDir()
	path := writeSilentWAV(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Transcribe(ctx, path)
	if err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}
