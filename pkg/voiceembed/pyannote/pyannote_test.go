package pyannote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/castbox/pkg/voiceembed/pyannote"
)

func mockEmbedServer(t *testing.T, want []float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("unexpected path: got %q, want /embed", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: got %q, want POST", r.Method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Model     string  `json:"model"`
			AudioPath string  `json:"audio_path"`
			Start     float64 `json:"start"`
			End       float64 `json:"end"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.AudioPath == "" {
			t.Error("audio_path must not be empty")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": want})
	}))
}

func TestNew_EmptyBaseURL_ReturnsError(t *testing.T) {
	_, err := pyannote.New("")
	if err == nil {
		t.Fatal("expected error for empty baseURL, got nil")
	}
}

func TestNew_DefaultDimensions(t *testing.T) {
	e, err := pyannote.New("http://localhost:8001")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Dimensions() != pyannote.DefaultDimensions {
		t.Errorf("Dimensions() = %d, want %d", e.Dimensions(), pyannote.DefaultDimensions)
	}
}

func TestNew_WithDimensions(t *testing.T) {
	e, err := pyannote.New("http://localhost:8001", pyannote.WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Dimensions() != 256 {
		t.Errorf("Dimensions() = %d, want 256", e.Dimensions())
	}
}

func TestExtract_ReturnsVector(t *testing.T) {
	want := []float32{0.1, 0.2, 0.3}
	srv := mockEmbedServer(t, want)
	defer srv.Close()

	e, err := pyannote.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := e.Extract(context.Background(), "/audio/episode1.wav", 1.0, 4.5)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Extract() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Extract()[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestExtract_InvalidSpanReturnsError(t *testing.T) {
	e, err := pyannote.New("http://localhost:8001")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = e.Extract(context.Background(), "/audio/episode1.wav", 5.0, 2.0)
	if err == nil {
		t.Fatal("expected error for start >= end, got nil")
	}
}

func TestExtract_NonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, err := pyannote.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = e.Extract(context.Background(), "/audio/episode1.wav", 0, 1)
	if err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
}
