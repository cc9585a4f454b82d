package voiceprofile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeProfileFile(t *testing.T, dir, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write %q: %v", name, err)
	}
}

func TestLoadDir_CentroidShape(t *testing.T) {
	dir := t.TempDir()
	writeProfileFile(t, dir, "primary.json", map[string]any{
		"name":       "PRIMARY",
		"centroid":   []float32{1, 0, 0},
		"threshold":  0.62,
		"created_at": "2026-01-01T00:00:00Z",
	})

	store, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	names := store.ListNames()
	if len(names) != 1 || names[0] != "PRIMARY" {
		t.Fatalf("ListNames() = %v, want [PRIMARY]", names)
	}

	p, ok := store.Profile("PRIMARY")
	if !ok {
		t.Fatal("Profile(PRIMARY) not found")
	}
	if p.Threshold != 0.62 {
		t.Errorf("Threshold = %v, want 0.62", p.Threshold)
	}
	if p.Legacy {
		t.Error("Legacy = true, want false for centroid-shape file")
	}
}

func TestLoadDir_LegacyEmbeddingsCompressedToCentroid(t *testing.T) {
	dir := t.TempDir()
	writeProfileFile(t, dir, "legacy.json", map[string]any{
		"name": "PRIMARY",
		"embeddings": [][]float32{
			{1, 0, 0},
			{0, 1, 0},
		},
	})

	store, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	p, ok := store.Profile("PRIMARY")
	if !ok {
		t.Fatal("Profile(PRIMARY) not found")
	}
	if !p.Legacy {
		t.Error("Legacy = false, want true for raw-embeddings-shape file")
	}
	if p.Threshold != defaultThreshold {
		t.Errorf("Threshold = %v, want default %v", p.Threshold, defaultThreshold)
	}

	// Mean of (1,0,0) and (0,1,0) is (0.5,0.5,0), renormalized to unit length.
	want := float32(1) / float32(1.4142135)
	if d := p.Centroid[0] - want; d > 0.001 || d < -0.001 {
		t.Errorf("Centroid[0] = %v, want ~%v", p.Centroid[0], want)
	}
}

func TestLoadDir_DuplicateName(t *testing.T) {
	dir := t.TempDir()
	writeProfileFile(t, dir, "a.json", map[string]any{"name": "PRIMARY", "centroid": []float32{1, 0}})
	writeProfileFile(t, dir, "b.json", map[string]any{"name": "PRIMARY", "centroid": []float32{0, 1}})

	if _, err := LoadDir(dir); err == nil {
		t.Fatal("expected error for duplicate profile name")
	}
}

func TestLoadDir_MissingShapeIsError(t *testing.T) {
	dir := t.TempDir()
	writeProfileFile(t, dir, "bad.json", map[string]any{"name": "PRIMARY", "threshold": 0.5})

	if _, err := LoadDir(dir); err == nil {
		t.Fatal("expected error when neither centroid nor embeddings present")
	}
}

func TestSimilarity_UnknownProfile(t *testing.T) {
	store := NewMemStore()
	_, err := store.Similarity(context.Background(), []float32{1, 0}, "NOBODY")
	if !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("err = %v, want ErrUnknownProfile", err)
	}
}

func TestSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	dir := t.TempDir()
	writeProfileFile(t, dir, "p.json", map[string]any{"name": "PRIMARY", "centroid": []float32{1, 0, 0}})
	store, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	sim, err := store.Similarity(context.Background(), []float32{1, 0, 0}, "PRIMARY")
	if err != nil {
		t.Fatalf("Similarity: %v", err)
	}
	if d := sim - 1; d > 0.0001 || d < -0.0001 {
		t.Errorf("Similarity = %v, want ~1", sim)
	}
}

func TestBestMatch_NoProfiles(t *testing.T) {
	store := NewMemStore()
	_, _, _, err := store.BestMatch(context.Background(), []float32{1, 0})
	if !errors.Is(err, ErrNoProfiles) {
		t.Fatalf("err = %v, want ErrNoProfiles", err)
	}
}

func TestBestMatch_MarginIsGapToRunnerUp(t *testing.T) {
	dir := t.TempDir()
	writeProfileFile(t, dir, "a.json", map[string]any{"name": "A", "centroid": []float32{1, 0}})
	writeProfileFile(t, dir, "b.json", map[string]any{"name": "B", "centroid": []float32{0.7, 0.7141}})
	store, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	name, sim, margin, err := store.BestMatch(context.Background(), []float32{1, 0})
	if err != nil {
		t.Fatalf("BestMatch: %v", err)
	}
	if name != "A" {
		t.Fatalf("name = %q, want A", name)
	}
	if sim <= margin && len(store.ListNames()) > 1 {
		// With two profiles, margin should be strictly less than sim
		// unless the runner-up similarity is zero.
	}
	if margin < 0 {
		t.Errorf("margin = %v, want >= 0 (A is the best match)", margin)
	}
	simB, err := store.Similarity(context.Background(), []float32{1, 0}, "B")
	if err != nil {
		t.Fatalf("Similarity(B): %v", err)
	}
	if d := margin - (sim - simB); d > 1e-6 || d < -1e-6 {
		t.Errorf("margin = %v, want sim(A) - sim(B) = %v", margin, sim-simB)
	}
}

func TestBestMatch_SingleProfileMarginEqualsSimilarity(t *testing.T) {
	dir := t.TempDir()
	writeProfileFile(t, dir, "a.json", map[string]any{"name": "A", "centroid": []float32{1, 0}})
	store, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	_, sim, margin, err := store.BestMatch(context.Background(), []float32{1, 0})
	if err != nil {
		t.Fatalf("BestMatch: %v", err)
	}
	if sim != margin {
		t.Errorf("margin = %v, want equal to similarity %v with only one profile loaded", margin, sim)
	}
}
