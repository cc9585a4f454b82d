// Package pyannote implements diarize.Backend against a local pyannote-audio
// diarization server.
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/castbox/internal/diarize"
	"github.com/MrWong99/castbox/pkg/domain"
)

// Ensure Backend implements diarize.Backend at compile time.
var _ diarize.Backend = (*Backend)(nil)

// Backend calls a pyannote-audio diarization pipeline over HTTP.
//
// Backend is safe for concurrent use.
type Backend struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a new Backend that connects to the pyannote-audio server at
// baseURL (e.g., "http://localhost:8002"). baseURL must be non-empty.
func New(baseURL string) (*Backend, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("pyannote: baseURL must not be empty")
	}
	return &Backend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

type diarizeFileRequest struct {
	AudioPath           string  `json:"audio_path"`
	ClusteringThreshold float64 `json:"clustering_threshold,omitempty"`
	MinSpeakers         int     `json:"min_speakers,omitempty"`
	MaxSpeakers         int     `json:"max_speakers,omitempty"`
	MinOnSeconds        float64 `json:"min_on_seconds,omitempty"`
	MinOffSeconds       float64 `json:"min_off_seconds,omitempty"`
}

type diarizeWaveformRequest struct {
	Waveform            []float32 `json:"waveform"`
	SampleRate          int       `json:"sample_rate"`
	ClusteringThreshold float64   `json:"clustering_threshold,omitempty"`
	MinSpeakers         int       `json:"min_speakers,omitempty"`
	MaxSpeakers         int       `json:"max_speakers,omitempty"`
	MinOnSeconds        float64   `json:"min_on_seconds,omitempty"`
	MinOffSeconds       float64   `json:"min_off_seconds,omitempty"`
}

type diarizeResponse struct {
	Turns []struct {
		Start     float64 `json:"start"`
		End       float64 `json:"end"`
		ClusterID string  `json:"cluster_id"`
	} `json:"turns"`
	// UnsupportedKeys lists configuration keys this pipeline version rejected;
	// the caller retries once with those keys omitted, per spec §4.5 Phase A.
	UnsupportedKeys []string `json:"unsupported_keys,omitempty"`
}

// DiarizeFile implements diarize.Backend.
func (b *Backend) DiarizeFile(ctx context.Context, audioPath string, cfg diarize.Config) ([]domain.Turn, error) {
	req := diarizeFileRequest{
		AudioPath:           audioPath,
		ClusteringThreshold: cfg.ClusteringThreshold,
		MinSpeakers:         cfg.MinSpeakers,
		MaxSpeakers:         cfg.MaxSpeakers,
		MinOnSeconds:        cfg.MinOnDuration.Seconds(),
		MinOffSeconds:       cfg.MinOffDuration.Seconds(),
	}
	resp, err := b.post(ctx, "/diarize/file", req)
	if err != nil {
		return nil, err
	}
	if len(resp.UnsupportedKeys) > 0 {
		for _, key := range resp.UnsupportedKeys {
			switch key {
			case "clustering_threshold":
				req.ClusteringThreshold = 0
			case "min_speakers":
				req.MinSpeakers = 0
			case "max_speakers":
				req.MaxSpeakers = 0
			case "min_on_seconds":
				req.MinOnSeconds = 0
			case "min_off_seconds":
				req.MinOffSeconds = 0
			}
		}
		resp, err = b.post(ctx, "/diarize/file", req)
		if err != nil {
			return nil, err
		}
	}
	return toTurns(resp), nil
}

// DiarizeWaveform implements diarize.Backend.
func (b *Backend) DiarizeWaveform(ctx context.Context, waveform []float32, sampleRate int, cfg diarize.Config) ([]domain.Turn, error) {
	req := diarizeWaveformRequest{
		Waveform:            waveform,
		SampleRate:          sampleRate,
		ClusteringThreshold: cfg.ClusteringThreshold,
		MinSpeakers:         cfg.MinSpeakers,
		MaxSpeakers:         cfg.MaxSpeakers,
		MinOnSeconds:        cfg.MinOnDuration.Seconds(),
		MinOffSeconds:       cfg.MinOffDuration.Seconds(),
	}
	resp, err := b.post(ctx, "/diarize/waveform", req)
	if err != nil {
		return nil, err
	}
	return toTurns(resp), nil
}

func (b *Backend) post(ctx context.Context, path string, payload any) (diarizeResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return diarizeResponse{}, &diarize.Error{Op: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return diarizeResponse{}, &diarize.Error{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return diarizeResponse{}, &diarize.Error{Op: "http request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return diarizeResponse{}, &diarize.Error{Op: "http request", Err: fmt.Errorf("server returned HTTP %d", resp.StatusCode)}
	}

	var result diarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return diarizeResponse{}, &diarize.Error{Op: "decode response", Err: err}
	}
	return result, nil
}

func toTurns(resp diarizeResponse) []domain.Turn {
	turns := make([]domain.Turn, 0, len(resp.Turns))
	for _, t := range resp.Turns {
		turns = append(turns, domain.Turn{
			Start:     time.Duration(t.Start * float64(time.Second)),
			End:       time.Duration(t.End * float64(time.Second)),
			ClusterID: t.ClusterID,
		})
	}
	return turns
}
