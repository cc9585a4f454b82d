// Package pyannote provides a voiceembed.Extractor backed by a local
// pyannote-audio embedding server.
//
// pyannote-audio (https://github.com/pyannote/pyannote-audio) hosts speaker
// embedding models such as embedding-voxceleb. This package calls a thin HTTP
// wrapper around that model's inference, POSTing the source audio path and a
// [start, end) time span and receiving back a single speaker-embedding
// vector.
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/castbox/pkg/voiceembed"
)

// DefaultDimensions is the output vector length of pyannote's
// embedding-voxceleb model.
const DefaultDimensions = 512

// Ensure Extractor implements the voiceembed.Extractor interface at compile time.
var _ voiceembed.Extractor = (*Extractor)(nil)

// Extractor implements voiceembed.Extractor using a local pyannote-audio
// embedding server.
//
// Extractor is safe for concurrent use.
type Extractor struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

// Option is a functional option for Extractor.
type Option func(*Extractor)

// WithModel overrides the embedding model name sent to the server. Defaults
// to "embedding-voxceleb".
func WithModel(model string) Option {
	return func(e *Extractor) {
		e.model = model
	}
}

// WithDimensions overrides the vector length reported by Dimensions. Use this
// when running a non-default model whose output length differs from
// DefaultDimensions.
func WithDimensions(dims int) Option {
	return func(e *Extractor) {
		e.dimensions = dims
	}
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Extractor) {
		e.httpClient = c
	}
}

// New constructs a new Extractor that connects to the pyannote-audio server
// at baseURL (e.g., "http://localhost:8001"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Extractor, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("pyannote: baseURL must not be empty")
	}
	e := &Extractor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      "embedding-voxceleb",
		dimensions: DefaultDimensions,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

type embedRequest struct {
	Model     string  `json:"model"`
	AudioPath string  `json:"audio_path"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Extract implements voiceembed.Extractor.
//
// Returns an error if start >= end, the HTTP request fails, the server
// returns a non-200 status, or ctx is cancelled.
func (e *Extractor) Extract(ctx context.Context, audioPath string, start, end float64) ([]float32, error) {
	if start >= end {
		return nil, fmt.Errorf("pyannote: invalid span [%f, %f)", start, end)
	}

	body, err := json.Marshal(embedRequest{
		Model:     e.model,
		AudioPath: audioPath,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("pyannote: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pyannote: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pyannote: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pyannote: server returned HTTP %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("pyannote: decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("pyannote: empty embedding in response")
	}
	return result.Embedding, nil
}

// Dimensions implements voiceembed.Extractor.
func (e *Extractor) Dimensions() int {
	return e.dimensions
}
