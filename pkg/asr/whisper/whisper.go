// Package whisper provides an ASR engine backed by a whisper.cpp server
// running in batch (non-streaming) mode.
//
// It POSTs the full audio file to the server's /inference endpoint with
// response_format=verbose_json and parses the returned segment and per-word
// timestamps.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/castbox/pkg/asr"
)

// Ensure Engine implements asr.Engine.
var _ asr.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "large-v3"). When empty the server uses whichever model it was
// started with.
func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent to the server. An empty
// value lets the server auto-detect. Defaults to auto-detect.
func WithLanguage(lang string) Option {
	return func(e *Engine) {
		e.language = lang
	}
}

// WithHTTPClient overrides the HTTP client used for requests. Useful for
// setting a longer timeout for long-form transcription.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = c
	}
}

// Engine implements asr.Engine backed by a local whisper.cpp HTTP server.
type Engine struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Engine that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// verboseJSONResponse mirrors whisper.cpp's verbose_json response shape.
type verboseJSONResponse struct {
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Prob  float64 `json:"probability"`
		} `json:"words"`
	} `json:"segments"`
}

// Transcribe implements asr.Engine.
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (asr.Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: open %q: %w", audioPath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: copy audio data: %w", err)
	}

	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if e.language != "" {
		if err := mw.WriteField("language", e.language); err != nil {
			return asr.Transcript{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if e.model != "" {
		if err := mw.WriteField("model", e.model); err != nil {
			return asr.Transcript{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := e.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return asr.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, data)
	}

	var parsed verboseJSONResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	out := asr.Transcript{Language: parsed.Language}
	for _, seg := range parsed.Segments {
		out.Segments = append(out.Segments, asr.RawSegment{
			Start: secondsToDuration(seg.Start),
			End:   secondsToDuration(seg.End),
			Text:  seg.Text,
		})
		for _, w := range seg.Words {
			out.Words = append(out.Words, asr.Word{
				Start:      secondsToDuration(w.Start),
				End:        secondsToDuration(w.End),
				Text:       w.Word,
				Confidence: w.Prob,
			})
		}
	}

	return out, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
