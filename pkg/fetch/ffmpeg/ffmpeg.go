// Package ffmpeg implements pkg/fetch's Converter interface by shelling out
// to the ffmpeg and ffprobe binaries, normalizing a downloaded container to
// 16 kHz mono WAV (spec §4.2) for the ASR and diarization stages.
package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/castbox/pkg/fetch"
)

// Executor abstracts command execution for testability.
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
		return fmt.Errorf("%s: %w", binary, err)
	}
	return scanErr
}

const (
	// TargetSampleRate is the sample rate required by the ASR and
	// diarization backends (spec §4.2).
	TargetSampleRate = 16000
	// TargetChannels is mono.
	TargetChannels = 1
)

// Option configures a Converter.
type Option func(*Converter)

// WithExecutor injects a custom Executor (primarily for tests).
func WithExecutor(e Executor) Option {
	return func(c *Converter) {
		if e != nil {
			c.exec = e
		}
	}
}

// WithFFmpegBinary overrides the ffmpeg binary path or name. Default: "ffmpeg".
func WithFFmpegBinary(path string) Option {
	return func(c *Converter) { c.ffmpegBinary = path }
}

// WithFFprobeBinary overrides the ffprobe binary path or name. Default: "ffprobe".
func WithFFprobeBinary(path string) Option {
	return func(c *Converter) { c.ffprobeBinary = path }
}

// Converter implements fetch.Converter via ffmpeg/ffprobe.
type Converter struct {
	ffmpegBinary  string
	ffprobeBinary string
	exec          Executor
}

// New constructs a Converter with the default binary names "ffmpeg" and
// "ffprobe", both expected on $PATH unless overridden.
func New(opts ...Option) *Converter {
	c := &Converter{
		ffmpegBinary:  "ffmpeg",
		ffprobeBinary: "ffprobe",
		exec:          commandExecutor{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ConvertTo16kMono implements fetch.Converter. It writes a sibling
// "<srcPath-without-ext>.16k.wav" file and reports its measured duration via
// ffprobe, per spec §4.2's post-conversion validation step.
func (c *Converter) ConvertTo16kMono(ctx context.Context, srcPath string) (string, int, float64, error) {
	outPath := strings.TrimSuffix(srcPath, extOf(srcPath)) + ".16k.wav"

	args := []string{
		"-y",
		"-i", srcPath,
		"-ac", strconv.Itoa(TargetChannels),
		"-ar", strconv.Itoa(TargetSampleRate),
		"-f", "wav",
		outPath,
	}
	if err := c.exec.Run(ctx, c.ffmpegBinary, args, nil); err != nil {
		return "", 0, 0, fmt.Errorf("ffmpeg convert: %w", err)
	}

	duration, err := c.probeDuration(ctx, outPath)
	if err != nil {
		return "", 0, 0, fmt.Errorf("ffprobe duration: %w", err)
	}

	return outPath, TargetSampleRate, duration, nil
}

func (c *Converter) probeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	var mu sync.Mutex
	var lines []string
	err := c.exec.Run(ctx, c.ffprobeBinary, args, func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})
	if err != nil {
		return 0, err
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if d, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return d, nil
		}
	}
	return 0, fmt.Errorf("could not parse duration from ffprobe output")
}

func extOf(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return ""
	}
	return path[idx:]
}

// Ensure Converter implements fetch.Converter at compile time.
var _ fetch.Converter = (*Converter)(nil)
