package ytdlp_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/castbox/pkg/fetch"
	"github.com/MrWong99/castbox/pkg/fetch/ytdlp"
)

type stubExecutor struct {
	lines []string
	err   error
	calls int
	args  [][]string
}

func (s *stubExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	s.calls++
	cloned := append([]string(nil), args...)
	s.args = append(s.args, cloned)
	for _, line := range s.lines {
		onStdout(line)
	}
	return s.err
}

func TestDownloadReturnsPathAndDuration(t *testing.T) {
	dest := t.TempDir()
	exec := &stubExecutor{lines: []string{
		dest + "/abc123.m4a",
		"612.48",
	}}
	strategy := ytdlp.New("web", ytdlp.WithExecutor(exec))

	path, duration, err := strategy.Download(context.Background(), "abc123", dest)
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if path != dest+"/abc123.m4a" {
		t.Fatalf("unexpected path: %q", path)
	}
	if duration != 612.48 {
		t.Fatalf("unexpected duration: %v", duration)
	}
	if exec.calls != 1 {
		t.Fatalf("expected 1 exec call, got %d", exec.calls)
	}

	args := strings.Join(exec.args[0], " ")
	if !strings.Contains(args, "player_client=web") {
		t.Fatalf("expected player_client=web in args, got: %s", args)
	}
}

func TestDownloadOmitsPlayerClientArgForDefault(t *testing.T) {
	dest := t.TempDir()
	exec := &stubExecutor{lines: []string{dest + "/x.m4a", "10"}}
	strategy := ytdlp.New("default", ytdlp.WithExecutor(exec))

	if _, _, err := strategy.Download(context.Background(), "x", dest); err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	args := strings.Join(exec.args[0], " ")
	if strings.Contains(args, "player_client") {
		t.Fatalf("did not expect player_client arg for default strategy, got: %s", args)
	}
}

func TestDownloadClassifiesRateLimitedError(t *testing.T) {
	exec := &stubExecutor{
		lines: []string{"ERROR: HTTP Error 429: Too Many Requests"},
		err:   errors.New("exit status 1"),
	}
	strategy := ytdlp.New("web", ytdlp.WithExecutor(exec))

	_, _, err := strategy.Download(context.Background(), "abc123", t.TempDir())
	if err == nil {
		t.Fatal("expected error")
	}
	var fetchErr *fetch.Error
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *fetch.Error, got %T", err)
	}
	if fetchErr.Kind != fetch.KindRateLimited {
		t.Fatalf("expected KindRateLimited, got %v", fetchErr.Kind)
	}
}

func TestDownloadClassifiesBotChallengeError(t *testing.T) {
	exec := &stubExecutor{
		lines: []string{"ERROR: Sign in to confirm you're not a bot"},
		err:   errors.New("exit status 1"),
	}
	strategy := ytdlp.New("mobile", ytdlp.WithExecutor(exec))

	_, _, err := strategy.Download(context.Background(), "abc123", t.TempDir())
	var fetchErr *fetch.Error
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *fetch.Error, got %T", err)
	}
	if fetchErr.Kind != fetch.KindBotChallenged {
		t.Fatalf("expected KindBotChallenged, got %v", fetchErr.Kind)
	}
}

func TestDownloadClassifiesUnavailableError(t *testing.T) {
	exec := &stubExecutor{
		lines: []string{"ERROR: Video unavailable. This video has been removed by the uploader"},
		err:   errors.New("exit status 1"),
	}
	strategy := ytdlp.New("web", ytdlp.WithExecutor(exec))

	_, _, err := strategy.Download(context.Background(), "abc123", t.TempDir())
	var fetchErr *fetch.Error
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *fetch.Error, got %T", err)
	}
	if fetchErr.Kind != fetch.KindUnavailable {
		t.Fatalf("expected KindUnavailable, got %v", fetchErr.Kind)
	}
}

func TestDownloadErrorsWhenPathUndeterminable(t *testing.T) {
	exec := &stubExecutor{lines: []string{""}}
	strategy := ytdlp.New("web", ytdlp.WithExecutor(exec))

	if _, _, err := strategy.Download(context.Background(), "abc123", t.TempDir()); err == nil {
		t.Fatal("expected error when no output path line is present")
	}
}

func TestName(t *testing.T) {
	strategy := ytdlp.New("mobile")
	if strategy.Name() != "mobile" {
		t.Fatalf("expected Name() = mobile, got %q", strategy.Name())
	}
}

func TestWithCookieFileAttachesArg(t *testing.T) {
	dest := t.TempDir()
	exec := &stubExecutor{lines: []string{dest + "/x.m4a", "10"}}
	strategy := ytdlp.New("web", ytdlp.WithExecutor(exec), ytdlp.WithCookieFile("/tmp/cookies.txt"))

	if _, _, err := strategy.Download(context.Background(), "x", dest); err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	args := strings.Join(exec.args[0], " ")
	if !strings.Contains(args, "/tmp/cookies.txt") {
		t.Fatalf("expected cookie file in args, got: %s", args)
	}
}
