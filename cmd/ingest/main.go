// Command ingest is the entry point for the castbox ingestion pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/castbox/internal/config"
	"github.com/MrWong99/castbox/internal/diarize"
	pyannotediarize "github.com/MrWong99/castbox/internal/diarize/pyannote"
	"github.com/MrWong99/castbox/internal/listing"
	"github.com/MrWong99/castbox/internal/observe"
	"github.com/MrWong99/castbox/internal/pipeline"
	"github.com/MrWong99/castbox/pkg/asr"
	"github.com/MrWong99/castbox/pkg/asr/whisper"
	"github.com/MrWong99/castbox/pkg/embeddings"
	"github.com/MrWong99/castbox/pkg/embeddings/ollama"
	"github.com/MrWong99/castbox/pkg/embeddings/openai"
	"github.com/MrWong99/castbox/pkg/fetch"
	"github.com/MrWong99/castbox/pkg/fetch/ffmpeg"
	"github.com/MrWong99/castbox/pkg/fetch/ytdlp"
	"github.com/MrWong99/castbox/pkg/store/postgres"
	"github.com/MrWong99/castbox/pkg/voiceembed"
	pyannotevoice "github.com/MrWong99/castbox/pkg/voiceembed/pyannote"
	"github.com/MrWong99/castbox/pkg/voiceprofile"
)

func main() {
	os.Exit(run())
}

// Exit codes per spec §6.
const (
	exitOK          = 0
	exitError       = 1
	exitTimeout     = 124
	exitInterrupted = 130
)

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	limit := flag.Int("limit", 0, "cap the number of candidate sources ingested this run")
	daysBack := flag.Int("days-back", 0, "restrict candidates to those published within the last N days")
	newestFirst := flag.Bool("newest-first", false, "order candidates newest-published first")
	force := flag.Bool("force", false, "re-ingest named sources even if already done, replacing prior segments/embeddings")
	skipExisting := flag.Bool("skip-existing", false, "exclude sources left in status=error from a previous run, not just status=done")
	maxRuntime := flag.Duration("max-runtime", 0, "cap the whole invocation's wall-clock time (0 uses the configured run deadline)")
	embeddingProfile := flag.String("embedding-profile", "", "override ingest.embedding_profile for this run (quality|speed)")
	listOnly := flag.Bool("list-only", false, "resolve and print candidates without fetching or transcribing anything")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ingest <source-selector> [flags]")
		flag.PrintDefaults()
		return exitError
	}
	sel, err := parseSelector(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		return exitError
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ingest: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		}
		return exitError
	}
	if *maxRuntime > 0 {
		cfg.Pipeline.RunDeadline = *maxRuntime
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("ingest starting",
		"config", *configPath,
		"selector", flag.Arg(0),
		"log_level", cfg.Server.LogLevel,
	)

	profile := cfg.Ingest.EmbeddingProfile
	if *embeddingProfile != "" {
		profile = *embeddingProfile
	}

	filter := listing.FilterOptions{
		DaysBack:     *daysBack,
		SkipExisting: *skipExisting,
		Force:        *force,
		Limit:        *limit,
		NewestFirst:  *newestFirst,
	}

	if *listOnly {
		return runListOnly(cfg, sel, filter, profile)
	}

	// ── Observability ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "castbox"})
	if err != nil {
		slog.Error("failed to initialise observability", "err", err)
		return exitError
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()
	if cfg.Server.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("metrics server stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closeProviders, err := buildProviders(ctx, cfg, reg, profile)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return exitError
	}
	defer closeProviders()

	printStartupSummary(cfg, sel, profile)

	orchestrator, err := pipeline.New(*providers, *cfg, metrics)
	if err != nil {
		slog.Error("failed to initialise pipeline", "err", err)
		return exitError
	}

	slog.Info("pipeline ready", "embedding_profile", profile)

	summary, err := orchestrator.Run(ctx, sel, filter, profile)
	printSummary(summary)

	if errors.Is(err, context.DeadlineExceeded) {
		slog.Error("run exceeded deadline", "elapsed", summary.Elapsed)
		return exitTimeout
	}
	if errors.Is(err, context.Canceled) {
		slog.Warn("run interrupted")
		return exitInterrupted
	}
	if err != nil {
		slog.Error("run error", "err", err)
		return exitError
	}
	return exitOK
}

// parseSelector maps the CLI's single positional <source-selector> argument
// onto one of listing.Selector's three mutually exclusive modes: a leading
// "@" names a channel handle, a ".json" suffix names a manifest file, and
// anything else is read as a comma-separated explicit id list.
func parseSelector(arg string) (listing.Selector, error) {
	switch {
	case strings.HasPrefix(arg, "@"):
		return listing.Selector{ChannelHandle: strings.TrimPrefix(arg, "@")}, nil
	case strings.HasSuffix(arg, ".json"):
		return listing.Selector{ManifestPath: arg}, nil
	case arg == "":
		return listing.Selector{}, fmt.Errorf("source selector must not be empty")
	default:
		return listing.Selector{ExplicitIDs: strings.Split(arg, ",")}, nil
	}
}

// runListOnly resolves sel/filter against the persistence layer and prints
// the candidate list without touching the Audio Fetcher or any compute
// stage (SUPPLEMENTED FEATURES: dry-run preview).
func runListOnly(cfg *config.Config, sel listing.Selector, filter listing.FilterOptions, profile string) int {
	ctx := context.Background()
	checker, closeStore, err := openDoneChecker(ctx, cfg, profile)
	if err != nil {
		slog.Error("failed to open store for --list-only", "err", err)
		return exitError
	}
	defer closeStore()

	lister := listing.New(listing.NewHTTPChannelEnumerator(), checker)
	candidates, err := lister.List(ctx, sel, filter)
	if err != nil {
		slog.Error("list sources failed", "err", err)
		return exitError
	}

	fmt.Printf("%-24s %-40s %-10s %s\n", "SOURCE_ID", "TITLE", "DURATION", "PUBLISHED")
	for _, c := range candidates {
		title := c.Title
		if len(title) > 40 {
			title = title[:37] + "…"
		}
		published := ""
		if !c.PublishedAt.IsZero() {
			published = c.PublishedAt.Format(time.DateOnly)
		}
		fmt.Printf("%-24s %-40s %-10.0fs %s\n", c.SourceID, title, c.DurationSeconds, published)
	}
	fmt.Printf("\n%d candidate(s)\n", len(candidates))
	return exitOK
}

func openDoneChecker(ctx context.Context, cfg *config.Config, profile string) (*postgres.Store, func(), error) {
	dims := embeddingDimensionsFor(cfg, profile)
	st, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN, dims)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, st.Close, nil
}

func embeddingDimensionsFor(cfg *config.Config, profile string) int {
	if profile == "speed" {
		return cfg.Store.EmbeddingDimensionsSpeed
	}
	return cfg.Store.EmbeddingDimensionsQuality
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders registers the factory functions for every
// provider implementation that ships with castbox.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterASR("whisper", func(e config.ProviderEntry) (asr.Engine, error) {
		opts := []whisper.Option{whisper.WithModel(e.Model)}
		return whisper.New(e.BaseURL, opts...)
	})

	reg.RegisterTextEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterTextEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return ollama.New(e.BaseURL, e.Model)
	})

	reg.RegisterVoiceEmbeddings("pyannote", func(e config.ProviderEntry) (voiceembed.Extractor, error) {
		var opts []pyannotevoice.Option
		if e.Model != "" {
			opts = append(opts, pyannotevoice.WithModel(e.Model))
		}
		return pyannotevoice.New(e.BaseURL, opts...)
	})

	reg.RegisterDiarize("pyannote", func(e config.ProviderEntry) (diarize.Backend, error) {
		return pyannotediarize.New(e.BaseURL)
	})
}

// buildProviders instantiates every provider named in cfg, plus the fixed
// local "speed" text-embedding tier, and assembles them into a
// pipeline.Providers ready for pipeline.New. The returned close function
// releases the persistence writer's connection pool.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry, profile string) (*pipeline.Providers, func(), error) {
	asrEngine, err := reg.CreateASR(cfg.Providers.ASR)
	if err != nil {
		return nil, nil, fmt.Errorf("create asr provider %q: %w", cfg.Providers.ASR.Name, err)
	}
	slog.Info("provider created", "kind", "asr", "name", cfg.Providers.ASR.Name)

	diarizeBackend, err := reg.CreateDiarize(cfg.Providers.Diarize)
	if err != nil {
		return nil, nil, fmt.Errorf("create diarize provider %q: %w", cfg.Providers.Diarize.Name, err)
	}
	slog.Info("provider created", "kind", "diarize", "name", cfg.Providers.Diarize.Name)

	voiceExtractor, err := reg.CreateVoiceEmbeddings(cfg.Providers.VoiceEmbeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("create voice_embeddings provider %q: %w", cfg.Providers.VoiceEmbeddings.Name, err)
	}
	slog.Info("provider created", "kind", "voice_embeddings", "name", cfg.Providers.VoiceEmbeddings.Name)

	qualityProvider, err := reg.CreateTextEmbeddings(cfg.Providers.TextEmbeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("create text_embeddings provider %q: %w", cfg.Providers.TextEmbeddings.Name, err)
	}
	slog.Info("provider created", "kind", "text_embeddings", "name", cfg.Providers.TextEmbeddings.Name, "tier", "quality")

	speedProvider, err := ollama.New(ollama.DefaultBaseURL, "all-minilm", ollama.WithDimensions(cfg.Store.EmbeddingDimensionsSpeed))
	if err != nil {
		return nil, nil, fmt.Errorf("create local speed-tier text embeddings: %w", err)
	}
	slog.Info("provider created", "kind", "text_embeddings", "name", "ollama", "tier", "speed")

	voiceProfiles := voiceprofile.NewMemStore()
	if cfg.VoiceProfiles.Dir != "" {
		loaded, err := voiceprofile.LoadDir(cfg.VoiceProfiles.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("load voice profiles from %q: %w", cfg.VoiceProfiles.Dir, err)
		}
		voiceProfiles = loaded
	}
	slog.Info("voice profiles loaded", "dir", cfg.VoiceProfiles.Dir, "count", len(voiceProfiles.ListNames()))

	tempDir, err := os.MkdirTemp("", "castbox-audio-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp dir for fetched audio: %w", err)
	}
	fetcher, err := fetch.New(
		[]fetch.ClientStrategy{
			ytdlp.New("web"),
			ytdlp.New("mobile"),
			ytdlp.New("default"),
		},
		ffmpeg.New(),
		tempDir,
		fetch.DefaultConfig(),
	)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, nil, fmt.Errorf("create audio fetcher: %w", err)
	}

	dims := embeddingDimensionsFor(cfg, profile)
	writer, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN, dims)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, nil, fmt.Errorf("open persistence writer: %w", err)
	}

	lister := listing.New(listing.NewHTTPChannelEnumerator(), writer)

	providers := &pipeline.Providers{
		Lister:         lister,
		Fetcher:        fetcher,
		ASR:            asrEngine,
		DiarizeBackend: diarizeBackend,
		VoiceExtractor: voiceExtractor,
		VoiceProfiles:  voiceProfiles,
		TextEmbeddings: map[string]embeddings.Provider{
			"quality": qualityProvider,
			"speed":   speedProvider,
		},
		Writer: writer,
	}

	closeFn := func() {
		writer.Close()
		os.RemoveAll(tempDir)
	}
	return providers, closeFn, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, sel listing.Selector, profile string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         castbox — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	printProvider("Diarize", cfg.Providers.Diarize.Name, "")
	printProvider("VoiceEmbeddings", cfg.Providers.VoiceEmbeddings.Name, "")
	printProvider("TextEmbeddings", cfg.Providers.TextEmbeddings.Name, cfg.Providers.TextEmbeddings.Model)
	fmt.Printf("║  Embedding profile : %-17s ║\n", profile)
	fmt.Printf("║  Selector          : %-17s ║\n", selectorSummary(sel))
	if cfg.Server.MetricsAddr != "" {
		fmt.Printf("║  Metrics addr      : %-17s ║\n", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(label, name, model string) {
	value := name
	if model != "" {
		value = name + "/" + model
	}
	fmt.Printf("║  %-18s: %-17s ║\n", label, value)
}

func selectorSummary(sel listing.Selector) string {
	switch {
	case sel.ChannelHandle != "":
		return "@" + sel.ChannelHandle
	case sel.ManifestPath != "":
		return sel.ManifestPath
	default:
		return strings.Join(sel.ExplicitIDs, ",")
	}
}

// ── Summary report ─────────────────────────────────────────────────────────────

func printSummary(s pipeline.Summary) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           ingest — run summary         ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Completed        : %-18d ║\n", s.Completed)
	fmt.Printf("║  Errored          : %-18d ║\n", s.Errored)
	fmt.Printf("║  Skipped          : %-18d ║\n", s.Skipped)
	fmt.Printf("║  Segments written : %-18d ║\n", s.SegmentsWritten)
	fmt.Printf("║  Embeddings       : %-18d ║\n", s.EmbeddingsWritten)
	fmt.Printf("║  Elapsed          : %-18s ║\n", s.Elapsed.Round(time.Second))
	fmt.Println("╚═══════════════════════════════════════╝")

	slog.Info("run complete",
		"completed", s.Completed,
		"errored", s.Errored,
		"skipped", s.Skipped,
		"segments_written", s.SegmentsWritten,
		"embeddings_written", s.EmbeddingsWritten,
		"elapsed", s.Elapsed,
	)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
