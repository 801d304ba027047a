// Command vibecast is the main entry point for the Vibecast live music
// stream server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vibecast/internal/config"
	"github.com/MrWong99/vibecast/internal/favorites"
	"github.com/MrWong99/vibecast/internal/health"
	"github.com/MrWong99/vibecast/internal/observe"
	"github.com/MrWong99/vibecast/internal/stream"
	"github.com/MrWong99/vibecast/internal/vibe"
	"github.com/MrWong99/vibecast/pkg/audio"
	"github.com/MrWong99/vibecast/pkg/audio/pipe"
	"github.com/MrWong99/vibecast/pkg/musicgen"
	"github.com/MrWong99/vibecast/pkg/musicgen/lyria"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vibecast: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vibecast: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("vibecast starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"model", cfg.Provider.Model,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "vibecast"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Audio output ──────────────────────────────────────────────────────────
	sink, err := audioSink(cfg.Output.Sink)
	if err != nil {
		slog.Error("failed to open audio sink", "err", err)
		return 1
	}
	format := audio.Format{SampleRate: cfg.Output.SampleRate, Channels: cfg.Output.Channels}
	if format.SampleRate == 0 {
		format.SampleRate = 48000
	}
	if format.Channels == 0 {
		format.Channels = 2
	}
	out := pipe.New(sink, format)

	// ── Music generation provider ─────────────────────────────────────────────
	var provOpts []lyria.Option
	if cfg.Provider.Model != "" {
		provOpts = append(provOpts, lyria.WithModel(cfg.Provider.Model))
	}
	if cfg.Provider.BaseURL != "" {
		provOpts = append(provOpts, lyria.WithBaseURL(cfg.Provider.BaseURL))
	}
	provider := lyria.New(cfg.Provider.APIKey, provOpts...)

	// ── Stream controller ─────────────────────────────────────────────────────
	// A fatal stream error (retry budget exhausted) takes the whole server
	// down so an external supervisor can restart it with a clean slate.
	ctrl := stream.New(provider, out, streamConfig(cfg),
		stream.WithMetrics(metrics),
		stream.WithEvents(func(ev stream.Event) {
			logEvent(ev)
			if _, fatal := ev.(stream.FatalError); fatal {
				stop()
			}
		}),
	)

	// ── Favorites store (optional) ────────────────────────────────────────────
	var store *favorites.Store
	if cfg.Favorites.Path != "" {
		store, err = favorites.Open(cfg.Favorites.Path)
		if err != nil {
			slog.Error("failed to open favorites store", "err", err)
			return 1
		}
		defer store.Close()
		slog.Info("favorites store opened", "path", store.Path())
	}

	// ── Vibe classifier loop (optional) ───────────────────────────────────────
	var loop *vibe.Loop
	if cfg.Classifier.APIKey != "" {
		var clsOpts []vibe.ClassifierOption
		if cfg.Classifier.BaseURL != "" {
			clsOpts = append(clsOpts, vibe.WithBaseURL(cfg.Classifier.BaseURL))
		}
		cls, err := vibe.NewOpenAIClassifier(cfg.Classifier.APIKey, cfg.Classifier.Model, clsOpts...)
		if err != nil {
			slog.Error("failed to create vibe classifier", "err", err)
			return 1
		}
		src := fileFrameSource(cfg.Classifier.FramePath)
		guarded := vibe.NewGuard(cls, vibe.GuardConfig{})
		loop = vibe.NewLoop(src, guarded, ctrl, cfg.Classifier.Interval.Std())
		slog.Info("vibe classifier enabled",
			"model", cfg.Classifier.Model,
			"frame_path", cfg.Classifier.FramePath,
			"interval", cfg.Classifier.Interval.Std(),
		)
	}

	// ── HTTP: health + metrics ────────────────────────────────────────────────
	checkers := []health.Checker{
		{Name: "stream", Check: func(context.Context) error {
			if ctrl.State() == musicgen.Stopped {
				return errors.New("stream stopped")
			}
			return nil
		}},
	}
	if store != nil {
		checkers = append(checkers, health.Checker{
			Name:  "favorites",
			Check: func(context.Context) error { return store.Ping() },
		})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ── Start streaming ───────────────────────────────────────────────────────
	if err := ctrl.Play(ctx); err != nil {
		slog.Error("failed to start stream", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if loop != nil {
		g.Go(func() error {
			if err := loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("vibe loop: %w", err)
			}
			return nil
		})
	}

	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	if err := ctrl.Stop(); err != nil {
		slog.Warn("stream stop error", "err", err)
	}
	// Let the stop fade play out before the output is torn down.
	time.Sleep(streamConfig(cfg).GainRamp + 100*time.Millisecond)
	if err := out.Close(); err != nil {
		slog.Warn("output close error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Wiring helpers ────────────────────────────────────────────────────────────

// streamConfig maps the YAML stream tuning block onto the controller config.
// Zero values fall back to the controller defaults.
func streamConfig(cfg *config.Config) stream.Config {
	return stream.Config{
		MaxRetries:        cfg.Stream.MaxRetries,
		RetryBackoff:      cfg.Stream.RetryBackoff.Std(),
		MaxBackoff:        cfg.Stream.MaxBackoff.Std(),
		ConnectWatchdog:   cfg.Stream.ConnectWatchdog.Std(),
		GainRamp:          cfg.Stream.GainRamp.Std(),
		ThrottleWindow:    cfg.Stream.ThrottleWindow.Std(),
		DriftSlack:        cfg.Stream.DriftSlack.Std(),
		CrossfadeDuration: cfg.Stream.CrossfadeDuration.Std(),
		CrossfadeTick:     cfg.Stream.CrossfadeTick.Std(),
		Session: musicgen.SessionConfig{
			BPM:         cfg.Provider.BPM,
			Temperature: cfg.Provider.Temperature,
			Guidance:    cfg.Provider.Guidance,
		},
	}
}

// audioSink opens the configured sink writer.
func audioSink(s config.Sink) (io.Writer, error) {
	switch s {
	case config.SinkDiscard:
		return io.Discard, nil
	case config.SinkStdout, "":
		return os.Stdout, nil
	default:
		return nil, fmt.Errorf("unknown sink %q", s)
	}
}

// fileFrameSource reads the frame image from path on every tick.
func fileFrameSource(path string) vibe.FrameSource {
	return func(_ context.Context) ([]byte, error) {
		return os.ReadFile(path)
	}
}

// logEvent surfaces controller events in the server log.
func logEvent(ev stream.Event) {
	switch e := ev.(type) {
	case stream.StateChanged:
		slog.Info("playback state changed", "state", e.State)
	case stream.PromptFiltered:
		slog.Warn("prompt filtered by provider", "text", e.Text, "reason", e.Reason)
	case stream.PromptsFresh:
		slog.Debug("stream caught up with prompt changes")
	case stream.Notice:
		slog.Info(e.Message)
	case stream.FatalError:
		slog.Error("stream failed permanently", "err", e.Err)
	}
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
