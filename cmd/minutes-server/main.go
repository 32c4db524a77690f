// Command minutes-server is the reference transcription server. It exposes a
// speech recognizer over the HTTP and WebSocket protocol spoken by the
// minutes client.
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

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/minutes/internal/app"
	"github.com/MrWong99/minutes/internal/config"
	"github.com/MrWong99/minutes/internal/health"
	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/internal/server"
	"github.com/MrWong99/minutes/internal/vocab"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "minutes.yaml", "path to the YAML configuration file")
	listen := flag.String("listen", "", "listen address, overrides server.listen_addr")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "minutes-server: config file %q not found, using defaults\n", *configPath)
		cfg, err = config.LoadFromReader(strings.NewReader(""))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "minutes-server: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(config.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "minutes-server"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Recognizer ────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	providers, err := app.BuildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.Recognizer == nil {
		slog.Error("providers.recognizer must name a registered recognizer", "available", reg.Names("recognizer"))
		return 1
	}
	info := providers.Recognizer.Info()

	terms, err := vocab.Build(cfg.Vocabulary.Files, cfg.Vocabulary.Terms)
	if err != nil {
		slog.Error("failed to load vocabulary", "err", err)
		return 1
	}

	opts := []server.Option{
		server.WithDecoder(server.FFmpegDecoder{Command: cfg.Server.FFmpegPath}),
		server.WithMetrics(metrics),
		server.WithVocabulary(terms),
	}
	for name, check := range providers.Checks {
		opts = append(opts, server.WithReadiness(health.Checker{Name: name, Check: check}))
	}
	if cfg.Server.MetricsEnabled {
		opts = append(opts, server.WithMetricsEndpoint())
	}
	srv := server.New(providers.Recognizer, server.Config{
		BatchSize:        cfg.Server.BatchSize,
		Workers:          cfg.Server.Workers,
		DefaultLanguage:  cfg.Server.DefaultLanguage,
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
		SilenceThreshold: cfg.Server.SilenceThreshold,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
	}, opts...)

	// ── Config hot reload ─────────────────────────────────────────────────────
	if _, statErr := os.Stat(*configPath); statErr == nil {
		w, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
			applyReload(&level, terms, old, next)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("minutes-server starting",
		"listen_addr", cfg.Server.ListenAddr,
		"recognizer", info.Name,
		"model", info.Model,
		"device", info.Device,
		"workers", cfg.Server.Workers,
		"batch_size", cfg.Server.BatchSize,
		"vocabulary_terms", terms.Len(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyReload applies the server settings that can change at runtime.
func applyReload(level *slog.LevelVar, terms *vocab.Store, old, next *config.Config) {
	d := config.Diff(old, next)
	if d.LogLevelChanged {
		level.Set(config.SlogLevel(d.NewLogLevel))
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.VocabularyChanged {
		fresh, err := vocab.Build(next.Vocabulary.Files, next.Vocabulary.Terms)
		if err != nil {
			slog.Error("config reload: vocabulary not reloaded", "err", err)
			return
		}
		terms.Replace(fresh.Terms()...)
		slog.Info("config reload: vocabulary reloaded", "terms", terms.Len())
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes need a restart", "sections", d.RestartRequired)
	}
}
