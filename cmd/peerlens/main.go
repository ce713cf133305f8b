package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/peerlens/peerlens/internal/config"
	"github.com/peerlens/peerlens/internal/detect"
	"github.com/peerlens/peerlens/internal/detect/cv"
	"github.com/peerlens/peerlens/internal/history"
	"github.com/peerlens/peerlens/internal/httpserver"
	"github.com/peerlens/peerlens/internal/metrics"
	"github.com/peerlens/peerlens/internal/session"
	"github.com/peerlens/peerlens/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// Local development keeps its environment in a .env file; a missing file
	// is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting peerlens",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_frame_bytes", cfg.MaxFrameBytes,
		"server_inference", cfg.ServerInference,
		"model_dir", cfg.ModelDir,
		"default_model", cfg.DefaultModel,
		"history_enabled", cfg.HistoryPath != "",
	)

	registry := detect.BuiltinRegistry()
	if cfg.ModelManifest != "" {
		if err := registry.ApplyManifest(cfg.ModelManifest); err != nil {
			logger.Error("failed to load model manifest", "err", err)
			os.Exit(2)
		}
	}

	m := metrics.New()
	engine := detect.NewEngine(registry, cv.Backends(), detect.Options{
		ModelDir:      cfg.ModelDir,
		DefaultModel:  cfg.DefaultModel,
		Threshold:     cfg.ConfidenceThreshold,
		MaxDetections: cfg.MaxDetections,
	}, logger, m)
	defer engine.Close()

	var store *history.Store
	if cfg.HistoryPath != "" {
		store, err = history.Open(cfg.HistoryPath, logger)
		if err != nil {
			logger.Error("failed to open detection history", "err", err)
			os.Exit(2)
		}
		defer store.Close()
	}

	logStartupWarnings(logger, cfg, registry)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	sig := signaling.NewServer(cfg, session.NewRegistry(), engine, store, m, logger)
	sig.RegisterRoutes(srv.Mux())

	detect.NewAPI(engine, logger, cfg.Mode == config.ModeProd).RegisterRoutes(srv.Mux())
	if store != nil {
		history.NewAPI(store, logger).RegisterRoutes(srv.Mux())
	}

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
