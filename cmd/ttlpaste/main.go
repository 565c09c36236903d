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
	"strings"
	"syscall"

	"github.com/go-chi/httplog/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"ttlpaste/internal/clock"
	"ttlpaste/internal/config"
	"ttlpaste/internal/httpserver"
	"ttlpaste/internal/metrics"
	"ttlpaste/internal/paste"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	addr := flag.String("addr", "", "listen address")
	dataPath := flag.String("data", "", "path to data file for bolt and sqlite")
	baseURL := flag.String("base-url", "", "canonical base URL (optional)")
	maxBytes := flag.Int("max-bytes", 0, "maximum paste size in bytes")
	behindProxy := flag.Bool("behind-proxy", false, "trust proxy headers for client IP and scheme")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.HTTPServer.Addr = *addr
		case "data":
			cfg.Storage.Path = *dataPath
		case "base-url":
			cfg.BaseURL = *baseURL
		case "max-bytes":
			cfg.MaxBytes = *maxBytes
		case "behind-proxy":
			cfg.BehindProxy = *behindProxy
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger := httplog.NewLogger("ttlpaste", httplog.Options{
		LogLevel: parseLevel(cfg.Log.Level),
		JSON:     strings.EqualFold(cfg.Log.Format, "json"),
		Concise:  true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *httplog.Logger) error {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	svc, err := paste.New(paste.Config{
		Store:    store,
		IDs:      newIDGenerator(cfg.ID),
		Clock:    clock.System{},
		Logger:   logger.Logger,
		MaxBytes: cfg.MaxBytes,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	srv, err := httpserver.New(httpserver.Config{
		Service:      svc,
		Logger:       logger.Logger,
		AccessLogger: logger,
		BaseURL:      cfg.BaseURL,
		TrustProxy:   cfg.BehindProxy,
		TestMode:     cfg.TestMode,
		CORSOrigins:  cfg.CORSOrigins,
		Metrics:      m,
		Gatherer:     reg,
	})
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}
	if cfg.TestMode {
		logger.Warn("test mode enabled, honouring X-Test-Now-Ms")
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPServer.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.HTTPServer.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTPServer.ReadTimeout,
		WriteTimeout:      cfg.HTTPServer.WriteTimeout,
		IdleTimeout:       cfg.HTTPServer.IdleTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.HTTPServer.Addr, "storage", cfg.Storage.Driver)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return paste.RunJanitor(ctx, svc, cfg.JanitorInterval, logger.Logger)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
