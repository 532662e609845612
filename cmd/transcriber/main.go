package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/samber/do/v2"

	artifactimpl "github.com/calldeck/callscribe/external/artifact"
	"github.com/calldeck/callscribe/external/awsclient"
	configloader "github.com/calldeck/callscribe/external/config"
	filterimpl "github.com/calldeck/callscribe/external/filter"
	mediastreamimpl "github.com/calldeck/callscribe/external/mediastream"
	recorderimpl "github.com/calldeck/callscribe/external/recorder"
	"github.com/calldeck/callscribe/external/server"
	transcribeimpl "github.com/calldeck/callscribe/external/transcribe"
	"github.com/calldeck/callscribe/internal/config"
	"github.com/calldeck/callscribe/internal/worker"
)

const sentryFlushTimeout = 2 * time.Second

func main() {
	_ = godotenv.Load()

	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded",
		"env", cfg.Env, "provider", cfg.TranscribeProvider, "event_store", cfg.EventStore)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Env}); err != nil {
			slog.Error("sentry init failed", "error", err)
			os.Exit(1)
		}
		defer sentry.Flush(sentryFlushTimeout)
	}

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	runServer(injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	awsclient.RegisterDI(injector)
	mediastreamimpl.RegisterDI(injector)
	transcribeimpl.RegisterDI(injector)
	recorderimpl.RegisterDI(injector)
	artifactimpl.RegisterDI(injector)
	filterimpl.RegisterDI(injector)
	worker.RegisterDI(injector)
	server.RegisterDI(injector)

	return injector
}

func runServer(injector do.Injector) {
	srv, err := do.Invoke[*server.Server](injector)
	if err != nil {
		slog.Error("failed to resolve trigger server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("trigger server failed", "error", err)
		sentry.CaptureException(err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
