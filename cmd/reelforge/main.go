package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jo-hoe/reelforge/internal/app"
	appcfg "github.com/jo-hoe/reelforge/internal/config"
	"github.com/jo-hoe/reelforge/internal/dispatch"
	"github.com/jo-hoe/reelforge/internal/observability"
	"github.com/jo-hoe/reelforge/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default $REELFORGE_CONFIG or ./config.yaml)")
	flag.Parse()

	// Secrets usually come from a local .env during development.
	_ = godotenv.Load()

	cfg, err := appcfg.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.InitTracing(cfg.Tracing, os.Stdout)
	if err != nil {
		logger.Error("init tracing", "err", err)
		os.Exit(1)
	}

	a, err := app.New(rootCtx, logger, cfg)
	if err != nil {
		logger.Error("init services", "err", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	// In-process trigger; leave pollInterval at 0 when an external cron calls /v1/dispatch.
	var ticker *dispatch.Ticker
	if cfg.Worker.PollInterval > 0 {
		ticker = dispatch.NewTicker(logger, cfg.Worker.PollInterval)
		if err := ticker.Start(rootCtx, a.Dispatcher); err != nil {
			logger.Error("start ticker", "err", err)
			os.Exit(1)
		}
		logger.Info("dispatch ticker started", "interval", cfg.Worker.PollInterval)
	}

	httpSrv := server.NewHTTPServer(&server.Service{
		Log:        logger,
		Cfg:        cfg,
		Store:      a.Store,
		Batches:    a.Batches,
		Dispatcher: a.Dispatcher,
		Approvals:  a.Approvals,
		Publisher:  a.Publisher,
		Files:      a.Files,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	if ticker != nil {
		ticker.Shutdown(cfg.Server.ShutdownGrace)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", "err", err)
	}
	logger.Info("server stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
