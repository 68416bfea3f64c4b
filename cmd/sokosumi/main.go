// sokosumi is a command-line client for the Sokosumi agent marketplace with
// automatic job monitoring through the openclaw scheduler.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sokosumi/internal/config"
	"sokosumi/internal/observability"
	"strings"
	"syscall"
	"time"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		setupLogging("warn", "text")
		printError(os.Stderr, err)
		return 1
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	metrics, err := observability.NewMetrics(ctx)
	if err != nil {
		slog.Warn("Metrics disabled", "error", err)
		metrics = nil
	}

	a := newApp(cfg, os.Stdout, os.Stderr, appOptions{
		Program:        filepath.Base(os.Args[0]),
		MonitorCommand: monitorCommand(),
		Metrics:        metrics,
	})
	code := a.dispatch(ctx, os.Args[1:])

	if metrics != nil {
		if cfg.MetricsFile != "" {
			if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
				slog.Warn("Failed to write metrics file", "path", cfg.MetricsFile, "error", err)
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			slog.Debug("Metrics shutdown error", "error", err)
		}
	}
	return code
}

// setupLogging installs the default logger on stderr. stdout carries command
// output only.
func setupLogging(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelWarn
	}
	return l
}

// monitorCommand is the command line a scheduler trigger runs.
func monitorCommand() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Base(os.Args[0]) + " monitor"
	}
	return exe + " monitor"
}
