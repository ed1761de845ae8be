// Package main provides the local dashboard server for ARITANA.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/aritana/internal/app"
	"github.com/raphaelgruber/aritana/internal/config"
	"github.com/raphaelgruber/aritana/internal/dashboard"
)

func main() {
	// Parse flags
	resume := flag.Bool("resume", true, "monitor the server's unfinished jobs on startup")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Initialize logging
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel, slog.LevelDebug)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("starting aritana-dashboard", "port", cfg.DashboardPort, "api_url", cfg.APIURL)

	a, err := app.New(cfg, logger)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pick up jobs started before this process, as the history page does on load.
	if *resume {
		resumeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if _, err := a.ResumeJobs(resumeCtx, nil); err != nil {
			slog.Warn("could not resume jobs", "error", err)
		}
		cancel()
	}

	srv := dashboard.New(a,
		dashboard.WithLogger(logger.With("component", "dashboard")),
		dashboard.WithAllowedOrigins(cfg.DashboardOrigins),
		dashboard.WithUploadLimit(cfg.UploadRateLimit),
	)

	slog.Info("dashboard available", "url", "http://localhost:"+cfg.DashboardPort+"/api/summary")
	slog.Info("job event stream available", "url", "ws://localhost:"+cfg.DashboardPort+"/ws")

	if err := srv.ListenAndServe(ctx, ":"+cfg.DashboardPort); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
