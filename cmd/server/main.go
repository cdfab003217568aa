// CareHub platform API server
package main

import (
	"context"
	"os"

	"github.com/carehub/platform/internal/config"
	"github.com/carehub/platform/internal/logging"
	"github.com/carehub/platform/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting carehub",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"billing", cfg.BillingConfigured(),
		"object_storage", cfg.StorageConfigured(),
		"reconcile_interval", cfg.ReconcileInterval.String(),
	)

	server.Version = Version
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
