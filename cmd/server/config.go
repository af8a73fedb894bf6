package main

import (
	"fmt"
	"log/slog"

	"github.com/andr-235/fullstack-parser-sub002/internal/config"
	"github.com/andr-235/fullstack-parser-sub002/internal/platform/logger"
	"github.com/urfave/cli/v3"
)

// loadConfig reads configuration named by the --config flag and installs the
// application logger.
func loadConfig(cmd *cli.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"task_store", cfg.TaskStore.Backend,
		"repository", cfg.Repository.Backend)
	if cfg.Database.URL != "" {
		log.Debug("database configuration", "url_present", true)
	}
	if cfg.API.AccessToken == "" {
		log.Warn("api access token is empty, lookups will be rejected upstream")
	}
	return cfg, log, nil
}
