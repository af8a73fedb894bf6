package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/andr-235/fullstack-parser-sub002/internal/platform/postgres"
	"github.com/urfave/cli/v3"
)

var errNoDatabase = errors.New("database.url is not configured")

func migrateCommand() *cli.Command {
	sub := func(name, usage string) *cli.Command {
		return &cli.Command{
			Name:  name,
			Usage: usage,
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return runMigrations(ctx, cmd, name)
			},
		}
	}
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the Postgres schema",
		Commands: []*cli.Command{
			sub(postgres.MigrateUp, "Apply all pending migrations"),
			sub(postgres.MigrateDown, "Roll back the latest migration"),
			sub(postgres.MigrateStatus, "Print the state of every migration"),
			sub(postgres.MigrateReset, "Roll back all migrations"),
		},
	}
}

func runMigrations(ctx context.Context, cmd *cli.Command, command string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("cannot run migrations: %w", errNoDatabase)
	}

	db, err := setupAppDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database connection", "error", err)
		}
	}()

	return postgres.Migrate(ctx, db, command, log)
}
