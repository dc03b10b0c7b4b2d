package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/outreach-queue/internal/storage/sqlite"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.PersistentFlags().StringVar(&source, "source", "file://migrations", "migrations source url")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigration(cmd, source, func(m *migrate.Migrate) error { return m.Up() })
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigration(cmd, source, func(m *migrate.Migrate) error {
				if steps > 0 {
					return m.Steps(-steps)
				}
				return m.Down()
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back, 0 for all")
	cmd.AddCommand(down)

	return cmd
}

func runMigration(cmd *cobra.Command, source string, apply func(*migrate.Migrate) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Database.Driver == "sqlite" {
		if cmd.Name() != "up" {
			return errors.New("sqlite schema is created on open and cannot be rolled back")
		}
		db, err := sqlite.Open(cmd.Context(), cfg.Database.Path)
		if err != nil {
			return err
		}
		slog.Info("sqlite schema ensured", "path", cfg.Database.Path)
		return db.Close()
	}

	m, err := migrate.New(source, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			slog.Warn("close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	if err := apply(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	slog.Info("migrations applied", "command", cmd.Name(), "version", version, "dirty", dirty)
	return nil
}
