// Package main is the entry point for the reelrate database migration tool.
// PostgreSQL schemas are managed with golang-migrate; SQLite databases use
// the embedded migrations applied by "up".
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/reelrate/reelrate/internal/config"
	"github.com/reelrate/reelrate/internal/logging"
	"github.com/reelrate/reelrate/internal/repository/postgres"
	"github.com/reelrate/reelrate/internal/repository/sqlite"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var errUnsupportedForSQLite = errors.New("command is only supported for the postgres driver")

type options struct {
	configPath  string
	databaseURL string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "reelrate-migrate: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "reelrate-migrate",
		Short:         "Manage the reelrate database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"),
		"PostgreSQL connection string (overrides database.url and selects the postgres driver)")

	root.AddCommand(
		newUpCmd(opts),
		newDownCmd(opts),
		newStatusCmd(opts),
		newForceCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load resolves the database configuration and logger for a command.
func (o *options) load() (config.DatabaseConfig, zerolog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.DatabaseConfig{}, zerolog.Nop(), err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return config.DatabaseConfig{}, zerolog.Nop(), err
	}

	db := cfg.Database
	if o.databaseURL != "" {
		db.Driver = "postgres"
		db.URL = o.databaseURL
	}
	return db, logger, nil
}

// withMigrator runs fn against a postgres migrator and closes it afterwards.
func withMigrator(url string, fn func(m *postgres.Migrator) error) (err error) {
	m, err := postgres.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}

func newUpCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, logger, err := opts.load()
			if err != nil {
				return err
			}

			if db.IsEmbedded() {
				ctx := cmd.Context()
				sqlDB, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(db.Path), logger)
				if err != nil {
					return err
				}
				defer sqlDB.Close()
				if err := sqlDB.Migrate(ctx); err != nil {
					return err
				}
				return printSQLiteVersion(ctx, cmd, sqlDB)
			}

			return withMigrator(db.URL, func(m *postgres.Migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}
}

func newDownCmd(opts *options) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "down [N]",
		Short: "Roll back the last N migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("N must be a positive integer, got %q", args[0])
				}
				steps = n
			}

			db, _, err := opts.load()
			if err != nil {
				return err
			}
			if db.IsEmbedded() {
				return errUnsupportedForSQLite
			}

			return withMigrator(db.URL, func(m *postgres.Migrator) error {
				if all {
					err = m.Down()
				} else {
					err = m.Steps(-steps)
				}
				if err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, logger, err := opts.load()
			if err != nil {
				return err
			}

			if db.IsEmbedded() {
				ctx := cmd.Context()
				sqlDB, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(db.Path), logger)
				if err != nil {
					return err
				}
				defer sqlDB.Close()
				return printSQLiteVersion(ctx, cmd, sqlDB)
			}

			return withMigrator(db.URL, func(m *postgres.Migrator) error {
				return printVersion(cmd, m)
			})
		},
	}
}

func newForceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations (clears the dirty flag)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("VERSION must be an integer, got %q", args[0])
			}

			db, _, err := opts.load()
			if err != nil {
				return err
			}
			if db.IsEmbedded() {
				return errUnsupportedForSQLite
			}

			return withMigrator(db.URL, func(m *postgres.Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reelrate migration tool\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n",
				Version, BuildTime, GitCommit)
		},
	}
}

func printVersion(cmd *cobra.Command, m *postgres.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d (dirty: %t)\n", version, dirty)
	return nil
}

func printSQLiteVersion(ctx context.Context, cmd *cobra.Command, db *sqlite.DB) error {
	version, err := db.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", version)
	return nil
}
