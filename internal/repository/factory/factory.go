// Package factory creates repositories based on configuration.
package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/reelrate/reelrate/internal/config"
	"github.com/reelrate/reelrate/internal/repository"
	"github.com/reelrate/reelrate/internal/repository/postgres"
	"github.com/reelrate/reelrate/internal/repository/sqlite"
)

// Repositories holds all repository instances.
type Repositories struct {
	Users  repository.UserRepository
	Movies repository.MovieRepository
}

// Result contains the created repositories and database connection.
type Result struct {
	Repos    *Repositories
	Database repository.DatabaseHealth
}

// Open connects to the configured database, applies migrations when
// cfg.AutoMigrate is set and returns the repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Result, error) {
	logger = logger.With().Str("component", "database").Str("driver", cfg.Driver).Logger()

	switch cfg.Driver {
	case "sqlite":
		return openSQLite(ctx, cfg, logger)
	case "postgres":
		return openPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Result, error) {
	sqlCfg := sqlite.DefaultConfig(cfg.Path)
	if cfg.MaxOpenConns > 0 {
		sqlCfg.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		sqlCfg.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlCfg.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	if cfg.JournalMode != "" {
		sqlCfg.JournalMode = cfg.JournalMode
	}
	if cfg.BusyTimeout > 0 {
		sqlCfg.BusyTimeout = cfg.BusyTimeout
	}
	if cfg.CacheSize != 0 {
		sqlCfg.CacheSize = cfg.CacheSize
	}
	if cfg.SynchronousMode != "" {
		sqlCfg.SynchronousMode = cfg.SynchronousMode
	}

	db, err := sqlite.NewDB(ctx, sqlCfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate SQLite database: %w", err)
		}
	}

	return &Result{
		Repos: &Repositories{
			Users:  sqlite.NewUserRepository(db),
			Movies: sqlite.NewMovieRepository(db),
		},
		Database: db,
	}, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Result, error) {
	if cfg.AutoMigrate {
		if err := migratePostgres(cfg.URL, logger); err != nil {
			return nil, err
		}
	}

	db, err := postgres.NewDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Result{
		Repos: &Repositories{
			Users:  postgres.NewUserRepository(db),
			Movies: postgres.NewMovieRepository(db),
		},
		Database: db,
	}, nil
}

func migratePostgres(url string, logger zerolog.Logger) (err error) {
	migrator, err := postgres.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err := migrator.Up(); err != nil {
		return err
	}
	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("database migrations applied")
	return nil
}
