package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
)

// ErrDirtySchema reports a schema left half-applied by an earlier failed migration.
// It has to be repaired by hand with `migrate force`.
var ErrDirtySchema = errors.New("database schema is dirty")

// Migrate applies every pending up migration found at the root of fsys.
func Migrate(pool *Pool, fsys fs.FS, logger *slog.Logger) error {
	source, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool.Pool)
	defer sqlDB.Close()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			logger.Error("database migration is dirty", "version", dirtyErr.Version)
			return fmt.Errorf("%w: version %d", ErrDirtySchema, dirtyErr.Version)
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		logger.Error("database migration is dirty", "version", version)
		return fmt.Errorf("%w: version %d", ErrDirtySchema, version)
	}
	logger.Info("database migrated", "version", version)
	return nil
}
