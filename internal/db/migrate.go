package db

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/memohai/socialdesk/internal/db/migrations"
)

// NewMigrator builds a golang-migrate instance over the embedded migrations
// for a postgres:// connection string.
func NewMigrator(dsn string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	// The pgx/v5 driver registers itself under the "pgx5" scheme.
	m, err := migrate.NewWithSourceInstance("iofs", source, "pgx5"+strings.TrimPrefix(dsn, "postgres"))
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return m, nil
}

// MigrateUp applies all pending migrations. An up-to-date schema is not an error.
func MigrateUp(log *slog.Logger, dsn string) error {
	m, err := NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer closeMigrator(log, m)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, verr := m.Version()
	if verr == nil && log != nil {
		log.Info("database schema ready", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	}
	return nil
}

// MigrateDown rolls back the given number of steps.
func MigrateDown(log *slog.Logger, dsn string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive")
	}
	m, err := NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer closeMigrator(log, m)
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func SchemaVersion(dsn string) (uint, bool, error) {
	m, err := NewMigrator(dsn)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(nil, m)
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func closeMigrator(log *slog.Logger, m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if log == nil {
		return
	}
	if srcErr != nil {
		log.Warn("close migration source failed", slog.Any("error", srcErr))
	}
	if dbErr != nil {
		log.Warn("close migration database failed", slog.Any("error", dbErr))
	}
}
