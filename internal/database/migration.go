// internal/database/migration.go
package database

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"adc-service/internal/config"
)

// Migrator handles database migrations
type Migrator struct {
	db     *DB
	logger *zap.Logger
	config *config.DatabaseConfig
}

// NewMigrator creates a new migrator instance
func NewMigrator(db *DB, logger *zap.Logger, config *config.DatabaseConfig) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger,
		config: config,
	}
}

// Up runs all up migrations
func (m *Migrator) Up() error {
	migrator, err := m.createMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	m.logger.Info("Database migrations completed successfully")
	return nil
}

// Down runs all down migrations
func (m *Migrator) Down() error {
	migrator, err := m.createMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	m.logger.Info("Database migrations rolled back successfully")
	return nil
}

// Version returns the current migration version
func (m *Migrator) Version() (uint, bool, error) {
	migrator, err := m.createMigrator()
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}

	return version, dirty, nil
}

// Force forces a specific migration version
func (m *Migrator) Force(version int) error {
	migrator, err := m.createMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}

	m.logger.Info("Migration version forced", zap.Int("version", version))
	return nil
}

// createMigrator creates a migrate instance
func (m *Migrator) createMigrator() (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(m.db.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceURL, err := sourceURL(m.config.MigrationsPath)
	if err != nil {
		return nil, err
	}

	migrator, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return migrator, nil
}

// sourceURL turns a configured migrations location into a file:// URL with
// an absolute path. Other schemes pass through unchanged.
func sourceURL(path string) (string, error) {
	if path == "" {
		path = "migrations"
	}
	if strings.Contains(path, "://") && !strings.HasPrefix(path, "file://") {
		return path, nil
	}

	abs, err := filepath.Abs(strings.TrimPrefix(path, "file://"))
	if err != nil {
		return "", fmt.Errorf("failed to get migrations path: %w", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// RunCleanup removes acquisition and operation records older than retention
func (m *Migrator) RunCleanup(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	var removed int64
	if err := m.db.QueryRow("SELECT cleanup_old_records($1)", cutoff).Scan(&removed); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	m.logger.Info("Database cleanup completed", zap.Time("cutoff", cutoff), zap.Int64("rows", removed))
	return nil
}
