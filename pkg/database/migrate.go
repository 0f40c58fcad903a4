package database

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate brings the schema up to date from the first migrations directory
// found among configured, ./migrations and ../migrations.
func Migrate(logger *slog.Logger, databaseURL, configured string) error {
	dir, err := findMigrations(configured)
	if err != nil {
		return err
	}

	m, err := migrate.New("file://"+filepath.ToSlash(dir), databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open migrations in %s: %w", dir, err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("Failed to close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	before, _, _ := m.Version()

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("Schema is up to date", "version", before, "path", dir)
		return nil
	case err != nil:
		return fmt.Errorf("failed to apply migrations from %s: %w", dir, err)
	}

	after, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", after)
	}

	logger.Info("Schema migrated", "from", before, "to", after, "path", dir)
	return nil
}

func findMigrations(configured string) (string, error) {
	candidates := make([]string, 0, 3)
	if configured != "" {
		candidates = append(candidates, configured)
	}
	if workDir, err := os.Getwd(); err == nil {
		candidates = append(candidates,
			filepath.Join(workDir, "migrations"),
			filepath.Join(workDir, "..", "migrations"))
	}

	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil || !info.IsDir() {
			continue
		}
		return filepath.Abs(c)
	}

	return "", fmt.Errorf("no migrations directory found (tried %v)", candidates)
}
