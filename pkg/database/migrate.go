// This file handles automatic database schema migration on startup
// using golang-migrate with PostgreSQL advisory locks for safe concurrent execution.
package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/YangSeungWon/photo-timeline/pkg/logger"
)

// RunMigrations applies all pending database migrations from the given directory.
// golang-migrate takes a PostgreSQL advisory lock internally, so it is safe
// to run from multiple worker instances starting at once. If the schema is
// already up to date this is a no-op.
func RunMigrations(log *logger.Logger, databaseURL, migrationsPath string) error {
	sourceURL := "file://" + migrationsPath

	m, err := migrate.New(sourceURL, convertToPgxURL(databaseURL))
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("database schema is up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	log.WithFields(map[string]interface{}{
		"version": version,
		"dirty":   dirty,
	}).Info("database migrations applied")
	return nil
}

// convertToPgxURL converts a postgres:// URL to the pgx5:// scheme
// required by golang-migrate's pgx v5 driver.
func convertToPgxURL(dbURL string) string {
	if rest, ok := strings.CutPrefix(dbURL, "postgres://"); ok {
		return "pgx5://" + rest
	}
	if rest, ok := strings.CutPrefix(dbURL, "postgresql://"); ok {
		return "pgx5://" + rest
	}
	return dbURL
}
