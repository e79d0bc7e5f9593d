package database

import "errors"

var (
	// ErrNoPath is returned by Open when no database path is configured.
	ErrNoPath = errors.New("database: path is required")

	// ErrNotMigrated is reported by HealthCheck before Migrate has run.
	ErrNotMigrated = errors.New("database: schema not migrated")

	// ErrSchemaTooNew is returned by Migrate when the store was migrated by a
	// newer build than this one.
	ErrSchemaTooNew = errors.New("database: schema is newer than this build")
)
