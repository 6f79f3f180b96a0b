// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"io"
	"time"
)

// FeatureStore provides the behavioral feature read backing rule
// evaluation, plus ownership of the raw transaction history those
// features are aggregated from.
type FeatureStore interface {
	// UserFeatures returns the profile fields computable for a user as
	// of the given instant. Fields that cannot be computed are nil; a
	// user with no history yields an all-nil profile. Zero rows is a
	// valid, expected outcome, not an error.
	UserFeatures(ctx context.Context, userID int64, now time.Time) (*PartialProfile, error)

	// SaveTransaction appends one transaction to the history.
	SaveTransaction(ctx context.Context, tx *Transaction) error

	// SeedFromCSV bulk-loads historical transactions and returns the
	// number of rows inserted. Malformed rows are skipped.
	SeedFromCSV(ctx context.Context, r io.Reader) (int, error)

	// TransactionCount returns the number of stored transactions.
	TransactionCount(ctx context.Context) (int64, error)

	// Reset drops and recreates the transaction history.
	Reset(ctx context.Context) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// FeatureStoreConfig holds configuration for feature store
// initialization.
type FeatureStoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
