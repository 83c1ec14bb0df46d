package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // PostgreSQL driver
)

// SetupDatabase creates the target database when it is missing, then opens
// and verifies a bounded connection pool to it.
func SetupDatabase(ctx context.Context, cfg *DatabaseConfig) (*sqlx.DB, error) {
	if err := ensureDatabase(ctx, cfg); err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(5)

	return db, nil
}

// ensureDatabase connects to the maintenance database and issues
// CREATE DATABASE for cfg.DBName if pg_database has no such entry.
func ensureDatabase(ctx context.Context, cfg *DatabaseConfig) error {
	root, err := sqlx.ConnectContext(ctx, "postgres", cfg.GetMaintenanceDSN())
	if err != nil {
		return fmt.Errorf("failed to connect to maintenance database: %w", err)
	}
	defer root.Close()
	root.SetMaxOpenConns(2)

	var exists bool
	err = root.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`, cfg.DBName)
	if err != nil {
		return fmt.Errorf("failed to look up database %s: %w", cfg.DBName, err)
	}
	if exists {
		return nil
	}

	_, err = root.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(cfg.DBName))
	if err != nil {
		// Another process may have created it between the check and here.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("failed to create database %s: %w", cfg.DBName, err)
	}
	return nil
}
