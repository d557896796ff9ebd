package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/roster-checkin/config"
	"go.uber.org/zap"
)

// ChangeChannel is the NOTIFY channel carrying ids of participants whose check-in state changed
const ChangeChannel = "participant_changes"

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// NewDBFromConn wraps an already opened pool, e.g. a sqlmock connection
func NewDBFromConn(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck pings the pool and verifies the participants table exists
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var exists bool
	if err := db.QueryRowContext(ctx, "SELECT to_regclass('participants') IS NOT NULL").Scan(&exists); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}
	if !exists {
		return errors.New("participants table missing")
	}

	return nil
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Participants table
		CREATE TABLE IF NOT EXISTS participants (
			seq BIGSERIAL NOT NULL,
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
			checked_in BOOLEAN NOT NULL DEFAULT false,
			checked_in_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT participants_check_in_consistent
				CHECK (checked_in = (checked_in_at IS NOT NULL))
		);

		CREATE INDEX IF NOT EXISTS idx_participants_seq ON participants(seq);
		CREATE INDEX IF NOT EXISTS idx_participants_checked_in ON participants(checked_in) WHERE checked_in;

		-- Change notification: one NOTIFY per committed check-in transition
		CREATE OR REPLACE FUNCTION participants_notify_change() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('participant_changes', NEW.id);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS participants_notify_change ON participants;
		CREATE TRIGGER participants_notify_change
			AFTER UPDATE ON participants
			FOR EACH ROW
			WHEN (OLD.checked_in IS DISTINCT FROM NEW.checked_in
				OR OLD.checked_in_at IS DISTINCT FROM NEW.checked_in_at)
			EXECUTE FUNCTION participants_notify_change();
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
