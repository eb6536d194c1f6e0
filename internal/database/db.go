// Package database provides the sqlite connection wrapper shared by the
// signal store, subscription registry, and position store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// DB wraps a sqlite connection with the PRAGMAs and pool settings the
// signal pipeline needs: WAL journaling so readers never block the
// per-(pair,timeframe) writer lock, NORMAL sync (durable at checkpoints,
// not on every write), and foreign keys enforced.
type DB struct {
	conn *sql.DB
	path string
	name string
}

// Config holds database configuration.
type Config struct {
	Path string
	Name string // friendly name for logging/health reporting
}

// New opens a sqlite database with production PRAGMAs applied.
func New(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	connStr := cfg.Path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=wal_autocheckpoint(1000)" +
		"&_pragma=cache_size(-64000)"

	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	// sqlite allows only one writer at a time regardless of pool size; a
	// modest pool lets concurrent readers proceed while a writer holds the
	// per-(pair,timeframe) application-level lock.
	conn.SetMaxOpenConns(16)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{conn: conn, path: cfg.Path, name: cfg.Name}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// Conn returns the underlying *sql.DB for repositories to build on.
func (db *DB) Conn() *sql.DB { return db.conn }

// Name returns the friendly database name.
func (db *DB) Name() string { return db.name }

// Migrate executes a schema (CREATE TABLE IF NOT EXISTS ... statements) in
// a single transaction. Schemas are idempotent so Migrate is safe to call
// on every startup.
func (db *DB) Migrate(schema string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction for %s: %w", db.name, err)
	}
	if _, err := tx.Exec(schema); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to apply schema for %s: %w", db.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema for %s: %w", db.name, err)
	}
	return nil
}

// WithTransaction runs fn within a transaction, committing on success and
// rolling back on error or panic. The panic is re-raised as an error rather
// than propagated, so callers always get a clean error return.
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	err = fn(tx)
	return err
}

// QuickCheck performs a lightweight liveness check (a ping; avoids
// PRAGMA integrity_check, which is O(database size)).
func (db *DB) QuickCheck(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WALCheckpoint forces a WAL checkpoint, keeping the -wal file from growing
// unbounded between archival runs.
func (db *DB) WALCheckpoint(mode string) error {
	if mode == "" {
		mode = "TRUNCATE"
	}
	_, err := db.conn.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode))
	if err != nil {
		return fmt.Errorf("WAL checkpoint failed for %s: %w", db.name, err)
	}
	return nil
}
