// Package storage provides SQLite database connectivity and data access.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection with application-specific methods.
type DB struct {
	*sqlx.DB
	path string
}

// pragmas are applied through go-sqlite3 DSN parameters on every connection.
// Immediate transactions take the write lock up front, so concurrent sync
// writers queue on busy_timeout instead of failing mid-transaction.
var pragmas = url.Values{ //nolint:gochecknoglobals
	"_foreign_keys": {"on"},
	"_journal_mode": {"WAL"},
	"_busy_timeout": {"5000"},
	"_synchronous":  {"NORMAL"},
	"_txlock":       {"immediate"},
}

const (
	maxOpenConns = 5
	maxIdleConns = 2
)

// NewDB opens the SQLite file at path, creating its directory when needed.
func NewDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sqlx.Open("sqlite3", "file:"+path+"?"+pragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database %s: %w", path, err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &DB{DB: db, path: path}, nil
}

// Open connects to path and applies all pending migrations.
func Open(path string) (*DB, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// HealthCheck verifies the database is reachable.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

// Transaction runs fn in a transaction, rolling back when fn fails. The whole
// attempt is retried while SQLite reports busy.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return withRetry(ctx, func() error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}

		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rolling back transaction: %v (original error: %w)", rbErr, err)
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	})
}
