package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique key.
	ErrDuplicate = errors.New("record already exists")
)

// BaseRepository provides common functionality for all repositories.
type BaseRepository struct {
	db *DB
}

// NewBaseRepository creates a new base repository with the given database connection.
func NewBaseRepository(db *DB) BaseRepository {
	return BaseRepository{db: db}
}

// DB returns the underlying database connection.
func (r *BaseRepository) DB() *DB {
	return r.db
}

// Now returns the current time in UTC for database timestamps.
func (r *BaseRepository) Now() time.Time {
	return time.Now().UTC()
}

// Transaction executes a function within a database transaction.
func (r *BaseRepository) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return r.db.Transaction(ctx, fn)
}

// exec runs a write statement with busy retry.
func (r *BaseRepository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withRetry(ctx, func() error {
		var err error
		res, err = r.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// namedExec runs a named write statement with busy retry.
func (r *BaseRepository) namedExec(ctx context.Context, query string, arg any) (sql.Result, error) {
	var res sql.Result
	err := withRetry(ctx, func() error {
		var err error
		res, err = r.db.NamedExecContext(ctx, query, arg)
		return err
	})
	return res, err
}

// get scans a single row, mapping sql.ErrNoRows to ErrNotFound.
func (r *BaseRepository) get(ctx context.Context, dest any, query string, args ...any) error {
	err := r.db.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GenerateID creates a new UUID for use as a primary key.
func GenerateID() string {
	return uuid.NewString()
}
