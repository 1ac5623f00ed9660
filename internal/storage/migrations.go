package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/villa-sync/backend/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migration is one embedded schema step. Files are named NNN_description.sql.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// RunMigrations applies every embedded migration newer than the recorded
// schema version, each in its own transaction.
func RunMigrations(db *DB) error {
	return migrate(context.Background(), db, migrationsFS)
}

func migrate(ctx context.Context, db *DB, fsys fs.FS) error {
	log := logging.Component("migrations")

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	var current int
	if err := db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	pending, err := loadMigrations(fsys)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if m.Version <= current {
			continue
		}
		err := db.Transaction(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Name, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", m.Name, err)
		}
		log.Info().Int("version", m.Version).Str("migration", m.Name).Msg("migration applied")
	}
	return nil
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	seen := make(map[int]string, len(files))
	out := make([]migration, 0, len(files))
	for _, file := range files {
		name := path.Base(file)
		prefix, _, ok := strings.Cut(name, "_")
		version, convErr := strconv.Atoi(prefix)
		if !ok || convErr != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: name must start with a positive version number", name)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, name, version)
		}
		seen[version] = name

		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		out = append(out, migration{Version: version, Name: name, SQL: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
