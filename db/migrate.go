package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/sym"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one embedded SQL file, versioned by its numeric prefix
type migration struct {
	version  string
	filename string
}

// listMigrations returns the embedded migrations in apply order
// (000_create_schema_migrations.sql first).
func listMigrations() ([]migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		out = append(out, migration{version: strings.SplitN(name, "_", 2)[0], filename: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].filename < out[j].filename })
	return out, nil
}

// Migrate applies every embedded migration not yet recorded in schema_migrations.
// Each file runs in its own transaction together with its bookkeeping row.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	_, err := MigrateCount(db, logger)
	return err
}

// MigrateCount is Migrate, also reporting how many migrations were applied
func MigrateCount(db *sql.DB, logger *zap.SugaredLogger) (int, error) {
	all, err := listMigrations()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range all {
		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", m.version).Scan(&exists)
		if err != nil {
			// schema_migrations only exists once 000 has run
			if m.version != "000" {
				return applied, errors.Wrapf(err, "schema_migrations table missing, but migration is not 000: %s", m.filename)
			}
		} else if exists {
			if logger != nil {
				logger.Debugw("Skipping migration (already applied)", "migration", m.filename)
			}
			continue
		}

		if err := applyMigration(db, m); err != nil {
			return applied, err
		}
		applied++

		if logger != nil {
			logger.Infow("Applied migration", "migration", m.filename, "version", m.version, "glyph", sym.DB)
		}
	}

	if logger != nil {
		logger.Debugw("Migrations complete",
			"glyph", sym.DB,
			"applied", applied,
			"total_migrations", len(all),
		)
	}
	return applied, nil
}

func applyMigration(db *sql.DB, m migration) error {
	body, err := migrations.ReadFile(path.Join(migrationsDir, m.filename))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.filename)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", m.filename)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return errors.Wrapf(err, "execute %s", m.filename)
	}
	// 000 creates the table, then records itself
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return errors.Wrapf(err, "record %s", m.filename)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit %s", m.filename)
	}
	return nil
}

// AppliedVersions lists the migration versions recorded in schema_migrations
func AppliedVersions(db *sql.DB) ([]string, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, errors.Wrap(err, "query schema_migrations")
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
