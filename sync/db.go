package sync

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS records (
    path          TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    parent_path   TEXT NOT NULL DEFAULT '',
    kind          TEXT NOT NULL CHECK (kind IN ('file', 'folder')),
    remote_id     TEXT NOT NULL,
    size          INTEGER,
    cloud_hash    TEXT,
    local_hash    TEXT,
    downloaded_at INTEGER,
    discovered_at INTEGER NOT NULL,
    CHECK (downloaded_at IS NULL OR local_hash IS NOT NULL),
    CHECK (kind = 'file' OR (cloud_hash IS NULL AND local_hash IS NULL AND downloaded_at IS NULL))
);

CREATE INDEX IF NOT EXISTS records_parent ON records(parent_path);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// OpenDB opens (or creates) the index database at path.
func OpenDB(path string) (*sql.DB, error) {
	l := sub("db")
	l.Info("opening index database", "path", path)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		l.Debug(p)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	l := sub("db")
	var version int
	err := db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		// meta table doesn't exist or no row: fresh database
		if _, execErr := db.Exec(schema); execErr != nil {
			return fmt.Errorf("create schema: %w", execErr)
		}
		_, execErr := db.Exec("INSERT INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion)
		if execErr != nil {
			return fmt.Errorf("set schema version: %w", execErr)
		}
		l.Info("schema created", "version", schemaVersion)
		return nil
	}

	if version < schemaVersion {
		l.Info("schema upgrading", "from", version, "to", schemaVersion)
		if version < 2 {
			if err := migrateV1toV2(db); err != nil {
				return fmt.Errorf("migrate v1→v2: %w", err)
			}
			l.Info("migrated v1→v2")
		}
	} else {
		l.Debug("schema up to date", slog.Int("version", version))
	}

	return nil
}

// migrateV1toV2 adds the name and size columns and the parent_path index.
// v1 records carried only the path, so name is derived from it.
func migrateV1toV2(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmts := []string{
		`ALTER TABLE records ADD COLUMN name TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE records ADD COLUMN size INTEGER`,
		`UPDATE records SET name = CASE
			WHEN parent_path = '' THEN path
			ELSE substr(path, length(parent_path) + 2)
		 END`,
		`CREATE INDEX IF NOT EXISTS records_parent ON records(parent_path)`,
		`UPDATE meta SET value = '2' WHERE key = 'schema_version'`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}

	return tx.Commit()
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
