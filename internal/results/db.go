package results

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite run-history database.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Conn exposes the underlying connection for queries.
func (d *DB) Conn() *sql.DB { return d.conn }

// Close closes the database.
func (d *DB) Close() error { return d.conn.Close() }

const schemaVersion = 1

var schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL UNIQUE,
	repo_url TEXT NOT NULL,
	team_name TEXT NOT NULL DEFAULT '',
	leader_name TEXT NOT NULL DEFAULT '',
	branch TEXT NOT NULL DEFAULT '',
	final_status TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	iterations INTEGER NOT NULL DEFAULT 0,
	retry_limit INTEGER NOT NULL DEFAULT 0,
	total_failures INTEGER NOT NULL DEFAULT 0,
	total_fixes INTEGER NOT NULL DEFAULT 0,
	total_commits INTEGER NOT NULL DEFAULT 0,
	total_time_seconds REAL NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL DEFAULT '',
	ended_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS run_fixes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	file TEXT NOT NULL,
	bug_type TEXT NOT NULL,
	line INTEGER NOT NULL,
	status TEXT NOT NULL,
	commit_message TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_run_fixes_run_id ON run_fixes(run_id);
CREATE INDEX IF NOT EXISTS idx_run_fixes_bug_type ON run_fixes(bug_type);
`

// Migrate applies the schema. Safe to call on every startup.
func (d *DB) Migrate() error {
	if _, err := d.conn.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var count int
	if err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if count == 0 {
		if _, err := d.conn.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}
	return nil
}
