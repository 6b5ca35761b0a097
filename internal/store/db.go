package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "modernc.org/sqlite"
)

// SchemaVersion is bumped whenever the on-disk layout changes in a way that
// cannot be expressed as an additive migration. A cache file with a different
// version is rebuilt wholesale from source files rather than migrated.
const SchemaVersion = 1

// Store is the durable session index. It is the single source of truth for
// what has already been indexed; all mutation goes through its transactional
// API.
type Store struct {
	db       *sql.DB
	notifier *notifier
}

// Open opens (or creates) the cache database at path. A schema version
// mismatch drops and recreates all tables; the caller is expected to trigger
// a full reindex afterwards.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The commit phase is single-writer; one connection avoids SQLITE_BUSY
	// between the batch writer and concurrent readers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, notifier: newNotifier()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection and all notification subscribers.
func (s *Store) Close() error {
	s.notifier.close()
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	project TEXT,
	cwd TEXT,
	title TEXT,
	comment TEXT,
	model TEXT,
	day TEXT,
	started_at INTEGER DEFAULT 0,
	last_updated_at INTEGER DEFAULT 0,
	active_seconds INTEGER DEFAULT 0,
	user_messages INTEGER DEFAULT 0,
	assistant_messages INTEGER DEFAULT 0,
	tool_messages INTEGER DEFAULT 0,
	reasoning_messages INTEGER DEFAULT 0,
	other_messages INTEGER DEFAULT 0,
	tool_calls INTEGER DEFAULT 0,
	thinking_blocks INTEGER DEFAULT 0,
	input_tokens INTEGER DEFAULT 0,
	output_tokens INTEGER DEFAULT 0,
	cache_read_tokens INTEGER DEFAULT 0,
	cache_creation_tokens INTEGER DEFAULT 0,
	total_tokens INTEGER DEFAULT 0,
	file_path TEXT NOT NULL UNIQUE,
	file_mtime INTEGER NOT NULL,
	file_size INTEGER NOT NULL,
	parse_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project);
CREATE INDEX IF NOT EXISTS idx_sessions_day ON sessions(day);

CREATE TABLE IF NOT EXISTS previews (
	session_id TEXT NOT NULL,
	turn_id TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	user_text TEXT,
	assistant_text TEXT,
	output_count INTEGER DEFAULT 0,
	has_tool_calls INTEGER DEFAULT 0,
	has_thinking INTEGER DEFAULT 0,
	file_mtime INTEGER NOT NULL,
	file_size INTEGER NOT NULL,
	PRIMARY KEY (session_id, turn_id)
);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at INTEGER
);
`

// migrate creates the tables, rebuilding from scratch when the stored
// schema_version does not match.
func (s *Store) migrate() error {
	stored, err := s.storedSchemaVersion()
	if err != nil {
		return err
	}
	if stored != 0 && stored != SchemaVersion {
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS sessions; DROP TABLE IF EXISTS previews; DROP TABLE IF EXISTS meta;`); err != nil {
			return fmt.Errorf("failed to drop stale schema: %w", err)
		}
	}

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO meta (key, value, updated_at) VALUES ('schema_version', ?, strftime('%s','now'))`,
		strconv.Itoa(SchemaVersion))
	return err
}

// storedSchemaVersion returns the schema version recorded in the cache, or
// zero for a fresh database.
func (s *Store) storedSchemaVersion() (int, error) {
	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}

	var value string
	err = s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse schema version %q: %w", value, err)
	}
	return v, nil
}

// SetMeta stores an arbitrary metadata value (e.g. last refresh times).
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value, updated_at) VALUES (?, ?, strftime('%s','now'))`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// GetMeta returns a metadata value, or "" when unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	return value, nil
}
