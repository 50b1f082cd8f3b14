package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pragmas are applied to every connection of a journal, in order.
var pragmas = []struct{ name, value string }{
	{"journal_mode", "WAL"},
	{"synchronous", "NORMAL"},
	{"busy_timeout", "5000"},
	{"foreign_keys", "ON"},
}

type migration struct {
	version int
	name    string
	stmt    string
}

// migrations upgrade journals written by older builds. schema.sql holds
// the version 0 tables; each entry moves user_version one step forward.
var migrations = []migration{
	{
		version: 1,
		name:    "outcome index",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_events_kind ON events(run_id, kind, seq)`,
	},
	{
		version: 2,
		name:    "run start index",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at, id)`,
	},
}

// schemaVersion is the user_version of a fully migrated journal.
var schemaVersion = migrations[len(migrations)-1].version

// Store is a SQLite journal of publisher and subscriber events.
// A Store is safe for concurrent use; writes are serialized on a single
// connection.
type Store struct {
	db *sql.DB
}

// Open opens the journal at path, creating it when missing, and brings its
// schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal pragma %s: %w", p.name, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the journal. It is safe to call more than once.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("base tables: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("migration %d (%s): set user_version: %w", m.version, m.name, err)
		}
	}
	return nil
}

// pragma reads the current value of a pragma.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return value, nil
}
