// Package store persists the server's audit trail in an embedded SQLite
// database: one row per administrative action and one per relayed file
// transfer. It owns the database lifecycle and exposes a minimal API used
// by the admin console and the transfer mediator.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL statements that bring the
// schema up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — administrative actions (kick, mute, empty, shutdown)
	`CREATE TABLE IF NOT EXISTS actions (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		action     TEXT NOT NULL,
		channel    TEXT NOT NULL DEFAULT '',
		target     TEXT NOT NULL DEFAULT '',
		detail     TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v2 — relayed file transfers
	`CREATE TABLE IF NOT EXISTS transfers (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		channel    TEXT NOT NULL,
		sender     TEXT NOT NULL,
		recipient  TEXT NOT NULL,
		path       TEXT NOT NULL,
		bytes      INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v3 — indexes for time-range queries
	`CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at)`,
	// v4 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database and exposes audit-trail operations.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies any pending
// migrations. Use ":memory:" for ephemeral in-process storage (tests).
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Allow multiple read connections but serialise writes.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	// Enable WAL mode for concurrent readers.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Printf("[store] WAL mode: %v (non-fatal)", err)
	}
	// Busy timeout to avoid SQLITE_BUSY on concurrent access.
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[store] busy_timeout: %v (non-fatal)", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema_migrations table (if absent) and applies any
// migrations whose version number exceeds the current maximum.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Printf("[store] applied migration v%d", v)
	}
	return nil
}

// RecordAction inserts one administrative action row.
func (s *Store) RecordAction(action, channel, target, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO actions(action, channel, target, detail) VALUES(?, ?, ?, ?)`,
		action, channel, target, detail,
	)
	return err
}

// RecordTransfer inserts one relayed-file row.
func (s *Store) RecordTransfer(channel, sender, recipient, path string, size int) error {
	_, err := s.db.Exec(
		`INSERT INTO transfers(channel, sender, recipient, path, bytes) VALUES(?, ?, ?, ?, ?)`,
		channel, sender, recipient, path, size,
	)
	return err
}

// Action is one administrative action read back from the audit trail.
type Action struct {
	ID        int64
	Action    string
	Channel   string
	Target    string
	Detail    string
	CreatedAt int64
}

// Actions returns the newest actions first, at most limit rows.
func (s *Store) Actions(limit int) ([]Action, error) {
	rows, err := s.db.Query(
		`SELECT id, action, channel, target, detail, created_at
		 FROM actions ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.Action, &a.Channel, &a.Target, &a.Detail, &a.CreatedAt); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Transfer is one relayed file read back from the audit trail.
type Transfer struct {
	ID        int64
	Channel   string
	Sender    string
	Recipient string
	Path      string
	Bytes     int
	CreatedAt int64
}

// Transfers returns the newest transfers first, at most limit rows.
func (s *Store) Transfers(limit int) ([]Transfer, error) {
	rows, err := s.db.Query(
		`SELECT id, channel, sender, recipient, path, bytes, created_at
		 FROM transfers ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []Transfer
	for rows.Next() {
		var tr Transfer
		if err := rows.Scan(&tr.ID, &tr.Channel, &tr.Sender, &tr.Recipient, &tr.Path, &tr.Bytes, &tr.CreatedAt); err != nil {
			return nil, err
		}
		transfers = append(transfers, tr)
	}
	return transfers, rows.Err()
}

// CountActions returns the total number of recorded actions.
func (s *Store) CountActions() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM actions`).Scan(&n)
	return n, err
}

// CountTransfers returns the total number of recorded transfers.
func (s *Store) CountTransfers() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM transfers`).Scan(&n)
	return n, err
}
