package bbsstore

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL/DML statements that bring the
// schema up to date. Index i corresponds to version i+1; each statement is
// recorded as its own version, and the "vN" labels below only group related
// statements. To add a migration, append a new string — never edit or
// reorder existing entries.
var migrations = []string{
	// v1 — users
	`CREATE TABLE IF NOT EXISTS users (
		callsign   TEXT PRIMARY KEY,
		uuid       TEXT NOT NULL UNIQUE,
		enabled    INTEGER NOT NULL DEFAULT 1,
		hidden     INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (unixepoch()),
		last_seen  INTEGER NOT NULL DEFAULT (unixepoch()),
		bio        TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT '',
		email      TEXT NOT NULL DEFAULT '',
		location   TEXT NOT NULL DEFAULT '',
		socials_json TEXT NOT NULL DEFAULT '[]'
	)`,
	// v2 — bulletins
	`CREATE TABLE IF NOT EXISTS bulletins (
		id         INTEGER PRIMARY KEY,
		author     TEXT NOT NULL,
		subject    TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (unixepoch()),
		updated_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v3 — counters, shared by any id sequence that must stay dense and
	// never reuse a value even across deletes.
	`CREATE TABLE IF NOT EXISTS counters (
		name  TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	)`,
	// v4 — messages: one row per (uuid, mailbox) copy, since a broadcast or
	// multi-recipient send fans out into independent mailbox copies.
	`CREATE TABLE IF NOT EXISTS messages (
		msg_uuid     TEXT NOT NULL,
		mailbox_of   TEXT NOT NULL,
		sent_at      INTEGER NOT NULL,
		text         TEXT NOT NULL,
		recipients_json TEXT NOT NULL DEFAULT '[]',
		sender       TEXT NOT NULL,
		retrieved    INTEGER NOT NULL DEFAULT 0,
		delivered    INTEGER NOT NULL DEFAULT 0,
		attachments_json TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (msg_uuid, mailbox_of)
	)`,
	`CREATE TABLE IF NOT EXISTS message_uuids (uuid TEXT PRIMARY KEY)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_mailbox ON messages(mailbox_of)`,
	// v5 — objects
	`CREATE TABLE IF NOT EXISTS objects (
		uuid        TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		data        BLOB NOT NULL,
		binary      INTEGER NOT NULL DEFAULT 0,
		private     INTEGER NOT NULL DEFAULT 0,
		owner       TEXT NOT NULL,
		created_at  INTEGER NOT NULL DEFAULT (unixepoch()),
		modified_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	`CREATE INDEX IF NOT EXISTS idx_objects_owner ON objects(owner)`,
	// v6 — jobs and the FIFO queue
	`CREATE TABLE IF NOT EXISTS jobs (
		id          INTEGER PRIMARY KEY,
		owner       TEXT NOT NULL,
		command_json TEXT NOT NULL DEFAULT '[]',
		env_json    TEXT NOT NULL DEFAULT '{}',
		files_json  TEXT NOT NULL DEFAULT '[]',
		created_at  INTEGER NOT NULL DEFAULT (unixepoch()),
		started_at  INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'CREATED',
		return_code INTEGER NOT NULL DEFAULT 0,
		stdout      BLOB NOT NULL DEFAULT '',
		stderr      BLOB NOT NULL DEFAULT '',
		artifact    BLOB NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner)`,
	`CREATE TABLE IF NOT EXISTS job_queue (
		seq    INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL
	)`,
	// v7 — http users
	`CREATE TABLE IF NOT EXISTS http_users (
		username        TEXT PRIMARY KEY,
		password_hash   TEXT NOT NULL,
		http_enabled    INTEGER NOT NULL DEFAULT 1,
		created_at      INTEGER NOT NULL DEFAULT (unixepoch()),
		last_login      INTEGER NOT NULL DEFAULT 0,
		failed_attempts INTEGER NOT NULL DEFAULT 0
	)`,
	// v8 — config key/value (JSON-encoded values)
	`CREATE TABLE IF NOT EXISTS config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	// v9 — enable WAL mode for concurrent readers against the single writer
	`PRAGMA journal_mode=WAL`,
}

// Store wraps a SQLite database and enforces a single-writer transaction
// contract: all mutation happens inside Transaction,
// which serialises writers at the Go level (in addition to SQLite's own
// single-writer behaviour) so a caller never observes a partial commit from
// a concurrent request.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage
// (tests).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("bbsstore: open db: %w", err)
	}
	// Single physical connection: every transaction, read or write, takes
	// its turn on it. WAL lets other processes read the file meanwhile.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Warn().Err(err).Msg("bbsstore: set WAL mode")
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Warn().Err(err).Msg("bbsstore: set busy_timeout")
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		log.Warn().Err(err).Msg("bbsstore: enable foreign_keys")
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("bbsstore: migrate: %w", err)
	}
	if err := s.seed(); err != nil {
		db.Close()
		return nil, fmt.Errorf("bbsstore: seed: %w", err)
	}
	return s, nil
}

// seed establishes the invariants a fresh (or old) database must always
// hold: the reserved SYSTEM user exists, hidden and disabled, and the
// blacklist contains SYSTEM.
func (s *Store) seed() error {
	return s.Transaction(func(tx *Tx) error {
		if _, err := tx.EnsureUser(SystemCallsign); err != nil {
			return err
		}
		cfg, err := tx.GetConfig()
		if err != nil {
			return err
		}
		return tx.SetConfig(cfg)
	})
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
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
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Debug().Int("version", v).Msg("bbsstore: applied migration")
	}
	return nil
}

// Tx is a single transaction's handle, passed to the callback given to
// Transaction. All entity operations hang off Tx so a caller composes
// multiple reads/writes atomically (e.g. "snapshot the sender's objects
// into the message, then deliver it" in a single commit).
type Tx struct {
	tx *sql.Tx
}

// Transaction runs fn inside a single SQLite transaction, committing if fn
// returns nil and rolling back otherwise. Concurrent calls are serialised:
// each request gets an isolated, consistent view and writes never
// interleave. Nested transactions are not supported.
func (s *Store) Transaction(fn func(tx *Tx) error) error {
	sqlTx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("bbsstore: begin: %w", err)
	}
	tx := &Tx{tx: sqlTx}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("bbsstore: rollback failed")
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("bbsstore: commit: %w", err)
	}
	return nil
}

// nextCounter allocates the next id from counters[name], starting at 0 for
// a fresh counter; ids are dense and never reused even across deletes.
// Must be called from inside a Transaction.
func (tx *Tx) nextCounter(name string) (int64, error) {
	if _, err := tx.tx.Exec(
		`INSERT INTO counters(name, value) VALUES(?, 0)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1`, name,
	); err != nil {
		return 0, fmt.Errorf("bbsstore: bump counter %s: %w", name, err)
	}
	var v int64
	if err := tx.tx.QueryRow(`SELECT value FROM counters WHERE name = ?`, name).Scan(&v); err != nil {
		return 0, fmt.Errorf("bbsstore: read counter %s: %w", name, err)
	}
	return v, nil
}

// ErrNotFound is returned by lookup operations that find no matching row.
var ErrNotFound = fmt.Errorf("bbsstore: not found")
