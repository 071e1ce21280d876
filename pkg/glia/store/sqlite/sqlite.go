// Package sqlite implements store.Store on a single SQLite database.
// One glia.db file holds accounts, platform links, conversations,
// messages, bot sessions and workflows. WAL mode keeps concurrent
// readers cheap; the schema is idempotent and applied on every open.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/glia-ai/glia/pkg/glia/store"
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id           TEXT PRIMARY KEY,
    email        TEXT DEFAULT '',
    display_name TEXT DEFAULT '',
    timezone     TEXT DEFAULT 'UTC',
    created_at   TEXT NOT NULL
);

-- One platform identity belongs to at most one account (primary key),
-- and one account holds at most one link per platform (unique index).
CREATE TABLE IF NOT EXISTS platform_links (
    platform         TEXT NOT NULL,
    platform_user_id TEXT NOT NULL,
    account_id       TEXT NOT NULL REFERENCES accounts(id),
    username         TEXT DEFAULT '',
    display_name     TEXT DEFAULT '',
    linked_at        TEXT NOT NULL,
    PRIMARY KEY (platform, platform_user_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_links_account_platform
    ON platform_links(account_id, platform);

CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    title      TEXT DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_account ON conversations(account_id);

CREATE TABLE IF NOT EXISTS messages (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL REFERENCES conversations(id),
    type            TEXT NOT NULL,
    response        TEXT NOT NULL,
    date            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS bot_sessions (
    session_key      TEXT PRIMARY KEY,
    account_id       TEXT NOT NULL,
    platform         TEXT NOT NULL,
    platform_user_id TEXT NOT NULL,
    channel_id       TEXT DEFAULT '',
    conversation_id  TEXT NOT NULL,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflows (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL REFERENCES accounts(id),
    name            TEXT NOT NULL,
    schedule        TEXT NOT NULL,
    prompt          TEXT NOT NULL,
    conversation_id TEXT DEFAULT '',
    enabled         INTEGER DEFAULT 1,
    created_at      TEXT NOT NULL,
    last_run_at     TEXT,
    last_error      TEXT DEFAULT '',
    run_count       INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_workflows_account ON workflows(account_id);
`

// Store is the SQLite-backed store.Store implementation.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Pass ":memory:" for an in-memory database (tests).
func Open(path string) (*Store, error) {
	if path == "" {
		path = "./data/glia.db"
	}

	dsn := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every pool connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
