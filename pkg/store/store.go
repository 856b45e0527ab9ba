// Package store implements the relational layer over SQLite: topics,
// messages, memories, flowmos, providers, settings, users and invite codes.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store wraps a SQLite database holding all relational state. The vector
// index is a derived cache kept elsewhere; rows here are the source of truth.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens or creates a SQLite database at the given path and runs
// migrations. Use ":memory:" for an in-memory database.
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	logger.Info("store initialized", zap.String("db_path", dbPath))

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL DEFAULT 'user' CHECK(role IN ('admin', 'user')),
		created_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invite_codes (
		id         TEXT PRIMARY KEY,
		code       TEXT NOT NULL UNIQUE,
		created_by TEXT,
		max_uses   INTEGER NOT NULL DEFAULT 1,
		use_count  INTEGER NOT NULL DEFAULT 0,
		expires_at TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (created_by) REFERENCES users(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS topics (
		id                        TEXT PRIMARY KEY,
		user_id                   TEXT NOT NULL DEFAULT '',
		title                     TEXT NOT NULL,
		is_flowmo                 INTEGER NOT NULL DEFAULT 0,
		created_at                TEXT NOT NULL,
		updated_at                TEXT NOT NULL,
		last_active_at            TEXT,
		memory_processed_at       TEXT,
		last_processed_message_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_topics_updated_at ON topics(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_topics_user ON topics(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		topic_id   TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE,
		UNIQUE (topic_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_topic_id ON messages(topic_id);

	CREATE TABLE IF NOT EXISTS providers (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		base_url   TEXT NOT NULL,
		api_key    TEXT NOT NULL,
		enabled    INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memories (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL DEFAULT '',
		content           TEXT NOT NULL,
		source            TEXT NOT NULL CHECK(source IN ('chat', 'manual')),
		memory_type       TEXT NOT NULL DEFAULT 'chat',
		source_topic_id   TEXT,
		source_message_id TEXT,
		use_count         INTEGER NOT NULL DEFAULT 0,
		created_at        TEXT NOT NULL,
		last_used_at      TEXT,
		FOREIGN KEY (source_topic_id) REFERENCES topics(id) ON DELETE SET NULL,
		FOREIGN KEY (source_message_id) REFERENCES messages(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_source ON memories(source);
	CREATE INDEX IF NOT EXISTS idx_memories_use_count ON memories(use_count DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_last_used ON memories(last_used_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);

	CREATE TABLE IF NOT EXISTS memory_usage (
		id         TEXT PRIMARY KEY,
		memory_id  TEXT NOT NULL,
		topic_id   TEXT NOT NULL,
		message_id TEXT NOT NULL,
		used_at    TEXT NOT NULL,
		FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE,
		FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_memory_usage_memory_id ON memory_usage(memory_id);
	CREATE INDEX IF NOT EXISTS idx_memory_usage_topic_id ON memory_usage(topic_id);

	CREATE TABLE IF NOT EXISTS flowmos (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL,
		source     TEXT NOT NULL CHECK(source IN ('chat', 'direct')),
		topic_id   TEXT,
		message_id TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE SET NULL,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_flowmos_user ON flowmos(user_id);
	CREATE INDEX IF NOT EXISTS idx_flowmos_created ON flowmos(created_at DESC);

	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return nil
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
