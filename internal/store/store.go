package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite persistence layer for codebases, files, entities,
// relationships and jobs.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS codebases (
  id              TEXT PRIMARY KEY,
  root_path       TEXT NOT NULL UNIQUE,
  status          TEXT NOT NULL,
  languages       TEXT NOT NULL DEFAULT '{}',
  last_error      TEXT NOT NULL DEFAULT '',
  created_at      TIMESTAMP NOT NULL,
  updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
  codebase_id     TEXT NOT NULL REFERENCES codebases(id) ON DELETE CASCADE,
  path            TEXT NOT NULL,
  language        TEXT NOT NULL,
  hash            TEXT NOT NULL,
  generation      INTEGER NOT NULL,
  imports         TEXT NOT NULL DEFAULT '[]',
  last_indexed    TIMESTAMP NOT NULL,
  PRIMARY KEY (codebase_id, path)
);

CREATE TABLE IF NOT EXISTS entities (
  id              TEXT PRIMARY KEY,
  codebase_id     TEXT NOT NULL,
  file_path       TEXT NOT NULL,
  kind            TEXT NOT NULL,
  name            TEXT NOT NULL,
  qualified_name  TEXT NOT NULL,
  language        TEXT NOT NULL,
  start_line      INTEGER NOT NULL,
  end_line        INTEGER NOT NULL,
  signature       TEXT NOT NULL DEFAULT '',
  content_hash    TEXT NOT NULL,
  generation      INTEGER NOT NULL,
  cyclomatic      INTEGER NOT NULL DEFAULT 0,
  cognitive       INTEGER NOT NULL DEFAULT 0,
  lines_of_code   INTEGER NOT NULL DEFAULT 0,
  comment_lines   INTEGER NOT NULL DEFAULT 0,
  source          TEXT NOT NULL DEFAULT '',
  FOREIGN KEY (codebase_id, file_path) REFERENCES files(codebase_id, path) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS relationships (
  id              TEXT PRIMARY KEY,
  codebase_id     TEXT NOT NULL,
  file_path       TEXT NOT NULL,
  source_entity_id TEXT NOT NULL,
  target_entity_id TEXT NOT NULL DEFAULT '',
  target_name     TEXT NOT NULL,
  target_module   TEXT NOT NULL DEFAULT '',
  kind            TEXT NOT NULL,
  line            INTEGER NOT NULL,
  col             INTEGER NOT NULL,
  confidence      REAL NOT NULL DEFAULT 0,
  FOREIGN KEY (codebase_id, file_path) REFERENCES files(codebase_id, path) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS jobs (
  id              TEXT PRIMARY KEY,
  codebase_id     TEXT NOT NULL REFERENCES codebases(id) ON DELETE CASCADE,
  job_type        TEXT NOT NULL,
  priority        INTEGER NOT NULL,
  status          TEXT NOT NULL,
  files_processed INTEGER NOT NULL DEFAULT 0,
  files_total     INTEGER NOT NULL DEFAULT 0,
  files_failed    INTEGER NOT NULL DEFAULT 0,
  errors          TEXT NOT NULL DEFAULT '[]',
  error_message   TEXT NOT NULL DEFAULT '',
  created_at      TIMESTAMP NOT NULL,
  started_at      TIMESTAMP,
  completed_at    TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entities_file ON entities(codebase_id, file_path);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
CREATE INDEX IF NOT EXISTS idx_relationships_file ON relationships(codebase_id, file_path);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_entity_id);
CREATE INDEX IF NOT EXISTS idx_jobs_codebase ON jobs(codebase_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`
