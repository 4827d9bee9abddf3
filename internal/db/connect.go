package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:qbank.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/qbank?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one writer; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	if _, err := db.ExecContext(ctx, schema); err == nil {
		return nil
	}
	// some drivers reject multi-statement scripts; run them one by one
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  purpose TEXT NOT NULL,
  type TEXT NOT NULL,
  prompt TEXT NOT NULL,
  skills_json TEXT NOT NULL DEFAULT '[]',
  level TEXT NOT NULL DEFAULT '',
  marks INTEGER NOT NULL DEFAULT 0,
  media_kind TEXT NOT NULL DEFAULT '',
  media_path TEXT NOT NULL DEFAULT '',
  rating_scale INTEGER NOT NULL DEFAULT 0,
  rating_symbol TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  seq INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS questions_tenant_purpose ON questions(tenant_id, purpose, seq);

CREATE TABLE IF NOT EXISTS question_tags (
  question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
  tag TEXT NOT NULL,
  label TEXT NOT NULL,
  position INTEGER NOT NULL,
  PRIMARY KEY (question_id, tag)
);
CREATE INDEX IF NOT EXISTS question_tags_tag ON question_tags(tag);

CREATE TABLE IF NOT EXISTS options (
  id TEXT PRIMARY KEY,
  question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  text TEXT NOT NULL,
  is_correct BOOLEAN NOT NULL DEFAULT 0,
  media_kind TEXT NOT NULL DEFAULT '',
  media_path TEXT NOT NULL DEFAULT '',
  UNIQUE (question_id, position)
);

CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  purpose TEXT NOT NULL,
  title TEXT NOT NULL,
  question_ids_json TEXT NOT NULL,
  time_limit_minutes INTEGER NOT NULL DEFAULT 0,
  passing_percentage REAL NOT NULL DEFAULT 0,
  due_at INTEGER,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  bank_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  purpose TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  time_limit_minutes INTEGER NOT NULL DEFAULT 0,
  deadline INTEGER NOT NULL DEFAULT 0,
  due_at INTEGER,
  submitted_at INTEGER,
  position INTEGER NOT NULL DEFAULT 0,
  passing_percentage REAL NOT NULL DEFAULT 0,
  snapshot_json TEXT NOT NULL,
  responses_json TEXT NOT NULL,
  grades_json TEXT NOT NULL DEFAULT '{}',
  result_json TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_active
  ON attempts(tenant_id, user_id, bank_id) WHERE status = 'in_progress';
CREATE INDEX IF NOT EXISTS attempts_deadline ON attempts(status, deadline);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  purpose TEXT NOT NULL,
  type TEXT NOT NULL,
  prompt TEXT NOT NULL,
  skills_json TEXT NOT NULL DEFAULT '[]',
  level TEXT NOT NULL DEFAULT '',
  marks INTEGER NOT NULL DEFAULT 0,
  media_kind TEXT NOT NULL DEFAULT '',
  media_path TEXT NOT NULL DEFAULT '',
  rating_scale INTEGER NOT NULL DEFAULT 0,
  rating_symbol TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  seq BIGINT NOT NULL,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS questions_tenant_purpose ON questions(tenant_id, purpose, seq);

CREATE TABLE IF NOT EXISTS question_tags (
  question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
  tag TEXT NOT NULL,
  label TEXT NOT NULL,
  position INTEGER NOT NULL,
  PRIMARY KEY (question_id, tag)
);
CREATE INDEX IF NOT EXISTS question_tags_tag ON question_tags(tag);

CREATE TABLE IF NOT EXISTS options (
  id TEXT PRIMARY KEY,
  question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  text TEXT NOT NULL,
  is_correct BOOLEAN NOT NULL DEFAULT FALSE,
  media_kind TEXT NOT NULL DEFAULT '',
  media_path TEXT NOT NULL DEFAULT '',
  UNIQUE (question_id, position)
);

CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  purpose TEXT NOT NULL,
  title TEXT NOT NULL,
  question_ids_json TEXT NOT NULL,
  time_limit_minutes INTEGER NOT NULL DEFAULT 0,
  passing_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
  due_at BIGINT,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  bank_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  purpose TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at BIGINT NOT NULL,
  time_limit_minutes INTEGER NOT NULL DEFAULT 0,
  deadline BIGINT NOT NULL DEFAULT 0,
  due_at BIGINT,
  submitted_at BIGINT,
  position INTEGER NOT NULL DEFAULT 0,
  passing_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
  snapshot_json TEXT NOT NULL,
  responses_json TEXT NOT NULL,
  grades_json TEXT NOT NULL DEFAULT '{}',
  result_json TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_active
  ON attempts(tenant_id, user_id, bank_id) WHERE status = 'in_progress';
CREATE INDEX IF NOT EXISTS attempts_deadline ON attempts(status, deadline);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
