// Package sqlite implements every outreach repository on a single SQLite
// file, for local runs and tests without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const (
	timeLayout = "2006-01-02T15:04:05.000000000Z"
	dayLayout  = time.DateOnly
)

// DB is an open SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &DB{db: db}, nil
}

// SQL returns the underlying handle.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Queue returns the queue repository.
func (d *DB) Queue() *QueueRepository {
	return &QueueRepository{db: d.db}
}

// Quota returns the daily limit store.
func (d *DB) Quota() *QuotaStore {
	return &QuotaStore{db: d.db}
}

// CRM returns the lead and owner repository.
func (d *DB) CRM() *CRMRepository {
	return &CRMRepository{db: d.db}
}

// Audit returns the delivery sink.
func (d *DB) Audit() *AuditSink {
	return &AuditSink{db: d.db}
}

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS owners (
  id TEXT PRIMARY KEY,
  display_name TEXT NOT NULL DEFAULT '',
  daily_limit INTEGER NOT NULL DEFAULT 0 CHECK (daily_limit >= 0)
);
CREATE TABLE IF NOT EXISTS leads (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  email TEXT,
  contact_name TEXT NOT NULL DEFAULT '',
  company TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS email_queue (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  target_id TEXT NOT NULL,
  subject TEXT NOT NULL,
  body TEXT NOT NULL,
  category TEXT NOT NULL,
  priority INTEGER NOT NULL DEFAULT 0,
  scheduled_at TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'queued' CHECK (status IN ('queued','sent','failed','cancelled')),
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 3 CHECK (max_attempts > 0),
  last_error TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  sent_at TEXT,
  CHECK (attempts <= max_attempts)
);
CREATE INDEX IF NOT EXISTS idx_email_queue_eligible ON email_queue(owner_id, status, priority DESC, scheduled_at ASC);
CREATE TABLE IF NOT EXISTS daily_send_limits (
  owner_id TEXT NOT NULL,
  day TEXT NOT NULL,
  sent_count INTEGER NOT NULL DEFAULT 0,
  daily_limit INTEGER NOT NULL,
  PRIMARY KEY (owner_id, day)
);
CREATE TABLE IF NOT EXISTS email_deliveries (
  id TEXT PRIMARY KEY,
  queue_entry_id TEXT NOT NULL,
  owner_id TEXT NOT NULL,
  target_id TEXT NOT NULL,
  recipient TEXT NOT NULL,
  subject TEXT NOT NULL,
  category TEXT NOT NULL,
  message_id TEXT NOT NULL DEFAULT '',
  sent_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS analytics_events (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  payload TEXT NOT NULL DEFAULT '{}',
  occurred_at TEXT NOT NULL
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func formatDay(t time.Time) string {
	return t.UTC().Format(dayLayout)
}
