// audit_backend.go: Pluggable storage backends for the audit trail
//
// Two backends exist: a unified SQLite database that consolidates every
// charybdis run on the host into one queryable store, and an append-only
// JSONL file for environments without SQLite. Selection is automatic:
// SQLite unless the configured output file carries a .jsonl extension or
// SQLite initialization fails.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// auditBackend persists batches of audit events.
type auditBackend interface {
	// Write persists a batch of audit events. Implementations must handle
	// concurrent writes safely.
	Write(events []AuditEvent) error

	// Flush commits pending writes to storage. Called during graceful
	// shutdown and on the periodic flush.
	Flush() error

	// Close releases all resources. The backend must not be used after.
	Close() error
}

// createAuditBackend selects the backend: JSONL when explicitly requested
// by a .jsonl output file, otherwise SQLite with JSONL as fallback. An
// error is returned only when both backends fail to initialize.
func createAuditBackend(config AuditConfig) (auditBackend, error) {
	if config.OutputFile != "" && filepath.Ext(config.OutputFile) == ".jsonl" {
		return newJSONLBackend(config)
	}

	backend, err := newSQLiteBackend(config)
	if err == nil {
		return backend, nil
	}

	jsonlBackend, jsonlErr := newJSONLBackend(config)
	if jsonlErr != nil {
		return nil, fmt.Errorf("all audit backends failed - SQLite: %w, JSONL: %v", err, jsonlErr)
	}
	return jsonlBackend, nil
}

// unifiedAuditPath is the standard location of the host-wide SQLite audit
// database, shared by every run regardless of the configured output file.
func unifiedAuditPath() string {
	return filepath.Join(os.TempDir(), "charybdis", "audit.db")
}

// sqliteAuditBackend stores audit events in the unified SQLite database.
type sqliteAuditBackend struct {
	db         *sql.DB
	insertStmt *sql.Stmt
	mu         sync.RWMutex
	closed     bool
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	level TEXT NOT NULL,
	event TEXT NOT NULL,
	component TEXT NOT NULL,
	service TEXT,
	object TEXT,
	interface TEXT,
	member TEXT,
	iteration INTEGER,
	detail TEXT,
	process_id INTEGER,
	process_name TEXT,
	checksum TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_events(event);
CREATE INDEX IF NOT EXISTS idx_audit_service ON audit_events(service);
`

const auditInsert = `
INSERT INTO audit_events (
	timestamp, level, event, component, service, object, interface,
	member, iteration, detail, process_id, process_name, checksum
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func newSQLiteBackend(config AuditConfig) (*sqliteAuditBackend, error) {
	dbPath := config.OutputFile
	if dbPath == "" {
		dbPath = unifiedAuditPath()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit database directory: %w", err)
	}

	// WAL with a busy timeout: concurrent runs on the same host share the
	// unified database.
	db, err := sql.Open("sqlite3", fmt.Sprintf(
		"%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=1000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach audit database: %w", err)
	}

	if _, err := db.Exec(auditSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	stmt, err := db.Prepare(auditInsert)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare audit insert: %w", err)
	}

	return &sqliteAuditBackend{db: db, insertStmt: stmt}, nil
}

func (s *sqliteAuditBackend) Write(events []AuditEvent) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("cannot write to closed SQLite audit backend")
	}
	s.mu.RUnlock()

	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	txStmt := tx.Stmt(s.insertStmt)
	defer txStmt.Close()

	for _, event := range events {
		if _, err = txStmt.Exec(
			event.Timestamp.Format(time.RFC3339Nano),
			event.Level.String(),
			event.Event,
			event.Component,
			event.Service,
			event.Object,
			event.Interface,
			event.Member,
			int64(event.Iteration),
			event.Detail,
			event.ProcessID,
			event.ProcessName,
			event.Checksum,
		); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit transaction: %w", err)
	}
	return nil
}

func (s *sqliteAuditBackend) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("failed to checkpoint audit database: %w", err)
	}
	return nil
}

func (s *sqliteAuditBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.insertStmt != nil {
		_ = s.insertStmt.Close()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close audit database: %w", err)
	}
	return nil
}

// jsonlAuditBackend appends one JSON document per event to a plain file.
type jsonlAuditBackend struct {
	file   *os.File
	mu     sync.Mutex
	closed bool
}

func newJSONLBackend(config AuditConfig) (*jsonlAuditBackend, error) {
	path := config.OutputFile
	if path == "" {
		path = filepath.Join(os.TempDir(), "charybdis", "audit.jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &jsonlAuditBackend{file: f}, nil
}

func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("cannot write to closed JSONL audit backend")
	}

	enc := json.NewEncoder(j.file)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("failed to encode audit event: %w", err)
		}
	}
	return nil
}

func (j *jsonlAuditBackend) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log file: %w", err)
	}
	return nil
}

func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}
	return nil
}
