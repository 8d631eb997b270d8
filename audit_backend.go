// audit_backend.go: Storage backends for the audit trail
//
// Two backends implement auditBackend: a SQLite database (WAL mode,
// versioned schema, statistics) and an append-only JSONL file.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// auditBackend persists audit events.
type auditBackend interface {
	// Write persists a batch. Implementations must accept concurrent calls.
	Write(events []AuditEvent) error

	// Flush commits pending writes to storage.
	Flush() error

	// Close releases all resources. The backend must not be used afterwards.
	Close() error

	// Maintenance performs housekeeping such as retention cleanup.
	Maintenance() error

	// GetStats summarizes the stored events.
	GetStats() (*AuditDatabaseStats, error)
}

// AuditDatabaseStats summarizes the events held by an audit backend.
type AuditDatabaseStats struct {
	Backend           string           `json:"backend"`
	Path              string           `json:"path"`
	TotalEvents       int64            `json:"total_events"`
	EventsByLevel     map[string]int64 `json:"events_by_level"`
	EventsByComponent map[string]int64 `json:"events_by_component"`
	EventsByType      map[string]int64 `json:"events_by_type"`
	OldestEvent       *time.Time       `json:"oldest_event"`
	NewestEvent       *time.Time       `json:"newest_event"`
	DatabaseSize      int64            `json:"database_size_bytes"`
	SchemaVersion     int              `json:"schema_version"`
}

func newAuditDatabaseStats(backend, path string) *AuditDatabaseStats {
	return &AuditDatabaseStats{
		Backend:           backend,
		Path:              path,
		EventsByLevel:     make(map[string]int64),
		EventsByComponent: make(map[string]int64),
		EventsByType:      make(map[string]int64),
	}
}

// createAuditBackend selects a backend from OutputFile:
//   - *.jsonl: JSONL file at that path
//   - *.db: SQLite database at that path
//   - anything else: the unified SQLite database, falling back to JSONL at
//     OutputFile when SQLite cannot be opened
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
		return nil, errors.Wrap(err, ErrCodeIOError, "all audit backends failed").
			WithContext("jsonl_error", jsonlErr.Error())
	}
	return jsonlBackend, nil
}

// UnifiedAuditPath is the SQLite database used when no explicit .db or
// .jsonl output file is configured.
func UnifiedAuditPath() string {
	return filepath.Join(os.TempDir(), "shared", "audit.db")
}

type sqliteAuditBackend struct {
	db         *sql.DB
	dbPath     string
	sourceFile string // configured OutputFile, kept for correlation
	insertStmt *sql.Stmt
	mu         sync.RWMutex
	closed     bool
}

const auditSchemaVersion = 2

func newSQLiteBackend(config AuditConfig) (*sqliteAuditBackend, error) {
	dbPath := UnifiedAuditPath()
	if config.OutputFile != "" && filepath.Ext(config.OutputFile) == ".db" {
		dbPath = config.OutputFile
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to create audit database directory").
			WithContext("path", dbPath)
	}

	// WAL keeps readers and the writer from blocking each other; the busy
	// timeout covers several processes sharing the unified database.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=1000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to open audit database").
			WithContext("path", dbPath)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to ping audit database").
			WithContext("path", dbPath)
	}

	backend := &sqliteAuditBackend{
		db:         db,
		dbPath:     dbPath,
		sourceFile: config.OutputFile,
	}
	if err := backend.ensureSchemaVersion(); err != nil {
		_ = backend.Close()
		return nil, err
	}
	if err := backend.prepareStatements(); err != nil {
		_ = backend.Close()
		return nil, err
	}
	_ = backend.performMaintenance() // not fatal at startup

	return backend, nil
}

// ensureSchemaVersion migrates the database to auditSchemaVersion:
//   - v1: audit_events table and single-column indexes
//   - v2: composite indexes for per-component and per-event queries
func (s *sqliteAuditBackend) ensureSchemaVersion() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to create schema_info table")
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, ErrCodeIOError, "failed to read schema version")
	}
	if version >= auditSchemaVersion {
		return nil
	}

	if err := s.migrateSchema(version, auditSchemaVersion); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "schema migration failed").
			WithContext("from", version).
			WithContext("to", auditSchemaVersion)
	}
	if _, err := s.db.Exec(
		"INSERT OR REPLACE INTO schema_info (version, updated_at) VALUES (?, CURRENT_TIMESTAMP)",
		auditSchemaVersion); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to record schema version")
	}
	return nil
}

func (s *sqliteAuditBackend) migrateSchema(oldVersion, newVersion int) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for version := oldVersion; version < newVersion; version++ {
		var stmts []string
		switch version {
		case 0:
			stmts = []string{
				`CREATE TABLE IF NOT EXISTS audit_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					timestamp TEXT NOT NULL,
					level TEXT NOT NULL,
					event TEXT NOT NULL,
					component TEXT NOT NULL,
					original_output_file TEXT NOT NULL,
					subject TEXT,
					process_id INTEGER NOT NULL,
					process_name TEXT NOT NULL,
					context TEXT,
					checksum TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);`,
				"CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp)",
				"CREATE INDEX IF NOT EXISTS idx_audit_level ON audit_events(level)",
				"CREATE INDEX IF NOT EXISTS idx_audit_component ON audit_events(component)",
				"CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_events(created_at)",
			}
		case 1:
			stmts = []string{
				"CREATE INDEX IF NOT EXISTS idx_audit_component_time ON audit_events(component, timestamp)",
				"CREATE INDEX IF NOT EXISTS idx_audit_event_component ON audit_events(event, component, timestamp)",
				"CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_events(subject)",
			}
		default:
			return fmt.Errorf("unknown migration path from version %d", version)
		}
		for _, stmt := range stmts {
			if _, err = tx.Exec(stmt); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// performMaintenance drops events older than the retention period and
// checkpoints the WAL.
func (s *sqliteAuditBackend) performMaintenance() error {
	const retentionDays = 90

	if _, err := s.db.Exec(
		"DELETE FROM audit_events WHERE created_at < datetime('now', '-' || ? || ' days')",
		retentionDays); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to clean up old audit events")
	}
	for _, task := range []string{"PRAGMA optimize", "PRAGMA wal_checkpoint(FULL)"} {
		_, _ = s.db.Exec(task) // optimizations only
	}
	return nil
}

func (s *sqliteAuditBackend) prepareStatements() error {
	stmt, err := s.db.Prepare(`
	INSERT INTO audit_events (
		timestamp, level, event, component,
		original_output_file, subject, process_id, process_name,
		context, checksum
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to prepare insert statement")
	}
	s.insertStmt = stmt
	return nil
}

// Write inserts the batch in a single transaction.
func (s *sqliteAuditBackend) Write(events []AuditEvent) (err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(ErrCodeIOError, "cannot write to closed SQLite audit backend")
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to begin audit transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	txStmt := tx.Stmt(s.insertStmt)
	defer func() { _ = txStmt.Close() }()

	for _, event := range events {
		contextJSON := ""
		if event.Context != nil {
			data, marshalErr := json.Marshal(event.Context)
			if marshalErr != nil {
				err = errors.Wrap(marshalErr, ErrCodeIOError, "failed to serialize audit context")
				return err
			}
			contextJSON = string(data)
		}

		if _, err = txStmt.Exec(
			event.Timestamp.Format(time.RFC3339Nano),
			event.Level.String(),
			event.Event,
			event.Component,
			s.sourceFile,
			event.Subject,
			event.ProcessID,
			event.ProcessName,
			contextJSON,
			event.Checksum,
		); err != nil {
			return errors.Wrap(err, ErrCodeIOError, "failed to insert audit event")
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to commit audit transaction")
	}
	return nil
}

// Flush checkpoints the WAL into the main database file.
func (s *sqliteAuditBackend) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to flush SQLite audit backend")
	}
	return nil
}

func (s *sqliteAuditBackend) Maintenance() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	return s.performMaintenance()
}

func (s *sqliteAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New(ErrCodeIOError, "SQLite audit backend is closed")
	}

	stats := newAuditDatabaseStats("sqlite", s.dbPath)

	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&stats.TotalEvents); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to count audit events")
	}
	groups := []struct {
		column string
		into   map[string]int64
	}{
		{"level", stats.EventsByLevel},
		{"component", stats.EventsByComponent},
		{"event", stats.EventsByType},
	}
	for _, g := range groups {
		if err := s.countBy(g.column, g.into); err != nil {
			return nil, err
		}
	}

	var oldest, newest sql.NullString
	if err := s.db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM audit_events").Scan(&oldest, &newest); err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read audit time range")
	}
	stats.OldestEvent = parseStoredTime(oldest)
	stats.NewestEvent = parseStoredTime(newest)

	if err := s.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&stats.SchemaVersion); err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read schema version")
	}
	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// countBy fills into with event counts grouped by column, which must be
// one of the fixed column names used by GetStats.
func (s *sqliteAuditBackend) countBy(column string, into map[string]int64) error {
	rows, err := s.db.Query("SELECT " + column + ", COUNT(*) FROM audit_events GROUP BY " + column) // #nosec G202 -- fixed column names
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to group audit events").
			WithContext("column", column)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return errors.Wrap(err, ErrCodeIOError, "failed to scan audit statistics")
		}
		into[key] = count
	}
	return rows.Err()
}

func parseStoredTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// Close checkpoints the WAL and closes the database. It is safe to call
// more than once.
func (s *sqliteAuditBackend) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}

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
		return errors.Wrap(err, ErrCodeIOError, "failed to close audit database")
	}
	return nil
}

type jsonlAuditBackend struct {
	file       *os.File
	sourceFile string
	mu         sync.Mutex
	closed     bool
}

func newJSONLBackend(config AuditConfig) (*jsonlAuditBackend, error) {
	if config.OutputFile == "" {
		return nil, errors.New(ErrCodeInvalidAuditConfig, "JSONL backend requires an output file")
	}
	if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0750); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to create JSONL audit directory").
			WithContext("path", config.OutputFile)
	}

	file, err := os.OpenFile(config.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 -- configured audit path
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to open JSONL audit file").
			WithContext("path", config.OutputFile)
	}
	return &jsonlAuditBackend{file: file, sourceFile: config.OutputFile}, nil
}

// Write appends one JSON object per line.
func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New(ErrCodeIOError, "cannot write to closed JSONL audit backend")
	}

	w := bufio.NewWriter(j.file)
	enc := json.NewEncoder(w)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return errors.Wrap(err, ErrCodeIOError, "failed to write audit event")
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to write audit events")
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
		return errors.Wrap(err, ErrCodeIOError, "failed to sync JSONL audit file")
	}
	return nil
}

// Maintenance is a no-op: JSONL files are rotated externally.
func (j *jsonlAuditBackend) Maintenance() error {
	return nil
}

// GetStats reads the whole file back. Malformed lines are skipped.
func (j *jsonlAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := newAuditDatabaseStats("jsonl", j.sourceFile)
	stats.SchemaVersion = 1

	f, err := os.Open(j.sourceFile) // #nosec G304 -- configured audit path
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to open JSONL audit file").
			WithContext("path", j.sourceFile)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event AuditEvent
		if json.Unmarshal(scanner.Bytes(), &event) != nil {
			continue
		}
		stats.TotalEvents++
		stats.EventsByLevel[event.Level.String()]++
		stats.EventsByComponent[event.Component]++
		stats.EventsByType[event.Event]++

		ts := event.Timestamp
		if stats.OldestEvent == nil || ts.Before(*stats.OldestEvent) {
			stats.OldestEvent = &ts
		}
		if stats.NewestEvent == nil || ts.After(*stats.NewestEvent) {
			stats.NewestEvent = &ts
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read JSONL audit file")
	}

	if info, err := f.Stat(); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.file.Close(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to close JSONL audit file")
	}
	return nil
}
