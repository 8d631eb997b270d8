// audit.go: Audit trail for allocator lifecycle and tool activity
//
// Events are buffered in memory and flushed in batches to a pluggable
// backend (SQLite or JSONL). Every event carries a SHA-256 checksum for
// tamper detection.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditLevel represents the severity of audit events
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditCritical
	AuditSecurity
)

func (al AuditLevel) String() string {
	switch al {
	case AuditInfo:
		return "INFO"
	case AuditWarn:
		return "WARN"
	case AuditCritical:
		return "CRITICAL"
	case AuditSecurity:
		return "SECURITY"
	default:
		return "UNKNOWN"
	}
}

// ParseAuditLevel accepts the names printed by String, in any case.
func ParseAuditLevel(s string) (AuditLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return AuditInfo, nil
	case "WARN", "WARNING":
		return AuditWarn, nil
	case "CRITICAL":
		return AuditCritical, nil
	case "SECURITY":
		return AuditSecurity, nil
	}
	return AuditInfo, errors.New(ErrCodeInvalidAuditConfig, "unknown audit level").
		WithContext("level", s)
}

// MarshalText lets levels appear by name in YAML and JSON.
func (al AuditLevel) MarshalText() ([]byte, error) {
	return []byte(al.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (al *AuditLevel) UnmarshalText(text []byte) error {
	level, err := ParseAuditLevel(string(text))
	if err != nil {
		return err
	}
	*al = level
	return nil
}

// AuditEvent represents a single auditable event
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	Level       AuditLevel             `json:"level"`
	Event       string                 `json:"event"`
	Component   string                 `json:"component"`
	Subject     string                 `json:"subject,omitempty"`
	ProcessID   int                    `json:"process_id"`
	ProcessName string                 `json:"process_name"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Checksum    string                 `json:"checksum"`
}

// AuditConfig configures the audit system
type AuditConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	OutputFile    string        `json:"output_file" yaml:"output_file"`
	MinLevel      AuditLevel    `json:"min_level" yaml:"min_level"`
	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// DefaultAuditConfig returns the default audit configuration. An empty
// OutputFile selects the unified SQLite database; a .jsonl OutputFile selects
// the JSONL backend.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       true,
		OutputFile:    "",
		MinLevel:      AuditInfo,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}

// Validate checks an audit configuration. A disabled configuration is
// always valid.
func (c AuditConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BufferSize <= 0 {
		return errors.New(ErrCodeInvalidAuditConfig, "audit buffer size must be positive").
			WithContext("buffer_size", c.BufferSize)
	}
	if c.FlushInterval < 0 {
		return errors.New(ErrCodeInvalidAuditConfig, "audit flush interval cannot be negative").
			WithContext("flush_interval", c.FlushInterval.String())
	}
	if c.MinLevel < AuditInfo || c.MinLevel > AuditSecurity {
		return errors.New(ErrCodeInvalidAuditConfig, "audit level out of range").
			WithContext("min_level", int(c.MinLevel))
	}
	return nil
}

// AuditLogger buffers audit events and writes them to its backend in
// batches, from the caller when the buffer fills and from a background
// flusher on every FlushInterval.
type AuditLogger struct {
	config      AuditConfig
	backend     auditBackend
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
	processID   int
	processName string
}

// NewAuditLogger validates config and opens its backend. A disabled
// configuration yields a logger that discards everything.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := &AuditLogger{
		config:      config,
		stopCh:      make(chan struct{}),
		processID:   os.Getpid(),
		processName: getProcessName(),
	}
	if !config.Enabled {
		return logger, nil
	}

	backend, err := createAuditBackend(config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to initialize audit backend")
	}
	logger.backend = backend
	logger.buffer = make([]AuditEvent, 0, config.BufferSize)

	if config.FlushInterval > 0 {
		logger.flushTicker = time.NewTicker(config.FlushInterval)
		go logger.flushLoop()
	}

	return logger, nil
}

// Log records an audit event. Events below MinLevel are dropped.
func (al *AuditLogger) Log(level AuditLevel, event, component, subject string, context map[string]interface{}) {
	if al == nil || al.backend == nil || !al.config.Enabled || level < al.config.MinLevel {
		return
	}

	auditEvent := AuditEvent{
		Timestamp:   timecache.CachedTime(),
		Level:       level,
		Event:       event,
		Component:   component,
		Subject:     subject,
		ProcessID:   al.processID,
		ProcessName: al.processName,
		Context:     context,
	}
	auditEvent.Checksum = al.generateChecksum(auditEvent)

	al.bufferMu.Lock()
	al.buffer = append(al.buffer, auditEvent)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushBufferUnsafe() // the background flusher retries
	}
	al.bufferMu.Unlock()
}

// LogLifecycle records an allocator event taken from an EventRing.
func (al *AuditLogger) LogLifecycle(component string, e *LifecycleEvent) {
	level := AuditInfo
	switch e.Kind {
	case EventMisuse:
		level = AuditSecurity
	case EventLimit:
		level = AuditCritical
	}
	al.Log(level, EventKindName(e.Kind), component, e.TypeName(), map[string]interface{}{
		"address": fmt.Sprintf("%#x", e.Address),
		"size":    e.Size,
	})
}

// LogLeak records blocks still outstanding when an allocator is closed.
func (al *AuditLogger) LogLeak(component string, blocks, bytes int64) {
	al.Log(AuditCritical, "leak_detected", component, "", map[string]interface{}{
		"blocks_in_use": blocks,
		"bytes_in_use":  bytes,
	})
}

// LogCommand records a command-line action as cli_<command>.
func (al *AuditLogger) LogCommand(command string, context map[string]interface{}) {
	al.Log(AuditInfo, "cli_"+command, "sharedctl", command, context)
}

// Stats returns statistics from the backend.
func (al *AuditLogger) Stats() (*AuditDatabaseStats, error) {
	if al == nil || al.backend == nil {
		return nil, errors.New(ErrCodeInvalidAuditConfig, "audit logging is disabled")
	}
	if err := al.Flush(); err != nil {
		return nil, err
	}
	return al.backend.GetStats()
}

// Maintenance runs backend housekeeping.
func (al *AuditLogger) Maintenance() error {
	if al == nil || al.backend == nil {
		return nil
	}
	return al.backend.Maintenance()
}

// Flush immediately writes all buffered events
func (al *AuditLogger) Flush() error {
	if al == nil || al.backend == nil {
		return nil
	}
	al.bufferMu.Lock()
	defer al.bufferMu.Unlock()
	return al.flushBufferUnsafe()
}

// Close stops the flusher, writes what is buffered and closes the backend.
// It is safe to call more than once.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	var err error
	al.closeOnce.Do(func() {
		close(al.stopCh)
		if al.flushTicker != nil {
			al.flushTicker.Stop()
		}
		if al.backend == nil {
			return
		}
		if flushErr := al.Flush(); flushErr != nil {
			err = flushErr
			return
		}
		if closeErr := al.backend.Close(); closeErr != nil {
			err = errors.Wrap(closeErr, ErrCodeIOError, "failed to close audit backend")
		}
	})
	return err
}

func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.flushTicker.C:
			_ = al.Flush() // retried on the next tick
		case <-al.stopCh:
			return
		}
	}
}

// flushBufferUnsafe writes the buffer to the backend. The caller holds
// bufferMu. The buffer is kept when the write fails.
func (al *AuditLogger) flushBufferUnsafe() error {
	if len(al.buffer) == 0 {
		return nil
	}
	if err := al.backend.Write(al.buffer); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to write audit events to backend")
	}
	al.buffer = al.buffer[:0]
	return nil
}

// generateChecksum hashes the identifying fields of event with SHA-256.
// Context keys are sorted so the checksum is stable.
func (al *AuditLogger) generateChecksum(event AuditEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%s:%s:%s:%s",
		event.Timestamp.Format(time.RFC3339Nano),
		event.Level, event.Event, event.Component, event.Subject)

	keys := make([]string, 0, len(event.Context))
	for k := range event.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, ":%s=%v", k, event.Context[k])
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}

// VerifyChecksum reports whether event still matches its checksum.
func VerifyChecksum(event AuditEvent) bool {
	var al *AuditLogger
	return al.generateChecksum(event) == event.Checksum
}

func getProcessName() string {
	if len(os.Args) == 0 {
		return "shared"
	}
	return filepath.Base(os.Args[0])
}
