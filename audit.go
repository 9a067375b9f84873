// audit.go: Audit trail for fuzz runs
//
// Fuzzing a production bus service is an intrusive act; the audit trail
// records who fuzzed what, when, and what was found, in a form that
// survives the run and resists casual tampering. Every finding (target
// disconnect, memory breach) and every skipped member lands here in
// addition to the plain-text run log.
//
// Features:
// - Immutable audit events with SHA-256 tamper detection
// - Buffered writes with background flushing
// - Pluggable storage backends (unified SQLite, JSONL fallback)
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

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

// AuditEvent is a single auditable event of a fuzz run.
type AuditEvent struct {
	Timestamp   time.Time  `json:"timestamp"`
	Level       AuditLevel `json:"level"`
	Event       string     `json:"event"`
	Component   string     `json:"component"`
	Service     string     `json:"service,omitempty"`
	Object      string     `json:"object,omitempty"`
	Interface   string     `json:"interface,omitempty"`
	Member      string     `json:"member,omitempty"`
	Iteration   uint64     `json:"iteration,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	ProcessID   int        `json:"process_id"`
	ProcessName string     `json:"process_name"`
	Checksum    string     `json:"checksum"` // For tamper detection
}

// AuditConfig configures the audit system
type AuditConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	OutputFile    string        `json:"output_file" yaml:"output_file"`
	MinLevel      AuditLevel    `json:"min_level" yaml:"min_level"`
	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// DefaultAuditConfig returns the default audit configuration with unified
// SQLite storage. An empty OutputFile selects the system-wide audit
// database; a path with a .jsonl extension selects the JSONL backend.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       true,
		OutputFile:    "",
		MinLevel:      AuditInfo,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}

// AuditLogger provides buffered audit logging with pluggable backends.
//
// Events are buffered and flushed in batches, either when the buffer
// fills or on the background flush interval, so per-event cost stays off
// the fuzz loop's critical path.
type AuditLogger struct {
	config      AuditConfig
	backend     auditBackend
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	processID   int
	processName string
}

// NewAuditLogger creates an audit logger with automatic backend selection:
// the unified SQLite backend when available, JSONL otherwise.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	backend, err := createAuditBackend(config)
	if err != nil {
		return nil, err
	}

	logger := &AuditLogger{
		config:      config,
		backend:     backend,
		buffer:      make([]AuditEvent, 0, config.BufferSize),
		stopCh:      make(chan struct{}),
		processID:   os.Getpid(),
		processName: processName(),
	}

	if config.FlushInterval > 0 {
		logger.flushTicker = time.NewTicker(config.FlushInterval)
		go logger.flushLoop()
	}

	return logger, nil
}

// Log records one audit event. Safe to call on a nil logger.
func (al *AuditLogger) Log(level AuditLevel, event string, target AuditEvent) {
	if al == nil || al.backend == nil || !al.config.Enabled || level < al.config.MinLevel {
		return
	}

	target.Timestamp = timecache.CachedTime()
	target.Level = level
	target.Event = event
	target.Component = "charybdis"
	target.ProcessID = al.processID
	target.ProcessName = al.processName
	target.Checksum = generateChecksum(target)

	al.bufferMu.Lock()
	al.buffer = append(al.buffer, target)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushBufferUnsafe() // Ignore flush errors during buffering to maintain performance
	}
	al.bufferMu.Unlock()
}

// LogRunStarted records the start of a fuzz run against a target.
func (al *AuditLogger) LogRunStarted(service, object, iface string) {
	al.Log(AuditInfo, "fuzz_run_started", AuditEvent{
		Service: service, Object: object, Interface: iface,
	})
}

// LogSuppressed records a member skipped by a suppression rule.
func (al *AuditLogger) LogSuppressed(object, iface, member, description string) {
	al.Log(AuditInfo, "member_suppressed", AuditEvent{
		Object: object, Interface: iface, Member: member, Detail: description,
	})
}

// LogDisconnected records the primary finding: the target stopped
// responding after a fuzzed call.
func (al *AuditLogger) LogDisconnected(object, iface, member string, iteration uint64, args string) {
	al.Log(AuditCritical, "target_disconnected", AuditEvent{
		Object: object, Interface: iface, Member: member,
		Iteration: iteration, Detail: args,
	})
}

// LogMemoryExceeded records a resident-memory limit breach.
func (al *AuditLogger) LogMemoryExceeded(object, iface, member string, iteration uint64, sampleKB, limitKB int64) {
	al.Log(AuditWarn, "memory_limit_exceeded", AuditEvent{
		Object: object, Interface: iface, Member: member, Iteration: iteration,
		Detail: fmt.Sprintf("%d kB over limit %d kB", sampleKB, limitKB),
	})
}

// LogGenerationFailure records a member whose arguments could not be
// generated.
func (al *AuditLogger) LogGenerationFailure(object, iface, member string, err error) {
	al.Log(AuditWarn, "generation_failed", AuditEvent{
		Object: object, Interface: iface, Member: member, Detail: err.Error(),
	})
}

// Flush immediately writes all buffered events
func (al *AuditLogger) Flush() error {
	al.bufferMu.Lock()
	defer al.bufferMu.Unlock()
	return al.flushBufferUnsafe()
}

// Close gracefully shuts down the audit logger
func (al *AuditLogger) Close() error {
	close(al.stopCh)
	if al.flushTicker != nil {
		al.flushTicker.Stop()
	}

	if err := al.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit logger during close: %w", err)
	}

	if al.backend != nil {
		if err := al.backend.Close(); err != nil {
			return fmt.Errorf("failed to close audit backend: %w", err)
		}
	}

	return nil
}

// flushLoop runs the background flush process
func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.flushTicker.C:
			_ = al.Flush() // Ignore flush errors in background process to maintain performance
		case <-al.stopCh:
			return
		}
	}
}

// flushBufferUnsafe writes the buffer to backend storage (caller must hold
// bufferMu).
func (al *AuditLogger) flushBufferUnsafe() error {
	if len(al.buffer) == 0 {
		return nil
	}

	if err := al.backend.Write(al.buffer); err != nil {
		return fmt.Errorf("failed to write audit events to backend: %w", err)
	}

	al.buffer = al.buffer[:0]
	return nil
}

// generateChecksum creates a tamper-detection checksum using SHA-256
func generateChecksum(event AuditEvent) string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s:%s:%d:%s",
		event.Timestamp.Format(time.RFC3339Nano),
		event.Event, event.Service, event.Object, event.Interface,
		event.Member, event.Iteration, event.Detail)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

func processName() string {
	base := filepath.Base(os.Args[0])
	if base == "." || base == string(filepath.Separator) {
		return "charybdis"
	}
	return base
}
