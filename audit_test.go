// audit_test.go: Tests for the audit trail
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newJSONLAuditLogger(t *testing.T) (*AuditLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(AuditConfig{
		Enabled:    true,
		OutputFile: path,
		MinLevel:   AuditInfo,
		BufferSize: 100,
		// No background flusher; tests flush explicitly.
		FlushInterval: 0,
	})
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	return logger, path
}

func readAuditEvents(t *testing.T, path string) []AuditEvent {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening audit log: %v", err)
	}
	defer f.Close()

	var events []AuditEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("decoding audit event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestAuditLoggerJSONLRoundTrip(t *testing.T) {
	logger, path := newJSONLAuditLogger(t)
	defer logger.Close()

	logger.LogRunStarted("org.example.Daemon", "/org/example/Obj", "org.example.Iface")
	logger.LogDisconnected("/org/example/Obj", "org.example.Iface", "Method", 7, "(2147483647)")
	if err := logger.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	events := readAuditEvents(t, path)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	start := events[0]
	if start.Event != "fuzz_run_started" || start.Level != AuditInfo {
		t.Fatalf("first event: %+v", start)
	}
	if start.Service != "org.example.Daemon" {
		t.Errorf("service = %q", start.Service)
	}
	if start.Component != "charybdis" || start.ProcessID == 0 {
		t.Errorf("provenance fields missing: %+v", start)
	}

	hit := events[1]
	if hit.Event != "target_disconnected" || hit.Level != AuditCritical {
		t.Fatalf("second event: %+v", hit)
	}
	if hit.Member != "Method" || hit.Iteration != 7 {
		t.Errorf("finding fields wrong: %+v", hit)
	}
	if hit.Checksum == "" || hit.Checksum == start.Checksum {
		t.Error("checksums missing or not event-specific")
	}
}

func TestAuditChecksumDetectsTampering(t *testing.T) {
	ev := AuditEvent{
		Timestamp: time.Now(),
		Event:     "target_disconnected",
		Member:    "Method",
		Iteration: 7,
		Detail:    "(42)",
	}
	original := generateChecksum(ev)

	ev.Iteration = 8
	if generateChecksum(ev) == original {
		t.Error("checksum unchanged after event mutation")
	}
}

func TestAuditLoggerMinLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(AuditConfig{
		Enabled:    true,
		OutputFile: path,
		MinLevel:   AuditCritical,
		BufferSize: 100,
	})
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	defer logger.Close()

	logger.LogSuppressed("/obj", "iface", "Member", "note")                // Info, filtered
	logger.LogMemoryExceeded("/obj", "iface", "Member", 1, 400, 300)       // Warn, filtered
	logger.LogDisconnected("/obj", "iface", "Member", 1, "()")             // Critical, kept
	if err := logger.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	events := readAuditEvents(t, path)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Event != "target_disconnected" {
		t.Fatalf("kept event = %q", events[0].Event)
	}
}

func TestAuditLoggerDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewAuditLogger(AuditConfig{
		Enabled:    false,
		OutputFile: path,
		BufferSize: 10,
	})
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	defer logger.Close()

	logger.LogRunStarted("svc", "/obj", "iface")
	if err := logger.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if events := readAuditEvents(t, path); len(events) != 0 {
		t.Fatalf("disabled logger wrote %d events", len(events))
	}
}

func TestAuditLoggerNilSafe(t *testing.T) {
	var logger *AuditLogger
	// Must not panic.
	logger.LogRunStarted("svc", "/obj", "iface")
	logger.LogDisconnected("/obj", "iface", "Member", 1, "()")
}

func TestAuditLevelString(t *testing.T) {
	tests := []struct {
		level AuditLevel
		want  string
	}{
		{AuditInfo, "INFO"},
		{AuditWarn, "WARN"},
		{AuditCritical, "CRITICAL"},
		{AuditSecurity, "SECURITY"},
		{AuditLevel(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("AuditLevel(%d).String() = %q, want %q", int(tt.level), got, tt.want)
		}
	}
}
