// audit_test.go: Audit logger tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newJSONLAuditLogger(t *testing.T, minLevel AuditLevel) (*AuditLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	config := DefaultAuditConfig()
	config.OutputFile = path
	config.MinLevel = minLevel
	config.FlushInterval = time.Hour

	logger, err := NewAuditLogger(config)
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func readAuditEvents(t *testing.T, path string) []AuditEvent {
	t.Helper()
	f, err := os.Open(path) // #nosec G304 -- test file
	if err != nil {
		t.Fatalf("Failed to open audit file: %v", err)
	}
	defer func() { _ = f.Close() }()

	var events []AuditEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("Malformed audit line %q: %v", scanner.Text(), err)
		}
		events = append(events, event)
	}
	return events
}

func TestAuditLogger_JSONL(t *testing.T) {
	logger, path := newJSONLAuditLogger(t, AuditInfo)

	logger.Log(AuditWarn, "custom_event", "tests", "subject-1", map[string]interface{}{
		"count": 3,
		"name":  "alpha",
	})
	logger.LogCommand("stress", map[string]interface{}{"goroutines": 4})
	logger.LogLeak("tests", 2, 64)

	if err := logger.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	events := readAuditEvents(t, path)
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}

	first := events[0]
	if first.Level != AuditWarn || first.Event != "custom_event" || first.Component != "tests" || first.Subject != "subject-1" {
		t.Errorf("Unexpected event: %+v", first)
	}
	if first.ProcessID != os.Getpid() {
		t.Errorf("Expected process id %d, got %d", os.Getpid(), first.ProcessID)
	}
	if first.Checksum == "" {
		t.Error("Event should carry a checksum")
	}

	if events[1].Event != "cli_stress" || events[1].Component != "sharedctl" {
		t.Errorf("Unexpected command event: %+v", events[1])
	}
	if events[2].Event != "leak_detected" || events[2].Level != AuditCritical {
		t.Errorf("Unexpected leak event: %+v", events[2])
	}

	for _, event := range events {
		if !VerifyChecksum(event) {
			t.Errorf("Checksum should survive the JSONL round trip: %+v", event)
		}
	}
}

func TestAuditLogger_ChecksumDetectsTampering(t *testing.T) {
	logger, path := newJSONLAuditLogger(t, AuditInfo)
	logger.Log(AuditSecurity, "allocator_misuse", "tests", "", map[string]interface{}{"address": "0x1"})
	if err := logger.Flush(); err != nil {
		t.Fatal(err)
	}

	event := readAuditEvents(t, path)[0]
	event.Context["address"] = "0x2"
	if VerifyChecksum(event) {
		t.Error("Modified context should fail verification")
	}

	event = readAuditEvents(t, path)[0]
	event.Level = AuditInfo
	if VerifyChecksum(event) {
		t.Error("Modified level should fail verification")
	}
}

func TestAuditLogger_MinLevel(t *testing.T) {
	logger, path := newJSONLAuditLogger(t, AuditCritical)

	logger.Log(AuditInfo, "dropped", "tests", "", nil)
	logger.Log(AuditWarn, "dropped", "tests", "", nil)
	logger.Log(AuditCritical, "kept", "tests", "", nil)
	logger.Log(AuditSecurity, "kept", "tests", "", nil)

	stats, err := logger.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalEvents != 2 || stats.EventsByType["kept"] != 2 {
		t.Errorf("Expected only the 2 kept events, got %+v", stats)
	}
	if len(readAuditEvents(t, path)) != 2 {
		t.Error("File should hold 2 events")
	}
}

func TestAuditLogger_LogLifecycle(t *testing.T) {
	logger, path := newJSONLAuditLogger(t, AuditInfo)

	kinds := []struct {
		kind  uint8
		level AuditLevel
		event string
	}{
		{EventAllocate, AuditInfo, "block_allocate"},
		{EventDeallocate, AuditInfo, "block_deallocate"},
		{EventMisuse, AuditSecurity, "allocator_misuse"},
		{EventLimit, AuditCritical, "allocation_limit"},
	}
	for _, k := range kinds {
		e := LifecycleEvent{Kind: k.kind, Size: 48, Address: 0xbeef}
		e.SetTypeName("shared.widget")
		logger.LogLifecycle("arena", &e)
	}
	if err := logger.Flush(); err != nil {
		t.Fatal(err)
	}

	events := readAuditEvents(t, path)
	if len(events) != len(kinds) {
		t.Fatalf("Expected %d events, got %d", len(kinds), len(events))
	}
	for i, k := range kinds {
		got := events[i]
		if got.Event != k.event || got.Level != k.level {
			t.Errorf("Event %d: expected %s/%s, got %s/%s", i, k.event, k.level, got.Event, got.Level)
		}
		if got.Component != "arena" || got.Subject != "shared.widget" {
			t.Errorf("Event %d: unexpected component/subject %s/%s", i, got.Component, got.Subject)
		}
		if got.Context["address"] != "0xbeef" {
			t.Errorf("Event %d: unexpected address %v", i, got.Context["address"])
		}
		if !VerifyChecksum(got) {
			t.Errorf("Event %d: checksum mismatch", i)
		}
	}
}

func TestAuditLogger_BufferFlushesWhenFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	config := DefaultAuditConfig()
	config.OutputFile = path
	config.BufferSize = 2
	config.FlushInterval = time.Hour

	logger, err := NewAuditLogger(config)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(AuditInfo, "one", "tests", "", nil)
	if len(readAuditEvents(t, path)) != 0 {
		t.Error("First event should still be buffered")
	}
	logger.Log(AuditInfo, "two", "tests", "", nil)
	if len(readAuditEvents(t, path)) != 2 {
		t.Error("Full buffer should be written")
	}
}

func TestAuditLogger_BackgroundFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	config := DefaultAuditConfig()
	config.OutputFile = path
	config.FlushInterval = 10 * time.Millisecond

	logger, err := NewAuditLogger(config)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(AuditInfo, "ticked", "tests", "", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(readAuditEvents(t, path)) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("Background flusher did not write the event")
}

func TestAuditLogger_Disabled(t *testing.T) {
	logger, err := NewAuditLogger(AuditConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Disabled config should be valid: %v", err)
	}
	logger.Log(AuditSecurity, "ignored", "tests", "", nil)
	if err := logger.Flush(); err != nil {
		t.Errorf("Flush on disabled logger failed: %v", err)
	}
	if _, err := logger.Stats(); err == nil {
		t.Error("Stats on a disabled logger should fail")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestAuditLogger_NilSafe(t *testing.T) {
	var logger *AuditLogger
	logger.Log(AuditInfo, "ignored", "tests", "", nil)
	logger.LogCommand("info", nil)
	logger.LogLeak("tests", 1, 1)
	logger.LogLifecycle("tests", &LifecycleEvent{Kind: EventAllocate})
	if err := logger.Flush(); err != nil {
		t.Error(err)
	}
	if err := logger.Maintenance(); err != nil {
		t.Error(err)
	}
	if err := logger.Close(); err != nil {
		t.Error(err)
	}
}

func TestAuditLogger_CloseTwice(t *testing.T) {
	logger, _ := newJSONLAuditLogger(t, AuditInfo)
	if err := logger.Close(); err != nil {
		t.Fatalf("First Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second Close should be a no-op: %v", err)
	}
}

func TestAuditConfig_Validate(t *testing.T) {
	valid := DefaultAuditConfig()
	if err := valid.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}

	cases := map[string]AuditConfig{
		"zero_buffer":    {Enabled: true, BufferSize: 0, FlushInterval: time.Second},
		"negative_flush": {Enabled: true, BufferSize: 1, FlushInterval: -time.Second},
		"bad_level":      {Enabled: true, BufferSize: 1, MinLevel: AuditLevel(42)},
	}
	for name, config := range cases {
		t.Run(name, func(t *testing.T) {
			assertErrorCode(t, config.Validate(), ErrCodeInvalidAuditConfig)
			if _, err := NewAuditLogger(config); err == nil {
				t.Error("NewAuditLogger should reject an invalid config")
			}
		})
	}

	if err := (AuditConfig{Enabled: false, BufferSize: -1}).Validate(); err != nil {
		t.Errorf("Disabled config should always be valid: %v", err)
	}
}

func TestAuditLevel_Text(t *testing.T) {
	for _, level := range []AuditLevel{AuditInfo, AuditWarn, AuditCritical, AuditSecurity} {
		text, err := level.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var parsed AuditLevel
		if err := parsed.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s) failed: %v", text, err)
		}
		if parsed != level {
			t.Errorf("Round trip of %s gave %s", level, parsed)
		}
	}

	if level, err := ParseAuditLevel(" warning "); err != nil || level != AuditWarn {
		t.Errorf("ParseAuditLevel(warning) = %v, %v", level, err)
	}
	if _, err := ParseAuditLevel("verbose"); err == nil {
		t.Error("Unknown level should fail")
	}
	if AuditLevel(9).String() != "UNKNOWN" {
		t.Error("Out of range level should print UNKNOWN")
	}
}
