package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelInfo, Format: FormatJSON, Output: &buf, Component: "test"})

	logger.Info("hello", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "hello" || entry["component"] != "test" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelInfo, Format: FormatJSON, Output: &buf, Component: "test"})

	logger.Info("signing", "signature", "super-secret-bytes")
	if strings.Contains(buf.String(), "super-secret-bytes") {
		t.Error("sensitive value reached the log stream")
	}
	if !strings.Contains(buf.String(), "[REDACTED]") {
		t.Error("redaction marker missing")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelWarn, Format: FormatText, Output: &buf, Component: "lvl"})

	logger.Debug("quiet")
	logger.Info("also quiet")
	if buf.Len() != 0 {
		t.Errorf("below-level entries written: %q", buf.String())
	}
	logger.Warn("loud")
	if buf.Len() == 0 {
		t.Error("warn entry suppressed")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelInfo, Format: FormatText, Output: &buf, Component: "hot"})

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatal("debug visible before SetLevel")
	}
	SetLevel(LevelDebug)
	defer SetLevel(LevelInfo)
	logger.Debug("visible")
	if buf.Len() == 0 {
		t.Error("debug hidden after SetLevel")
	}
}

func TestParseHelpers(t *testing.T) {
	if ParseLevel("debug") != LevelDebug || ParseLevel("nonsense") != LevelInfo {
		t.Error("ParseLevel mapping wrong")
	}
	if ParseFormat("json") != FormatJSON || ParseFormat("text") != FormatText {
		t.Error("ParseFormat mapping wrong")
	}
}

func TestAuditLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	a, err := NewAuditLogger(path)
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}

	events := []AuditEvent{
		{EventType: AuditEventRegistration, Action: "register", Result: "success", DeviceID: "d1"},
		{EventType: AuditEventVerification, Action: "verify", Result: "failure", Error: "invalid_signature"},
	}
	for _, ev := range events {
		if err := a.Log(ev); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var first AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 0 not JSON: %v", err)
	}
	if first.EventType != AuditEventRegistration || first.Timestamp.IsZero() {
		t.Errorf("unexpected first event: %+v", first)
	}
}
