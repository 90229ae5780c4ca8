package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types.
const (
	AuditEventRegistration AuditEventType = "device_registration"
	AuditEventDeletion     AuditEventType = "device_deletion"
	AuditEventRevocation   AuditEventType = "device_revocation"
	AuditEventVerification AuditEventType = "verification"
	AuditEventSigning      AuditEventType = "signing_session"
	AuditEventStartup      AuditEventType = "startup"
	AuditEventShutdown     AuditEventType = "shutdown"
)

// AuditEvent is one security-relevant event, serialized as a JSON line.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	Action      string         `json:"action"`
	Result      string         `json:"result"` // "success", "failure", "denied"
	DeviceID    string         `json:"device_id,omitempty"`
	PublicKeyID string         `json:"public_key_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	SourceIP    string         `json:"source_ip,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Error       string         `json:"error,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// AuditLogger appends audit events to a JSON-lines file.
type AuditLogger struct {
	mu  sync.Mutex
	out io.WriteCloser
}

// NewAuditLogger opens (or creates) the audit log at path. An empty
// path audits to stdout.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if path == "" {
		return &AuditLogger{out: nopCloser{os.Stdout}}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &AuditLogger{out: f}, nil
}

// Log appends one event. Failures are returned but callers typically
// log and continue; auditing must not take the service down.
func (a *AuditLogger) Log(ev AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.out.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out.Close()
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
