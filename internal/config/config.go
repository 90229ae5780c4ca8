// Package config handles configuration loading, validation, and
// hot-reloading for geocamd.
package config

import (
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete server configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version"`

	// Server configuration for the HTTP listener.
	Server ServerConfig `toml:"server" json:"server"`

	// Storage configuration for the registry database.
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Sessions configuration for the signing-session store.
	Sessions SessionConfig `toml:"sessions" json:"sessions"`

	// Limits for inbound payloads.
	Limits LimitsConfig `toml:"limits" json:"limits"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging"`

	// Audit configuration for the append-only audit trail.
	Audit AuditConfig `toml:"audit" json:"audit"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	// ListenAddr is the host:port the server binds to.
	ListenAddr string `toml:"listen_addr" json:"listen_addr"`

	// CORSAllowedOrigins is the origin allow-list. Hot-reloadable.
	CORSAllowedOrigins []string `toml:"cors_allowed_origins" json:"cors_allowed_origins"`

	// RequestTimeoutSec is the per-request deadline in seconds.
	RequestTimeoutSec int `toml:"request_timeout_sec" json:"request_timeout_sec"`

	// CodecWorkers bounds concurrent codec jobs. 0 means GOMAXPROCS.
	CodecWorkers int `toml:"codec_workers" json:"codec_workers"`

	// CodecQueue bounds queued codec jobs beyond the active workers.
	// Requests past the bound are answered 429.
	CodecQueue int `toml:"codec_queue" json:"codec_queue"`
}

// StorageConfig holds registry persistence configuration.
type StorageConfig struct {
	// DatabasePath is the SQLite file for devices and verifications.
	DatabasePath string `toml:"database_path" json:"database_path"`

	// VerificationRetentionDays bounds the audit-table retention.
	VerificationRetentionDays int `toml:"verification_retention_days" json:"verification_retention_days"`
}

// SessionConfig holds signing-session store configuration.
type SessionConfig struct {
	// TTLSec is the session lifetime in seconds.
	TTLSec int `toml:"ttl_sec" json:"ttl_sec"`

	// MaxSessions caps concurrent pending sessions; the oldest is
	// evicted on overflow.
	MaxSessions int `toml:"max_sessions" json:"max_sessions"`

	// SweepIntervalSec is how often the reaper runs.
	SweepIntervalSec int `toml:"sweep_interval_sec" json:"sweep_interval_sec"`
}

// LimitsConfig bounds inbound payloads.
type LimitsConfig struct {
	// MaxImageBytes caps an encoded upload.
	MaxImageBytes int64 `toml:"max_image_bytes" json:"max_image_bytes"`

	// MaxBasicInfoBytes caps the embedded metadata string.
	MaxBasicInfoBytes int `toml:"max_basic_info_bytes" json:"max_basic_info_bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Hot-reloadable.
	Level string `toml:"level" json:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format"`
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	// FilePath is the JSON-lines audit log. Empty audits to stdout.
	FilePath string `toml:"file_path" json:"file_path"`
}

// SessionTTL returns the session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLSec) * time.Second
}

// RequestTimeout returns the per-request deadline as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}
