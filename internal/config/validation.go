package config

import (
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrBadListenAddr = errors.New("config: listen_addr must be host:port or :port")
	ErrBadLevel      = errors.New("config: logging level must be debug, info, warn or error")
	ErrBadFormat     = errors.New("config: logging format must be text or json")
)

// Validate checks the configuration for values the server cannot run
// with. It normalizes nothing; bad values are hard failures so a typo
// never silently falls back.
func (c *Config) Validate() error {
	var errs []error

	if !strings.Contains(c.Server.ListenAddr, ":") {
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadListenAddr, c.Server.ListenAddr))
	}
	if c.Server.RequestTimeoutSec <= 0 {
		errs = append(errs, errors.New("config: request_timeout_sec must be positive"))
	}
	if c.Server.CodecWorkers < 0 {
		errs = append(errs, errors.New("config: codec_workers must not be negative"))
	}
	if c.Server.CodecQueue < 0 {
		errs = append(errs, errors.New("config: codec_queue must not be negative"))
	}
	if len(c.Server.CORSAllowedOrigins) == 0 {
		errs = append(errs, errors.New("config: cors_allowed_origins must not be empty"))
	}

	if c.Storage.DatabasePath == "" {
		errs = append(errs, errors.New("config: database_path required"))
	}
	if c.Storage.VerificationRetentionDays <= 0 {
		errs = append(errs, errors.New("config: verification_retention_days must be positive"))
	}

	if c.Sessions.TTLSec <= 0 {
		errs = append(errs, errors.New("config: session ttl_sec must be positive"))
	}
	if c.Sessions.MaxSessions <= 0 {
		errs = append(errs, errors.New("config: max_sessions must be positive"))
	}
	if c.Sessions.SweepIntervalSec <= 0 {
		errs = append(errs, errors.New("config: sweep_interval_sec must be positive"))
	}

	if c.Limits.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("config: max_image_bytes must be positive"))
	}
	if c.Limits.MaxBasicInfoBytes <= 0 {
		errs = append(errs, errors.New("config: max_basic_info_bytes must be positive"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadLevel, c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadFormat, c.Logging.Format))
	}

	return errors.Join(errs...)
}
