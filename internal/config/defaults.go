package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: Version,
		Server: ServerConfig{
			ListenAddr:         ":8787",
			CORSAllowedOrigins: []string{"*"},
			RequestTimeoutSec:  30,
			CodecWorkers:       0, // GOMAXPROCS
			CodecQueue:         64,
		},
		Storage: StorageConfig{
			DatabasePath:              filepath.Join(PlatformDataDir(), "registry.db"),
			VerificationRetentionDays: 90,
		},
		Sessions: SessionConfig{
			TTLSec:           600,
			MaxSessions:      1024,
			SweepIntervalSec: 60,
		},
		Limits: LimitsConfig{
			MaxImageBytes:     50 << 20,
			MaxBasicInfoBytes: 64 << 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			FilePath: filepath.Join(PlatformDataDir(), "audit.log"),
		},
	}
}

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/geocamd/
//   - Linux:   ~/.local/share/geocamd/
//   - Windows: %APPDATA%\geocamd\
//
// Falls back to ~/.geocamd if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return fallbackDataDir()
		}
		return filepath.Join(home, "Library", "Application Support", "geocamd")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return fallbackDataDir()
		}
		return filepath.Join(appData, "geocamd")
	default:
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			return filepath.Join(dataHome, "geocamd")
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return fallbackDataDir()
		}
		return filepath.Join(home, ".local", "share", "geocamd")
	}
}

func fallbackDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".geocamd"
	}
	return filepath.Join(home, ".geocamd")
}
