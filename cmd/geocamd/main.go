// geocamd - Tamper-evident geotagged photography server
//
//	geocamd run             Start the HTTP server
//	geocamd check-config    Validate the configuration file and exit
//	geocamd version         Print version information
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"geocamd/internal/config"
	"geocamd/internal/health"
	"geocamd/internal/logging"
	"geocamd/internal/metrics"
	"geocamd/internal/registry"
	"geocamd/internal/server"
	"geocamd/internal/session"
	"geocamd/internal/signing"
	"geocamd/internal/verify"
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "check-config":
		cmdCheckConfig(os.Args[2:])
	case "version":
		fmt.Printf("geocamd %s (commit: %s)\n", version, commit)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`geocamd - Tamper-evident geotagged photography server

USAGE:
    geocamd <command> [options]

COMMANDS:
    run             Start the HTTP server
    check-config    Validate the configuration file and exit
    version         Print version information
    help            Show this help message

The server exposes the two-phase signing flow (/process-geocam-image,
/complete-geocam-image), image verification (/pure-png-verify) and the
device registry API. Configuration lives in a TOML file and hot-reloads
the CORS allow-list and log level on change.`)
}

func defaultConfigPath() string {
	return filepath.Join(config.PlatformDataDir(), "config.toml")
}

func cmdCheckConfig(args []string) {
	fs := flag.NewFlagSet("check-config", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "configuration file path")
	fs.Parse(args)

	cfg, err := config.NewLoader(*configPath, nil).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Configuration OK (listen %s, database %s)\n",
		cfg.Server.ListenAddr, cfg.Storage.DatabasePath)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "configuration file path")
	listenAddr := fs.String("listen", "", "override the configured listen address")
	fs.Parse(args)

	loader := config.NewLoader(*configPath, nil)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	logger := logging.New(&logging.Config{
		Level:     logging.ParseLevel(cfg.Logging.Level),
		Format:    logging.ParseFormat(cfg.Logging.Format),
		Component: "geocamd",
	})

	audit, err := logging.NewAuditLogger(cfg.Audit.FilePath)
	if err != nil {
		logger.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer audit.Close()

	reg, err := registry.Open(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to open registry database", "error", err)
		os.Exit(1)
	}
	defer reg.Close()

	m := metrics.New()

	sessions := session.New(session.Config{
		TTL:           cfg.SessionTTL(),
		MaxSessions:   cfg.Sessions.MaxSessions,
		SweepInterval: time.Duration(cfg.Sessions.SweepIntervalSec) * time.Second,
		Logger:        logger.With("component", "sessions"),
		OnEvict:       func() { m.SessionsEvicted.Inc() },
		OnExpire:      func(n int) { m.SessionsExpired.Add(float64(n)) },
	})
	defer sessions.Close()

	checker := health.NewChecker(version)
	checker.Register(&health.Component{
		Name:     "registry",
		Critical: true,
		Check: func(ctx context.Context) health.CheckResult {
			if err := reg.Ping(ctx); err != nil {
				return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error()}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		},
	})
	checker.Register(&health.Component{
		Name: "sessions",
		Check: func(ctx context.Context) health.CheckResult {
			return health.CheckResult{
				Status:  health.StatusHealthy,
				Message: fmt.Sprintf("%d pending", sessions.Len()),
			}
		},
	})

	srv := server.New(server.Config{
		Conf:     cfg,
		Logger:   logger.With("component", "http"),
		Audit:    audit,
		Metrics:  m,
		Registry: reg,
		Sessions: sessions,
		Signer: signing.New(sessions, signing.Config{
			Precheck: true,
			Logger:   logger.With("component", "signing"),
		}),
		Verifier: verify.New(reg, logger.With("component", "verify")),
		Health:   checker,
		Version:  version,
	})

	loader.OnChange(srv.ApplyConfig)
	if err := loader.Watch(); err != nil {
		logger.Warn("config watch unavailable", "error", err)
	}
	defer loader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go pruneLoop(ctx, logger, reg, cfg.Storage.VerificationRetentionDays)

	audit.Log(logging.AuditEvent{
		EventType: logging.AuditEventStartup,
		Action:    "run",
		Result:    "success",
		Details:   map[string]any{"version": version, "listen": cfg.Server.ListenAddr},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	checker.SetReady(true)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}

	audit.Log(logging.AuditEvent{
		EventType: logging.AuditEventShutdown,
		Action:    "run",
		Result:    "success",
	})
}

// pruneLoop drops verification audit rows past the retention window,
// once at startup and then daily.
func pruneLoop(ctx context.Context, logger *slog.Logger, reg *registry.Registry, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	prune := func() {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		n, err := reg.PruneVerifications(ctx, cutoff)
		if err != nil {
			logger.Error("verification prune failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("pruned verification records", "removed", n)
		}
	}
	prune()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
