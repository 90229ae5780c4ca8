// Package server exposes the signing, verification and registry
// operations over HTTP.
//
// Features:
//   - JSON API with stable machine-readable error codes
//   - CORS allow-list, hot-reloadable without restart
//   - Per-request ids, deadlines and panic recovery
//   - Bounded codec worker pool with 429 backpressure
//   - Prometheus metrics and health endpoints
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/semaphore"

	"geocamd/internal/config"
	"geocamd/internal/health"
	"geocamd/internal/logging"
	"geocamd/internal/metrics"
	"geocamd/internal/registry"
	"geocamd/internal/session"
	"geocamd/internal/signing"
	"geocamd/internal/verify"
)

// Errors
var (
	ErrServerBusy = errors.New("server: codec queue full")
)

// Config wires the server to its collaborators.
type Config struct {
	Conf     *config.Config
	Logger   *slog.Logger
	Audit    *logging.AuditLogger
	Metrics  *metrics.Metrics
	Registry *registry.Registry
	Sessions *session.Store
	Signer   *signing.Orchestrator
	Verifier *verify.Engine
	Health   *health.Checker
	Version  string
}

// Server is the HTTP front-end.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	router   *mux.Router
	cors     atomic.Pointer[cors.Cors]
	gate     *codecGate
	maxImage atomic.Int64
	httpSrv  *http.Server
}

// New builds the server and its route table.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	workers := cfg.Conf.Server.CodecWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queue := cfg.Conf.Server.CodecQueue
	if queue <= 0 {
		queue = 64
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		gate: &codecGate{
			sem:      semaphore.NewWeighted(int64(workers)),
			maxQueue: int64(queue),
			depth:    cfg.Metrics.CodecQueueDepth,
		},
	}
	s.maxImage.Store(cfg.Conf.Limits.MaxImageBytes)
	s.cors.Store(buildCORS(cfg.Conf.Server.CORSAllowedOrigins))
	s.router = s.routes()
	return s
}

func buildCORS(origins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         600,
	})
}

// ApplyConfig adopts the hot-reloadable settings of a fresh config:
// the CORS allow-list, the log level and the image size cap.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.cors.Store(buildCORS(cfg.Server.CORSAllowedOrigins))
	s.maxImage.Store(cfg.Limits.MaxImageBytes)
	logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	s.logger.Info("applied reloaded configuration",
		"cors_origins", len(cfg.Server.CORSAllowedOrigins))
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.requestIDMiddleware)
	r.Use(s.logMiddleware)
	r.Use(s.timeoutMiddleware)

	r.HandleFunc("/process-geocam-image", s.handleProcess).Methods(http.MethodPost)
	r.HandleFunc("/complete-geocam-image", s.handleComplete).Methods(http.MethodPost)
	r.HandleFunc("/abandon-geocam-session", s.handleAbandon).Methods(http.MethodPost)
	r.HandleFunc("/pure-png-verify", s.handlePureVerify).Methods(http.MethodPost)

	r.HandleFunc("/api/register-device-secure", s.handleRegisterDevice).Methods(http.MethodPost)
	r.HandleFunc("/api/devices-secure", s.handleListDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/delete-device", s.handleDeleteDevice).Methods(http.MethodDelete)
	r.HandleFunc("/api/revoke-device", s.handleRevokeDevice).Methods(http.MethodPost)
	r.HandleFunc("/api/verify-image-secure", s.handleVerifySecure).Methods(http.MethodPost)

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Metrics.Registry,
		promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// Handler returns the full middleware stack, CORS outermost.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.cors.Load().Handler(s.router).ServeHTTP(w, r)
	})
}

// Start begins serving on the configured address. It blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Conf.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// codecGate bounds concurrent codec work. Beyond the worker count a
// short queue absorbs bursts; past that callers get ErrServerBusy and
// a 429.
type codecGate struct {
	sem      *semaphore.Weighted
	queued   atomic.Int64
	maxQueue int64
	depth    interface{ Set(float64) }
}

func (g *codecGate) acquire(ctx context.Context) error {
	if g.sem.TryAcquire(1) {
		return nil
	}
	n := g.queued.Add(1)
	g.depth.Set(float64(n))
	defer func() {
		g.depth.Set(float64(g.queued.Add(-1)))
	}()
	if n > g.maxQueue {
		return ErrServerBusy
	}
	return g.sem.Acquire(ctx, 1)
}

func (g *codecGate) release() {
	g.sem.Release(1)
}

// acquireGate reserves a codec slot for the request, writing the error
// response itself when it cannot. A full queue means the client should
// back off (429); a context that died while queued is the request's own
// deadline or disconnect, not server load (503).
func (s *Server) acquireGate(w http.ResponseWriter, r *http.Request) bool {
	switch err := s.gate.acquire(r.Context()); {
	case err == nil:
		return true
	case errors.Is(err, ErrServerBusy):
		s.writeError(w, r, http.StatusTooManyRequests, codeServerBusy,
			"server is busy, retry shortly")
	default:
		s.writeError(w, r, http.StatusServiceUnavailable, codeTimeout,
			"request cancelled while waiting for a codec worker")
	}
	return false
}
