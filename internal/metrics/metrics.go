// Package metrics exposes Prometheus metrics for geocamd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the server's Prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	SessionsOpen     prometheus.Gauge
	SessionsEvicted  prometheus.Counter
	SessionsExpired  prometheus.Counter
	SigningsTotal    *prometheus.CounterVec
	VerdictsTotal    *prometheus.CounterVec
	CodecQueueDepth  prometheus.Gauge
	CodecJobDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geocam_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geocam_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		SessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "geocam_signing_sessions_open",
			Help: "Signing sessions currently pending completion.",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "geocam_signing_sessions_evicted_total",
			Help: "Sessions evicted because the store was full.",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "geocam_signing_sessions_expired_total",
			Help: "Sessions removed by the TTL reaper.",
		}),
		SigningsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geocam_signings_total",
			Help: "Two-phase signing completions by outcome.",
		}, []string{"outcome"}),
		VerdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geocam_verifications_total",
			Help: "Verification verdicts by reason.",
		}, []string{"reason"}),
		CodecQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "geocam_codec_queue_depth",
			Help: "Codec jobs waiting for a worker.",
		}),
		CodecJobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geocam_codec_job_duration_seconds",
			Help:    "Codec job latency by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}
