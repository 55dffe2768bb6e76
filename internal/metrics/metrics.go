package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpgate",
			Subsystem: "pool",
			Name:      "spawns_total",
			Help:      "Number of successful backend process spawns.",
		}, []string{"server"},
	)
	processCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpgate",
			Subsystem: "pool",
			Name:      "crashes_total",
			Help:      "Number of unexpected backend exits and spawn failures.",
		}, []string{"server"},
	)
	crashLoopRefusals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpgate",
			Subsystem: "pool",
			Name:      "crash_loop_refusals_total",
			Help:      "Number of respawns refused by the crash-loop breaker.",
		}, []string{"server"},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpgate",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxied JSON-RPC requests by terminal outcome.",
		}, []string{"server", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcpgate",
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Round-trip time from dispatch to correlated response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server"},
	)
	requestRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpgate",
			Subsystem: "proxy",
			Name:      "request_retries_total",
			Help:      "Requests re-dispatched after a retryable failure.",
		}, []string{"server"},
	)
	pendingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcpgate",
			Subsystem: "proxy",
			Name:      "pending_requests",
			Help:      "Correlations currently awaiting a backend response.",
		}, []string{"server"},
	)
	pooledProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mcpgate",
			Subsystem: "pool",
			Name:      "processes",
			Help:      "Backend processes currently registered in the pool.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processSpawns, processCrashes, crashLoopRefusals, requests, requestDuration, requestRetries, pendingRequests, pooledProcesses}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers used by internal packages. They no-op until Register has run.

func IncSpawn(server string) {
	if regOK.Load() {
		processSpawns.WithLabelValues(server).Inc()
	}
}

func IncCrash(server string) {
	if regOK.Load() {
		processCrashes.WithLabelValues(server).Inc()
	}
}

func IncCrashLoopRefusal(server string) {
	if regOK.Load() {
		crashLoopRefusals.WithLabelValues(server).Inc()
	}
}

func IncRequest(server, outcome string) {
	if regOK.Load() {
		requests.WithLabelValues(server, outcome).Inc()
	}
}

func ObserveRequestDuration(server string, seconds float64) {
	if regOK.Load() {
		requestDuration.WithLabelValues(server).Observe(seconds)
	}
}

func IncRetry(server string) {
	if regOK.Load() {
		requestRetries.WithLabelValues(server).Inc()
	}
}

func SetPendingRequests(server string, n int) {
	if regOK.Load() {
		pendingRequests.WithLabelValues(server).Set(float64(n))
	}
}

func SetPooledProcesses(n int) {
	if regOK.Load() {
		pooledProcesses.Set(float64(n))
	}
}
