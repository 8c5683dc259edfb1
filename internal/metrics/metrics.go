// Package metrics exposes Prometheus collectors for the radio server, in
// the same style as the rest of the ambient stack: package-level
// collectors registered once, scraped over plain HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "packetbbs_connections_total",
		Help: "Total number of radio connections accepted",
	})
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "packetbbs_connections_active",
		Help: "Current number of active radio connections",
	})
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "packetbbs_requests_total",
		Help: "Total number of requests handled, by root path and status",
	}, []string{"path", "status"})
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "packetbbs_request_duration_seconds",
		Help:    "Handler latency by root path",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"path"})

	JobsQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "packetbbs_jobs_queued",
		Help: "Number of jobs currently waiting in the FIFO queue",
	})
	JobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "packetbbs_jobs_active",
		Help: "Number of jobs currently running in containers",
	})
	JobsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "packetbbs_jobs_finished_total",
		Help: "Total number of jobs that reached a terminal state, by status",
	}, []string{"status"})

	ContainersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "packetbbs_containers_active",
		Help: "Number of per-user containers currently tracked by the orchestrator",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal, ConnectionsActive, RequestsTotal, RequestDuration,
		JobsQueued, JobsActive, JobsFinishedTotal, ContainersActive,
	)
}

// Serve starts a blocking HTTP server exposing /metrics on addr.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
