// Package metrics exposes the Prometheus metrics of the book metadata client.
// All metrics are defined in their respective packages (client, ratelimit,
// cache, batch) and registered via promauto on the default registry.
//
// This package provides the HTTP surface and the reference for all metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the client packages.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServer returns an HTTP server exposing /metrics and /health on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", healthHandler)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - book_api_requests_total{status} (Counter): Requests by HTTP status ("network_error" for transport failures)
//   - book_api_request_duration_seconds (Histogram): Request duration
//   - book_api_results_total{kind} (Counter): Lookup results by kind (success, not_found, permanent_error, transient_error)
//
// Retry Metrics (pkg/client):
//   - book_api_retries_total{reason} (Counter): Retries by HTTP status or "network"
//   - book_api_retry_exhausted_total (Counter): Keys that exhausted max attempts
//
// Admission Metrics (pkg/ratelimit):
//   - book_ratelimit_admissions_total (Counter): Requests admitted
//   - book_ratelimit_wait_seconds (Histogram): Time spent waiting for admission
//   - book_ratelimit_in_flight (Gauge): Admitted requests not yet released
//
// Cache Metrics (pkg/cache):
//   - book_cache_hits_total{kind} (Counter): Cache hits by entry kind (found, not_found)
//   - book_cache_misses_total (Counter): Cache misses
//   - book_cache_errors_total{operation} (Counter): Cache operation errors
//
// Batch Metrics (pkg/batch):
//   - book_batch_keys_total{outcome} (Counter): Raw keys by outcome (result kind, invalid, duplicate)
//   - book_batch_cooldowns_total (Counter): Cooldown pauses taken
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(book_cache_hits_total[5m])) /
//   (sum(rate(book_cache_hits_total[5m])) + sum(rate(book_cache_misses_total[5m])))
//
//   # Throttling by the API
//   rate(book_api_requests_total{status="429"}[5m])
//
//   # Lookup Success Ratio
//   rate(book_api_results_total{kind="success"}[5m]) / sum(rate(book_api_results_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(book_api_request_duration_seconds_bucket[5m]))
