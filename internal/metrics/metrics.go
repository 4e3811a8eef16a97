// Package metrics provides Prometheus instrumentation for the settlement
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StakesTotal counts accepted stakes.
	StakesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paripool_stakes_total",
		Help: "Total number of stakes accepted",
	})

	// StakePoints tracks cumulative points staked.
	StakePoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paripool_stake_points_total",
		Help: "Cumulative points staked across all markets",
	})

	// StakeRejections counts rejected stakes by reason.
	StakeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paripool_stake_rejections_total",
		Help: "Stakes rejected, partitioned by reason",
	}, []string{"reason"})

	// MarketsResolved counts completed settlements.
	MarketsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paripool_markets_resolved_total",
		Help: "Markets resolved",
	})

	// PayoutPoints tracks cumulative points paid out to winners.
	PayoutPoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paripool_payout_points_total",
		Help: "Cumulative points credited to winning stakes",
	})

	// RemainderPoints tracks cumulative rounding remainder retained.
	RemainderPoints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paripool_remainder_points_total",
		Help: "Cumulative rounding remainder retained on resolution",
	})

	// ActiveMarkets tracks the number of unresolved markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paripool_active_markets",
		Help: "Number of markets not yet resolved",
	})

	// LockTimeouts counts bounded-wait lock acquisitions that timed out.
	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paripool_lock_timeouts_total",
		Help: "Keyed lock acquisitions that hit the bounded wait",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paripool_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paripool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paripool_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the route surface is small and
		// ids are the only variable segments.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
