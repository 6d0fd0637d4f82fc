// Package metrics defines the Prometheus collectors exported by peerchat binaries.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"server", "method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peerchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"server", "method", "route"},
	)

	// Node metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_messages_sent_total",
			Help: "Outbound messages by terminal state",
		},
		[]string{"state"}, // "delivered", "relayed" or "failed"
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_messages_received_total",
			Help: "Inbound messages accepted into history",
		},
		[]string{"method"}, // "direct" or "relay"
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_frames_dropped_total",
			Help: "Inbound frames dropped before reaching history",
		},
		[]string{"reason"},
	)

	DirectoryCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_directory_calls_total",
			Help: "Directory adapter calls made by the node",
		},
		[]string{"op", "result"},
	)

	PresenceDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peerchat_presence_degraded",
			Help: "1 while the node cannot reach the directory",
		},
	)

	// Directory server metrics
	RelayBundlesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_relay_bundles_stored_total",
			Help: "Relay bundles accepted by the directory",
		},
	)

	RelayBundlesDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_relay_bundles_drained_total",
			Help: "Relay bundles returned by drains",
		},
	)
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Flush lets streaming handlers behind this middleware flush.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns chi middleware recording request counts and latency for server.
// Routes are labelled with their chi pattern to keep cardinality bounded.
func Middleware(server string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			HTTPRequestsTotal.WithLabelValues(server, r.Method, route, strconv.Itoa(wrapped.status)).Inc()
			HTTPRequestDuration.WithLabelValues(server, r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
