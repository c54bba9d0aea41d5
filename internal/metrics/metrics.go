// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/polybet/internal/events"
)

var (
	// TradesTotal counts executed trades, partitioned by direction and outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polybet_trades_total",
		Help: "Total number of trades executed",
	}, []string{"direction", "outcome"})

	// OperationLatency tracks how long market mutations take.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polybet_operation_latency_seconds",
		Help:    "Market operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// OperationErrors counts rejected market operations by error class.
	OperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polybet_operation_errors_total",
		Help: "Rejected market operations",
	}, []string{"op", "class"})

	// MarketsCreated counts markets deployed by the factory.
	MarketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polybet_markets_created_total",
		Help: "Number of markets created",
	})

	// ActiveMarkets tracks markets listed as active in the registry.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polybet_active_markets",
		Help: "Number of markets listed as active",
	})

	// EventsTotal counts committed events by kind.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polybet_events_total",
		Help: "Committed market events",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polybet_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polybet_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polybet_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
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

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack is required for websocket upgrades behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	return h.Hijack()
}

// EventCounter is an events.Publisher feeding the event and trade counters.
type EventCounter struct{}

func (EventCounter) Publish(_ context.Context, envs ...events.Envelope) {
	for _, env := range envs {
		EventsTotal.WithLabelValues(string(env.Kind)).Inc()
		switch ev := env.Payload.(type) {
		case events.TokensPurchased:
			TradesTotal.WithLabelValues("buy", strings.ToLower(ev.Outcome.String())).Inc()
		case events.TokensSold:
			TradesTotal.WithLabelValues("sell", strings.ToLower(ev.Outcome.String())).Inc()
		case events.MarketCreated:
			MarketsCreated.Inc()
		}
	}
}
