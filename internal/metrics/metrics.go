// Package metrics provides Prometheus instrumentation for the trading agent.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts analysis cycles, partitioned by result
	// ("ok", "partial", "rejected", "cancelled").
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobster_cycles_total",
		Help: "Total number of analysis cycles",
	}, []string{"result"})

	// CycleDuration tracks how long a full cycle takes.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clobster_cycle_duration_seconds",
		Help:    "Analysis cycle duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// TradesTotal counts committed trades, partitioned by action.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobster_trades_total",
		Help: "Total number of committed trades",
	}, []string{"action"})

	// ExitsTotal counts position closures by exit reason.
	ExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobster_exits_total",
		Help: "Positions closed, by exit reason",
	}, []string{"reason"})

	// FeedFailures counts market-data fetches that failed or timed out.
	FeedFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobster_feed_failures_total",
		Help: "Market feed fetch failures",
	}, []string{"op"})

	// LedgerFailures counts ledger operations that were skipped.
	LedgerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobster_ledger_failures_total",
		Help: "Ledger operations that failed",
	}, []string{"op"})

	// AnnotationFallbacks counts annotations served from templates.
	AnnotationFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clobster_annotation_fallbacks_total",
		Help: "Trade annotations that used the fallback template",
	})

	// OpenPositions tracks the number of open positions after a cycle.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clobster_open_positions",
		Help: "Number of currently open positions",
	})

	// CashBalance tracks the account cash balance after a cycle.
	CashBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clobster_cash_balance",
		Help: "Account cash balance",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clobster_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clobster_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clobster_http_request_duration_seconds",
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
		path := routePattern(r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels requests by chi route pattern so path parameters
// do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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
