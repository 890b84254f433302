// Package metrics provides Prometheus instrumentation for the curve optimizer.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/curve-optimizer/internal/optimizer"
)

var (
	// OptimizerRuns counts optimizer runs by method and terminal status.
	OptimizerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curveopt_optimizer_runs_total",
		Help: "Total number of optimizer runs",
	}, []string{"method", "status"})

	// OptimizerDuration tracks the wall time of a single optimizer run.
	OptimizerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curveopt_optimizer_duration_seconds",
		Help:    "Optimizer run duration in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"method"})

	// OptimizerIterations tracks iterations per run.
	OptimizerIterations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curveopt_optimizer_iterations",
		Help:    "Iterations used per optimizer run",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
	}, []string{"method"})

	// BatchMiniverses counts batch entries by outcome.
	BatchMiniverses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curveopt_batch_miniverses_total",
		Help: "Miniverses processed by batch runs",
	}, []string{"outcome"})

	// CurvesLoaded tracks the number of curves in the current snapshot.
	CurvesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curveopt_curves_loaded",
		Help: "Number of curves in the current snapshot",
	})

	// RiskRejections counts instruction batches rejected by the exposure limiter.
	RiskRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curveopt_risk_rejections_total",
		Help: "Instruction batches rejected by the exposure limiter",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curveopt_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curveopt_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curveopt_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveResult records one optimizer run.
func ObserveResult(r *optimizer.Result) {
	OptimizerRuns.WithLabelValues(r.Method, r.Status.String()).Inc()
	OptimizerDuration.WithLabelValues(r.Method).Observe(r.Elapsed.Seconds())
	OptimizerIterations.WithLabelValues(r.Method).Observe(float64(r.Iterations))
}

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

		// Label by route pattern to keep cardinality bounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
