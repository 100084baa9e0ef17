// Package metrics provides Prometheus instrumentation for the price engine.
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
	// AdjustmentBatchesTotal counts committed adjustment batches.
	AdjustmentBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricer_adjustment_batches_total",
		Help: "Total number of committed price adjustment batches",
	})

	// ServicesAdjustedTotal counts services whose price moved at commit.
	ServicesAdjustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricer_services_adjusted_total",
		Help: "Total number of per-service price changes committed",
	})

	// RandomWalkStepsTotal counts inter-cycle random walk applications.
	RandomWalkStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricer_random_walk_steps_total",
		Help: "Total number of inter-cycle random walk steps applied",
	})

	// CurrentPrice tracks the live price per service in SOL.
	CurrentPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pricer_current_price_sol",
		Help: "Current live price per service in SOL",
	}, []string{"service_id"})

	// DemandScore tracks the last committed demand score per service.
	DemandScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pricer_demand_score",
		Help: "Demand score used at the last committed adjustment",
	}, []string{"service_id"})

	// AdjustRejectionsTotal counts rejected /adjust triggers by reason.
	AdjustRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricer_adjust_rejections_total",
		Help: "Rejected adjustment triggers",
	}, []string{"reason"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricer_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricer_http_request_duration_seconds",
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
		// parameter-free, so cardinality stays bounded.
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
