package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FLClab/TiffWrapper/internal/bridge"
)

const (
	unmatched = "unmatched"
	// noErrorKind labels requests that did not fail inside the bridge.
	noErrorKind = "none"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msrbridge_http_requests_total",
			Help: "Total number of HTTP requests by route, status and bridge error kind.",
		},
		[]string{"method", "route", "status", "error_kind"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "msrbridge_http_request_duration_seconds",
			Help: "HTTP request duration in seconds.",
			// Reads of large MSR files run for tens of seconds.
			Buckets: []float64{.005, .025, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route"},
	)

	arrayBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msrbridge_http_array_bytes_total",
			Help: "Pixel bytes returned in /v1/read responses.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(arrayBytesTotal)
}

type errorKindKey struct{}

// withErrorKind gives the handler a slot to report the bridge error kind
// of a failed request.
func withErrorKind(r *http.Request) (*http.Request, *bridge.Kind) {
	kind := new(bridge.Kind)
	return r.WithContext(context.WithValue(r.Context(), errorKindKey{}, kind)), kind
}

// recordErrorKind stores kind for the metrics middleware. It is a no-op
// outside the middleware.
func recordErrorKind(ctx context.Context, kind bridge.Kind) {
	if slot, ok := ctx.Value(errorKindKey{}).(*bridge.Kind); ok {
		*slot = kind
	}
}

// metricsMiddleware records request count and duration for every HTTP request.
// Uses the chi route pattern (not the raw path) to avoid unbounded cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		r, kind := withErrorKind(r)

		next.ServeHTTP(ww, r)

		duration := time.Since(start).Seconds()
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		errKind := string(*kind)
		if errKind == "" {
			errKind = noErrorKind
		}

		route := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status), errKind).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// metricsHandler returns the Prometheus metrics handler.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
