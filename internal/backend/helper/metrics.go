package helper

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/FLClab/TiffWrapper/internal/protocol"
)

// Metric label values for request status.
const (
	statusOK     = "ok"
	statusFailed = "failed"
)

var (
	connectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "msrbridge_helper_connect_seconds",
			Help:    "Duration from helper spawn or dial to a completed init, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	activeHelpers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "msrbridge_helper_active",
			Help: "Number of connected helper runtimes.",
		},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msrbridge_helper_request_seconds",
			Help:    "Round-trip time of one protocol request to the helper, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msrbridge_helper_requests_total",
			Help: "Total number of protocol requests sent to the helper.",
		},
		[]string{"op", "status"},
	)
)

var requestOps = []string{
	protocol.OpInit, protocol.OpOpen, protocol.OpPlane,
	protocol.OpMetadata, protocol.OpClose, protocol.OpShutdown,
}

func init() {
	prometheus.MustRegister(connectDuration)
	prometheus.MustRegister(activeHelpers)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(requestsTotal)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, op := range requestOps {
		requestsTotal.WithLabelValues(op, statusOK)
		requestsTotal.WithLabelValues(op, statusFailed)
	}
}

// instrumentedCaller records per-request metrics around a protocol caller.
type instrumentedCaller struct {
	next protocol.Caller
}

func (c instrumentedCaller) Call(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	start := time.Now()
	resp, err := c.next.Call(ctx, req)
	requestDuration.WithLabelValues(req.Op).Observe(time.Since(start).Seconds())

	status := statusOK
	if err != nil || resp.Error != "" {
		status = statusFailed
	}
	requestsTotal.WithLabelValues(req.Op, status).Inc()
	return resp, err
}
