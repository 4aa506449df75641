package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/FLClab/TiffWrapper/internal/model"
)

var (
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msrbridge_bridge_calls_total",
			Help: "Total number of bridge calls by operation and outcome.",
		},
		[]string{"op", "status"},
	)

	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msrbridge_bridge_call_duration_seconds",
			Help:    "Bridge call duration from enqueue to result, in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"op"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "msrbridge_bridge_queue_depth",
			Help: "Number of commands waiting for the runtime worker.",
		},
	)

	runtimeUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "msrbridge_bridge_runtime_up",
			Help: "1 while a runtime worker is live, 0 otherwise.",
		},
	)

	runtimeStartup = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "msrbridge_bridge_runtime_startup_seconds",
			Help:    "Duration of runtime initialization, in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

func init() {
	prometheus.MustRegister(callsTotal)
	prometheus.MustRegister(callDuration)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(runtimeUp)
	prometheus.MustRegister(runtimeStartup)

	for _, op := range []string{model.OpRead, model.OpGetMetadata} {
		for _, status := range []string{model.CallStatusOK, model.CallStatusFailed, model.CallStatusTimeout} {
			callsTotal.WithLabelValues(op, status)
		}
	}
}
