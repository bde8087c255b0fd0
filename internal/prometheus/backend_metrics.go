package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackendCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "call_duration_seconds",
		Namespace: Namespace,
		Subsystem: BackendSubsystem,
		Help:      "Duration of synchronous backend calls.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"backend", "op"})
)

var (
	BackendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "errors_total",
		Namespace: Namespace,
		Subsystem: BackendSubsystem,
		Help:      "Failed backend calls",
	}, []string{"backend", "op"})
)

func ObserveBackendCall(backend, op string, started time.Time, err error) {
	BackendCallDuration.WithLabelValues(backend, op).Observe(time.Since(started).Seconds())
	if err != nil {
		BackendErrors.WithLabelValues(backend, op).Inc()
	}
}
