package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TotalRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "total_requests",
		Namespace: Namespace,
		Subsystem: APISubsystem,
		Help:      "total number of http requests made to diskfmtd",
	})
)

var (
	FormatRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "total_format_requests",
		Namespace: Namespace,
		Subsystem: APISubsystem,
		Help:      "total number of format requests made to diskfmtd",
	})
)

var (
	// counts all 4xx and 5xx responses
	FailedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "total_failed_requests",
		Namespace: Namespace,
		Subsystem: APISubsystem,
		Help:      "total number of failed http requests",
	}, []string{"code"})
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "http_duration_seconds",
		Namespace: Namespace,
		Subsystem: APISubsystem,
		Help:      "Duration of HTTP requests.",
		Buckets:   []float64{.005, .01, .025, .05, .075, .1, .2, .5, .75, 1, 1.5, 2, 3, 5},
	}, []string{"path"})
)
