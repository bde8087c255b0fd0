package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunningJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "running_jobs",
		Namespace: Namespace,
		Subsystem: JobsSubsystem,
		Help:      "Format jobs that have not reached a terminal state",
	}, []string{"filesystem"})
)

var (
	FinishedJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "finished_jobs_total",
		Namespace: Namespace,
		Subsystem: JobsSubsystem,
		Help:      "Format jobs by terminal state",
	}, []string{"filesystem", "state"})
)

var (
	RejectedCancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "rejected_cancellations_total",
		Namespace: Namespace,
		Subsystem: JobsSubsystem,
		Help:      "Cancellation requests the backend refused",
	})
)

var (
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "job_duration_seconds",
		Namespace: Namespace,
		Subsystem: JobsSubsystem,
		Help:      "Duration of a format job from start to its terminal state.",
		Buckets:   []float64{.1, .5, 1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8192},
	}, []string{"filesystem", "state"})
)

func StartJobMetrics(filesystem string) {
	RunningJobs.WithLabelValues(filesystem).Inc()
}

func FinishJobMetrics(started time.Time, finished time.Time, state string, filesystem string) {
	RunningJobs.WithLabelValues(filesystem).Dec()
	FinishedJobs.WithLabelValues(filesystem, state).Inc()
	if !started.IsZero() && !finished.IsZero() {
		JobDuration.WithLabelValues(filesystem, state).Observe(finished.Sub(started).Seconds())
	}
}

func RejectedCancelMetrics() {
	RejectedCancellations.Inc()
}
