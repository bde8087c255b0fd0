// Package prometheus holds the metrics exported by the daemon on its
// metrics listener.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "diskfmt"

	APISubsystem     = "api"
	JobsSubsystem    = "jobs"
	BackendSubsystem = "backend"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "build_info",
		Namespace: Namespace,
		Help:      "Build information of the running daemon, always 1",
	}, []string{"version", "backend"})
)

func SetBuildInfo(version, backend string) {
	BuildInfo.Reset()
	BuildInfo.WithLabelValues(version, backend).Set(1)
}
