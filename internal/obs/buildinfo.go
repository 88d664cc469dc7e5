package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "matchbase API build information.",
		},
		[]string{"version", "env"},
	)
)

// InitBuildInfo publishes build_info{version,env} 1.
func InitBuildInfo(version, env string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, env).Set(1)
}
