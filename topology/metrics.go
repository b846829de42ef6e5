package topology

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
)

var (
	buildLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "lodgrid_topology_build_seconds",
		Help: "The time to rebuild the topology of a grid.",
	})

	buildErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lodgrid_topology_build_errors",
		Help: "The errors that occured while building a grid topology.",
	}, []string{
		errTypeLabel,
	})
)

func instrumentBuild(start time.Time) {
	buildLatency.Observe(time.Since(start).Seconds())
}

func instrumentBuildError(err error) {
	buildErrors.
		With(prometheus.Labels{
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}
