package reload

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Traversal skip reasons.
const (
	skipStat    = "stat"
	skipIgnored = "ignored"
	skipReadDir = "readdir"
	skipCycle   = "cycle"
)

// Metrics holds the Prometheus collectors for the reload plugin.
type Metrics struct {
	Targets        prometheus.Gauge
	Changes        prometheus.Counter
	Restarts       *prometheus.CounterVec
	Coalesced      prometheus.Counter
	StatFailures   prometheus.Counter
	Deregistered   prometheus.Counter
	TraversalSkips *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Targets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "reload",
			Name:      "watched_targets",
			Help:      "Number of files currently watched for modification.",
		}),
		Changes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "reload",
			Name:      "changes_total",
			Help:      "File modifications detected.",
		}),
		Restarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reload",
			Name:      "restarts_requested_total",
			Help:      "Worker restarts requested from the supervisor.",
		}, []string{"signal"}),
		Coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: "reload",
			Name:      "changes_coalesced_total",
			Help:      "Changes folded into a pending debounced restart.",
		}),
		StatFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "reload",
			Name:      "stat_failures_total",
			Help:      "Failed modification-time samples of watched files.",
		}),
		Deregistered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "reload",
			Name:      "targets_deregistered_total",
			Help:      "Watch targets dropped after repeated stat failures.",
		}),
		TraversalSkips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reload",
			Name:      "traversal_skips_total",
			Help:      "Paths not expanded during traversal, by reason.",
		}, []string{"reason"}),
	}
}
