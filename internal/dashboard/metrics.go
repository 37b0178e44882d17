package dashboard

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	syncer "github.com/mschirtzinger/todosync/internal/sync"
)

// Metrics records sync cycles as Prometheus metrics. It implements
// sync.Observer.
type Metrics struct {
	cycles    *prometheus.CounterVec
	pushed    prometheus.Counter
	skipped   prometheus.Counter
	pulled    prometheus.Counter
	conflicts *prometheus.CounterVec
	duration  prometheus.Histogram
}

var _ syncer.Observer = (*Metrics)(nil)

// NewMetrics creates the sync metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "todosync",
			Name:      "sync_cycles_total",
			Help:      "Sync cycles run, by result.",
		}, []string{"result"}),
		pushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "todosync",
			Name:      "ops_pushed_total",
			Help:      "Queued operations accepted by the remote.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "todosync",
			Name:      "ops_skipped_total",
			Help:      "Queued operations held back behind a conflict.",
		}),
		pulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "todosync",
			Name:      "records_pulled_total",
			Help:      "Remote records applied to the local replica.",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "todosync",
			Name:      "conflicts_total",
			Help:      "Version conflicts met during push, by resolution.",
		}, []string{"resolution"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "todosync",
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	for _, c := range []prometheus.Collector{m.cycles, m.pushed, m.skipped, m.pulled, m.conflicts, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// OnSyncComplete updates the metrics from one cycle.
func (m *Metrics) OnSyncComplete(outcome *syncer.Outcome, err error) {
	m.cycles.WithLabelValues(cycleResult(err)).Inc()
	if outcome == nil {
		return
	}

	m.pushed.Add(float64(outcome.Pushed))
	m.skipped.Add(float64(outcome.Skipped))
	m.pulled.Add(float64(outcome.Pulled))
	m.duration.Observe(outcome.Duration.Seconds())
	for _, c := range outcome.Conflicts {
		m.conflicts.WithLabelValues(c.Resolution).Inc()
	}
}

func cycleResult(err error) string {
	var transport *syncer.TransportError
	var local *syncer.LocalStoreError
	var policy *syncer.ResolutionPolicyError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &transport):
		return "transport_error"
	case errors.As(err, &local):
		return "local_error"
	case errors.As(err, &policy):
		return "unresolved"
	}
	return "error"
}
