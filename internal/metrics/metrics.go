// Package metrics holds the Prometheus collectors for the poll pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle results used as the "result" label of PollCycles.
const (
	ResultSuccess      = "success"
	ResultFetchFailed  = "fetch_failed"
	ResultStoreFailed  = "store_failed"
	ResultNoNewEvents  = "no_new_events"
	ResultNotifyFailed = "failed"
	ResultNotifySent   = "sent"
)

// Metrics groups the pipeline collectors
type Metrics struct {
	PollCycles      *prometheus.CounterVec
	EventsBuilt     prometheus.Counter
	EventsPersisted prometheus.Counter
	Notifications   *prometheus.CounterVec
	CycleDuration   prometheus.Summary
	LastSuccess     prometheus.Gauge
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "econwatch",
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by outcome",
		}, []string{"result"}),
		EventsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "econwatch",
			Name:      "events_built_total",
			Help:      "New events built from fetched observations",
		}),
		EventsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "econwatch",
			Name:      "events_persisted_total",
			Help:      "Events written to the event store",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "econwatch",
			Name:      "notifications_total",
			Help:      "Notification attempts by outcome",
		}, []string{"result"}),
		CycleDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace: "econwatch",
			Name:      "poll_cycle_duration_seconds",
			Help:      "Time spent in one poll cycle",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "econwatch",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that fetched data successfully",
		}),
	}

	reg.MustRegister(
		m.PollCycles,
		m.EventsBuilt,
		m.EventsPersisted,
		m.Notifications,
		m.CycleDuration,
		m.LastSuccess,
	)
	return m
}

// ObserveCycle records the outcome and duration of one cycle
func (m *Metrics) ObserveCycle(result string, started time.Time) {
	m.PollCycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(time.Since(started).Seconds())
	if result != ResultFetchFailed {
		m.LastSuccess.Set(float64(time.Now().Unix()))
	}
}
