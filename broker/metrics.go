package broker

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges this package exports. Callers
// register them against their own *prometheus.Registry — the core never
// touches prometheus.DefaultRegisterer — so embedding services control what
// gets exposed and under what namespace.
type Metrics struct {
	PublishTotal         *prometheus.CounterVec
	PublishFailuresTotal *prometheus.CounterVec
	DeliveriesTotal      *prometheus.CounterVec
	Redeliveries         *prometheus.CounterVec
	Reconnects           prometheus.Counter
	Connected            prometheus.Gauge
}

// NewMetrics builds a Metrics set and registers it against reg. Passing a
// nil registry returns a Metrics set backed by a fresh, unregistered
// registry — useful in tests that don't care about exposition.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		PublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "publish_total",
			Help:      "Publish attempts, labeled by source and type.",
		}, []string{"source", "type"}),
		PublishFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "publish_failures_total",
			Help:      "Publish failures, labeled by source, type and reason.",
		}, []string{"source", "type", "reason"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "deliveries_total",
			Help:      "Messages delivered to subscription handlers, labeled by pattern.",
		}, []string{"pattern"}),
		Redeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "redeliveries_suppressed_total",
			Help:      "Deliveries suppressed by the idempotency cache, labeled by pattern.",
		}, []string{"pattern"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "reconnects_total",
			Help:      "Broker reconnect events observed by this process.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventbus",
			Name:      "connected",
			Help:      "1 if the broker session is currently connected, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		m.PublishTotal,
		m.PublishFailuresTotal,
		m.DeliveriesTotal,
		m.Redeliveries,
		m.Reconnects,
		m.Connected,
	)
	return m
}
