package engine

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts what the event bus carries. Each engine owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	allocated     *prometheus.CounterVec
	received      *prometheus.CounterVec
	ordersByStage *prometheus.CounterVec
	adjustments   prometheus.Counter
	outboxErrors  prometheus.Counter
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockcore",
			Name:      "events_total",
			Help:      "Events emitted on the engine bus.",
		}, []string{"type"}),
		allocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockcore",
			Name:      "allocated_units_total",
			Help:      "Units reserved from stock by allocation passes.",
		}, []string{"material"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockcore",
			Name:      "received_units_total",
			Help:      "Units credited by posted receipts.",
		}, []string{"type"}),
		ordersByStage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockcore",
			Name:      "order_transitions_total",
			Help:      "Orders entering a stage.",
		}, []string{"stage"}),
		adjustments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockcore",
			Name:      "stock_adjustments_total",
			Help:      "Manual on-hand overwrites.",
		}),
		outboxErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockcore",
			Name:      "outbox_enqueue_errors_total",
			Help:      "Notifications that could not be written to the outbox.",
		}),
	}
	m.registry.MustRegister(
		m.events, m.allocated, m.received, m.ordersByStage, m.adjustments, m.outboxErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observe(evt Event) {
	m.events.WithLabelValues(evt.Type.String()).Inc()
	switch ev := evt.Payload.(type) {
	case AllocatedEvent:
		m.allocated.WithLabelValues(formatID(ev.MaterialID)).Add(ev.Allocated.InexactFloat64())
	case ReceiptPostedEvent:
		for _, l := range ev.Lines {
			m.received.WithLabelValues(ev.Type).Add(l.Qty.InexactFloat64())
		}
	case OrderSubmittedEvent:
		m.ordersByStage.WithLabelValues(ev.Status).Inc()
	case OrderStageChangedEvent:
		m.ordersByStage.WithLabelValues(ev.To).Inc()
	case StockAdjustedEvent:
		m.adjustments.Inc()
	}
}
