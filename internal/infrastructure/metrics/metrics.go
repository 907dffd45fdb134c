// Package metrics exposes lifecycle outcomes as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/procurement-lifecycle/internal/application/dispatcher"
	"github.com/garyjia/procurement-lifecycle/internal/application/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/event"
	domainwf "github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

const namespace = "procurement"

// Metrics holds the service collectors
type Metrics struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	budgetEvents    *prometheus.CounterVec
	budgetAvailable *prometheus.GaugeVec
	published       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with Go and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Transition requests by document type, transition and outcome.",
		}, []string{"entity_type", "transition", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "Time spent handling a transition request, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"entity_type"}),
		budgetEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_events_total",
			Help:      "Committed budget movements by kind.",
		}, []string{"kind"}),
		budgetAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_available_amount",
			Help:      "Available amount of a budget after its last committed movement.",
		}, []string{"budget_id", "currency"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain event deliveries by sink and result.",
		}, []string{"sink", "result"}),
	}

	m.registry.MustRegister(
		m.transitions,
		m.duration,
		m.budgetEvents,
		m.budgetAvailable,
		m.published,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveTransition implements workflow.Recorder
func (m *Metrics) ObserveTransition(t entity.Type, transition domainwf.Trigger, outcome string, elapsed time.Duration) {
	typ := t.String()
	if typ == "" {
		typ = "unknown"
	}
	m.transitions.WithLabelValues(typ, transition.String(), outcome).Inc()
	m.duration.WithLabelValues(typ).Observe(elapsed.Seconds())
}

// ObserveBudget implements workflow.Recorder
func (m *Metrics) ObserveBudget(kind string, b *entity.Budget) {
	m.budgetEvents.WithLabelValues(kind).Inc()
	if b == nil {
		return
	}
	available, _ := b.AvailableAmount.Float64()
	m.budgetAvailable.WithLabelValues(b.ID, b.Currency).Set(available)
}

// ObserveDelivery implements dispatcher.DeliveryObserver
func (m *Metrics) ObserveDelivery(sink string, evt *event.Event, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(sink, result).Inc()
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var (
	_ workflow.Recorder           = (*Metrics)(nil)
	_ dispatcher.DeliveryObserver = (*Metrics)(nil)
)
