package promobserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trickstertwo/xdispatch"
)

// Observer implements xdispatch.Observer on Prometheus collectors.
type Observer struct {
	events       *prometheus.CounterVec
	deliveryTime prometheus.Histogram
}

var _ xdispatch.Observer = (*Observer)(nil)

type config struct {
	registerer prometheus.Registerer
	namespace  string
}

// Option configures the observer.
type Option func(*config)

// WithRegisterer overrides prometheus.DefaultRegisterer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *config) {
		if r != nil {
			c.registerer = r
		}
	}
}

// WithNamespace prefixes all metric names.
func WithNamespace(ns string) Option {
	return func(c *config) { c.namespace = ns }
}

// New builds and registers the collectors.
func New(opts ...Option) *Observer {
	cfg := config{
		registerer: prometheus.DefaultRegisterer,
		namespace:  "xdispatch",
	}
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}

	factory := promauto.With(cfg.registerer)
	return &Observer{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "events_total",
			Help:      "Bus lifecycle events by type.",
		}, []string{"type"}),
		deliveryTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Handler invocation duration.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// OnBusEvent counts the event and, for completed deliveries, observes the
// handler duration. Topic is deliberately not a label: unbounded topic sets
// would explode cardinality.
func (o *Observer) OnBusEvent(e xdispatch.BusEvent) {
	o.events.WithLabelValues(string(e.Type)).Inc()
	if e.Type == xdispatch.DeliverDone && e.Duration > 0 {
		o.deliveryTime.Observe(e.Duration.Seconds())
	}
}
