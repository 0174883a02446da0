package pool

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Metrics tracks pool occupancy for one server. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	waiting          prometheus.Gauge
	active           prometheus.Gauge
	requests         prometheus.Counter
	creationFailures prometheus.Counter
}

// NewMetrics builds pool metrics labelled with the server path. A nil reg
// creates collectors that are not registered anywhere. A server re-created
// on the same registry and path continues the collectors already there.
func NewMetrics(reg prometheus.Registerer, server string) (*Metrics, error) {
	labels := prometheus.Labels{"server": server}
	var errs error
	m := &Metrics{
		waiting: register(reg, &errs, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "localrmi", Subsystem: "pool", Name: "waiting_listeners",
			Help: "Listeners waiting for a client connection.", ConstLabels: labels,
		})),
		active: register(reg, &errs, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "localrmi", Subsystem: "pool", Name: "active_requests",
			Help: "Requests currently being processed.", ConstLabels: labels,
		})),
		requests: register(reg, &errs, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localrmi", Subsystem: "pool", Name: "requests_total",
			Help: "Connections accepted and handed to the request processor.", ConstLabels: labels,
		})),
		creationFailures: register(reg, &errs, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localrmi", Subsystem: "pool", Name: "endpoint_creation_failures_total",
			Help: "Endpoint creations that failed and left the pool short of capacity.", ConstLabels: labels,
		})),
	}
	if errs != nil {
		return nil, errs
	}
	return m, nil
}

// register adds c to reg, or returns the equivalent collector reg already holds.
func register[C prometheus.Collector](reg prometheus.Registerer, errs *error, c C) C {
	if reg == nil {
		return c
	}
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	*errs = multierr.Append(*errs, err)
	return c
}

func (m *Metrics) setWaiting(n int) {
	if m != nil {
		m.waiting.Set(float64(n))
	}
}

func (m *Metrics) beginRequest() {
	if m != nil {
		m.requests.Inc()
		m.active.Inc()
	}
}

func (m *Metrics) endRequest() {
	if m != nil {
		m.active.Dec()
	}
}

func (m *Metrics) creationFailed() {
	if m != nil {
		m.creationFailures.Inc()
	}
}
