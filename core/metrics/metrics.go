// Package metrics holds the prometheus collectors of the tenancy core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "masomo"

type Metrics struct {
	// ConnectionsOpened counts tenant connections opened against the cluster
	ConnectionsOpened prometheus.Counter
	// ConnectionErrors counts failed tenant connection attempts
	ConnectionErrors prometheus.Counter
	// ConnectionsOpen is the number of cached tenant connections
	ConnectionsOpen prometheus.Gauge

	IdentifiersAllocated *prometheus.CounterVec
	CounterSeeds         *prometheus.CounterVec

	TenantsInitialized prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves them unregistered (tests).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenant",
			Name:      "connections_opened_total",
			Help:      "Total number of tenant connections opened",
		}),
		ConnectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenant",
			Name:      "connection_errors_total",
			Help:      "Total number of failed tenant connection attempts",
		}),
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tenant",
			Name:      "connections_open",
			Help:      "Number of cached tenant connections",
		}),
		IdentifiersAllocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequence",
			Name:      "identifiers_allocated_total",
			Help:      "Total number of sequential identifiers allocated",
		}, []string{"role"}),
		CounterSeeds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequence",
			Name:      "counter_seeds_total",
			Help:      "Total number of counters seeded from a scan of existing identifiers",
		}, []string{"role"}),
		TenantsInitialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "tenants_initialized_total",
			Help:      "Total number of tenants initialized by this process",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ConnectionsOpened,
			m.ConnectionErrors,
			m.ConnectionsOpen,
			m.IdentifiersAllocated,
			m.CounterSeeds,
			m.TenantsInitialized,
		)
	}
	return m
}
