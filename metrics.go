package kernel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the kernel's Prometheus collectors. Each kernel owns its own
// registry so that several kernels can live in one process.
type metrics struct {
	registry *prometheus.Registry

	activations   *prometheus.CounterVec
	activation    *prometheus.HistogramVec
	teardowns     *prometheus.CounterVec
	deployments   *prometheus.CounterVec
	liveBeans     prometheus.Gauge
	activeUnits   prometheus.Gauge
	callbackCalls *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kernel",
				Subsystem: "beans",
				Name:      "activations_total",
				Help:      "Bean activations by outcome.",
			},
			[]string{"outcome"},
		),
		activation: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kernel",
				Subsystem: "beans",
				Name:      "activation_duration_seconds",
				Help:      "Time from dependencies being terminal to the bean being started.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
			[]string{"outcome"},
		),
		teardowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kernel",
				Subsystem: "beans",
				Name:      "teardowns_total",
				Help:      "Bean teardowns by outcome.",
			},
			[]string{"outcome"},
		),
		deployments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kernel",
				Subsystem: "units",
				Name:      "operations_total",
				Help:      "Deploy and undeploy operations by outcome.",
			},
			[]string{"op", "outcome"},
		),
		liveBeans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kernel",
			Subsystem: "beans",
			Name:      "live",
			Help:      "Beans currently registered.",
		}),
		activeUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kernel",
			Subsystem: "units",
			Name:      "active",
			Help:      "Deployment units currently active.",
		}),
		callbackCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kernel",
				Subsystem: "callbacks",
				Name:      "dispatches_total",
				Help:      "Callback dispatches by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
	}
	m.registry.MustRegister(
		m.activations,
		m.activation,
		m.teardowns,
		m.deployments,
		m.liveBeans,
		m.activeUnits,
		m.callbackCalls,
	)
	return m
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *metrics) observeActivation(started time.Time, err error) {
	m.activations.WithLabelValues(outcome(err)).Inc()
	m.activation.WithLabelValues(outcome(err)).Observe(time.Since(started).Seconds())
}
