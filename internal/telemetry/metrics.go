// Package telemetry exposes the pipeline's Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the pipeline emits. One instance is built at
// startup and handed to the components that record into it.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	QueueDepth       prometheus.Gauge
	ConsumerFailures prometheus.Counter
	RowsWritten      *prometheus.CounterVec
	SignalsOpened    prometheus.Counter
	SignalsCompleted *prometheus.CounterVec
	MessagesSeen     *prometheus.CounterVec
}

// New registers all collectors on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalrun",
			Name:      "provider_requests_total",
			Help:      "Provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "signalrun",
			Name:      "provider_latency_seconds",
			Help:      "Provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalrun",
			Name:      "price_cache_hits_total",
			Help:      "Price cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalrun",
			Name:      "price_cache_misses_total",
			Help:      "Price cache misses.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalrun",
			Name:      "queue_depth",
			Help:      "Messages waiting in the priority queue.",
		}),
		ConsumerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalrun",
			Name:      "consumer_failures_total",
			Help:      "Queue consumer callback failures.",
		}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalrun",
			Name:      "rows_written_total",
			Help:      "Rows written by table.",
		}, []string{"table"}),
		SignalsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signalrun",
			Name:      "signals_opened_total",
			Help:      "Outcomes opened.",
		}),
		SignalsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalrun",
			Name:      "signals_completed_total",
			Help:      "Outcomes completed by cause.",
		}, []string{"cause"}),
		MessagesSeen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalrun",
			Name:      "messages_total",
			Help:      "Messages processed by classification.",
		}, []string{"class"}),
	}

	reg.MustRegister(
		m.ProviderRequests, m.ProviderLatency,
		m.CacheHits, m.CacheMisses,
		m.QueueDepth, m.ConsumerFailures,
		m.RowsWritten,
		m.SignalsOpened, m.SignalsCompleted,
		m.MessagesSeen,
	)
	return m
}

// Nop returns metrics registered on a throwaway registry, for tests and
// components constructed without telemetry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
