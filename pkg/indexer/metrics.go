// Copyright 2025 Silica Protocol
//
// Prometheus metrics for the chain indexer

package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the indexer's operational gauges and counters
type Metrics struct {
	LastIndexedBlock      prometheus.Gauge
	IdentityCursor        prometheus.Gauge
	BlocksIndexed         prometheus.Counter
	TransactionsIndexed   prometheus.Counter
	StealthOutputsIndexed prometheus.Counter
	IdentityUpserts       prometheus.Counter
	TickErrors            prometheus.Counter
	TickDuration          prometheus.Histogram
}

// NewMetrics creates and registers the indexer metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LastIndexedBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silica_indexer_last_indexed_block",
			Help: "Highest block number committed to storage",
		}),
		IdentityCursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silica_indexer_identity_cursor",
			Help: "Identity registry sync cursor",
		}),
		BlocksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silica_indexer_blocks_indexed_total",
			Help: "Blocks committed since process start",
		}),
		TransactionsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silica_indexer_transactions_indexed_total",
			Help: "Transactions committed since process start",
		}),
		StealthOutputsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silica_indexer_stealth_outputs_indexed_total",
			Help: "Stealth outputs committed since process start",
		}),
		IdentityUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silica_indexer_identity_upserts_total",
			Help: "Identity profiles upserted since process start",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silica_indexer_tick_errors_total",
			Help: "Ticks aborted by RPC or validation errors",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "silica_indexer_tick_duration_seconds",
			Help:    "Wall time of indexer ticks",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.LastIndexedBlock, m.IdentityCursor, m.BlocksIndexed,
		m.TransactionsIndexed, m.StealthOutputsIndexed, m.IdentityUpserts,
		m.TickErrors, m.TickDuration,
	)
	return m
}
