package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement service.
type Metrics struct {
	// Settlement operations
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// Fund flow
	EscrowDeposits       prometheus.Counter
	PayoutsTotal         prometheus.Counter
	EmergencyWithdrawals prometheus.Counter

	// Outbound feed
	OutboundPublished prometheus.Counter
	OutboundDrops     prometheus.Counter

	// Settlement log persistence
	LogEntriesWritten prometheus.Counter
	LogWriteErrors    prometheus.Counter
	LogBatchSize      prometheus.Histogram

	// Query cache
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025,
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "predmarket_ops_applied_total",
			Help: "Settlement operations committed",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "predmarket_ops_rejected_total",
			Help: "Settlement operations rejected (validation, auth, conflict)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "predmarket_op_duration_seconds",
			Help:    "Time to execute a settlement operation end to end",
			Buckets: opBuckets,
		}, []string{"op"}),

		EscrowDeposits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "predmarket_escrow_deposits_units_total",
			Help: "Stake units moved into escrow by accepted bets",
		}),

		PayoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "predmarket_payouts_units_total",
			Help: "Units paid out of escrow via claims",
		}),

		EmergencyWithdrawals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "predmarket_emergency_withdrawal_units_total",
			Help: "Units drained from escrow via emergency withdrawal",
		}),

		OutboundPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "predmarket_outbound_published_total",
			Help: "Outbound settlement events handed to the publisher",
		}),

		OutboundDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "predmarket_outbound_dropped_total",
			Help: "Outbound settlement events dropped on full channel",
		}),

		LogEntriesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "predmarket_settlement_log_entries_total",
			Help: "Rows written to the settlement log",
		}),

		LogWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "predmarket_settlement_log_errors_total",
			Help: "Failed settlement log batch writes",
		}),

		LogBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "predmarket_settlement_log_batch_size",
			Help:    "Entries per settlement log batch insert",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "predmarket_query_cache_hits_total",
			Help: "Event reads served from the Redis cache",
		}),

		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "predmarket_query_cache_misses_total",
			Help: "Event reads that fell through to the store",
		}),
	}
}
