package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the policy ledger.
type Metrics struct {
	// --- Core processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreJournals         *prometheus.CounterVec
	CoreSequence         prometheus.Gauge

	// --- Protocol state ---
	VaultBalance      prometheus.Gauge
	PremiumsCollected prometheus.Counter
	PayoutsPaid       prometheus.Counter
	PoliciesByStatus  *prometheus.GaugeVec
	ProtocolPaused    prometheus.Gauge

	// --- Channel and backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PersistBackpressure prometheus.Counter

	// --- Ingestion ---
	IngestMessages   *prometheus.CounterVec
	IngestParseError *prometheus.CounterVec
	PublishDrops     prometheus.Counter

	// --- Persistence ---
	PersistCommandsWritten prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot and replay ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge
	ReplayCommands   prometheus.Counter
	ReplayDuration   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	queryBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025,
		0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		CoreCommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zyura_core_commands_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"command_type"}),

		CoreCommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zyura_core_commands_rejected_total",
			Help: "Commands rejected (dedup, gap, guard failure)",
		}, []string{"command_type", "reason"}),

		CoreCommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zyura_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zyura_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "zyura_core_sequence",
			Help: "Next global sequence the engine will assign",
		}),

		VaultBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "zyura_vault_balance_base_units",
			Help: "Risk vault escrow balance in settlement asset base units",
		}),

		PremiumsCollected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zyura_premiums_collected_total",
			Help: "Cumulative premiums escrowed, base units",
		}),

		PayoutsPaid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zyura_payouts_paid_total",
			Help: "Cumulative coverage paid out, base units",
		}),

		PoliciesByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zyura_policies",
			Help: "Policy count by status",
		}, []string{"status"}),

		ProtocolPaused: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "zyura_protocol_paused",
			Help: "1 when the protocol is paused",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zyura_channel_size",
			Help: "Current queue depth per channel",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zyura_channel_capacity",
			Help: "Configured capacity per channel",
		}, []string{"channel"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zyura_projection_drops_total",
			Help: "Outputs dropped on the projection channel",
		}, []string{"command_type"}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zyura_persist_backpressure_total",
			Help: "Times the engine stalled on the persist channel",
		}),

		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zyura_ingest_messages_total",
			Help: "Messages received per NATS subject",
		}, []string{"subject"}),

		IngestParseError: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zyura_ingest_parse_errors_total",
			Help: "Messages rejected by the command parser",
		}, []string{"subject"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zyura_publish_drops_total",
			Help: "Outbound ledger events dropped before publish",
		}),

		PersistCommandsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zyura_persist_commands_written_total",
			Help: "Command envelopes written to the log",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zyura_persist_journals_written_total",
			Help: "Journal rows written",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "zyura_persist_batch_duration_seconds",
			Help:    "Time to commit one persistence batch",
			Buckets: queryBuckets,
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zyura_persist_errors_total",
			Help: "Persistence failures by operation",
		}, []string{"operation"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zyura_persist_retries_total",
			Help: "Persistence retry attempts",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "zyura_persist_last_sequence",
			Help: "Highest sequence durably written",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zyura_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "zyura_snapshot_duration_seconds",
			Help:    "Time to serialize and write a snapshot",
			Buckets: queryBuckets,
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "zyura_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		ReplayCommands: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zyura_replay_commands_total",
			Help: "Commands re-applied during recovery",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "zyura_replay_duration_seconds",
			Help: "Wall time of the last recovery replay",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zyura_query_requests_total",
			Help: "Query API requests by endpoint",
		}, []string{"endpoint"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zyura_query_duration_seconds",
			Help:    "Query latency by endpoint",
			Buckets: queryBuckets,
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zyura_query_errors_total",
			Help: "Query failures by endpoint",
		}, []string{"endpoint"}),
	}
}
