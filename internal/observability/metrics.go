package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the dealer.
type Metrics struct {
	// --- Ledger ---
	Deposits           *prometheus.CounterVec
	WithdrawRequests   prometheus.Counter
	WithdrawExecutions *prometheus.CounterVec

	// --- Matching ---
	TradesSettled  prometheus.Counter
	TradesRejected *prometheus.CounterVec
	OrdersMatched  prometheus.Histogram
	FeesCollected  prometheus.Counter

	// --- Funding ---
	FundingUpdates  *prometheus.CounterVec
	FundingRejected *prometheus.CounterVec

	// --- Liquidation ---
	LiquidationsExecuted *prometheus.CounterVec
	LiquidationsRejected *prometheus.CounterVec
	BadDebtSettled       prometheus.Counter

	// --- Operation latency ---
	OpDuration *prometheus.HistogramVec

	// --- Egress ---
	EventsPublished *prometheus.CounterVec
	PublishDrops    prometheus.Counter

	// --- Persistence ---
	PersistErrors        *prometheus.CounterVec
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistEventsWritten prometheus.Counter
	PersistLastSequence  prometheus.Gauge
}

// NewMetrics registers all dealer metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production, a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Deposits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_dealer_deposits_total",
			Help: "Deposits settled, labeled by credit leg.",
		}, []string{"leg"}),
		WithdrawRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_dealer_withdraw_requests_total",
			Help: "Withdrawal requests accepted into the time lock.",
		}),
		WithdrawExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_dealer_withdraw_executions_total",
			Help: "Executed withdrawals, labeled by destination.",
		}, []string{"destination"}),

		TradesSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_dealer_trades_settled_total",
			Help: "Order batches settled.",
		}),
		TradesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_dealer_trades_rejected_total",
			Help: "Order batches rejected, labeled by error code.",
		}, []string{"code"}),
		OrdersMatched: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_dealer_orders_per_batch",
			Help:    "Orders per settled batch.",
			Buckets: prometheus.ExponentialBuckets(2, 2, 8),
		}),
		FeesCollected: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_dealer_fees_collected_total",
			Help: "Net trading fees routed to order senders.",
		}),

		FundingUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_dealer_funding_updates_total",
			Help: "Funding coefficient updates, labeled by market.",
		}, []string{"market"}),
		FundingRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_dealer_funding_rejected_total",
			Help: "Rejected funding updates, labeled by error code.",
		}, []string{"code"}),

		LiquidationsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_dealer_liquidations_executed_total",
			Help: "Liquidations executed, labeled by market.",
		}, []string{"market"}),
		LiquidationsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_dealer_liquidations_rejected_total",
			Help: "Rejected liquidations, labeled by error code.",
		}, []string{"code"}),
		BadDebtSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_dealer_bad_debt_settled_total",
			Help: "Insolvent accounts socialized into insurance.",
		}),

		OpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_dealer_operation_duration_seconds",
			Help:    "Latency of dealer operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_dealer_events_published_total",
			Help: "Outbound events handed to the publisher, labeled by type.",
		}, []string{"type"}),
		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_dealer_publish_drops_total",
			Help: "Outbound events dropped because the publish queue was full.",
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_dealer_persist_errors_total",
			Help: "Event log write failures, labeled by stage.",
		}, []string{"stage"}),
		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_dealer_persist_batch_duration_seconds",
			Help:    "Duration of event log batch writes.",
			Buckets: prometheus.DefBuckets,
		}),
		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_dealer_persist_batch_size",
			Help:    "Events per flushed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_dealer_persist_events_written_total",
			Help: "Events written to the Postgres event log.",
		}),
		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perp_dealer_persist_last_sequence",
			Help: "Highest event sequence confirmed in Postgres.",
		}),
	}
}
