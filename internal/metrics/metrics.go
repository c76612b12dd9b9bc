package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Database
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "credit_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	DBConnectionOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "credit_db_connection_open",
		Help: "Number of open database connections",
	})

	// ============================================
	// NATS
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "credit_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"event_type"},
	)

	NATSMessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_nats_messages_failed_total",
			Help: "Total number of NATS messages failed to process",
		},
		[]string{"event_type", "error_type"},
	)

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject"},
	)

	// ============================================
	// Ledger
	// ============================================
	PointsDeducted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_points_deducted_total",
		Help: "Total points deducted from wallets",
	})

	PointsCredited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_points_credited_total",
			Help: "Total points credited to wallets",
		},
		[]string{"entry_type"},
	)

	DeductionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_deductions_rejected_total",
			Help: "Deductions rejected by reason",
		},
		[]string{"reason"},
	)

	LedgerConsistencyFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_ledger_consistency_faults_total",
		Help: "Deductions that ran out of deposits after the balance check passed",
	})

	WalletLockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "credit_wallet_lock_wait_seconds",
		Help:    "Time spent waiting for a wallet lock",
		Buckets: prometheus.DefBuckets,
	})

	// ============================================
	// Deposits / withdrawals
	// ============================================
	DepositsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_deposits_ingested_total",
			Help: "Deposit events processed by outcome (created, duplicate, failed)",
		},
		[]string{"outcome"},
	)

	WithdrawalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_withdrawal_requests_total",
			Help: "Withdrawal requests by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	WithdrawalExecutorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credit_withdrawal_executor_failures_total",
		Help: "Failed withdrawal executor triggers",
	})

	// ============================================
	// Chain gateway
	// ============================================
	ChainRPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_chain_rpc_requests_total",
			Help: "Chain RPC operations by operation and status",
		},
		[]string{"chain_id", "operation", "status"},
	)

	ChainRPCRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_chain_rpc_retries_total",
			Help: "Chain RPC retry attempts",
		},
		[]string{"chain_id", "operation"},
	)

	ChainRPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credit_chain_rpc_duration_seconds",
			Help:    "Chain RPC operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain_id", "operation"},
	)

	ABICacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_abi_cache_events_total",
			Help: "ABI cache hits, misses and evictions",
		},
		[]string{"event"},
	)

	ChainSyncSkippedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_chain_sync_skipped_events_total",
			Help: "Vault events the backfill skipped because they can never be processed",
		},
		[]string{"chain_id", "event", "reason"},
	)

	ChainSyncLastBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "credit_chain_sync_last_block",
			Help: "Last block processed by the event backfill",
		},
		[]string{"chain_id", "contract"},
	)

	// ============================================
	// Internal API / notifications
	// ============================================
	InternalAPIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_internal_api_requests_total",
			Help: "Internal API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_notifications_total",
			Help: "Background notifications by outcome (sent, failed, dropped)",
		},
		[]string{"outcome"},
	)

	// ============================================
	// HTTP API
	// ============================================
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credit_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credit_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)
