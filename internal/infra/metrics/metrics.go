// Package metrics provides Prometheus metrics for abshub: submissions,
// oracle round trips, cross-chain traffic, bridge sends and reward payouts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Submissions ────────────────────────────────────────────────────────────

// WorkoutsSubmitted counts accepted workout sessions.
var WorkoutsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "abshub",
	Name:      "workouts_submitted_total",
	Help:      "Total accepted workout sessions.",
})

// SubmissionsRejected counts rejected submissions by reason.
var SubmissionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "abshub",
	Name:      "submissions_rejected_total",
	Help:      "Total rejected workout submissions.",
}, []string{"reason"})

// LeaderboardSize tracks enrolled participants.
var LeaderboardSize = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "abshub",
	Name:      "leaderboard_participants",
	Help:      "Number of addresses on the leaderboard.",
})

// ─── Oracle ─────────────────────────────────────────────────────────────────

// OracleRequests counts analysis requests by result (sent, failed).
var OracleRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "abshub",
	Name:      "oracle_requests_total",
	Help:      "Total oracle analysis requests.",
}, []string{"result"})

// OracleCallbacks counts fulfillments by outcome (enhanced, fallback, rejected, ignored).
var OracleCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "abshub",
	Name:      "oracle_callbacks_total",
	Help:      "Total oracle callbacks by outcome.",
}, []string{"outcome"})

// OracleLatency tracks time from request to fulfillment in the DON executor.
var OracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "abshub",
	Name:      "oracle_latency_seconds",
	Help:      "Time from oracle request to callback.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
})

// ─── Cross-Chain ────────────────────────────────────────────────────────────

// CCIPInbound counts inbound messages by source chain and result.
var CCIPInbound = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "abshub",
	Name:      "ccip_inbound_total",
	Help:      "Total inbound cross-chain messages.",
}, []string{"source", "result"})

// CCIPOutbound counts messages sent through the router by destination.
var CCIPOutbound = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "abshub",
	Name:      "ccip_outbound_total",
	Help:      "Total outbound cross-chain messages.",
}, []string{"destination"})

// ─── Bridge ─────────────────────────────────────────────────────────────────

// BridgeMessages counts bridge attempts by result (sent, skipped, failed).
var BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "abshub",
	Name:      "bridge_messages_total",
	Help:      "Total bridge attempts by result.",
}, []string{"result"})

// RemoteReads counts remote ledger reads by source (primary, legacy, failed).
var RemoteReads = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "abshub",
	Name:      "remote_reads_total",
	Help:      "Total remote fitness ledger reads by accessor.",
}, []string{"source"})

// ─── Rewards ────────────────────────────────────────────────────────────────

// RewardDistributions counts payout rounds by trigger.
var RewardDistributions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "abshub",
	Name:      "reward_distributions_total",
	Help:      "Total reward distributions by trigger.",
}, []string{"trigger"})

// RewardPoolWei tracks the undistributed fee pool (float, for dashboards only).
var RewardPoolWei = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "abshub",
	Name:      "reward_pool_wei",
	Help:      "Current undistributed fee pool in wei.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "abshub",
	Name:      "health_check_status",
	Help:      "Health check status (1=healthy, 0=unhealthy).",
}, []string{"check"})
