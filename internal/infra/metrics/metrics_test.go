package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestSubmissionMetrics(t *testing.T) {
	WorkoutsSubmitted.Inc()
	SubmissionsRejected.WithLabelValues("cooldown").Inc()
	LeaderboardSize.Set(3)

	names := gatheredNames(t)
	for _, name := range []string{
		"abshub_workouts_submitted_total",
		"abshub_submissions_rejected_total",
		"abshub_leaderboard_participants",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestOracleMetrics(t *testing.T) {
	OracleRequests.WithLabelValues("sent").Inc()
	OracleCallbacks.WithLabelValues("fallback").Inc()
	OracleLatency.Observe(1.2)

	names := gatheredNames(t)
	for _, name := range []string{
		"abshub_oracle_requests_total",
		"abshub_oracle_callbacks_total",
		"abshub_oracle_latency_seconds",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestCrossChainAndBridgeMetrics(t *testing.T) {
	CCIPInbound.WithLabelValues("polygon-amoy", "accepted").Inc()
	CCIPOutbound.WithLabelValues("avalanche-fuji").Inc()
	BridgeMessages.WithLabelValues("sent").Inc()
	RemoteReads.WithLabelValues("legacy").Inc()
	RewardDistributions.WithLabelValues("manual").Inc()
	RewardPoolWei.Set(1e15)
	HealthCheckStatus.WithLabelValues("sqlite").Set(1)

	names := gatheredNames(t)
	for _, name := range []string{
		"abshub_ccip_inbound_total",
		"abshub_ccip_outbound_total",
		"abshub_bridge_messages_total",
		"abshub_remote_reads_total",
		"abshub_reward_distributions_total",
		"abshub_reward_pool_wei",
		"abshub_health_check_status",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestAllMetricsGatherable(t *testing.T) {
	names := gatheredNames(t)
	count := 0
	for name := range names {
		if strings.HasPrefix(name, "abshub_") {
			count++
		}
	}
	if count < 5 {
		t.Errorf("expected at least 5 abshub_ metrics, got %d", count)
	}
}
