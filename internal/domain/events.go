package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType categorizes notifications emitted for off-chain indexers.
type EventType string

const (
	EventLeaderboardUpdated     EventType = "leaderboard_updated"
	EventCrossChainScoreUpdated EventType = "cross_chain_score_updated"
	EventWorkoutSubmitted       EventType = "workout_submitted"
	EventAnalysisCompleted      EventType = "analysis_completed"
	EventAnalysisFailed         EventType = "analysis_failed"
	EventMessageSent            EventType = "message_sent"
	EventRewardsDistributed     EventType = "rewards_distributed"
	EventRewardClaimed          EventType = "reward_claimed"
)

// Event is a score-changed (or related) notification. Ranking and sorting
// are the consumer's concern.
type Event struct {
	Type      EventType      `json:"type"`
	User      common.Address `json:"user"`
	Score     uint64         `json:"score,omitempty"`
	Chain     ChainSelector  `json:"chain,omitempty"`
	Session   uint64         `json:"session,omitempty"`
	RequestID common.Hash    `json:"request_id,omitempty"`
	MessageID common.Hash    `json:"message_id,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
