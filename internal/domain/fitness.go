package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ─── Local Ledger ───────────────────────────────────────────────────────────

// LocalAbsScore is the aggregated workout record for one address.
// AverageFormAccuracy is updated as (avg*n + v) / (n+1), truncating.
type LocalAbsScore struct {
	User                common.Address `json:"user"`
	TotalReps           uint64         `json:"total_reps"`
	AverageFormAccuracy uint64         `json:"average_form_accuracy"`
	BestStreak          uint64         `json:"best_streak"`
	SessionsCompleted   uint64         `json:"sessions_completed"`
	Timestamp           time.Time      `json:"timestamp"`
	LastSubmission      time.Time      `json:"last_submission"`
}

// AnalysisStatus tracks a session through the oracle round trip.
type AnalysisStatus string

const (
	AnalysisSubmitted AnalysisStatus = "submitted"
	AnalysisRequested AnalysisStatus = "analysis_requested"
	AnalysisCompleted AnalysisStatus = "analysis_completed"
	AnalysisFailed    AnalysisStatus = "analysis_failed"
)

// WorkoutSession is one submission. The metric fields never change; the
// enhancement fields are written at most once by the oracle callback.
type WorkoutSession struct {
	User         common.Address `json:"user"`
	Index        uint64         `json:"index"`
	Reps         uint64         `json:"reps"`
	FormAccuracy uint64         `json:"form_accuracy"`
	Streak       uint64         `json:"streak"`
	Duration     uint64         `json:"duration"`
	Latitude     int64          `json:"latitude"`  // micro-degrees
	Longitude    int64          `json:"longitude"` // micro-degrees
	SubmittedAt  time.Time      `json:"submitted_at"`

	Status           AnalysisStatus `json:"status"`
	RequestID        common.Hash    `json:"request_id"`
	EnhancedScore    uint64         `json:"enhanced_score"`
	WeatherBonus     uint64         `json:"weather_bonus"`
	Temperature      int64          `json:"temperature"`
	Conditions       string         `json:"conditions"`
	AnalysisComplete bool           `json:"analysis_complete"`
}

// Submission is the input to the submission entrypoint.
type Submission struct {
	User         common.Address `json:"user"`
	Reps         uint64         `json:"reps"`
	FormAccuracy uint64         `json:"form_accuracy"`
	Streak       uint64         `json:"streak"`
	Duration     uint64         `json:"duration"`
	Latitude     int64          `json:"latitude"`
	Longitude    int64          `json:"longitude"`
	Value        *big.Int       `json:"value,omitempty"` // wei attached as fee
}

// Enhancement is the parsed oracle analysis for a session.
type Enhancement struct {
	Conditions   string
	Temperature  int64
	WeatherBonus uint64
	Score        uint64
}

// ─── Cross-Chain Store ──────────────────────────────────────────────────────

// CrossChainFitnessData holds the latest score received from each remote
// chain. Slots are overwritten, never accumulated.
type CrossChainFitnessData struct {
	User       common.Address           `json:"user"`
	Slots      map[ChainSelector]uint64 `json:"slots"`
	LastUpdate time.Time                `json:"last_update"`
}

// Sum returns the total over all slots.
func (d CrossChainFitnessData) Sum() uint64 {
	var total uint64
	for _, v := range d.Slots {
		total += v
	}
	return total
}

// CCIPMessage is an inbound or outbound cross-chain message.
type CCIPMessage struct {
	MessageID           common.Hash    `json:"message_id"`
	SourceChainSelector ChainSelector  `json:"source_chain_selector"`
	Sender              common.Address `json:"sender"`
	Receiver            common.Address `json:"receiver"`
	Data                []byte         `json:"data"`
}

// ─── Oracle Requests ────────────────────────────────────────────────────────

// FunctionsRequest links an outstanding oracle request to its session.
// Deleted on first fulfillment.
type FunctionsRequest struct {
	RequestID    common.Hash    `json:"request_id"`
	User         common.Address `json:"user"`
	SessionIndex uint64         `json:"session_index"`
	CreatedAt    time.Time      `json:"created_at"`
}

// OracleRequest is what a consumer hands to the Functions router.
type OracleRequest struct {
	Consumer       common.Address `json:"consumer"`
	Source         string         `json:"source"`
	Args           []string       `json:"args"`
	SubscriptionID uint64         `json:"subscription_id"`
	GasLimit       uint32         `json:"gas_limit"`
}

// ─── Leaderboard ────────────────────────────────────────────────────────────

// LeaderboardEntry is a read-time view of one participant.
type LeaderboardEntry struct {
	Position        uint64         `json:"position"` // 1-based, never changes
	User            common.Address `json:"user"`
	LocalScore      uint64         `json:"local_score"`
	CrossChainScore uint64         `json:"cross_chain_score"`
	ActiveChains    uint64         `json:"active_chains"`
	BonusBps        uint64         `json:"bonus_bps"`
	TotalScore      uint64         `json:"total_score"`
}
