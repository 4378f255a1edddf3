package domain

import (
	"math/big"
	"math/bits"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ReadSource says which remote accessor produced a score.
type ReadSource string

const (
	ReadPrimary ReadSource = "primary" // exists-flagged accessor
	ReadLegacy  ReadSource = "legacy"  // fallback accessor without exists
	ReadFailed  ReadSource = "failed"  // both failed; score is zero
)

// ScoreRead is the result of reading a user from the remote fitness ledger.
type ScoreRead struct {
	Pushups   uint64     `json:"pushups"`
	Squats    uint64     `json:"squats"`
	Timestamp uint64     `json:"timestamp"`
	Exists    bool       `json:"exists"`
	Source    ReadSource `json:"source"`
	Err       string     `json:"error,omitempty"`
}

// Score returns the bridgeable score: pushups + squats, or zero when the
// user is unknown to the remote ledger or the sum overflows.
func (r ScoreRead) Score() uint64 {
	switch r.Source {
	case ReadPrimary:
		if !r.Exists {
			return 0
		}
	case ReadFailed:
		return 0
	}
	sum, carry := bits.Add64(r.Pushups, r.Squats, 0)
	if carry != 0 {
		return 0
	}
	return sum
}

// BridgeState is the per-user bridge bookkeeping.
type BridgeState struct {
	User             common.Address `json:"user"`
	LastBridgedScore uint64         `json:"last_bridged_score"`
	LastBridgeTime   time.Time      `json:"last_bridge_time"`
}

// BridgeReceipt describes one message sent by the bridge.
type BridgeReceipt struct {
	MessageID common.Hash    `json:"message_id"`
	User      common.Address `json:"user"`
	Score     uint64         `json:"score"`
	Fee       *big.Int       `json:"fee"`
	SentAt    time.Time      `json:"sent_at"`
}

// SkippedUser records why a batch entry was not bridged.
type SkippedUser struct {
	User   common.Address `json:"user"`
	Reason string         `json:"reason"`
}

// BatchResult is the outcome of a best-effort batch bridge.
type BatchResult struct {
	Sent    []BridgeReceipt `json:"sent"`
	Skipped []SkippedUser   `json:"skipped"`
	Spent   *big.Int        `json:"spent"`
	Refund  *big.Int        `json:"refund"`
	Stopped bool            `json:"stopped"` // ran out of funds before the end
}
