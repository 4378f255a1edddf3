package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ─── Reward Ledger ──────────────────────────────────────────────────────────
// Every movement creates matched DEBIT/CREDIT entries.

// TxType categorizes a ledger transaction.
type TxType string

const (
	TxFee        TxType = "FEE"
	TxDistribute TxType = "DISTRIBUTE"
	TxClaim      TxType = "CLAIM"
)

// EntryType is the side of a double-entry record.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// LedgerEntry is one side of a reward ledger transaction.
type LedgerEntry struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Type        TxType    `json:"type"`
	EntryType   EntryType `json:"entry_type"`
	Account     string    `json:"account"`
	Amount      *big.Int  `json:"amount"`
	Reference   string    `json:"reference,omitempty"`
	Description string    `json:"description,omitempty"`
	Balance     *big.Int  `json:"balance"`
}

// Ledger accounts.
const (
	AccountExternal = "external"
	AccountFeePool  = "fee_pool"
	AccountPaidOut  = "paid_out"
)

// PendingAccount returns the ledger account holding a user's unclaimed rewards.
func PendingAccount(user common.Address) string {
	return "pending:" + user.Hex()
}

// DistributionTrigger names the path that started a distribution.
type DistributionTrigger string

const (
	TriggerManual    DistributionTrigger = "manual"
	TriggerAutomatic DistributionTrigger = "automatic"
	TriggerEmergency DistributionTrigger = "emergency"
)

// RewardConfig controls fee collection and payouts.
type RewardConfig struct {
	Enabled          bool          `json:"enabled"`
	SubmissionFee    *big.Int      `json:"submission_fee"`
	Period           time.Duration `json:"period"`
	TopN             int           `json:"top_n"`
	AutoDistribution bool          `json:"auto_distribution"`
}

// Payout is one recipient's share of a distribution.
type Payout struct {
	Rank   int            `json:"rank"` // 0-based
	User   common.Address `json:"user"`
	Score  uint64         `json:"score"`
	Weight uint64         `json:"weight"`
	Amount *big.Int       `json:"amount"`
}

// Distribution records one completed payout round.
type Distribution struct {
	ID      string              `json:"id"`
	Trigger DistributionTrigger `json:"trigger"`
	At      time.Time           `json:"at"`
	Pool    *big.Int            `json:"pool"`
	Paid    *big.Int            `json:"paid"`
	Payouts []Payout            `json:"payouts"`
}

// UserReward summarizes a user's reward balances.
type UserReward struct {
	User    common.Address `json:"user"`
	Pending *big.Int       `json:"pending"`
	Claimed *big.Int       `json:"claimed"`
}
