// Package rewards implements the submission fee pool and its periodic,
// rank-weighted distribution. Every movement of wei creates matched
// DEBIT/CREDIT entries, so SUM(debits) == SUM(credits) always holds.
package rewards

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/metrics"
	"github.com/imperfect-abs/abshub/internal/infra/sqlite"
)

const settingLastDistribution = "rewards.last_distribution"

// DefaultConfig returns the deployed leaderboard parameters:
// 0.001 ether per submission, weekly payouts to the top 10.
func DefaultConfig() domain.RewardConfig {
	return domain.RewardConfig{
		Enabled:          true,
		SubmissionFee:    big.NewInt(1_000_000_000_000_000),
		Period:           7 * 24 * time.Hour,
		TopN:             10,
		AutoDistribution: false,
	}
}

// Service manages the fee pool and payouts.
type Service struct {
	cfg    domain.RewardConfig
	owner  common.Address
	db     *sqlite.DB
	source domain.ScoreSource
	events domain.EventSink
	now    func() time.Time

	hooksMu sync.RWMutex // guards events and now

	ledgerMu sync.Mutex // serializes balance read-modify-write

	mu         sync.Mutex
	inProgress bool
}

// NewService creates the reward engine. The distribution clock starts at
// the first start, like a contract deployment.
func NewService(ctx context.Context, cfg domain.RewardConfig, owner common.Address, db *sqlite.DB, source domain.ScoreSource) (*Service, error) {
	if cfg.SubmissionFee == nil {
		cfg.SubmissionFee = new(big.Int)
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultConfig().TopN
	}
	s := &Service{
		cfg:    cfg,
		owner:  owner,
		db:     db,
		source: source,
		events: domain.NopSink{},
		now:    time.Now,
	}
	v, err := db.GetSetting(ctx, settingLastDistribution)
	if err != nil {
		return nil, fmt.Errorf("load last distribution: %w", err)
	}
	if v == "" {
		if err := s.setLastDistribution(ctx, s.timeNow()); err != nil {
			return nil, err
		}
	}
	s.refreshPoolGauge(ctx)
	return s, nil
}

// SetEventSink replaces the event sink.
func (s *Service) SetEventSink(e domain.EventSink) {
	if e == nil {
		e = domain.NopSink{}
	}
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.events = e
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.now = now
}

func (s *Service) timeNow() time.Time {
	s.hooksMu.RLock()
	now := s.now
	s.hooksMu.RUnlock()
	return now()
}

func (s *Service) publish(e domain.Event) {
	s.hooksMu.RLock()
	sink := s.events
	s.hooksMu.RUnlock()
	sink.Publish(e)
}

// Config returns the reward parameters.
func (s *Service) Config() domain.RewardConfig { return s.cfg }

// ─── Fee Collection ─────────────────────────────────────────────────────────

// SubmissionFee returns the wei required per submission (zero when disabled).
func (s *Service) SubmissionFee() *big.Int {
	if !s.cfg.Enabled {
		return new(big.Int)
	}
	return new(big.Int).Set(s.cfg.SubmissionFee)
}

// PrepareFee locks the pool ledger and returns the DEBIT/CREDIT pair that
// moves amount from the external account into the fee pool. The caller
// writes the pair in its own transaction and must call release afterwards,
// whether or not it committed.
func (s *Service) PrepareFee(ctx context.Context, user common.Address, amount *big.Int) ([]domain.LedgerEntry, func(), error) {
	if amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("fee amount must be positive, got %s", amount)
	}
	s.ledgerMu.Lock()
	debit, credit, err := s.transferPair(ctx, domain.TxFee, domain.AccountExternal, domain.AccountFeePool,
		amount, user.Hex(), "submission fee")
	if err != nil {
		s.ledgerMu.Unlock()
		return nil, nil, fmt.Errorf("collect fee: %w", err)
	}
	release := func() {
		s.refreshPoolGauge(context.WithoutCancel(ctx))
		s.ledgerMu.Unlock()
	}
	return []domain.LedgerEntry{debit, credit}, release, nil
}

// CollectFee moves amount from the external account into the fee pool.
func (s *Service) CollectFee(ctx context.Context, user common.Address, amount *big.Int) error {
	entries, release, err := s.PrepareFee(ctx, user, amount)
	if err != nil {
		return err
	}
	defer release()
	if err := s.db.InsertLedgerPairs(ctx, entries); err != nil {
		return fmt.Errorf("collect fee: %w", err)
	}
	return nil
}

// ─── Claims ─────────────────────────────────────────────────────────────────

// Claim pays out user's pending balance.
func (s *Service) Claim(ctx context.Context, user common.Address) (*big.Int, error) {
	if domain.IsZeroAddress(user) {
		return nil, domain.ErrInvalidUser
	}
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	acct := domain.PendingAccount(user)
	pending, err := s.db.RewardBalance(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("get pending balance: %w", err)
	}
	if pending.Sign() <= 0 {
		return nil, domain.ErrNoPendingReward
	}
	if err := s.transfer(ctx, domain.TxClaim, acct, domain.AccountPaidOut, pending, user.Hex(), "reward claim"); err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	log.Printf("[rewards] %s claimed %s wei", user.Hex(), pending)
	s.publish(domain.Event{Type: domain.EventRewardClaimed, User: user, Detail: pending.String(), Timestamp: s.timeNow()})
	return pending, nil
}

// Pending returns a user's unclaimed and claimed totals.
func (s *Service) Pending(ctx context.Context, user common.Address) (domain.UserReward, error) {
	r := domain.UserReward{User: user}
	acct := domain.PendingAccount(user)
	var err error
	if r.Pending, err = s.db.RewardBalance(ctx, acct); err != nil {
		return r, err
	}
	if r.Claimed, err = s.db.SumEntries(ctx, acct, domain.TxClaim, domain.EntryDebit); err != nil {
		return r, err
	}
	return r, nil
}

// Pool returns the undistributed fee pool.
func (s *Service) Pool(ctx context.Context) (*big.Int, error) {
	return s.db.RewardBalance(ctx, domain.AccountFeePool)
}

// History returns recent distributions, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]domain.Distribution, error) {
	return s.db.ListDistributions(ctx, limit)
}

// Ledger returns recent entries for an account.
func (s *Service) Ledger(ctx context.Context, account string, limit int) ([]domain.LedgerEntry, error) {
	return s.db.LedgerEntries(ctx, account, limit)
}

// ─── Ledger Helpers ─────────────────────────────────────────────────────────

// transfer must be called with ledgerMu held.
func (s *Service) transfer(ctx context.Context, tx domain.TxType, from, to string, amount *big.Int, ref, desc string) error {
	debit, credit, err := s.transferPair(ctx, tx, from, to, amount, ref, desc)
	if err != nil {
		return err
	}
	return s.db.InsertLedgerPair(ctx, debit, credit)
}

// transferPair must be called with ledgerMu held.
func (s *Service) transferPair(ctx context.Context, tx domain.TxType, from, to string, amount *big.Int, ref, desc string) (domain.LedgerEntry, domain.LedgerEntry, error) {
	fromBal, err := s.db.RewardBalance(ctx, from)
	if err != nil {
		return domain.LedgerEntry{}, domain.LedgerEntry{}, fmt.Errorf("get %s balance: %w", from, err)
	}
	toBal, err := s.db.RewardBalance(ctx, to)
	if err != nil {
		return domain.LedgerEntry{}, domain.LedgerEntry{}, fmt.Errorf("get %s balance: %w", to, err)
	}
	debit, credit := pair(s.timeNow(), tx, from, to, amount, ref, desc, fromBal, toBal)
	return debit, credit, nil
}

// pair builds a DEBIT of from and a CREDIT of to with updated balances.
func pair(at time.Time, tx domain.TxType, from, to string, amount *big.Int, ref, desc string, fromBal, toBal *big.Int) (domain.LedgerEntry, domain.LedgerEntry) {
	debit := domain.LedgerEntry{
		Timestamp:   at,
		Type:        tx,
		EntryType:   domain.EntryDebit,
		Account:     from,
		Amount:      new(big.Int).Set(amount),
		Reference:   ref,
		Description: desc,
		Balance:     new(big.Int).Sub(fromBal, amount),
	}
	credit := domain.LedgerEntry{
		Timestamp:   at,
		Type:        tx,
		EntryType:   domain.EntryCredit,
		Account:     to,
		Amount:      new(big.Int).Set(amount),
		Reference:   ref,
		Description: desc,
		Balance:     new(big.Int).Add(toBal, amount),
	}
	return debit, credit
}

func (s *Service) lastDistribution(ctx context.Context) (time.Time, error) {
	v, err := s.db.GetSetting(ctx, settingLastDistribution)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad %s %q: %w", settingLastDistribution, v, err)
	}
	return time.Unix(ts, 0), nil
}

func (s *Service) setLastDistribution(ctx context.Context, t time.Time) error {
	return s.db.SetSetting(ctx, settingLastDistribution, strconv.FormatInt(t.Unix(), 10))
}

func (s *Service) refreshPoolGauge(ctx context.Context) {
	pool, err := s.db.RewardBalance(ctx, domain.AccountFeePool)
	if err != nil {
		return
	}
	f, _ := new(big.Float).SetInt(pool).Float64()
	metrics.RewardPoolWei.Set(f)
}
