package rewards

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/imperfect-abs/abshub/internal/app/scoring"
	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/metrics"
)

// WeightUnit scales rank weights: rank r of N weighs (N-r)*WeightUnit.
const WeightUnit = 100

const rankPage = 500

// Weights returns the rank weights for n recipients and their sum.
func Weights(n int) ([]uint64, uint64) {
	w := make([]uint64, n)
	var total uint64
	for r := 0; r < n; r++ {
		w[r] = uint64(n-r) * WeightUnit
		total += w[r]
	}
	return w, total
}

// Shares splits pool by weight with truncating division. The remainder
// (dust) is whatever the shares do not add up to.
func Shares(pool *big.Int, weights []uint64, total uint64) []*big.Int {
	out := make([]*big.Int, len(weights))
	if total == 0 {
		for i := range out {
			out[i] = new(big.Int)
		}
		return out
	}
	den := new(big.Int).SetUint64(total)
	for i, w := range weights {
		v := new(big.Int).Mul(pool, new(big.Int).SetUint64(w))
		out[i] = v.Quo(v, den)
	}
	return out
}

// ─── Distribution ───────────────────────────────────────────────────────────

// Distribute pays the fee pool out to the top performers. Manual and
// emergency triggers require the owner; manual and automatic triggers
// require the period to have elapsed. Only one distribution runs at a time.
func (s *Service) Distribute(ctx context.Context, caller common.Address, trigger domain.DistributionTrigger) (domain.Distribution, error) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		return domain.Distribution{}, domain.ErrDistributionInProgress
	}
	s.inProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	return s.distribute(ctx, caller, trigger)
}

func (s *Service) authorize(ctx context.Context, caller common.Address, trigger domain.DistributionTrigger) error {
	switch trigger {
	case domain.TriggerManual, domain.TriggerEmergency:
		if domain.IsZeroAddress(s.owner) || caller != s.owner {
			return domain.ErrNotOwner
		}
	case domain.TriggerAutomatic:
		if !s.cfg.AutoDistribution {
			return domain.ErrAutoDistributionOff
		}
	default:
		return fmt.Errorf("unknown distribution trigger %q", trigger)
	}
	if trigger == domain.TriggerEmergency {
		return nil
	}
	due, err := s.due(ctx)
	if err != nil {
		return err
	}
	if !due {
		return domain.ErrDistributionTooEarly
	}
	return nil
}

func (s *Service) due(ctx context.Context) (bool, error) {
	last, err := s.lastDistribution(ctx)
	if err != nil {
		return false, err
	}
	return !s.timeNow().Before(last.Add(s.cfg.Period)), nil
}

func (s *Service) recipients(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	var all []domain.LeaderboardEntry
	for offset := 0; ; offset += rankPage {
		page, err := s.source.Leaderboard(ctx, offset, rankPage)
		if err != nil {
			return nil, fmt.Errorf("load leaderboard: %w", err)
		}
		all = append(all, page...)
		if len(page) < rankPage {
			break
		}
	}
	return scoring.Rank(all, s.cfg.TopN), nil
}

func (s *Service) distribute(ctx context.Context, caller common.Address, trigger domain.DistributionTrigger) (domain.Distribution, error) {
	var dist domain.Distribution
	if err := s.authorize(ctx, caller, trigger); err != nil {
		return dist, err
	}

	top, err := s.recipients(ctx)
	if err != nil {
		return dist, err
	}

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	pool, err := s.db.RewardBalance(ctx, domain.AccountFeePool)
	if err != nil {
		return dist, fmt.Errorf("get pool: %w", err)
	}
	if pool.Sign() <= 0 || len(top) == 0 {
		return dist, domain.ErrNothingToDistribute
	}

	now := s.timeNow()
	dist = domain.Distribution{
		ID:      uuid.New().String(),
		Trigger: trigger,
		At:      now,
		Pool:    new(big.Int).Set(pool),
		Paid:    new(big.Int),
	}

	weights, total := Weights(len(top))
	shares := Shares(pool, weights, total)

	poolBal := new(big.Int).Set(pool)
	var entries []domain.LedgerEntry
	for r, e := range top {
		amount := shares[r]
		dist.Payouts = append(dist.Payouts, domain.Payout{
			Rank:   r,
			User:   e.User,
			Score:  e.TotalScore,
			Weight: weights[r],
			Amount: amount,
		})
		if amount.Sign() == 0 {
			continue
		}
		acct := domain.PendingAccount(e.User)
		userBal, err := s.db.RewardBalance(ctx, acct)
		if err != nil {
			return dist, fmt.Errorf("get %s balance: %w", acct, err)
		}
		debit, credit := pair(now, domain.TxDistribute, domain.AccountFeePool, acct, amount,
			dist.ID, fmt.Sprintf("rank %d reward", r+1), poolBal, userBal)
		entries = append(entries, debit, credit)
		poolBal.Sub(poolBal, amount)
		dist.Paid.Add(dist.Paid, amount)
	}

	if err := s.db.CommitDistribution(ctx, entries, dist, settingLastDistribution); err != nil {
		return domain.Distribution{}, err
	}

	metrics.RewardDistributions.WithLabelValues(string(trigger)).Inc()
	s.refreshPoolGauge(ctx)
	log.Printf("[rewards] %s distribution %s: %s of %s wei to %d users",
		trigger, dist.ID, dist.Paid, dist.Pool, len(dist.Payouts))
	s.publish(domain.Event{
		Type:      domain.EventRewardsDistributed,
		Detail:    dist.ID,
		Timestamp: now,
	})
	return dist, nil
}

// ─── Automation ─────────────────────────────────────────────────────────────

// CheckUpkeep reports whether an automatic distribution would run now.
func (s *Service) CheckUpkeep(ctx context.Context) (bool, error) {
	if !s.cfg.AutoDistribution {
		return false, nil
	}
	due, err := s.due(ctx)
	if err != nil || !due {
		return false, err
	}
	pool, err := s.db.RewardBalance(ctx, domain.AccountFeePool)
	if err != nil || pool.Sign() <= 0 {
		return false, err
	}
	n, err := s.source.ParticipantCount(ctx)
	return n > 0, err
}

// PerformUpkeep runs the automatic distribution.
func (s *Service) PerformUpkeep(ctx context.Context) (domain.Distribution, error) {
	return s.Distribute(ctx, common.Address{}, domain.TriggerAutomatic)
}

// Run polls CheckUpkeep every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := s.CheckUpkeep(ctx)
			if err != nil {
				log.Printf("[rewards] upkeep check: %v", err)
				continue
			}
			if !ok {
				continue
			}
			if _, err := s.PerformUpkeep(ctx); err != nil {
				log.Printf("[rewards] automatic distribution: %v", err)
			}
		}
	}
}
