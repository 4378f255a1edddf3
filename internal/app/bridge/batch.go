package bridge

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/metrics"
)

// BridgeMultipleUsers bridges up to MaxBatchSize users, best effort.
// Zero addresses and ineligible users are skipped; the batch stops at the
// first user whose fee exceeds the remaining value. Unspent value is
// returned as Refund.
func (s *Service) BridgeMultipleUsers(ctx context.Context, users []common.Address, value *big.Int) (domain.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value == nil {
		value = new(big.Int)
	}
	res := domain.BatchResult{Spent: new(big.Int), Refund: new(big.Int).Set(value)}
	if len(users) > s.cfg.MaxBatchSize {
		return res, fmt.Errorf("%w: %d > %d", domain.ErrBatchTooLarge, len(users), s.cfg.MaxBatchSize)
	}
	if !s.cfg.Active {
		return res, domain.ErrBridgeInactive
	}

	now := s.now()
	remaining := new(big.Int).Set(value)
	skip := func(u common.Address, err error) {
		metrics.BridgeMessages.WithLabelValues("skipped").Inc()
		res.Skipped = append(res.Skipped, domain.SkippedUser{User: u, Reason: err.Error()})
	}

	for _, user := range users {
		score, err := s.eligible(ctx, user, now)
		if err != nil {
			skip(user, err)
			continue
		}
		msg, err := s.message(user, score)
		if err != nil {
			skip(user, err)
			continue
		}
		fee, err := s.router.GetFee(s.cfg.Destination.Selector, msg)
		if err != nil {
			skip(user, err)
			continue
		}
		if remaining.Cmp(fee) < 0 {
			res.Stopped = true
			break
		}
		r, err := s.send(ctx, user, score, msg, fee, now)
		if err != nil {
			skip(user, err)
			continue
		}
		remaining.Sub(remaining, fee)
		res.Sent = append(res.Sent, r)
	}

	res.Spent.Sub(value, remaining)
	res.Refund.Set(remaining)
	log.Printf("[bridge] batch: %d sent, %d skipped, spent %s, refund %s",
		len(res.Sent), len(res.Skipped), res.Spent, res.Refund)
	return res, nil
}
