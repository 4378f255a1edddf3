package hub

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/ccip"
	"github.com/imperfect-abs/abshub/internal/infra/metrics"
	"github.com/imperfect-abs/abshub/internal/infra/sqlite"
)

// ─── Inbound Messages ───────────────────────────────────────────────────────

// CCIPReceive implements domain.CCIPReceiver. The payload is
// abi.encode(address user, uint256 score). The slot for the source chain
// is overwritten; delivery order between chains is not assumed.
func (s *Service) CCIPReceive(ctx context.Context, msg domain.CCIPMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	source := s.chainName(msg.SourceChainSelector)
	if err := s.authorize(ctx, msg); err != nil {
		metrics.CCIPInbound.WithLabelValues(source, "rejected").Inc()
		return err
	}
	user, score, err := ccip.DecodeScorePayload(msg.Data)
	if err != nil {
		metrics.CCIPInbound.WithLabelValues(source, "rejected").Inc()
		return fmt.Errorf("message %s: %w", msg.MessageID.Hex(), err)
	}
	if err := s.applyUpdate(ctx, msg, user, score); err != nil {
		metrics.CCIPInbound.WithLabelValues(source, "rejected").Inc()
		return err
	}
	metrics.CCIPInbound.WithLabelValues(source, "accepted").Inc()
	return nil
}

// ApplyCrossChainUpdate overwrites the slot for (user, source) with score.
func (s *Service) ApplyCrossChainUpdate(ctx context.Context, user common.Address, score uint64, source domain.ChainSelector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := domain.CCIPMessage{SourceChainSelector: source}
	if err := s.authorizeChain(ctx, source); err != nil {
		return err
	}
	return s.applyUpdate(ctx, msg, user, score)
}

func (s *Service) authorizeChain(ctx context.Context, sel domain.ChainSelector) error {
	ok, err := s.db.ChainAllowed(ctx, sel)
	if err != nil {
		return fmt.Errorf("check chain: %w", err)
	}
	if !ok {
		return &domain.UnauthorizedChainError{Selector: sel}
	}
	return nil
}

func (s *Service) authorize(ctx context.Context, msg domain.CCIPMessage) error {
	if err := s.authorizeChain(ctx, msg.SourceChainSelector); err != nil {
		return err
	}
	ok, err := s.db.SenderAllowed(ctx, msg.SourceChainSelector, msg.Sender)
	if err != nil {
		return fmt.Errorf("check sender: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s on %s", domain.ErrUnauthorizedSender, msg.Sender.Hex(), s.chainName(msg.SourceChainSelector))
	}
	return nil
}

// applyUpdate must be called with mu held and the source authorized.
func (s *Service) applyUpdate(ctx context.Context, msg domain.CCIPMessage, user common.Address, score uint64) error {
	if domain.IsZeroAddress(user) {
		return domain.ErrInvalidUser
	}
	if err := s.db.SetCrossChainScore(ctx, msg, user, score, s.now()); err != nil {
		return fmt.Errorf("store cross-chain score: %w", err)
	}
	s.refreshLeaderboardGauge(ctx)
	if Debug {
		log.Printf("[hub] %s slot for %s = %d", s.chainName(msg.SourceChainSelector), user.Hex(), score)
	}

	s.publish(domain.Event{
		Type:      domain.EventCrossChainScoreUpdated,
		User:      user,
		Score:     score,
		Chain:     msg.SourceChainSelector,
		MessageID: msg.MessageID,
	})
	total, err := s.totalScore(ctx, user)
	if err != nil {
		log.Printf("[hub] score for %s: %v", user.Hex(), err)
	}
	s.publish(domain.Event{Type: domain.EventLeaderboardUpdated, User: user, Score: total})
	return nil
}

// ─── Allowlists ─────────────────────────────────────────────────────────────

// AllowlistSourceChain enables or disables a configured remote slot. Owner only.
func (s *Service) AllowlistSourceChain(ctx context.Context, caller common.Address, sel domain.ChainSelector, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOwner(caller) {
		return domain.ErrNotOwner
	}
	err := s.db.SetChainAllowed(ctx, sel, allowed)
	if errors.Is(err, sqlite.ErrNotFound) {
		return &domain.UnauthorizedChainError{Selector: sel}
	}
	if err != nil {
		return err
	}
	log.Printf("[hub] source chain %s allowed=%v", s.chainName(sel), allowed)
	return nil
}

// AllowlistSender adds or removes a sender for a source chain. A chain with
// no listed senders accepts any sender. Owner only.
func (s *Service) AllowlistSender(ctx context.Context, caller common.Address, sel domain.ChainSelector, sender common.Address, allowed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOwner(caller) {
		return domain.ErrNotOwner
	}
	if err := s.db.SetSenderAllowed(ctx, sel, sender, allowed); err != nil {
		return err
	}
	log.Printf("[hub] sender %s on %s allowed=%v", sender.Hex(), s.chainName(sel), allowed)
	return nil
}
