package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/app/scoring"
	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/sqlite"
)

// ─── Read Model ─────────────────────────────────────────────────────────────

// UserScore is everything known about one participant.
type UserScore struct {
	User       common.Address               `json:"user"`
	Position   uint64                       `json:"position"`
	Local      domain.LocalAbsScore         `json:"local"`
	CrossChain domain.CrossChainFitnessData `json:"cross_chain"`
	Breakdown  scoring.Breakdown            `json:"breakdown"`
}

// Score returns the composite score for user. Unknown users score zero.
func (s *Service) Score(ctx context.Context, user common.Address) (UserScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userScore(ctx, user)
}

func (s *Service) userScore(ctx context.Context, user common.Address) (UserScore, error) {
	us := UserScore{User: user}
	local, err := s.db.GetAbsScore(ctx, user)
	if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
		return us, fmt.Errorf("load local score: %w", err)
	}
	local.User = user
	us.Local = local

	if us.CrossChain, err = s.db.CrossChainData(ctx, user); err != nil {
		return us, fmt.Errorf("load cross-chain data: %w", err)
	}
	if us.Position, err = s.db.LeaderboardPosition(ctx, user); err != nil {
		return us, fmt.Errorf("load position: %w", err)
	}
	us.Breakdown = scoring.Composite(scoring.LocalScore(local), us.CrossChain.Slots)
	return us, nil
}

func (s *Service) totalScore(ctx context.Context, user common.Address) (uint64, error) {
	us, err := s.userScore(ctx, user)
	return us.Breakdown.Total, err
}

// TotalScore returns the composite ranking number for user.
func (s *Service) TotalScore(ctx context.Context, user common.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalScore(ctx, user)
}

// Leaderboard returns participants in enrollment order with their scores.
// Implements domain.ScoreSource.
func (s *Service) Leaderboard(ctx context.Context, offset, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leaderboard(ctx, offset, limit)
}

func (s *Service) leaderboard(ctx context.Context, offset, limit int) ([]domain.LeaderboardEntry, error) {
	members, err := s.db.LeaderboardMembers(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	entries := make([]domain.LeaderboardEntry, 0, len(members))
	for _, m := range members {
		us, err := s.userScore(ctx, m.User)
		if err != nil {
			return nil, err
		}
		entries = append(entries, domain.LeaderboardEntry{
			Position:        m.Position,
			User:            m.User,
			LocalScore:      us.Breakdown.Local,
			CrossChainScore: us.Breakdown.CrossChain,
			ActiveChains:    us.Breakdown.ActiveChains,
			BonusBps:        us.Breakdown.BonusBps,
			TotalScore:      us.Breakdown.Total,
		})
	}
	return entries, nil
}

// ParticipantCount returns the leaderboard size. Implements domain.ScoreSource.
func (s *Service) ParticipantCount(ctx context.Context) (int, error) {
	return s.db.LeaderboardSize(ctx)
}

const rankPage = 500

// Top ranks every participant by composite score and returns the first n
// with a nonzero score. Ties keep enrollment order.
func (s *Service) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []domain.LeaderboardEntry
	for offset := 0; ; offset += rankPage {
		page, err := s.leaderboard(ctx, offset, rankPage)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < rankPage {
			break
		}
	}
	return scoring.Rank(all, n), nil
}

// ─── Sessions ───────────────────────────────────────────────────────────────

// Sessions returns a user's workout history in submission order.
func (s *Service) Sessions(ctx context.Context, user common.Address, offset, limit int) ([]domain.WorkoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.ListSessions(ctx, user, offset, limit)
}

// Session returns one session or ErrInvalidSession.
func (s *Service) Session(ctx context.Context, user common.Address, index uint64) (domain.WorkoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, err := s.db.GetSession(ctx, user, index)
	if errors.Is(err, sqlite.ErrNotFound) {
		return ws, fmt.Errorf("%s#%d: %w", user.Hex(), index, domain.ErrInvalidSession)
	}
	return ws, err
}

// CrossChain returns the per-chain slots for user.
func (s *Service) CrossChain(ctx context.Context, user common.Address) (domain.CrossChainFitnessData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.CrossChainData(ctx, user)
}

// PendingAnalyses counts oracle requests still outstanding after age.
func (s *Service) PendingAnalyses(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.db.PendingRequestCount(ctx, s.clock().Add(-olderThan))
}

func (s *Service) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}
