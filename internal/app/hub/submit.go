package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/app/codec"
	"github.com/imperfect-abs/abshub/internal/app/scoring"
	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/metrics"
	"github.com/imperfect-abs/abshub/internal/infra/sqlite"
)

// SubmitResult describes an accepted submission.
type SubmitResult struct {
	Session   domain.WorkoutSession `json:"session"`
	Score     domain.LocalAbsScore  `json:"score"`
	Position  uint64                `json:"position"`
	BaseScore uint64                `json:"base_score"`
	RequestID common.Hash           `json:"request_id"`
	OracleErr string                `json:"oracle_error,omitempty"`
	Fee       *big.Int              `json:"fee"`
	Refund    *big.Int              `json:"refund"`
}

// SubmitWorkoutSession validates and records a workout, updates the ledger
// and leaderboard, then asks the oracle to analyze the session. Validation
// runs in order reps, accuracy, cooldown, fee; nothing is written when any
// check fails. The fee lands in the pool in the same transaction as the
// session. A failed oracle send leaves the session submitted.
func (s *Service) SubmitWorkoutSession(ctx context.Context, sub domain.Submission) (SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SubmitResult
	if domain.IsZeroAddress(sub.User) {
		return res, s.reject("user", domain.ErrInvalidUser)
	}
	if sub.Reps == 0 || sub.Reps > s.cfg.MaxRepsPerSession {
		return res, s.reject("reps", &domain.InvalidRepsError{Reps: sub.Reps, Max: s.cfg.MaxRepsPerSession})
	}
	if sub.FormAccuracy > 100 {
		return res, s.reject("accuracy", &domain.InvalidAccuracyError{Accuracy: sub.FormAccuracy})
	}

	now := s.now()
	prev, err := s.db.GetAbsScore(ctx, sub.User)
	first := errors.Is(err, sqlite.ErrNotFound)
	if err != nil && !first {
		return res, fmt.Errorf("load score: %w", err)
	}
	if !first && s.cfg.SubmissionCooldown > 0 {
		ready := prev.LastSubmission.Add(s.cfg.SubmissionCooldown)
		if now.Before(ready) {
			return res, s.reject("cooldown", &domain.CooldownError{Remaining: ready.Sub(now)})
		}
	}

	value := sub.Value
	if value == nil {
		value = new(big.Int)
	}
	fee := new(big.Int)
	if s.fees != nil {
		fee.Set(s.fees.SubmissionFee())
	}
	if value.Cmp(fee) < 0 {
		return res, s.reject("fee", &domain.InsufficientFeeError{Have: value, Need: fee, Kind: domain.ErrInsufficientFee})
	}
	var feeEntries []domain.LedgerEntry
	release := func() {}
	if fee.Sign() > 0 {
		if feeEntries, release, err = s.fees.PrepareFee(ctx, sub.User, fee); err != nil {
			return res, fmt.Errorf("collect fee: %w", err)
		}
	}

	score := prev
	if first {
		score = domain.LocalAbsScore{
			User:                sub.User,
			TotalReps:           sub.Reps,
			AverageFormAccuracy: sub.FormAccuracy,
			BestStreak:          sub.Streak,
			SessionsCompleted:   1,
		}
	} else {
		score.TotalReps += sub.Reps
		score.AverageFormAccuracy = scoring.RunningAverage(prev.AverageFormAccuracy, prev.SessionsCompleted, sub.FormAccuracy)
		score.BestStreak = max(prev.BestStreak, sub.Streak)
		score.SessionsCompleted++
	}
	score.Timestamp = now
	score.LastSubmission = now

	session := domain.WorkoutSession{
		User:         sub.User,
		Index:        score.SessionsCompleted - 1,
		Reps:         sub.Reps,
		FormAccuracy: sub.FormAccuracy,
		Streak:       sub.Streak,
		Duration:     sub.Duration,
		Latitude:     sub.Latitude,
		Longitude:    sub.Longitude,
		SubmittedAt:  now,
		Status:       domain.AnalysisSubmitted,
	}

	pos, err := s.db.RecordSession(ctx, score, session, feeEntries)
	release()
	if err != nil {
		return res, fmt.Errorf("record session: %w", err)
	}
	res.Fee = fee
	res.Refund = new(big.Int).Sub(value, fee)
	metrics.WorkoutsSubmitted.Inc()
	s.refreshLeaderboardGauge(ctx)

	res.Session = session
	res.Score = score
	res.Position = pos
	res.BaseScore = scoring.BaseScore(sub.Reps, sub.FormAccuracy, sub.Streak)

	s.publish(domain.Event{Type: domain.EventWorkoutSubmitted, User: sub.User, Score: res.BaseScore, Session: session.Index})
	total, err := s.totalScore(ctx, sub.User)
	if err != nil {
		log.Printf("[hub] score for %s: %v", sub.User.Hex(), err)
	}
	s.publish(domain.Event{Type: domain.EventLeaderboardUpdated, User: sub.User, Score: total})

	id, err := s.requestAnalysis(ctx, session)
	if err != nil {
		log.Printf("[hub] analysis request for %s#%d failed: %v", sub.User.Hex(), session.Index, err)
		res.OracleErr = err.Error()
		return res, nil
	}
	res.RequestID = id
	res.Session.Status = domain.AnalysisRequested
	res.Session.RequestID = id
	return res, nil
}

func (s *Service) reject(reason string, err error) error {
	metrics.SubmissionsRejected.WithLabelValues(reason).Inc()
	return err
}

// AnalysisArgs encodes a session for the DON script:
// reps, accuracy, streak, duration, latitude, longitude.
func AnalysisArgs(ws domain.WorkoutSession) []string {
	return []string{
		strconv.FormatUint(ws.Reps, 10),
		strconv.FormatUint(ws.FormAccuracy, 10),
		strconv.FormatUint(ws.Streak, 10),
		strconv.FormatUint(ws.Duration, 10),
		codec.FormatCoordinate(ws.Latitude),
		codec.FormatCoordinate(ws.Longitude),
	}
}

// requestAnalysis must be called with mu held.
func (s *Service) requestAnalysis(ctx context.Context, ws domain.WorkoutSession) (common.Hash, error) {
	if s.oracle == nil {
		metrics.OracleRequests.WithLabelValues("unavailable").Inc()
		return common.Hash{}, domain.ErrOracleUnavailable
	}
	id, err := s.oracle.SendRequest(ctx, domain.OracleRequest{
		Consumer:       s.cfg.Address,
		Source:         s.cfg.OracleSource,
		Args:           AnalysisArgs(ws),
		SubscriptionID: s.cfg.SubscriptionID,
		GasLimit:       s.cfg.GasLimit,
	})
	if err != nil {
		metrics.OracleRequests.WithLabelValues("failed").Inc()
		return common.Hash{}, fmt.Errorf("send request: %w", err)
	}
	err = s.db.MarkAnalysisRequested(ctx, domain.FunctionsRequest{
		RequestID:    id,
		User:         ws.User,
		SessionIndex: ws.Index,
		CreatedAt:    s.now(),
	})
	if err != nil {
		metrics.OracleRequests.WithLabelValues("failed").Inc()
		return common.Hash{}, fmt.Errorf("store request %s: %w", id.Hex(), err)
	}
	metrics.OracleRequests.WithLabelValues("sent").Inc()
	if Debug {
		log.Printf("[hub] analysis requested %s for %s#%d", id.Hex(), ws.User.Hex(), ws.Index)
	}
	return id, nil
}

// RequestAnalysis re-sends the oracle request for a session whose analysis
// has not completed. Owner only; this is the only retry path.
func (s *Service) RequestAnalysis(ctx context.Context, caller, user common.Address, index uint64) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOwner(caller) {
		return common.Hash{}, domain.ErrNotOwner
	}
	ws, err := s.db.GetSession(ctx, user, index)
	if errors.Is(err, sqlite.ErrNotFound) {
		return common.Hash{}, fmt.Errorf("%s#%d: %w", user.Hex(), index, domain.ErrInvalidSession)
	}
	if err != nil {
		return common.Hash{}, err
	}
	if ws.AnalysisComplete {
		return common.Hash{}, domain.ErrAnalysisComplete
	}
	return s.requestAnalysis(ctx, ws)
}

// ResumeAnalyses re-sends every oracle request that has been pending for
// longer than olderThan. The old request ID is dropped once its
// replacement is stored, so a late callback for it is ignored. Requests
// for sessions that are gone or already complete are dropped outright.
// Returns how many requests were re-sent.
func (s *Service) ResumeAnalyses(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale, err := s.db.PendingRequests(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("list pending requests: %w", err)
	}
	resent := 0
	for _, req := range stale {
		ws, err := s.db.GetSession(ctx, req.User, req.SessionIndex)
		missing := errors.Is(err, sqlite.ErrNotFound)
		if err != nil && !missing {
			return resent, fmt.Errorf("load session: %w", err)
		}
		if !missing && !ws.AnalysisComplete {
			id, err := s.requestAnalysis(ctx, ws)
			if err != nil {
				return resent, fmt.Errorf("resume %s: %w", req.RequestID.Hex(), err)
			}
			log.Printf("[hub] analysis for %s#%d re-sent as %s", req.User.Hex(), req.SessionIndex, id.Hex())
			resent++
		}
		if err := s.db.DropRequest(ctx, req.RequestID); err != nil {
			return resent, fmt.Errorf("drop %s: %w", req.RequestID.Hex(), err)
		}
	}
	return resent, nil
}
