package hub

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/app/codec"
	"github.com/imperfect-abs/abshub/internal/app/scoring"
	"github.com/imperfect-abs/abshub/internal/domain"
	"github.com/imperfect-abs/abshub/internal/infra/metrics"
	"github.com/imperfect-abs/abshub/internal/infra/sqlite"
)

// OutcomeKind classifies what a callback did.
type OutcomeKind string

const (
	// OutcomeIgnored: unknown or already-consumed request, or a session
	// whose analysis was already complete. Nothing changed.
	OutcomeIgnored OutcomeKind = "ignored"
	// OutcomeEnhanced: the response parsed and the session was enhanced.
	OutcomeEnhanced OutcomeKind = "enhanced"
	// OutcomeFallback: the oracle reported an error; the base score was used.
	OutcomeFallback OutcomeKind = "fallback"
	// OutcomeRejected: the response did not parse; the session is failed.
	OutcomeRejected OutcomeKind = "rejected"
)

// FulfillOutcome is the result of one oracle callback.
type FulfillOutcome struct {
	Kind          OutcomeKind    `json:"kind"`
	User          common.Address `json:"user"`
	Session       uint64         `json:"session"`
	EnhancedScore uint64         `json:"enhanced_score"`
}

// ParseAnalysis reads the DON response. All four fields are required.
func ParseAnalysis(response []byte) (domain.Enhancement, error) {
	var e domain.Enhancement
	body := string(response)

	field := func(key string) (string, error) {
		v := codec.ExtractJSONValue(body, key)
		if v == "" {
			return "", fmt.Errorf("%w: missing %q", domain.ErrInvalidJSON, key)
		}
		return v, nil
	}

	var err error
	if e.Conditions, err = field("conditions"); err != nil {
		return e, err
	}
	raw, err := field("temperature")
	if err != nil {
		return e, err
	}
	if e.Temperature, err = codec.ParseInt(raw); err != nil {
		return e, fmt.Errorf("%w: temperature: %w", domain.ErrInvalidJSON, err)
	}
	if raw, err = field("weatherBonus"); err != nil {
		return e, err
	}
	if e.WeatherBonus, err = codec.ParseUint(raw); err != nil {
		return e, fmt.Errorf("%w: weatherBonus: %w", domain.ErrInvalidJSON, err)
	}
	if raw, err = field("score"); err != nil {
		return e, err
	}
	if e.Score, err = codec.ParseUint(raw); err != nil {
		return e, fmt.Errorf("%w: score: %w", domain.ErrInvalidJSON, err)
	}
	return e, nil
}

// FulfillRequest implements domain.OracleConsumer.
func (s *Service) FulfillRequest(ctx context.Context, requestID common.Hash, response, errBytes []byte) error {
	_, err := s.Fulfill(ctx, requestID, response, errBytes)
	return err
}

// Fulfill applies an oracle callback. The pending request is consumed at
// most once; duplicates and unknown IDs are ignored without error. Error
// bytes select the base-score fallback. A response that fails to parse
// marks the session failed and returns an error wrapping ErrInvalidJSON;
// the submission itself is unaffected.
func (s *Service) Fulfill(ctx context.Context, requestID common.Hash, response, errBytes []byte) (FulfillOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := FulfillOutcome{Kind: OutcomeIgnored}
	req, err := s.db.GetPendingRequest(ctx, requestID)
	if errors.Is(err, sqlite.ErrNotFound) {
		metrics.OracleCallbacks.WithLabelValues(string(OutcomeIgnored)).Inc()
		if Debug {
			log.Printf("[hub] callback for unknown request %s ignored", requestID.Hex())
		}
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("load request: %w", err)
	}
	out.User = req.User
	out.Session = req.SessionIndex

	ws, err := s.db.GetSession(ctx, req.User, req.SessionIndex)
	missing := errors.Is(err, sqlite.ErrNotFound)
	if err != nil && !missing {
		return out, fmt.Errorf("load session: %w", err)
	}

	var result sqlite.AnalysisResult
	var parseErr error
	switch {
	case missing || ws.AnalysisComplete:
		// consume only
	case len(errBytes) > 0:
		out.Kind = OutcomeFallback
		out.EnhancedScore = scoring.BaseScore(ws.Reps, ws.FormAccuracy, ws.Streak)
		result = sqlite.AnalysisResult{
			Status:        domain.AnalysisCompleted,
			Complete:      true,
			EnhancedScore: out.EnhancedScore,
		}
	default:
		enh, err := ParseAnalysis(response)
		if err != nil {
			out.Kind = OutcomeRejected
			parseErr = err
			result = sqlite.AnalysisResult{Status: domain.AnalysisFailed}
			break
		}
		out.Kind = OutcomeEnhanced
		out.EnhancedScore = enh.Score
		result = sqlite.AnalysisResult{
			Status:        domain.AnalysisCompleted,
			Complete:      true,
			EnhancedScore: enh.Score,
			WeatherBonus:  enh.WeatherBonus,
			Temperature:   enh.Temperature,
			Conditions:    enh.Conditions,
		}
	}

	if out.Kind == OutcomeIgnored {
		if _, err := s.db.ConsumeRequest(ctx, req, sqlite.AnalysisResult{Status: ws.Status, Complete: ws.AnalysisComplete}); err != nil {
			return out, fmt.Errorf("consume request: %w", err)
		}
		metrics.OracleCallbacks.WithLabelValues(string(OutcomeIgnored)).Inc()
		return out, nil
	}

	consumed, err := s.db.ConsumeRequest(ctx, req, result)
	if err != nil {
		return out, fmt.Errorf("consume request: %w", err)
	}
	if !consumed {
		out = FulfillOutcome{Kind: OutcomeIgnored, User: req.User, Session: req.SessionIndex}
		metrics.OracleCallbacks.WithLabelValues(string(OutcomeIgnored)).Inc()
		return out, nil
	}
	metrics.OracleCallbacks.WithLabelValues(string(out.Kind)).Inc()

	ev := domain.Event{User: req.User, Session: req.SessionIndex, RequestID: requestID, Score: out.EnhancedScore}
	switch out.Kind {
	case OutcomeRejected:
		log.Printf("[hub] analysis %s rejected: %v", requestID.Hex(), parseErr)
		ev.Type = domain.EventAnalysisFailed
		ev.Detail = parseErr.Error()
		s.publish(ev)
		return out, fmt.Errorf("fulfill %s: %w", requestID.Hex(), parseErr)
	case OutcomeFallback:
		log.Printf("[hub] analysis %s errored, using base score %d: %s", requestID.Hex(), out.EnhancedScore, errBytes)
		ev.Type = domain.EventAnalysisCompleted
		ev.Detail = "fallback"
		s.publish(ev)
	default:
		ev.Type = domain.EventAnalysisCompleted
		s.publish(ev)
	}

	total, err := s.totalScore(ctx, req.User)
	if err != nil {
		log.Printf("[hub] score for %s: %v", req.User.Hex(), err)
	}
	s.publish(domain.Event{Type: domain.EventLeaderboardUpdated, User: req.User, Score: total})
	return out, nil
}
