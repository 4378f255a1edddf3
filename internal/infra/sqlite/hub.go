package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// ─── Local Ledger ───────────────────────────────────────────────────────────

// GetAbsScore returns the aggregated record for user, or ErrNotFound.
func (d *DB) GetAbsScore(ctx context.Context, user common.Address) (domain.LocalAbsScore, error) {
	var s domain.LocalAbsScore
	var reps, acc, streak, sessions, updated, last int64
	err := d.db.QueryRowContext(ctx,
		`SELECT total_reps, avg_accuracy, best_streak, sessions, updated_at, last_submission
		 FROM abs_scores WHERE user = ?`, user.Hex(),
	).Scan(&reps, &acc, &streak, &sessions, &updated, &last)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.User = user
	s.TotalReps = uint64(reps)
	s.AverageFormAccuracy = uint64(acc)
	s.BestStreak = uint64(streak)
	s.SessionsCompleted = uint64(sessions)
	s.Timestamp = unixOrZero(updated)
	s.LastSubmission = unixOrZero(last)
	return s, nil
}

// RecordSession atomically upserts the aggregated score, appends the session,
// enrolls the user on the leaderboard and writes the submission fee ledger
// entries (none when fee is empty). Returns the leaderboard position.
func (d *DB) RecordSession(ctx context.Context, score domain.LocalAbsScore, session domain.WorkoutSession, fee []domain.LedgerEntry) (uint64, error) {
	if len(fee)%2 != 0 {
		return 0, fmt.Errorf("ledger entries must come in pairs, got %d", len(fee))
	}
	var position uint64
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range fee {
			if err := insertLedgerEntry(ctx, tx, e); err != nil {
				return fmt.Errorf("fee: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO abs_scores (user, total_reps, avg_accuracy, best_streak, sessions, updated_at, last_submission)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user) DO UPDATE SET
				total_reps=excluded.total_reps,
				avg_accuracy=excluded.avg_accuracy,
				best_streak=excluded.best_streak,
				sessions=excluded.sessions,
				updated_at=excluded.updated_at,
				last_submission=excluded.last_submission`,
			score.User.Hex(), int64(score.TotalReps), int64(score.AverageFormAccuracy),
			int64(score.BestStreak), int64(score.SessionsCompleted),
			toUnix(score.Timestamp), toUnix(score.LastSubmission),
		)
		if err != nil {
			return fmt.Errorf("upsert abs score: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO workout_sessions (user, idx, reps, form_accuracy, streak, duration, latitude, longitude, submitted_at, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.User.Hex(), int64(session.Index), int64(session.Reps), int64(session.FormAccuracy),
			int64(session.Streak), int64(session.Duration), session.Latitude, session.Longitude,
			toUnix(session.SubmittedAt), string(session.Status),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		position, err = enroll(ctx, tx, score.User)
		return err
	})
	return position, err
}

// enroll adds user to the leaderboard if absent and returns the position.
func enroll(ctx context.Context, tx *sql.Tx, user common.Address) (uint64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO leaderboard (user) VALUES (?)`, user.Hex(),
	); err != nil {
		return 0, fmt.Errorf("enroll: %w", err)
	}
	var pos int64
	if err := tx.QueryRowContext(ctx,
		`SELECT position FROM leaderboard WHERE user = ?`, user.Hex(),
	).Scan(&pos); err != nil {
		return 0, fmt.Errorf("leaderboard position: %w", err)
	}
	return uint64(pos), nil
}

const sessionColumns = `user, idx, reps, form_accuracy, streak, duration, latitude, longitude, submitted_at,
	status, request_id, enhanced_score, weather_bonus, temperature, conditions, analysis_complete`

func scanSession(s scanner) (domain.WorkoutSession, error) {
	var ws domain.WorkoutSession
	var user, status, requestID string
	var idx, reps, acc, streak, dur, submitted, enhanced, bonus int64
	err := s.Scan(&user, &idx, &reps, &acc, &streak, &dur, &ws.Latitude, &ws.Longitude, &submitted,
		&status, &requestID, &enhanced, &bonus, &ws.Temperature, &ws.Conditions, &ws.AnalysisComplete)
	if err != nil {
		return ws, err
	}
	ws.User = common.HexToAddress(user)
	ws.Index = uint64(idx)
	ws.Reps = uint64(reps)
	ws.FormAccuracy = uint64(acc)
	ws.Streak = uint64(streak)
	ws.Duration = uint64(dur)
	ws.SubmittedAt = unixOrZero(submitted)
	ws.Status = domain.AnalysisStatus(status)
	if requestID != "" {
		ws.RequestID = common.HexToHash(requestID)
	}
	ws.EnhancedScore = uint64(enhanced)
	ws.WeatherBonus = uint64(bonus)
	return ws, nil
}

// GetSession returns one session, or ErrNotFound.
func (d *DB) GetSession(ctx context.Context, user common.Address, index uint64) (domain.WorkoutSession, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM workout_sessions WHERE user = ? AND idx = ?`,
		user.Hex(), int64(index),
	)
	ws, err := scanSession(row)
	if err == sql.ErrNoRows {
		return ws, ErrNotFound
	}
	return ws, err
}

// ListSessions returns a user's sessions in submission order.
func (d *DB) ListSessions(ctx context.Context, user common.Address, offset, limit int) ([]domain.WorkoutSession, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM workout_sessions WHERE user = ? ORDER BY idx ASC LIMIT ? OFFSET ?`,
		user.Hex(), limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.WorkoutSession
	for rows.Next() {
		ws, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, ws)
	}
	return sessions, rows.Err()
}

// ─── Oracle Requests ────────────────────────────────────────────────────────

// MarkAnalysisRequested stores the pending request and flags the session.
func (d *DB) MarkAnalysisRequested(ctx context.Context, req domain.FunctionsRequest) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE workout_sessions SET status = ?, request_id = ?
			 WHERE user = ? AND idx = ? AND analysis_complete = 0`,
			string(domain.AnalysisRequested), req.RequestID.Hex(), req.User.Hex(), int64(req.SessionIndex),
		)
		if err != nil {
			return fmt.Errorf("flag session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pending_requests (request_id, user, session, created_at) VALUES (?, ?, ?, ?)`,
			req.RequestID.Hex(), req.User.Hex(), int64(req.SessionIndex), toUnix(req.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert pending request: %w", err)
		}
		return nil
	})
}

// GetPendingRequest returns the outstanding request, or ErrNotFound.
func (d *DB) GetPendingRequest(ctx context.Context, id common.Hash) (domain.FunctionsRequest, error) {
	var r domain.FunctionsRequest
	var user string
	var session, created int64
	err := d.db.QueryRowContext(ctx,
		`SELECT user, session, created_at FROM pending_requests WHERE request_id = ?`, id.Hex(),
	).Scan(&user, &session, &created)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.RequestID = id
	r.User = common.HexToAddress(user)
	r.SessionIndex = uint64(session)
	r.CreatedAt = unixOrZero(created)
	return r, nil
}

// PendingRequestCount returns outstanding requests older than before.
func (d *DB) PendingRequestCount(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_requests WHERE created_at < ?`, before.Unix(),
	).Scan(&n)
	return n, err
}

// PendingRequests returns outstanding requests created at or before before,
// oldest first.
func (d *DB) PendingRequests(ctx context.Context, before time.Time) ([]domain.FunctionsRequest, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT request_id, user, session, created_at FROM pending_requests
		 WHERE created_at <= ? ORDER BY created_at ASC, request_id ASC`, before.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []domain.FunctionsRequest
	for rows.Next() {
		var id, user string
		var session, created int64
		if err := rows.Scan(&id, &user, &session, &created); err != nil {
			return nil, err
		}
		reqs = append(reqs, domain.FunctionsRequest{
			RequestID:    common.HexToHash(id),
			User:         common.HexToAddress(user),
			SessionIndex: uint64(session),
			CreatedAt:    unixOrZero(created),
		})
	}
	return reqs, rows.Err()
}

// DropRequest forgets a pending request without touching its session.
// A later callback for it is treated as unknown.
func (d *DB) DropRequest(ctx context.Context, id common.Hash) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM pending_requests WHERE request_id = ?`, id.Hex())
	return err
}

// AnalysisResult is the session update applied when a request is consumed.
type AnalysisResult struct {
	Status        domain.AnalysisStatus
	Complete      bool
	EnhancedScore uint64
	WeatherBonus  uint64
	Temperature   int64
	Conditions    string
}

// ConsumeRequest deletes the pending request and applies result to its
// session in one transaction. Returns false when the request was not
// pending (unknown or already consumed); nothing is changed in that case.
// A session whose analysis is already complete is left untouched.
func (d *DB) ConsumeRequest(ctx context.Context, req domain.FunctionsRequest, result AnalysisResult) (bool, error) {
	consumed := false
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM pending_requests WHERE request_id = ?`, req.RequestID.Hex())
		if err != nil {
			return fmt.Errorf("delete pending request: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		consumed = true

		_, err = tx.ExecContext(ctx,
			`UPDATE workout_sessions SET status = ?, analysis_complete = ?, enhanced_score = ?,
				weather_bonus = ?, temperature = ?, conditions = ?
			 WHERE user = ? AND idx = ? AND analysis_complete = 0`,
			string(result.Status), result.Complete, int64(result.EnhancedScore),
			int64(result.WeatherBonus), result.Temperature, result.Conditions,
			req.User.Hex(), int64(req.SessionIndex),
		)
		if err != nil {
			return fmt.Errorf("update session analysis: %w", err)
		}
		return nil
	})
	return consumed, err
}

// ─── Leaderboard ────────────────────────────────────────────────────────────

// LeaderboardMember is a leaderboard row in insertion order.
type LeaderboardMember struct {
	Position uint64
	User     common.Address
}

// LeaderboardMembers returns members ordered by position.
func (d *DB) LeaderboardMembers(ctx context.Context, offset, limit int) ([]LeaderboardMember, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT position, user FROM leaderboard ORDER BY position ASC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []LeaderboardMember
	for rows.Next() {
		var pos int64
		var user string
		if err := rows.Scan(&pos, &user); err != nil {
			return nil, err
		}
		members = append(members, LeaderboardMember{Position: uint64(pos), User: common.HexToAddress(user)})
	}
	return members, rows.Err()
}

// LeaderboardPosition returns the 1-based position of user, or 0.
func (d *DB) LeaderboardPosition(ctx context.Context, user common.Address) (uint64, error) {
	var pos int64
	err := d.db.QueryRowContext(ctx,
		`SELECT position FROM leaderboard WHERE user = ?`, user.Hex(),
	).Scan(&pos)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return uint64(pos), err
}

// LeaderboardSize returns the number of enrolled users.
func (d *DB) LeaderboardSize(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leaderboard`).Scan(&n)
	return n, err
}

// ─── Cross-Chain Store ──────────────────────────────────────────────────────

// SetCrossChainScore overwrites the slot for (user, selector), logs the
// inbound message and enrolls the user.
func (d *DB) SetCrossChainScore(ctx context.Context, msg domain.CCIPMessage, user common.Address, score uint64, at time.Time) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cross_chain_scores (user, selector, score, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(user, selector) DO UPDATE SET score=excluded.score, updated_at=excluded.updated_at`,
			user.Hex(), msg.SourceChainSelector.String(), int64(score), toUnix(at),
		)
		if err != nil {
			return fmt.Errorf("set slot: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO ccip_inbound (message_id, selector, sender, user, score, received_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			msg.MessageID.Hex(), msg.SourceChainSelector.String(), msg.Sender.Hex(),
			user.Hex(), int64(score), toUnix(at),
		)
		if err != nil {
			return fmt.Errorf("log inbound: %w", err)
		}
		_, err = enroll(ctx, tx, user)
		return err
	})
}

// CrossChainData returns every slot recorded for user.
func (d *DB) CrossChainData(ctx context.Context, user common.Address) (domain.CrossChainFitnessData, error) {
	data := domain.CrossChainFitnessData{User: user, Slots: make(map[domain.ChainSelector]uint64)}
	rows, err := d.db.QueryContext(ctx,
		`SELECT selector, score, updated_at FROM cross_chain_scores WHERE user = ?`, user.Hex(),
	)
	if err != nil {
		return data, err
	}
	defer rows.Close()

	var latest int64
	for rows.Next() {
		var sel string
		var score, updated int64
		if err := rows.Scan(&sel, &score, &updated); err != nil {
			return data, err
		}
		v, err := strconv.ParseUint(sel, 10, 64)
		if err != nil {
			return data, fmt.Errorf("bad selector %q: %w", sel, err)
		}
		data.Slots[domain.ChainSelector(v)] = uint64(score)
		if updated > latest {
			latest = updated
		}
	}
	data.LastUpdate = unixOrZero(latest)
	return data, rows.Err()
}

// InboundMessageCount returns how many messages were received for user.
func (d *DB) InboundMessageCount(ctx context.Context, user common.Address) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ccip_inbound WHERE user = ?`, user.Hex(),
	).Scan(&n)
	return n, err
}

// ─── Allowlists ─────────────────────────────────────────────────────────────

// SeedChain registers a chain slot, keeping any existing allowed flag.
func (d *DB) SeedChain(ctx context.Context, c domain.Chain) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO allowed_chains (selector, name, allowed) VALUES (?, ?, 1)`,
		c.Selector.String(), c.Name,
	)
	return err
}

// SetChainAllowed toggles a known chain. Returns ErrNotFound for unknown selectors.
func (d *DB) SetChainAllowed(ctx context.Context, sel domain.ChainSelector, allowed bool) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE allowed_chains SET allowed = ? WHERE selector = ?`, allowed, sel.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ChainAllowed reports whether sel is a known, enabled slot.
func (d *DB) ChainAllowed(ctx context.Context, sel domain.ChainSelector) (bool, error) {
	var allowed bool
	err := d.db.QueryRowContext(ctx,
		`SELECT allowed FROM allowed_chains WHERE selector = ?`, sel.String(),
	).Scan(&allowed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return allowed, err
}

// SetSenderAllowed adds or removes a sender for a source chain.
func (d *DB) SetSenderAllowed(ctx context.Context, sel domain.ChainSelector, sender common.Address, allowed bool) error {
	var err error
	if allowed {
		_, err = d.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO allowed_senders (selector, sender) VALUES (?, ?)`,
			sel.String(), sender.Hex())
	} else {
		_, err = d.db.ExecContext(ctx,
			`DELETE FROM allowed_senders WHERE selector = ? AND sender = ?`,
			sel.String(), sender.Hex())
	}
	return err
}

// SenderAllowed reports whether sender may deliver from sel. An empty
// allowlist for a chain admits any sender.
func (d *DB) SenderAllowed(ctx context.Context, sel domain.ChainSelector, sender common.Address) (bool, error) {
	var total, match int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(sender = ?), 0) FROM allowed_senders WHERE selector = ?`,
		sender.Hex(), sel.String(),
	).Scan(&total, &match)
	if err != nil {
		return false, err
	}
	return total == 0 || match > 0, nil
}
