package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// ─── Bridge State ───────────────────────────────────────────────────────────

// GetBridgeState returns the bridge bookkeeping for user (zero if never bridged).
func (d *DB) GetBridgeState(ctx context.Context, user common.Address) (domain.BridgeState, error) {
	st := domain.BridgeState{User: user}
	var score, last int64
	err := d.db.QueryRowContext(ctx,
		`SELECT last_score, last_bridge FROM bridge_users WHERE user = ?`, user.Hex(),
	).Scan(&score, &last)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.LastBridgedScore = uint64(score)
	st.LastBridgeTime = unixOrZero(last)
	return st, nil
}

// PutBridgeState overwrites the user's bridge bookkeeping.
func (d *DB) PutBridgeState(ctx context.Context, st domain.BridgeState) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO bridge_users (user, last_score, last_bridge) VALUES (?, ?, ?)
		 ON CONFLICT(user) DO UPDATE SET last_score=excluded.last_score, last_bridge=excluded.last_bridge`,
		st.User.Hex(), int64(st.LastBridgedScore), toUnix(st.LastBridgeTime),
	)
	if err != nil {
		return fmt.Errorf("upsert bridge user: %w", err)
	}
	return nil
}

// InsertBridgeMessage logs a sent message.
func (d *DB) InsertBridgeMessage(ctx context.Context, r domain.BridgeReceipt) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO bridge_messages (message_id, user, score, fee, sent_at) VALUES (?, ?, ?, ?, ?)`,
		r.MessageID.Hex(), r.User.Hex(), int64(r.Score), r.Fee.String(), toUnix(r.SentAt),
	)
	if err != nil {
		return fmt.Errorf("insert bridge message: %w", err)
	}
	return nil
}

// ListBridgeMessages returns recent messages for user, newest first.
func (d *DB) ListBridgeMessages(ctx context.Context, user common.Address, limit int) ([]domain.BridgeReceipt, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT message_id, score, fee, sent_at FROM bridge_messages
		 WHERE user = ? ORDER BY sent_at DESC, rowid DESC LIMIT ?`,
		user.Hex(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BridgeReceipt
	for rows.Next() {
		r := domain.BridgeReceipt{User: user}
		var id, fee string
		var score, sent int64
		if err := rows.Scan(&id, &score, &fee, &sent); err != nil {
			return nil, err
		}
		r.MessageID = common.HexToHash(id)
		r.Score = uint64(score)
		r.SentAt = unixOrZero(sent)
		if r.Fee, err = parseWei(fee); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
