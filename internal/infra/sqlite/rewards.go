package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/imperfect-abs/abshub/internal/domain"
)

// ─── Reward Ledger ──────────────────────────────────────────────────────────
// Amounts are wei, stored as decimal text so they never truncate.

// InsertLedgerPair writes a matched DEBIT/CREDIT pair atomically.
func (d *DB) InsertLedgerPair(ctx context.Context, debit, credit domain.LedgerEntry) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range []domain.LedgerEntry{debit, credit} {
			if err := insertLedgerEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertLedgerPairs writes several DEBIT/CREDIT pairs in one transaction.
func (d *DB) InsertLedgerPairs(ctx context.Context, entries []domain.LedgerEntry) error {
	if len(entries)%2 != 0 {
		return fmt.Errorf("ledger entries must come in pairs, got %d", len(entries))
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			if err := insertLedgerEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertLedgerEntry(ctx context.Context, tx *sql.Tx, e domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO reward_ledger (timestamp, type, entry_type, account, amount, reference, description, balance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		toUnix(e.Timestamp), string(e.Type), string(e.EntryType), e.Account,
		e.Amount.String(), e.Reference, e.Description, e.Balance.String(),
	)
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", e.EntryType, e.Account, err)
	}
	return nil
}

// RewardBalance returns the current balance of an account (zero if unused).
func (d *DB) RewardBalance(ctx context.Context, account string) (*big.Int, error) {
	var balance string
	err := d.db.QueryRowContext(ctx,
		`SELECT balance FROM reward_ledger WHERE account = ? ORDER BY id DESC LIMIT 1`,
		account,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parseWei(balance)
}

// LedgerEntries returns recent entries for an account, newest first.
func (d *DB) LedgerEntries(ctx context.Context, account string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, timestamp, type, entry_type, account, amount, reference, description, balance
		 FROM reward_ledger WHERE account = ? ORDER BY id DESC LIMIT ?`,
		account, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var ts int64
		var amount, balance string
		var ref, desc sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.EntryType, &e.Account,
			&amount, &ref, &desc, &balance); err != nil {
			return nil, err
		}
		e.Timestamp = unixOrZero(ts)
		if e.Amount, err = parseWei(amount); err != nil {
			return nil, err
		}
		if e.Balance, err = parseWei(balance); err != nil {
			return nil, err
		}
		e.Reference = ref.String
		e.Description = desc.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SumEntries totals the amounts of an account's entries of one type and side.
func (d *DB) SumEntries(ctx context.Context, account string, tx domain.TxType, side domain.EntryType) (*big.Int, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT amount FROM reward_ledger WHERE account = ? AND type = ? AND entry_type = ?`,
		account, string(tx), string(side),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	total := new(big.Int)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := parseWei(s)
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, rows.Err()
}

// AccountsWithPrefix lists distinct ledger accounts starting with prefix.
func (d *DB) AccountsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT DISTINCT account FROM reward_ledger WHERE account LIKE ? ESCAPE '\' ORDER BY account`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ─── Distributions ──────────────────────────────────────────────────────────

// CommitDistribution writes a payout round in one transaction: the
// DEBIT/CREDIT pairs, the distribution record and the settings key that
// holds the round's timestamp.
func (d *DB) CommitDistribution(ctx context.Context, entries []domain.LedgerEntry, dist domain.Distribution, lastKey string) error {
	if len(entries)%2 != 0 {
		return fmt.Errorf("ledger entries must come in pairs, got %d", len(entries))
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			if err := insertLedgerEntry(ctx, tx, e); err != nil {
				return fmt.Errorf("credit payouts: %w", err)
			}
		}
		if err := insertDistribution(ctx, tx, dist); err != nil {
			return fmt.Errorf("record distribution: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
			lastKey, strconv.FormatInt(dist.At.Unix(), 10),
		)
		if err != nil {
			return fmt.Errorf("set %s: %w", lastKey, err)
		}
		return nil
	})
}

func insertDistribution(ctx context.Context, tx *sql.Tx, dist domain.Distribution) error {
	payouts, err := json.Marshal(dist.Payouts)
	if err != nil {
		return fmt.Errorf("encode payouts: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO distributions (id, trigger, at, pool, paid, payouts) VALUES (?, ?, ?, ?, ?, ?)`,
		dist.ID, string(dist.Trigger), toUnix(dist.At), dist.Pool.String(), dist.Paid.String(), string(payouts),
	)
	return err
}

// ListDistributions returns recent distributions, newest first.
func (d *DB) ListDistributions(ctx context.Context, limit int) ([]domain.Distribution, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, trigger, at, pool, paid, payouts FROM distributions ORDER BY at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Distribution
	for rows.Next() {
		var dist domain.Distribution
		var at int64
		var trigger, pool, paid, payouts string
		if err := rows.Scan(&dist.ID, &trigger, &at, &pool, &paid, &payouts); err != nil {
			return nil, err
		}
		dist.Trigger = domain.DistributionTrigger(trigger)
		dist.At = unixOrZero(at)
		if dist.Pool, err = parseWei(pool); err != nil {
			return nil, err
		}
		if dist.Paid, err = parseWei(paid); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payouts), &dist.Payouts); err != nil {
			return nil, fmt.Errorf("decode payouts: %w", err)
		}
		out = append(out, dist)
	}
	return out, rows.Err()
}

func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
