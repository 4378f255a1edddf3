// Package sqlite provides SQLite-based persistent storage for abshub.
// It stands in for contract storage: every hub, reward and bridge state
// variable lives in a table here. Uses WAL mode for concurrent reads and
// crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// ErrNotFound is returned by lookups that find no row.
var ErrNotFound = errors.New("sqlite: not found")

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Generic settings (owner-adjustable parameters, reward timestamps)
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// ─── Hub: local ledger ─────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS abs_scores (
			user            TEXT PRIMARY KEY,
			total_reps      INTEGER NOT NULL,
			avg_accuracy    INTEGER NOT NULL,
			best_streak     INTEGER NOT NULL,
			sessions        INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			last_submission INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workout_sessions (
			user              TEXT NOT NULL,
			idx               INTEGER NOT NULL,
			reps              INTEGER NOT NULL,
			form_accuracy     INTEGER NOT NULL,
			streak            INTEGER NOT NULL,
			duration          INTEGER NOT NULL,
			latitude          INTEGER NOT NULL,
			longitude         INTEGER NOT NULL,
			submitted_at      INTEGER NOT NULL,
			status            TEXT NOT NULL,
			request_id        TEXT NOT NULL DEFAULT '',
			enhanced_score    INTEGER NOT NULL DEFAULT 0,
			weather_bonus     INTEGER NOT NULL DEFAULT 0,
			temperature       INTEGER NOT NULL DEFAULT 0,
			conditions        TEXT NOT NULL DEFAULT '',
			analysis_complete BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (user, idx)
		)`,

		// Append-only membership; position is the 1-based userIndex
		`CREATE TABLE IF NOT EXISTS leaderboard (
			position INTEGER PRIMARY KEY AUTOINCREMENT,
			user     TEXT NOT NULL UNIQUE
		)`,

		// Outstanding oracle requests, deleted on fulfillment
		`CREATE TABLE IF NOT EXISTS pending_requests (
			request_id TEXT PRIMARY KEY,
			user       TEXT NOT NULL,
			session    INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_requests(created_at)`,

		// ─── Hub: cross-chain store ────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS cross_chain_scores (
			user       TEXT NOT NULL,
			selector   TEXT NOT NULL,
			score      INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (user, selector)
		)`,
		`CREATE TABLE IF NOT EXISTS allowed_chains (
			selector TEXT PRIMARY KEY,
			name     TEXT NOT NULL,
			allowed  BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS allowed_senders (
			selector TEXT NOT NULL,
			sender   TEXT NOT NULL,
			PRIMARY KEY (selector, sender)
		)`,
		// Audit log of inbound messages (not used for dedupe)
		`CREATE TABLE IF NOT EXISTS ccip_inbound (
			message_id  TEXT NOT NULL,
			selector    TEXT NOT NULL,
			sender      TEXT NOT NULL,
			user        TEXT NOT NULL,
			score       INTEGER NOT NULL,
			received_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ccip_inbound_user ON ccip_inbound(user)`,

		// ─── Rewards: double-entry ledger ──────────────────────────────
		`CREATE TABLE IF NOT EXISTS reward_ledger (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			type        TEXT NOT NULL,
			entry_type  TEXT NOT NULL,
			account     TEXT NOT NULL,
			amount      TEXT NOT NULL,
			reference   TEXT,
			description TEXT,
			balance     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reward_account ON reward_ledger(account)`,
		`CREATE TABLE IF NOT EXISTS distributions (
			id        TEXT PRIMARY KEY,
			trigger   TEXT NOT NULL,
			at        INTEGER NOT NULL,
			pool      TEXT NOT NULL,
			paid      TEXT NOT NULL,
			payouts   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_distributions_at ON distributions(at)`,

		// ─── Bridge ────────────────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS bridge_users (
			user        TEXT PRIMARY KEY,
			last_score  INTEGER NOT NULL,
			last_bridge INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bridge_messages (
			message_id TEXT PRIMARY KEY,
			user       TEXT NOT NULL,
			score      INTEGER NOT NULL,
			fee        TEXT NOT NULL,
			sent_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bridge_messages_user ON bridge_messages(user)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Settings ───────────────────────────────────────────────────────────────

// SetSetting stores a key-value pair.
func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetSetting retrieves a value by key. Returns "" if key not found.
func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// withTx runs fn in a transaction, rolling back on error.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func unixOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
