package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/iahome/access-gateway/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// SQLite permits one writer at a time; a single pooled connection makes
	// concurrent debits queue instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS token_accounts (
	user_id TEXT PRIMARY KEY,
	tokens INTEGER NOT NULL DEFAULT 0 CHECK(tokens >= 0),
	package_name TEXT,
	purchase_date TIMESTAMP,
	is_active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS token_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL UNIQUE,
	user_id TEXT NOT NULL,
	module_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	tokens_consumed INTEGER NOT NULL,
	usage_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_token_usage_user_date ON token_usage(user_id, usage_date DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for the health checker.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Balance returns the active balance for the user; missing accounts read as 0.
func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, errors.New("user id required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT tokens FROM token_accounts WHERE user_id = ? AND is_active = 1`, userID)
	var tokens int64
	if err := row.Scan(&tokens); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return tokens, nil
}

// Grant credits a purchased package, creating or reactivating the account row.
func (s *Store) Grant(ctx context.Context, userID string, amount int64, packageName string) (int64, error) {
	if userID == "" {
		return 0, errors.New("user id required")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("invalid grant amount %d", amount)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO token_accounts(user_id, tokens, package_name, purchase_date, is_active)
VALUES(?, ?, ?, ?, 1)
ON CONFLICT(user_id) DO UPDATE SET
	tokens = tokens + excluded.tokens,
	package_name = excluded.package_name,
	purchase_date = excluded.purchase_date,
	is_active = 1`,
		userID, amount, packageName, time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return s.Balance(ctx, userID)
}

// Debit performs the conditional balance decrement and appends the usage
// record in one transaction. The UPDATE's affected-row count is the
// authoritative availability check.
func (s *Store) Debit(ctx context.Context, userID, moduleID, actionType string, amount int64) (int64, error) {
	if userID == "" {
		return 0, errors.New("user id required")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("invalid debit amount %d", amount)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
UPDATE token_accounts SET tokens = tokens - ?
WHERE user_id = ? AND is_active = 1 AND tokens >= ?`,
		amount, userID, amount,
	)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		err = ledger.ErrInsufficientTokens
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `
INSERT INTO token_usage(uuid, user_id, module_id, action_type, tokens_consumed, usage_date)
VALUES(?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, moduleID, actionType, amount, time.Now().UTC(),
	); err != nil {
		return 0, err
	}

	var remaining int64
	if err = tx.QueryRowContext(ctx, `SELECT tokens FROM token_accounts WHERE user_id = ?`, userID).Scan(&remaining); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return remaining, nil
}

// Credit adds tokens back without touching the usage log.
func (s *Store) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if userID == "" {
		return 0, errors.New("user id required")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("invalid credit amount %d", amount)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO token_accounts(user_id, tokens, is_active) VALUES(?, ?, 1)
ON CONFLICT(user_id) DO UPDATE SET tokens = tokens + excluded.tokens`,
		userID, amount,
	)
	if err != nil {
		return 0, err
	}
	return s.Balance(ctx, userID)
}

// History returns the latest usage records for a user.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]ledger.UsageRecord, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, uuid, user_id, module_id, action_type, tokens_consumed, usage_date
FROM token_usage
WHERE user_id = ?
ORDER BY usage_date DESC, id DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ledger.UsageRecord
	for rows.Next() {
		var r ledger.UsageRecord
		if err := rows.Scan(&r.ID, &r.UUID, &r.UserID, &r.ModuleID, &r.ActionType, &r.TokensConsumed, &r.UsageDate); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
