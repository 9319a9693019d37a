package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iahome/access-gateway/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL, for deployments that
// share the portal's database instead of a local SQLite file.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed ledger store using the provided DSN and
// connection pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes, idleTimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
	}
	if idleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(idleTimeMinutes) * time.Minute)
	}

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
	tokens BIGINT NOT NULL DEFAULT 0 CHECK(tokens >= 0),
	package_name TEXT,
	purchase_date TIMESTAMPTZ,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS token_usage (
	id BIGSERIAL PRIMARY KEY,
	uuid UUID NOT NULL,
	user_id TEXT NOT NULL,
	module_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	tokens_consumed BIGINT NOT NULL,
	usage_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_token_usage_user_date ON token_usage(user_id, usage_date DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_token_usage_uuid ON token_usage(uuid);
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
	row := s.db.QueryRowContext(ctx, `SELECT tokens FROM token_accounts WHERE user_id = $1 AND is_active`, userID)
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
	row := s.db.QueryRowContext(ctx, `
INSERT INTO token_accounts(user_id, tokens, package_name, purchase_date, is_active)
VALUES($1, $2, $3, $4, TRUE)
ON CONFLICT(user_id) DO UPDATE SET
	tokens = token_accounts.tokens + EXCLUDED.tokens,
	package_name = EXCLUDED.package_name,
	purchase_date = EXCLUDED.purchase_date,
	is_active = TRUE
RETURNING tokens`,
		userID, amount, packageName, time.Now().UTC(),
	)
	var remaining int64
	if err := row.Scan(&remaining); err != nil {
		return 0, err
	}
	return remaining, nil
}

// Debit performs the conditional decrement and the usage insert in one
// transaction; zero affected rows is the insufficient-balance signal.
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

	var remaining int64
	row := tx.QueryRowContext(ctx, `
UPDATE token_accounts SET tokens = tokens - $1
WHERE user_id = $2 AND is_active AND tokens >= $1
RETURNING tokens`,
		amount, userID,
	)
	if scanErr := row.Scan(&remaining); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			err = ledger.ErrInsufficientTokens
		} else {
			err = scanErr
		}
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `
INSERT INTO token_usage(uuid, user_id, module_id, action_type, tokens_consumed, usage_date)
VALUES($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), userID, moduleID, actionType, amount, time.Now().UTC(),
	); err != nil {
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
	row := s.db.QueryRowContext(ctx, `
INSERT INTO token_accounts(user_id, tokens, is_active) VALUES($1, $2, TRUE)
ON CONFLICT(user_id) DO UPDATE SET tokens = token_accounts.tokens + EXCLUDED.tokens
RETURNING tokens`,
		userID, amount,
	)
	var remaining int64
	if err := row.Scan(&remaining); err != nil {
		return 0, err
	}
	return remaining, nil
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
WHERE user_id = $1
ORDER BY usage_date DESC, id DESC
LIMIT $2`, userID, limit)
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
