package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iahome/access-gateway/internal/entitlement"
	"github.com/iahome/access-gateway/internal/modules"
)

// Store implements entitlement.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite grant store at the supplied path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create grants directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
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
CREATE TABLE IF NOT EXISTS application_grants (
	user_id TEXT NOT NULL,
	module_id TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	access_level TEXT NOT NULL DEFAULT 'premium',
	usage_count INTEGER NOT NULL DEFAULT 0,
	max_usage INTEGER,
	expires_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, module_id)
);
CREATE INDEX IF NOT EXISTS idx_application_grants_user ON application_grants(user_id);
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

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the grant for (user, module), or nil when absent.
func (s *Store) Get(ctx context.Context, userID string, module modules.ID) (*entitlement.Grant, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, module_id, is_active, access_level, usage_count, max_usage, expires_at, created_at, updated_at
FROM application_grants
WHERE user_id = ? AND module_id = ?`, userID, string(module))

	var g entitlement.Grant
	var moduleID string
	var maxUsage sql.NullInt64
	var expiresAt sql.NullTime
	if err := row.Scan(&g.UserID, &moduleID, &g.IsActive, &g.AccessLevel, &g.UsageCount, &maxUsage, &expiresAt, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	g.Module = modules.ID(moduleID)
	if maxUsage.Valid {
		v := maxUsage.Int64
		g.MaxUsage = &v
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		g.ExpiresAt = &t
	}
	return &g, nil
}

// Upsert creates or replaces the grant row.
func (s *Store) Upsert(ctx context.Context, grant entitlement.Grant) error {
	if grant.UserID == "" {
		return errors.New("user id required")
	}
	var maxUsage interface{}
	if grant.MaxUsage != nil {
		maxUsage = *grant.MaxUsage
	}
	var expiresAt interface{}
	if grant.ExpiresAt != nil {
		expiresAt = grant.ExpiresAt.UTC()
	}
	created := grant.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO application_grants(user_id, module_id, is_active, access_level, usage_count, max_usage, expires_at, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(user_id, module_id) DO UPDATE SET
	is_active = excluded.is_active,
	access_level = excluded.access_level,
	usage_count = excluded.usage_count,
	max_usage = excluded.max_usage,
	expires_at = excluded.expires_at,
	updated_at = CURRENT_TIMESTAMP`,
		grant.UserID, string(grant.Module), grant.IsActive, string(grant.AccessLevel),
		grant.UsageCount, maxUsage, expiresAt, created,
	)
	return err
}

// IncrementUsage adds 1 to usage_count unless that would pass max_usage.
func (s *Store) IncrementUsage(ctx context.Context, userID string, module modules.ID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE application_grants
SET usage_count = usage_count + 1, updated_at = CURRENT_TIMESTAMP
WHERE user_id = ? AND module_id = ? AND is_active = 1
	AND (max_usage IS NULL OR usage_count < max_usage)`,
		userID, string(module),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Deactivate flips is_active off, leaving the row in place.
func (s *Store) Deactivate(ctx context.Context, userID string, module modules.ID) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE application_grants SET is_active = 0, updated_at = CURRENT_TIMESTAMP
WHERE user_id = ? AND module_id = ?`,
		userID, string(module),
	)
	return err
}
