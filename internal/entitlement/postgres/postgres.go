package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/iahome/access-gateway/internal/entitlement"
	"github.com/iahome/access-gateway/internal/modules"
)

// Store implements entitlement.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed grant store using the provided DSN and
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
CREATE TABLE IF NOT EXISTS application_grants (
	user_id TEXT NOT NULL,
	module_id TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	access_level TEXT NOT NULL DEFAULT 'premium',
	usage_count BIGINT NOT NULL DEFAULT 0,
	max_usage BIGINT,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
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

// Close releases underlying database resources.
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
WHERE user_id = $1 AND module_id = $2`, userID, string(module))

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

// Upsert inserts the grant and falls back to an update on a duplicate key.
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
VALUES($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		grant.UserID, string(grant.Module), grant.IsActive, string(grant.AccessLevel),
		grant.UsageCount, maxUsage, expiresAt, created,
	)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE application_grants SET
	is_active = $3,
	access_level = $4,
	usage_count = $5,
	max_usage = $6,
	expires_at = $7,
	updated_at = NOW()
WHERE user_id = $1 AND module_id = $2`,
		grant.UserID, string(grant.Module), grant.IsActive, string(grant.AccessLevel),
		grant.UsageCount, maxUsage, expiresAt,
	)
	return err
}

// IncrementUsage adds 1 to usage_count unless that would pass max_usage.
func (s *Store) IncrementUsage(ctx context.Context, userID string, module modules.ID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE application_grants
SET usage_count = usage_count + 1, updated_at = NOW()
WHERE user_id = $1 AND module_id = $2 AND is_active
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
UPDATE application_grants SET is_active = FALSE, updated_at = NOW()
WHERE user_id = $1 AND module_id = $2`,
		userID, string(module),
	)
	return err
}

// isUniqueViolation matches SQLSTATE 23505 (unique_violation) from either
// Postgres driver. The store's own pool uses pgx; pq-backed handles report
// the same SQLSTATE through their own error type.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
