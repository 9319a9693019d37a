package entitlement

import (
	"context"
	"log"
	"time"

	"github.com/iahome/access-gateway/internal/modules"
)

// AccessLevel labels the tier a grant was purchased at.
type AccessLevel string

const (
	AccessPremium AccessLevel = "premium"
)

// Grant is the per-(user, module) entitlement row. Rows are deactivated or
// reactivated in place, never deleted.
type Grant struct {
	UserID      string      `json:"user_id"`
	Module      modules.ID  `json:"module_id"`
	IsActive    bool        `json:"is_active"`
	AccessLevel AccessLevel `json:"access_level"`
	UsageCount  int64       `json:"usage_count"`
	MaxUsage    *int64      `json:"max_usage,omitempty"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Usable reports whether the grant currently entitles access: active, not
// past expiry, and not over quota.
func (g *Grant) Usable(now time.Time) bool {
	if g == nil || !g.IsActive {
		return false
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return false
	}
	if g.MaxUsage != nil && g.UsageCount >= *g.MaxUsage {
		return false
	}
	return true
}

// Denial is the machine-readable reason a grant is not usable.
type Denial string

const (
	DenialNone         Denial = ""
	DenialNotActivated Denial = "module not activated"
	DenialExpired      Denial = "access expired"
	DenialExhausted    Denial = "quota exhausted"
)

// Outcome reports what Activate did.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeReactivated   Outcome = "reactivated"
	OutcomeAlreadyActive Outcome = "already active"
)

// Store defines persistence behaviour for application grants.
type Store interface {
	// Get returns the grant for (user, module), or nil when absent.
	Get(ctx context.Context, userID string, module modules.ID) (*Grant, error)
	// Upsert creates or replaces the grant row.
	Upsert(ctx context.Context, grant Grant) error
	// IncrementUsage adds 1 to usage_count, guarded so the count never
	// passes max_usage. Returns false when the guard rejected the update.
	IncrementUsage(ctx context.Context, userID string, module modules.ID) (bool, error)
	// Deactivate flips is_active off, leaving the row in place.
	Deactivate(ctx context.Context, userID string, module modules.ID) error
	Close() error
}

// Checker evaluates and mutates grants. Token charging is the caller's
// responsibility: Activate only does grant bookkeeping, so callers can
// implement the charge-then-refund protocol around it.
type Checker struct {
	store  Store
	now    func() time.Time
	logger *log.Logger
}

// NewChecker creates a Checker over the given store.
func NewChecker(store Store) *Checker {
	return &Checker{
		store:  store,
		now:    time.Now,
		logger: log.New(log.Writer(), "[entitlement] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (c *Checker) SetLogger(logger *log.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetClock overrides the time source, for tests.
func (c *Checker) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Evaluate classifies the current grant state. DenialNone means usable.
func (c *Checker) Evaluate(ctx context.Context, userID string, module modules.ID) (Denial, error) {
	grant, err := c.store.Get(ctx, userID, module)
	if err != nil {
		return "", err
	}
	now := c.now()
	switch {
	case grant == nil || !grant.IsActive:
		return DenialNotActivated, nil
	case grant.ExpiresAt != nil && !grant.ExpiresAt.After(now):
		return DenialExpired, nil
	case grant.MaxUsage != nil && grant.UsageCount >= *grant.MaxUsage:
		return DenialExhausted, nil
	default:
		return DenialNone, nil
	}
}

// HasUsableGrant reports whether the user may access the module right now.
func (c *Checker) HasUsableGrant(ctx context.Context, userID string, module modules.ID) (bool, error) {
	denial, err := c.Evaluate(ctx, userID, module)
	if err != nil {
		return false, err
	}
	return denial == DenialNone, nil
}

// Activate creates a new grant, reactivates a lapsed one, or reports
// "already active" when a usable grant exists. Reactivation forfeits any
// remaining quota: usage_count resets to 0 and expires_at restarts from now.
func (c *Checker) Activate(ctx context.Context, userID string, module modules.ID, durationDays int, maxUsage *int64) (Outcome, error) {
	existing, err := c.store.Get(ctx, userID, module)
	if err != nil {
		return "", err
	}
	now := c.now()
	if existing.Usable(now) {
		c.logger.Printf("activate noop user=%s module=%s: already active", userID, module)
		return OutcomeAlreadyActive, nil
	}

	var expires *time.Time
	if durationDays > 0 {
		t := now.AddDate(0, 0, durationDays)
		expires = &t
	}

	if existing != nil {
		existing.IsActive = true
		existing.UsageCount = 0
		existing.ExpiresAt = expires
		if maxUsage != nil {
			existing.MaxUsage = maxUsage
		}
		existing.UpdatedAt = now
		if err := c.store.Upsert(ctx, *existing); err != nil {
			return "", err
		}
		c.logger.Printf("activate reactivated user=%s module=%s duration_days=%d", userID, module, durationDays)
		return OutcomeReactivated, nil
	}

	grant := Grant{
		UserID:      userID,
		Module:      module,
		IsActive:    true,
		AccessLevel: AccessPremium,
		UsageCount:  0,
		MaxUsage:    maxUsage,
		ExpiresAt:   expires,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.store.Upsert(ctx, grant); err != nil {
		return "", err
	}
	c.logger.Printf("activate created user=%s module=%s duration_days=%d", userID, module, durationDays)
	return OutcomeCreated, nil
}

// RecordUsage increments the grant's usage counter after a successful access.
// The store-level guard keeps usage_count from passing max_usage even under
// concurrent calls; callers should have checked usability first.
func (c *Checker) RecordUsage(ctx context.Context, userID string, module modules.ID) error {
	applied, err := c.store.IncrementUsage(ctx, userID, module)
	if err != nil {
		return err
	}
	if !applied {
		c.logger.Printf("usage increment rejected user=%s module=%s (quota boundary)", userID, module)
	}
	return nil
}

// Deactivate disables the grant without deleting it.
func (c *Checker) Deactivate(ctx context.Context, userID string, module modules.ID) error {
	if err := c.store.Deactivate(ctx, userID, module); err != nil {
		return err
	}
	c.logger.Printf("deactivated user=%s module=%s", userID, module)
	return nil
}

// Get exposes the raw grant row, for admin endpoints.
func (c *Checker) Get(ctx context.Context, userID string, module modules.ID) (*Grant, error) {
	return c.store.Get(ctx, userID, module)
}
