package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrInsufficientTokens is returned by Debit when the conditional balance
// update matches no row, either because the account is missing/inactive or
// because the balance is below the requested amount.
var ErrInsufficientTokens = errors.New("insufficient tokens")

// Account is the per-user token balance row. At most one active account
// exists per user; accounts are deactivated, never deleted.
type Account struct {
	UserID       string    `json:"user_id"`
	Tokens       int64     `json:"tokens"`
	PackageName  string    `json:"package_name"`
	PurchaseDate time.Time `json:"purchase_date"`
	IsActive     bool      `json:"is_active"`
}

// UsageRecord is one row of the append-only billing log. Written exactly once
// per successfully billed action; never updated or deleted. Credits (refunds)
// do not produce usage records.
type UsageRecord struct {
	ID             int64     `json:"id"`
	UUID           string    `json:"uuid"`
	UserID         string    `json:"user_id"`
	ModuleID       string    `json:"module_id"`
	ActionType     string    `json:"action_type"`
	TokensConsumed int64     `json:"tokens_consumed"`
	UsageDate      time.Time `json:"usage_date"`
}

// Store defines persistence behaviour for token accounts and the usage log.
type Store interface {
	// Balance returns the active balance for the user. A missing account
	// yields 0, not an error.
	Balance(ctx context.Context, userID string) (int64, error)
	// Grant credits a purchased package onto the user's account, creating
	// the account row on first grant.
	Grant(ctx context.Context, userID string, amount int64, packageName string) (int64, error)
	// Debit atomically subtracts amount from the balance and appends one
	// usage record. The subtraction is a single conditional update
	// (balance >= amount); zero affected rows means ErrInsufficientTokens,
	// so concurrent debits can never drive the balance negative.
	Debit(ctx context.Context, userID, moduleID, actionType string, amount int64) (int64, error)
	// Credit adds amount back to the balance without writing a usage
	// record. Used only for refunds.
	Credit(ctx context.Context, userID string, amount int64) (int64, error)
	// History returns the latest usage records for the user.
	History(ctx context.Context, userID string, limit int) ([]UsageRecord, error)
	Close() error
}
