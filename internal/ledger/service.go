package ledger

import (
	"context"
	"errors"
	"log"

	"github.com/iahome/access-gateway/internal/modules"
	"github.com/iahome/access-gateway/internal/pricing"
)

// Availability is the result of a pure availability read. It never mutates
// state; the authoritative decision happens inside Store.Debit.
type Availability struct {
	OK       bool  `json:"ok"`
	Balance  int64 `json:"balance"`
	Required int64 `json:"required"`
}

// Service combines the pricing table with the account store and exposes the
// operations the executor and HTTP layer consume.
type Service struct {
	store  Store
	prices *pricing.Table
	logger *log.Logger
}

// NewService creates a ledger service.
func NewService(store Store, prices *pricing.Table) *Service {
	return &Service{
		store:  store,
		prices: prices,
		logger: log.New(log.Writer(), "[ledger] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (s *Service) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Balance returns the user's current balance (0 for a missing account).
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.store.Balance(ctx, userID)
}

// CheckAvailable compares the current balance against the action's cost.
// Pure read; the race window against a concurrent debit is accepted because
// Debit re-validates atomically.
func (s *Service) CheckAvailable(ctx context.Context, userID string, module modules.ID, action string) (Availability, error) {
	required := s.prices.Cost(module, action)
	balance, err := s.store.Balance(ctx, userID)
	if err != nil {
		return Availability{}, err
	}
	return Availability{OK: balance >= required, Balance: balance, Required: required}, nil
}

// Debit charges the action's cost and appends the usage record. Returns the
// consumed amount and the new balance.
func (s *Service) Debit(ctx context.Context, userID string, module modules.ID, action string) (consumed, remaining int64, err error) {
	required := s.prices.Cost(module, action)
	remaining, err = s.store.Debit(ctx, userID, string(module), action, required)
	if err != nil {
		if errors.Is(err, ErrInsufficientTokens) {
			s.logger.Printf("debit rejected user=%s module=%s action=%s required=%d", userID, module, action, required)
		}
		return 0, 0, err
	}
	s.logger.Printf("debit user=%s module=%s action=%s consumed=%d remaining=%d", userID, module, action, required, remaining)
	return required, remaining, nil
}

// Refund credits tokens back after a downstream failure. No usage record is
// written; refunds are not billable usage.
func (s *Service) Refund(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("refund amount must be positive")
	}
	remaining, err := s.store.Credit(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	s.logger.Printf("refund user=%s amount=%d remaining=%d", userID, amount, remaining)
	return remaining, nil
}

// Grant credits a purchased token package.
func (s *Service) Grant(ctx context.Context, userID string, amount int64, packageName string) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("grant amount must be positive")
	}
	remaining, err := s.store.Grant(ctx, userID, amount, packageName)
	if err != nil {
		return 0, err
	}
	s.logger.Printf("grant user=%s package=%s amount=%d balance=%d", userID, packageName, amount, remaining)
	return remaining, nil
}

// History returns the most recent usage records.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]UsageRecord, error) {
	return s.store.History(ctx, userID, limit)
}

// Cost exposes the pricing table lookup for callers building responses.
func (s *Service) Cost(module modules.ID, action string) int64 {
	return s.prices.Cost(module, action)
}

// Costs returns the full pricing schedule keyed by module then action.
func (s *Service) Costs() map[string]map[string]int64 {
	return s.prices.Snapshot()
}
