package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/iahome/access-gateway/internal/entitlement"
	"github.com/iahome/access-gateway/internal/hooks"
	"github.com/iahome/access-gateway/internal/ledger"
	"github.com/iahome/access-gateway/internal/modules"
)

// Request describes one paid action on behalf of a user.
type Request struct {
	UserID  string
	Module  modules.ID
	Action  string
	Payload json.RawMessage
}

// Denial reasons specific to the billing step. Entitlement denials reuse the
// entitlement package's wording.
const (
	ReasonInsufficientTokens = "insufficient tokens"
	ReasonActionFailed       = "action failed"
	WarningBillingFailed     = "token consumption failed"
)

// Result is the structured outcome returned to the HTTP layer. Denials are
// results, not errors; only infrastructure failures surface as errors.
type Result struct {
	Success         bool           `json:"success"`
	Reason          string         `json:"reason,omitempty"`
	TokensRequired  int64          `json:"tokensRequired,omitempty"`
	TokensRemaining int64          `json:"tokensRemaining"`
	TokensConsumed  int64          `json:"tokensConsumed,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	Warning         string         `json:"warning,omitempty"`
}

// ActionFunc performs the underlying module action. The returned map becomes
// the response payload. An error means the action did not deliver and must
// not be billed.
type ActionFunc func(ctx context.Context, req Request) (map[string]any, error)

// Executor runs the gate sequence around a paid action: entitlement first,
// then affordability, then the action itself, then billing. Tokens are only
// consumed for actions that delivered.
type Executor struct {
	tokens     *ledger.Service
	grants     *entitlement.Checker
	dispatcher *hooks.Dispatcher
	logger     *log.Logger
}

// New creates an Executor. The dispatcher may be nil when hooks are disabled.
func New(tokens *ledger.Service, grants *entitlement.Checker, dispatcher *hooks.Dispatcher) *Executor {
	return &Executor{
		tokens:     tokens,
		grants:     grants,
		dispatcher: dispatcher,
		logger:     log.New(log.Writer(), "[executor] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (e *Executor) SetLogger(logger *log.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Execute runs one paid action end to end.
//
// Order matters: the entitlement check runs before the ledger is consulted,
// so an expired grant denies without leaking balance information. The action
// runs before the debit, so a failed action never consumes tokens. A debit
// failure after a delivered action is reported as a warning, not rolled
// back, because the action cannot be undone.
func (e *Executor) Execute(ctx context.Context, req Request, action ActionFunc) (Result, error) {
	if req.UserID == "" {
		return Result{}, errors.New("user id required")
	}
	if action == nil {
		return Result{}, errors.New("action func required")
	}

	denial, err := e.grants.Evaluate(ctx, req.UserID, req.Module)
	if err != nil {
		return Result{}, err
	}
	if denial != entitlement.DenialNone {
		e.logger.Printf("denied user=%s module=%s action=%s reason=%q", req.UserID, req.Module, req.Action, denial)
		return Result{Success: false, Reason: string(denial)}, nil
	}

	avail, err := e.tokens.CheckAvailable(ctx, req.UserID, req.Module, req.Action)
	if err != nil {
		return Result{}, err
	}
	if !avail.OK {
		e.logger.Printf("denied user=%s module=%s action=%s required=%d balance=%d",
			req.UserID, req.Module, req.Action, avail.Required, avail.Balance)
		return Result{
			Success:         false,
			Reason:          ReasonInsufficientTokens,
			TokensRequired:  avail.Required,
			TokensRemaining: avail.Balance,
		}, nil
	}

	payload, actionErr := action(ctx, req)
	if actionErr != nil {
		e.logger.Printf("action failed user=%s module=%s action=%s: %v", req.UserID, req.Module, req.Action, actionErr)
		return Result{
			Success:         false,
			Reason:          ReasonActionFailed,
			TokensRequired:  avail.Required,
			TokensRemaining: avail.Balance,
			Payload:         map[string]any{"detail": actionErr.Error()},
		}, nil
	}

	result := Result{Success: true, Payload: payload, TokensRequired: avail.Required}
	consumed, remaining, debitErr := e.tokens.Debit(ctx, req.UserID, req.Module, req.Action)
	switch {
	case debitErr == nil:
		result.TokensConsumed = consumed
		result.TokensRemaining = remaining
	case errors.Is(debitErr, ledger.ErrInsufficientTokens):
		// A concurrent debit won the balance between the check and here.
		// The action already delivered, so report it with a billing warning.
		// The balance may still be nonzero, just below the cost.
		e.logger.Printf("billing anomaly user=%s module=%s action=%s: delivered but balance below cost", req.UserID, req.Module, req.Action)
		result.Warning = WarningBillingFailed
		if balance, balErr := e.tokens.Balance(ctx, req.UserID); balErr == nil {
			result.TokensRemaining = balance
		}
	default:
		e.logger.Printf("billing anomaly user=%s module=%s action=%s: %v", req.UserID, req.Module, req.Action, debitErr)
		result.Warning = WarningBillingFailed
		result.TokensRemaining = avail.Balance
	}

	if err := e.grants.RecordUsage(ctx, req.UserID, req.Module); err != nil {
		e.logger.Printf("usage count update failed user=%s module=%s: %v", req.UserID, req.Module, err)
	}

	e.emit(ctx, req, result)
	return result, nil
}

func (e *Executor) emit(ctx context.Context, req Request, result Result) {
	if e.dispatcher == nil {
		return
	}
	evt := hooks.NewEvent(hooks.EventActionExecuted, req.UserID, req.Module, map[string]any{
		"action":           req.Action,
		"tokens_consumed":  result.TokensConsumed,
		"tokens_remaining": result.TokensRemaining,
	})
	if err := e.dispatcher.Emit(ctx, evt); err != nil {
		e.logger.Printf("hook emit failed event=%s: %v", evt.Type, err)
	}
	if result.TokensConsumed > 0 && result.TokensRemaining == 0 {
		depleted := hooks.NewEvent(hooks.EventTokensDepleted, req.UserID, req.Module, nil)
		if err := e.dispatcher.Emit(ctx, depleted); err != nil {
			e.logger.Printf("hook emit failed event=%s: %v", depleted.Type, err)
		}
	}
}
