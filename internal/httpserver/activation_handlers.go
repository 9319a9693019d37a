package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/iahome/access-gateway/internal/entitlement"
	"github.com/iahome/access-gateway/internal/hooks"
	"github.com/iahome/access-gateway/internal/ledger"
)

type activateRequest struct {
	UserID       string `json:"userId"`
	ModuleID     string `json:"moduleId"`
	DurationDays int    `json:"durationDays"`
	MaxUsage     *int64 `json:"maxUsage"`
}

// activationAction is the pricing key for module activation charges.
const activationAction = "activate"

// handleActivate serves POST /api/modules/activate.
//
// The charge happens before the grant bookkeeping; every failure branch after
// the charge issues a compensating refund. Refunds credit the balance without
// writing a usage record, so the original debit stays in the audit log.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.UserID == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("userId required"))
		return
	}
	module, err := s.parseModule(req.ModuleID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	if req.DurationDays < 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("durationDays must not be negative"))
		return
	}

	ctx := r.Context()
	consumed, remaining, err := s.tokens.Debit(ctx, req.UserID, module, activationAction)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientTokens) {
			required := s.tokens.Cost(module, activationAction)
			balance, _ := s.tokens.Balance(ctx, req.UserID)
			if s.collector != nil {
				s.collector.RecordDenial("insufficient tokens")
			}
			s.respondJSON(w, http.StatusForbidden, map[string]any{
				"success":         false,
				"error":           "insufficient tokens",
				"reason":          "insufficient tokens",
				"tokensRequired":  required,
				"tokensRemaining": balance,
			})
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	outcome, err := s.grants.Activate(ctx, req.UserID, module, req.DurationDays, req.MaxUsage)
	if err != nil {
		if refunded, refundErr := s.tokens.Refund(ctx, req.UserID, consumed); refundErr != nil {
			s.logger.Printf("refund failed after activation error user=%s module=%s amount=%d: %v",
				req.UserID, module, consumed, refundErr)
		} else {
			remaining = refunded
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	if outcome == entitlement.OutcomeAlreadyActive {
		if refunded, refundErr := s.tokens.Refund(ctx, req.UserID, consumed); refundErr != nil {
			s.logger.Printf("refund failed for already-active grant user=%s module=%s amount=%d: %v",
				req.UserID, module, consumed, refundErr)
		} else {
			remaining = refunded
		}
		if s.collector != nil {
			s.collector.RecordRefund(consumed)
		}
		s.respondJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"outcome":         string(outcome),
			"tokensConsumed":  int64(0),
			"tokensRemaining": remaining,
		})
		return
	}

	if s.collector != nil {
		s.collector.RecordTokensConsumed(string(module), consumed)
	}
	if s.dispatcher != nil {
		evt := hooks.NewEvent(hooks.EventModuleActivated, req.UserID, module, map[string]any{
			"outcome":       string(outcome),
			"duration_days": req.DurationDays,
		})
		if err := s.dispatcher.Emit(ctx, evt); err != nil {
			s.logger.Printf("hook emit failed event=%s: %v", evt.Type, err)
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"outcome":         string(outcome),
		"tokensConsumed":  consumed,
		"tokensRemaining": remaining,
	})
}
