package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/iahome/access-gateway/internal/hooks"
)

type grantTokensRequest struct {
	UserID      string `json:"userId"`
	Amount      int64  `json:"amount"`
	PackageName string `json:"packageName"`
}

// handleAdminGrantTokens serves POST /api/admin/tokens/grant: credit a
// purchased token package to a user account.
func (s *Server) handleAdminGrantTokens(w http.ResponseWriter, r *http.Request) {
	var req grantTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.UserID == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("userId required"))
		return
	}
	if req.Amount <= 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("amount must be positive"))
		return
	}

	balance, err := s.tokens.Grant(r.Context(), req.UserID, req.Amount, req.PackageName)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	if s.collector != nil {
		s.collector.RecordTokensGranted(req.Amount)
	}
	if s.dispatcher != nil {
		evt := hooks.NewEvent(hooks.EventTokensGranted, req.UserID, "", map[string]any{
			"amount":  req.Amount,
			"package": req.PackageName,
		})
		if err := s.dispatcher.Emit(r.Context(), evt); err != nil {
			s.logger.Printf("hook emit failed event=%s: %v", evt.Type, err)
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"tokenBalance": balance,
	})
}

type deactivateGrantRequest struct {
	UserID   string `json:"userId"`
	ModuleID string `json:"moduleId"`
}

// handleAdminDeactivateGrant serves POST /api/admin/grants/deactivate. The
// grant row survives so a later activation reactivates it.
func (s *Server) handleAdminDeactivateGrant(w http.ResponseWriter, r *http.Request) {
	var req deactivateGrantRequest
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

	if err := s.grants.Deactivate(r.Context(), req.UserID, module); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	if s.dispatcher != nil {
		evt := hooks.NewEvent(hooks.EventModuleDeactivated, req.UserID, module, nil)
		if err := s.dispatcher.Emit(r.Context(), evt); err != nil {
			s.logger.Printf("hook emit failed event=%s: %v", evt.Type, err)
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"success": true})
}
