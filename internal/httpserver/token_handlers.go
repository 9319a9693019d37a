package httpserver

import (
	"errors"
	"net/http"
	"time"
)

type usageEntry struct {
	UUID           string    `json:"uuid"`
	ModuleID       string    `json:"moduleId"`
	ActionType     string    `json:"actionType"`
	TokensConsumed int64     `json:"tokensConsumed"`
	UsageDate      time.Time `json:"usageDate"`
}

// handleTokenInfo serves GET /api/token-info?userId=.
func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	userID := firstQuery(r, "userId", "user_id")
	if userID == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("userId required"))
		return
	}

	balance, err := s.tokens.Balance(r.Context(), userID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	records, err := s.tokens.History(r.Context(), userID, 50)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	history := make([]usageEntry, 0, len(records))
	for _, rec := range records {
		history = append(history, usageEntry{
			UUID:           rec.UUID,
			ModuleID:       rec.ModuleID,
			ActionType:     rec.ActionType,
			TokensConsumed: rec.TokensConsumed,
			UsageDate:      rec.UsageDate,
		})
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"tokenBalance": balance,
		"tokenHistory": history,
		"moduleCosts":  s.tokens.Costs(),
	})
}

func firstQuery(r *http.Request, keys ...string) string {
	for _, key := range keys {
		if v := r.URL.Query().Get(key); v != "" {
			return v
		}
	}
	return ""
}
