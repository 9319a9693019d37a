package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iahome/access-gateway/internal/executor"
	"github.com/iahome/access-gateway/internal/modules"
)

type moduleActionRequest struct {
	UserID     string          `json:"userId"`
	ModuleID   string          `json:"moduleId"`
	ActionType string          `json:"actionType"`
	Payload    json.RawMessage `json:"payload"`
}

// handleModuleAction serves POST /api/module-action: the full gate sequence
// of entitlement, affordability, action, debit.
func (s *Server) handleModuleAction(w http.ResponseWriter, r *http.Request) {
	var req moduleActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.UserID == "" || req.ActionType == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("userId and actionType required"))
		return
	}
	module, err := s.parseModule(req.ModuleID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}

	result, err := s.exec.Execute(r.Context(), executor.Request{
		UserID:  req.UserID,
		Module:  module,
		Action:  strings.ToLower(strings.TrimSpace(req.ActionType)),
		Payload: req.Payload,
	}, s.actionRunner)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.recordActionMetrics(module, result)

	if !result.Success {
		// Entitlement and token denials are the caller's problem (403); a
		// failed upstream action is the module's (502).
		status := http.StatusForbidden
		if result.Reason == executor.ReasonActionFailed {
			status = http.StatusBadGateway
		}
		s.respondJSON(w, status, map[string]any{
			"success":         false,
			"error":           result.Reason,
			"reason":          result.Reason,
			"tokensRequired":  result.TokensRequired,
			"tokensRemaining": result.TokensRemaining,
		})
		return
	}

	response := map[string]any{
		"success":         true,
		"tokensConsumed":  result.TokensConsumed,
		"tokensRemaining": result.TokensRemaining,
	}
	if result.Warning != "" {
		response["warning"] = result.Warning
	}
	for k, v := range result.Payload {
		if _, taken := response[k]; !taken {
			response[k] = v
		}
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) recordActionMetrics(module modules.ID, result executor.Result) {
	if s.collector == nil {
		return
	}
	if !result.Success {
		s.collector.RecordDenial(result.Reason)
		return
	}
	if result.TokensConsumed > 0 {
		s.collector.RecordTokensConsumed(string(module), result.TokensConsumed)
	}
}

// runModuleAction is the default action transport: POST the payload to the
// module's internal API and relay its JSON response.
func (s *Server) runModuleAction(ctx context.Context, req executor.Request) (map[string]any, error) {
	baseURL, ok := s.registry.BaseURL(req.Module)
	if !ok {
		return nil, fmt.Errorf("no upstream configured for module %s", req.Module)
	}

	body := bytes.NewReader(req.Payload)
	if len(req.Payload) == 0 {
		body = bytes.NewReader([]byte("{}"))
	}
	target := strings.TrimSuffix(baseURL, "/") + "/api/" + req.Action
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("module unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("module returned status %d", resp.StatusCode)
	}

	payload := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			// Non-JSON module responses are wrapped rather than rejected.
			payload = map[string]any{"raw": string(raw)}
		}
	}
	return payload, nil
}
