package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iahome/access-gateway/internal/health"
	"github.com/iahome/access-gateway/internal/metrics"
)

// handleFrameToken serves GET /api/modules/{module}/frame-token. A frame
// token is only minted after the entitlement check passes; the token itself
// carries no identity, so this is the single gate in front of the proxy.
func (s *Server) handleFrameToken(w http.ResponseWriter, r *http.Request) {
	userID := firstQuery(r, "userId", "user_id")
	if userID == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("userId required"))
		return
	}
	module, err := s.parseModule(chi.URLParam(r, "module"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}

	denial, err := s.grants.Evaluate(r.Context(), userID, module)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if denial != "" {
		if s.collector != nil {
			s.collector.RecordDenial(string(denial))
		}
		s.respondJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"error":   string(denial),
			"reason":  string(denial),
		})
		return
	}

	token := s.gateway.Issue(module)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"frameUrl": "/app-access/" + string(module) + "/frame?token=" + token,
	})
}

// handleFrame serves every method on /app-access/{module}/frame.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	module, err := s.parseModule(chi.URLParam(r, "module"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	if s.collector != nil {
		s.collector.RecordProxyRequest(string(module))
	}
	s.gateway.Handle(w, r, module)
}

// handleHealthz serves GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"status": string(health.StatusHealthy)})
		return
	}
	status := s.checker.Check(r.Context())
	code := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, status)
}

// handleMetrics serves GET /metrics in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.collector.GetSnapshot())))
}
