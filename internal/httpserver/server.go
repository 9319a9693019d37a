package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iahome/access-gateway/internal/entitlement"
	"github.com/iahome/access-gateway/internal/executor"
	"github.com/iahome/access-gateway/internal/health"
	"github.com/iahome/access-gateway/internal/hooks"
	"github.com/iahome/access-gateway/internal/ledger"
	"github.com/iahome/access-gateway/internal/metrics"
	"github.com/iahome/access-gateway/internal/modules"
	"github.com/iahome/access-gateway/internal/proxy"
	"github.com/iahome/access-gateway/internal/ratelimit"
)

// Server wires the access-control components behind the portal's HTTP
// surface.
type Server struct {
	tokens     *ledger.Service
	grants     *entitlement.Checker
	exec       *executor.Executor
	gateway    *proxy.Gateway
	registry   *modules.Registry
	collector  *metrics.Collector
	checker    *health.Checker
	dispatcher *hooks.Dispatcher
	frameLimit *ratelimit.Middleware

	// actionRunner executes the module-side action. Swappable in tests.
	actionRunner executor.ActionFunc

	logger   *log.Logger
	logLevel string
}

// Options collects the collaborators for NewServer. Nil optional fields
// (collector, checker, dispatcher, frameLimit) disable the matching feature.
type Options struct {
	Tokens     *ledger.Service
	Grants     *entitlement.Checker
	Executor   *executor.Executor
	Gateway    *proxy.Gateway
	Registry   *modules.Registry
	Collector  *metrics.Collector
	Checker    *health.Checker
	Dispatcher *hooks.Dispatcher
	FrameLimit *ratelimit.Middleware

	Logger   *log.Logger
	LogLevel string
}

// NewServer creates the HTTP server facade.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[httpserver] ", log.LstdFlags|log.Lmicroseconds)
	}
	s := &Server{
		tokens:     opts.Tokens,
		grants:     opts.Grants,
		exec:       opts.Executor,
		gateway:    opts.Gateway,
		registry:   opts.Registry,
		collector:  opts.Collector,
		checker:    opts.Checker,
		dispatcher: opts.Dispatcher,
		frameLimit: opts.FrameLimit,
		logger:     logger,
		logLevel:   strings.ToLower(opts.LogLevel),
	}
	s.actionRunner = s.runModuleAction
	return s
}

// SetActionRunner overrides the module action transport, for tests.
func (s *Server) SetActionRunner(fn executor.ActionFunc) {
	if fn != nil {
		s.actionRunner = fn
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Route("/api", func(api chi.Router) {
		api.Get("/token-info", s.handleTokenInfo)
		api.Post("/module-action", s.handleModuleAction)
		api.Post("/modules/activate", s.handleActivate)
		api.Get("/modules/{module}/frame-token", s.handleFrameToken)

		api.Route("/admin", func(admin chi.Router) {
			admin.Post("/tokens/grant", s.handleAdminGrantTokens)
			admin.Post("/grants/deactivate", s.handleAdminDeactivateGrant)
		})
	})

	frame := func(fr chi.Router) {
		fr.HandleFunc("/app-access/{module}/frame", s.handleFrame)
	}
	if s.frameLimit != nil {
		r.Group(func(g chi.Router) {
			g.Use(s.frameLimit.Wrap)
			frame(g)
		})
	} else {
		frame(r)
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.handleMetrics)

	return r
}

// FrameKey derives the rate limit key for a frame request: client IP plus
// module, so one user hammering one module cannot starve the rest.
func FrameKey(r *http.Request) string {
	module := chi.URLParam(r, "module")
	if module == "" {
		return ""
	}
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return "frame:" + ip + ":" + module
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	if s.collector == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := r.URL.Path
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		s.collector.RecordRequestStart(endpoint)
		defer func() {
			s.collector.RecordRequestEnd(endpoint)
			s.collector.RecordRequest(endpoint, time.Since(start))
			if ww.Status() >= 500 {
				s.collector.RecordError(endpoint)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) isDebug() bool {
	return s.logLevel == "debug"
}

func (s *Server) debugf(format string, args ...any) {
	if s.isDebug() {
		s.logger.Printf(format, args...)
	}
}

// parseModule normalises and validates a raw module identifier.
func (s *Server) parseModule(raw string) (modules.ID, error) {
	return modules.Parse(raw)
}
