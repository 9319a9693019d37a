package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iahome/access-gateway/internal/modules"
	"github.com/iahome/access-gateway/internal/proxysession"
	"github.com/iahome/access-gateway/internal/version"
)

// forwardedHeaders is the allowlist copied from the inbound request to the
// upstream. Everything else, cookies included, stays on the portal side.
var forwardedHeaders = []string{"Content-Type", "Accept", "Referer"}

const upstreamTimeout = 15 * time.Second

// Gateway fetches module pages on behalf of the browser and rewrites HTML so
// the embedded application keeps talking to the portal origin. It holds no
// per-session state; every request is verified and forwarded independently.
type Gateway struct {
	registry *modules.Registry
	sessions *proxysession.Manager
	client   *http.Client
	logger   *log.Logger
	debug    bool

	// OnUpstreamError, when set, is invoked once per failed upstream fetch.
	OnUpstreamError func(module modules.ID)
}

// NewGateway creates a Gateway over the module registry and session manager.
func NewGateway(registry *modules.Registry, sessions *proxysession.Manager) *Gateway {
	return &Gateway{
		registry: registry,
		sessions: sessions,
		client:   &http.Client{Timeout: upstreamTimeout},
		logger:   log.New(log.Writer(), "[proxy] ", log.LstdFlags|log.Lmicroseconds),
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (g *Gateway) SetLogger(logger *log.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// SetDebug toggles per-request forwarding logs.
func (g *Gateway) SetDebug(debug bool) {
	g.debug = debug
}

// SetClient overrides the upstream HTTP client, for tests.
func (g *Gateway) SetClient(client *http.Client) {
	if client != nil {
		g.client = client
	}
}

// Issue mints a frame token for the module. Callers must have verified the
// user's entitlement first.
func (g *Gateway) Issue(module modules.ID) string {
	return g.sessions.Issue(module)
}

// Handle serves one frame request for the module. The requested upstream path
// comes from the "path" query parameter and defaults to "/".
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request, module modules.ID) {
	baseURL, ok := g.registry.BaseURL(module)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown module")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing access token")
		return
	}
	if err := g.sessions.Validate(token, module); err != nil {
		g.logger.Printf("token rejected module=%s: %v", module, err)
		respondError(w, http.StatusForbidden, "invalid or expired access token")
		return
	}

	upstreamPath := r.URL.Query().Get("path")
	if upstreamPath == "" {
		upstreamPath = "/"
	}
	target, err := buildTargetURL(baseURL, upstreamPath)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid path")
		return
	}

	var body io.Reader
	switch r.Method {
	case http.MethodPost, http.MethodPut:
		body = r.Body
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}
	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	req.Header.Set("User-Agent", "IAHome-Proxy/"+version.Version)

	if g.debug {
		g.logger.Printf("forward module=%s method=%s target=%s", module, r.Method, target)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.upstreamFailure(module, fmt.Sprintf("fetch failed: %v", err))
		respondError(w, http.StatusServiceUnavailable, "connection error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.upstreamFailure(module, fmt.Sprintf("upstream status %d", resp.StatusCode))
		respondError(w, http.StatusServiceUnavailable, "connection error")
		return
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		g.upstreamFailure(module, fmt.Sprintf("read body: %v", err))
		respondError(w, http.StatusServiceUnavailable, "connection error")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if isHTML(contentType) {
		proxyBase := "/app-access/" + string(module) + "/frame"
		payload = RewriteHTML(payload, proxyBase, token)
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (g *Gateway) upstreamFailure(module modules.ID, detail string) {
	g.logger.Printf("upstream error module=%s: %s", module, detail)
	if g.OnUpstreamError != nil {
		g.OnUpstreamError(module)
	}
}

func buildTargetURL(baseURL, path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/") + path)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html")
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
