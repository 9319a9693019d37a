package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iahome/access-gateway/internal/modules"
	"github.com/iahome/access-gateway/internal/proxysession"
	"github.com/iahome/access-gateway/internal/testutil"
)

func newGateway(t *testing.T, upstream http.Handler, module modules.ID) (*Gateway, *proxysession.Manager) {
	t.Helper()
	srv := testutil.NewIPv4Server(t, upstream)
	t.Cleanup(srv.Close)

	registry, err := modules.NewRegistry(map[string]string{string(module): srv.URL})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	sessions := proxysession.NewManager("test-secret", time.Hour)
	return NewGateway(registry, sessions), sessions
}

func frameRequest(module modules.ID, token, path string) *http.Request {
	target := "/app-access/" + string(module) + "/frame?token=" + token
	if path != "" {
		target += "&path=" + path
	}
	return httptest.NewRequest(http.MethodGet, target, nil)
}

func TestHandleRewritesHTMLAndSetsNoCache(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head></head><body><a href="/foo">x</a></body></html>`))
	})
	g, sessions := newGateway(t, upstream, modules.MeTube)
	token := sessions.Issue(modules.MeTube)

	rec := httptest.NewRecorder()
	g.Handle(rec, frameRequest(modules.MeTube, token, ""), modules.MeTube)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("Cache-Control = %q", cc)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "window.__IAHOME_PROXY__") {
		t.Fatalf("interceptor missing from rewritten page")
	}
	if !strings.Contains(body, "/app-access/metube/frame?token="+token+"&path=%2Ffoo") {
		t.Fatalf("href not rewritten: %s", body)
	}
}

func TestHandlePassesAssetsThroughWithLongCache(t *testing.T) {
	const css = "body { color: red }"
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte(css))
	})
	g, sessions := newGateway(t, upstream, modules.PDF)
	token := sessions.Issue(modules.PDF)

	rec := httptest.NewRecorder()
	g.Handle(rec, frameRequest(modules.PDF, token, "%2Fstyle.css"), modules.PDF)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if rec.Body.String() != css {
		t.Fatalf("asset body modified: %q", rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Fatalf("Cache-Control = %q", cc)
	}
}

func TestHandleMissingTokenIs401(t *testing.T) {
	g, _ := newGateway(t, http.NotFoundHandler(), modules.MeTube)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/app-access/metube/frame", nil)
	g.Handle(rec, req, modules.MeTube)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestHandleTokenForOtherModuleIs403(t *testing.T) {
	g, sessions := newGateway(t, http.NotFoundHandler(), modules.MeTube)
	token := sessions.Issue(modules.PDF)
	rec := httptest.NewRecorder()
	g.Handle(rec, frameRequest(modules.MeTube, token, ""), modules.MeTube)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestHandleUnknownModuleIs404(t *testing.T) {
	registry, err := modules.NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	g := NewGateway(registry, proxysession.NewManager("test-secret", time.Hour))
	rec := httptest.NewRecorder()
	g.Handle(rec, frameRequest("ghost", "x", ""), modules.ID("ghost"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestHandleUpstreamFailureIs503(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal detail that must not leak", http.StatusInternalServerError)
	})
	g, sessions := newGateway(t, upstream, modules.QRCode)
	var failures int
	g.OnUpstreamError = func(modules.ID) { failures++ }
	token := sessions.Issue(modules.QRCode)

	rec := httptest.NewRecorder()
	g.Handle(rec, frameRequest(modules.QRCode, token, ""), modules.QRCode)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "internal detail") {
		t.Fatalf("upstream error body leaked: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "connection error") {
		t.Fatalf("expected generic connection error, got %s", rec.Body.String())
	}
	if failures != 1 {
		t.Fatalf("upstream error callback fired %d times", failures)
	}
}

func TestHandleForwardsMethodBodyAndFilteredHeaders(t *testing.T) {
	var gotMethod, gotBody, gotContentType, gotCookie, gotUA string
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotContentType = r.Header.Get("Content-Type")
		gotCookie = r.Header.Get("Cookie")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	})
	g, sessions := newGateway(t, upstream, modules.Whisper)
	token := sessions.Issue(modules.Whisper)

	req := httptest.NewRequest(http.MethodPost,
		"/app-access/whisper/frame?token="+token+"&path=%2Fapi%2Ftranscribe",
		strings.NewReader(`{"lang":"en"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "portal_session=secret")
	rec := httptest.NewRecorder()
	g.Handle(rec, req, modules.Whisper)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if gotMethod != http.MethodPost || gotBody != `{"lang":"en"}` {
		t.Fatalf("method/body not forwarded: %s %q", gotMethod, gotBody)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content-type not forwarded: %q", gotContentType)
	}
	if gotCookie != "" {
		t.Fatalf("cookie header leaked to upstream: %q", gotCookie)
	}
	if !strings.HasPrefix(gotUA, "IAHome-Proxy/") {
		t.Fatalf("user agent = %q", gotUA)
	}
}
