package proxy

import (
	"strings"
	"testing"
)

const testBase = "/app-access/demo/frame"

func TestRewriteRelativeAndRootRelative(t *testing.T) {
	in := `<html><head></head><body><a href="/foo">x</a><img src="bar.png"></body></html>`
	out := string(RewriteHTML([]byte(in), testBase, "T"))

	if !strings.Contains(out, `href="/app-access/demo/frame?token=T&path=%2Ffoo"`) {
		t.Fatalf("root-relative href not rewritten: %s", out)
	}
	if !strings.Contains(out, `src="/app-access/demo/frame?token=T&path=%2Fbar.png"`) {
		t.Fatalf("relative src not rewritten: %s", out)
	}
}

func TestRewriteLeavesExternalURLs(t *testing.T) {
	in := `<a href="https://external.example.com">x</a><img src="//cdn.example.com/a.png">`
	out := string(RewriteHTML([]byte(in), testBase, "T"))

	if !strings.Contains(out, `href="https://external.example.com"`) {
		t.Fatalf("external href was touched: %s", out)
	}
	if !strings.Contains(out, `src="//cdn.example.com/a.png"`) {
		t.Fatalf("protocol-relative src was touched: %s", out)
	}
}

func TestRewriteLeavesNonNavigational(t *testing.T) {
	in := `<a href="#top">x</a><a href="javascript:void(0)">y</a><img src="data:image/png;base64,AA==">`
	out := string(RewriteHTML([]byte(in), testBase, "T"))

	for _, keep := range []string{`href="#top"`, `href="javascript:void(0)"`, `src="data:image/png;base64,AA=="`} {
		if !strings.Contains(out, keep) {
			t.Fatalf("expected %s untouched in: %s", keep, out)
		}
	}
}

func TestRewriteDoesNotDoubleRewrite(t *testing.T) {
	in := `<a href="` + testBase + `?token=T&path=%2Ffoo">x</a>`
	out := string(RewriteHTML([]byte(in), testBase, "T"))
	if strings.Count(out, "path=%2Ffoo") != 1 {
		t.Fatalf("already-proxied href rewritten again: %s", out)
	}
}

func TestRewriteInjectsInterceptorInHead(t *testing.T) {
	in := `<html><head><title>t</title><script src="/app.js"></script></head><body></body></html>`
	out := string(RewriteHTML([]byte(in), testBase, "T"))

	cfgAt := strings.Index(out, "window.__IAHOME_PROXY__")
	scriptAt := strings.Index(out, "app.js")
	if cfgAt == -1 {
		t.Fatalf("interceptor config not injected: %s", out)
	}
	if cfgAt > scriptAt {
		t.Fatalf("interceptor must run before page scripts (cfg=%d script=%d)", cfgAt, scriptAt)
	}
	if !strings.Contains(out, InterceptorVersion) {
		t.Fatalf("interceptor version missing from script")
	}
}

func TestRewriteWithoutHeadStillInjects(t *testing.T) {
	out := string(RewriteHTML([]byte(`<p>bare</p>`), testBase, "T"))
	if !strings.HasPrefix(out, "<script>") {
		t.Fatalf("headless document must get the script prepended: %s", out)
	}
}

func TestRewriteSingleQuotedAttributes(t *testing.T) {
	out := string(RewriteHTML([]byte(`<a href='/foo'>x</a>`), testBase, "T"))
	if !strings.Contains(out, `href='/app-access/demo/frame?token=T&path=%2Ffoo'`) {
		t.Fatalf("single-quoted href not rewritten: %s", out)
	}
}
