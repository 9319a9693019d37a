package proxy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	headOpenRe = regexp.MustCompile(`(?i)<head[^>]*>`)
	attrRe     = regexp.MustCompile(`(?i)(href|src)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// RewriteHTML prepares an upstream HTML document for embedding: the
// interceptor script is injected at the top of <head> and every href/src
// already present in the markup is routed through the frame endpoint.
// proxyBase is the frame path for the module, e.g. "/app-access/metube/frame".
func RewriteHTML(body []byte, proxyBase, token string) []byte {
	html := string(body)

	inject := fmt.Sprintf(
		`<script>window.__IAHOME_PROXY__={base:%q,token:%q};</script><script>%s</script>`,
		proxyBase, token, interceptorScript,
	)
	if loc := headOpenRe.FindStringIndex(html); loc != nil {
		html = html[:loc[1]] + inject + html[loc[1]:]
	} else {
		html = inject + html
	}

	html = attrRe.ReplaceAllStringFunc(html, func(match string) string {
		groups := attrRe.FindStringSubmatch(match)
		attr := groups[1]
		value := groups[2]
		quote := `"`
		if groups[2] == "" && groups[3] != "" {
			value = groups[3]
			quote = `'`
		}
		rewritten, changed := rewriteAttrURL(value, proxyBase, token)
		if !changed {
			return match
		}
		return attr + `=` + quote + rewritten + quote
	})

	return []byte(html)
}

// rewriteAttrURL maps a relative or root-relative reference to the frame
// endpoint. Absolute, protocol-relative, and non-navigational references are
// left alone; resolving cross-origin absolutes is the client script's job.
func rewriteAttrURL(raw, proxyBase, token string) (string, bool) {
	if raw == "" {
		return raw, false
	}
	lower := strings.ToLower(raw)
	for _, prefix := range []string{"http://", "https://", "//", "data:", "javascript:", "mailto:", "blob:", "#"} {
		if strings.HasPrefix(lower, prefix) {
			return raw, false
		}
	}
	if strings.HasPrefix(raw, proxyBase) {
		return raw, false
	}
	path := raw
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return proxyBase + "?token=" + url.QueryEscape(token) + "&path=" + url.QueryEscape(path), true
}
