package rewrite

import (
	"regexp"

	"stealth-proxy-go/pkg/interfaces"
	"stealth-proxy-go/pkg/types"
	"stealth-proxy-go/pkg/urlutil"
)

var cssURL = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|([^)"'\s]*))\s*\)`)

// CSSRewriter rewrites url(...) references in stylesheets.
type CSSRewriter struct {
	enc *urlutil.Encoder
}

// NewCSSRewriter creates a new stylesheet rewriter.
func NewCSSRewriter(enc *urlutil.Encoder) *CSSRewriter {
	return &CSSRewriter{enc: enc}
}

// Category returns the content category.
func (r *CSSRewriter) Category() types.ContentCategory {
	return types.CategoryCSS
}

// Rewrite rewrites every url(...) to url("<proxied>").
func (r *CSSRewriter) Rewrite(content []byte, rc *types.RewriteContext) []byte {
	return []byte(r.rewriteString(string(content), rc))
}

func (r *CSSRewriter) rewriteString(css string, rc *types.RewriteContext) string {
	return cssURL.ReplaceAllStringFunc(css, func(m string) string {
		sub := cssURL.FindStringSubmatch(m)
		ref := sub[1] + sub[2] + sub[3]
		wrapped := r.enc.ResolveAndWrap(ref, rc)
		if wrapped == ref {
			return m
		}
		return `url("` + wrapped + `")`
	})
}

var _ interfaces.Rewriter = (*CSSRewriter)(nil)
