package rewrite

import (
	"regexp"

	"stealth-proxy-go/pkg/interfaces"
	"stealth-proxy-go/pkg/types"
	"stealth-proxy-go/pkg/urlutil"
)

// quotedURL matches quoted absolute or protocol-relative URL literals.
var quotedURL = regexp.MustCompile(`(?i)"((?:https?:)?//[^"\s]+)"|'((?:https?:)?//[^'\s]+)'`)

// ScriptRewriter rewrites URL string literals in JavaScript and JSON bodies.
type ScriptRewriter struct {
	enc      *urlutil.Encoder
	category types.ContentCategory
}

// NewScriptRewriter creates a rewriter for JavaScript bodies.
func NewScriptRewriter(enc *urlutil.Encoder) *ScriptRewriter {
	return &ScriptRewriter{enc: enc, category: types.CategoryScript}
}

// NewJSONRewriter creates a rewriter for JSON bodies.
func NewJSONRewriter(enc *urlutil.Encoder) *ScriptRewriter {
	return &ScriptRewriter{enc: enc, category: types.CategoryJSON}
}

// Category returns the content category.
func (r *ScriptRewriter) Category() types.ContentCategory {
	return r.category
}

// Rewrite rewrites absolute and protocol-relative literals, keeping quotes.
func (r *ScriptRewriter) Rewrite(content []byte, rc *types.RewriteContext) []byte {
	out := quotedURL.ReplaceAllStringFunc(string(content), func(m string) string {
		sub := quotedURL.FindStringSubmatch(m)
		if sub[1] != "" {
			return `"` + r.enc.ResolveAndWrap(sub[1], rc) + `"`
		}
		return `'` + r.enc.ResolveAndWrap(sub[2], rc) + `'`
	})
	return []byte(out)
}

var _ interfaces.Rewriter = (*ScriptRewriter)(nil)
