package rewrite

import (
	"stealth-proxy-go/pkg/registry"
	"stealth-proxy-go/pkg/urlutil"
)

// RegisterDefaults registers a rewriter for every text category.
func RegisterDefaults(reg *registry.RewriterRegistry, enc *urlutil.Encoder) {
	reg.Register(NewHLSRewriter(enc))
	reg.Register(NewDASHRewriter(enc))
	reg.Register(NewHTMLRewriter(enc, NewStealth(enc)))
	reg.Register(NewCSSRewriter(enc))
	reg.Register(NewScriptRewriter(enc))
	reg.Register(NewJSONRewriter(enc))
}
