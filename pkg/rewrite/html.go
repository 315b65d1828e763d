package rewrite

import (
	"html"
	"net/http"
	"regexp"
	"strings"

	"stealth-proxy-go/pkg/interfaces"
	"stealth-proxy-go/pkg/types"
	"stealth-proxy-go/pkg/urlutil"
)

// Attribute names must follow whitespace so data-src is never read as src.
var (
	htmlURLAttr = regexp.MustCompile(`(?i)(\s)(href|src|action|poster|data-src|data-href|data-url|data-video|data-stream|data-file)(\s*=\s*)(?:"([^"]*)"|'([^']*)')`)
	htmlSrcset  = regexp.MustCompile(`(?i)(\s)(srcset)(\s*=\s*)(?:"([^"]*)"|'([^']*)')`)
	htmlStyle   = regexp.MustCompile(`(?i)(\s)(style)(\s*=\s*)(?:"([^"]*)"|'([^']*)')`)

	headOpen    = regexp.MustCompile(`(?i)<head(?:\s[^>]*)?>`)
	htmlOpen    = regexp.MustCompile(`(?i)<html(?:\s[^>]*)?>`)
	doctypeDecl = regexp.MustCompile(`(?i)<!doctype[^>]*>`)
	scriptOpen  = regexp.MustCompile(`(?i)<script\b`)
)

// HTMLRewriter rewrites URL attributes, srcset candidates and inline styles,
// and injects the stealth script.
type HTMLRewriter struct {
	enc     *urlutil.Encoder
	css     *CSSRewriter
	stealth *Stealth
}

// NewHTMLRewriter creates a new HTML rewriter.
func NewHTMLRewriter(enc *urlutil.Encoder, stealth *Stealth) *HTMLRewriter {
	return &HTMLRewriter{
		enc:     enc,
		css:     NewCSSRewriter(enc),
		stealth: stealth,
	}
}

// Category returns the content category.
func (r *HTMLRewriter) Category() types.ContentCategory {
	return types.CategoryHTML
}

// Rewrite rewrites the document and injects the stealth script once.
func (r *HTMLRewriter) Rewrite(content []byte, rc *types.RewriteContext) []byte {
	doc := string(content)
	doc = replaceAttr(htmlURLAttr, doc, func(v string) string {
		return r.enc.ResolveAndWrap(strings.TrimSpace(v), rc)
	})
	doc = replaceAttr(htmlSrcset, doc, func(v string) string {
		return r.rewriteSrcset(v, rc)
	})
	doc = replaceAttr(htmlStyle, doc, func(v string) string {
		return r.css.rewriteString(v, rc)
	})
	if r.stealth != nil {
		doc = r.inject(doc, rc)
	}
	return []byte(doc)
}

// replaceAttr applies fn to the unescaped value of every attribute matched by
// re. Values fn leaves unchanged keep their original bytes.
func replaceAttr(re *regexp.Regexp, doc string, fn func(string) string) string {
	return re.ReplaceAllStringFunc(doc, func(m string) string {
		sub := re.FindStringSubmatch(m)
		quote, value := `"`, sub[4]
		if m[len(m)-1] == '\'' {
			quote, value = "'", sub[5]
		}
		raw := html.UnescapeString(value)
		rewritten := fn(raw)
		if rewritten == raw {
			return m
		}
		return sub[1] + sub[2] + sub[3] + quote + html.EscapeString(rewritten) + quote
	})
}

// rewriteSrcset wraps the URL of every candidate and keeps its descriptor.
func (r *HTMLRewriter) rewriteSrcset(srcset string, rc *types.RewriteContext) string {
	candidates := strings.Split(srcset, ",")
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		fields := strings.Fields(c)
		if len(fields) == 0 {
			continue
		}
		fields[0] = r.enc.ResolveAndWrap(fields[0], rc)
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, ", ")
}

// inject inserts the stealth script right after <head>, falling back to
// <html>, the doctype, or the start of the document. A page script that
// comes earlier still gets the stealth script in front of it.
func (r *HTMLRewriter) inject(doc string, rc *types.RewriteContext) string {
	if strings.Contains(doc, StealthMarker) {
		return doc
	}
	at := 0
	for _, re := range []*regexp.Regexp{headOpen, htmlOpen, doctypeDecl} {
		if loc := re.FindStringIndex(doc); loc != nil {
			at = loc[1]
			break
		}
	}
	if loc := scriptOpen.FindStringIndex(doc); loc != nil && loc[0] < at {
		at = loc[0]
	}
	return doc[:at] + r.stealth.Tag(rc) + doc[at:]
}

// RelaxHeaders sets neutral framing and content-security headers on an HTML
// response. Browsers ignore the unknown X-Frame-Options value and treat an
// empty policy as none.
func RelaxHeaders(h http.Header) {
	h.Set("X-Frame-Options", "ALLOWALL")
	h.Set("Content-Security-Policy", "")
	h.Del("Content-Security-Policy-Report-Only")
}

var _ interfaces.Rewriter = (*HTMLRewriter)(nil)
