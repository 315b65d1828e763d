package rewrite

import (
	"html"
	"regexp"
	"strings"

	"stealth-proxy-go/pkg/interfaces"
	"stealth-proxy-go/pkg/types"
	"stealth-proxy-go/pkg/urlutil"
)

var (
	dashAttr    = regexp.MustCompile(`(?i)\b(initialization|media|href|src|BaseURL)="([^"]*)"`)
	dashBaseURL = regexp.MustCompile(`(?is)(<BaseURL(?:\s[^>]*)?>)([^<]*)(</BaseURL>)`)

	// Encoded $Identifier$ and $Identifier%0Nd$ template markers, and $$.
	dashTemplate = regexp.MustCompile(`%24(?:(RepresentationID|Number|Bandwidth|Time|SubNumber)(?:%25(0[0-9]+[dxXo]))?)?%24`)
)

// DASHRewriter rewrites URL-bearing attributes and BaseURL elements of an MPD.
type DASHRewriter struct {
	enc *urlutil.Encoder
}

// NewDASHRewriter creates a new DASH manifest rewriter.
func NewDASHRewriter(enc *urlutil.Encoder) *DASHRewriter {
	return &DASHRewriter{enc: enc}
}

// Category returns the content category.
func (r *DASHRewriter) Category() types.ContentCategory {
	return types.CategoryDASH
}

// Rewrite rewrites the manifest.
func (r *DASHRewriter) Rewrite(content []byte, rc *types.RewriteContext) []byte {
	out := dashAttr.ReplaceAllStringFunc(string(content), func(m string) string {
		sub := dashAttr.FindStringSubmatch(m)
		return sub[1] + `="` + r.wrapXML(sub[2], rc) + `"`
	})
	out = dashBaseURL.ReplaceAllStringFunc(out, func(m string) string {
		sub := dashBaseURL.FindStringSubmatch(m)
		text := strings.TrimSpace(sub[2])
		if text == "" {
			return m
		}
		return sub[1] + r.wrapXML(text, rc) + sub[3]
	})
	return []byte(out)
}

// wrapXML wraps an XML-escaped value. SegmentTemplate markers, including
// their format tags, are kept literal so players can still substitute them.
func (r *DASHRewriter) wrapXML(value string, rc *types.RewriteContext) string {
	raw := html.UnescapeString(value)
	wrapped := r.enc.ResolveAndWrap(raw, rc)
	if wrapped == raw {
		return value
	}
	wrapped = dashTemplate.ReplaceAllStringFunc(wrapped, restoreTemplateMarker)
	return html.EscapeString(wrapped)
}

func restoreTemplateMarker(encoded string) string {
	sub := dashTemplate.FindStringSubmatch(encoded)
	if sub[2] == "" {
		return "$" + sub[1] + "$"
	}
	return "$" + sub[1] + "%" + sub[2] + "$"
}

var _ interfaces.Rewriter = (*DASHRewriter)(nil)
