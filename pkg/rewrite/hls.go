// Package rewrite implements the per-content-type rewriters that route every
// embedded reference back through the proxy.
package rewrite

import (
	"regexp"
	"strings"

	"stealth-proxy-go/pkg/interfaces"
	"stealth-proxy-go/pkg/types"
	"stealth-proxy-go/pkg/urlutil"
)

// uriAttr matches URI="...", URI='...' and bare URI=... inside HLS tags.
var uriAttr = regexp.MustCompile(`URI=(?:"([^"]*)"|'([^']*)'|([^,"'\s]+))`)

// HLSRewriter rewrites HLS playlists line by line.
type HLSRewriter struct {
	enc *urlutil.Encoder
}

// NewHLSRewriter creates a new HLS playlist rewriter.
func NewHLSRewriter(enc *urlutil.Encoder) *HLSRewriter {
	return &HLSRewriter{enc: enc}
}

// Category returns the content category.
func (r *HLSRewriter) Category() types.ContentCategory {
	return types.CategoryHLS
}

// Rewrite rewrites segment lines and tag URI attributes. Blank lines and
// line endings are preserved.
func (r *HLSRewriter) Rewrite(content []byte, rc *types.RewriteContext) []byte {
	lines := strings.Split(string(content), "\n")
	for i, raw := range lines {
		line := strings.TrimSuffix(raw, "\r")
		cr := len(line) != len(raw)

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "#"):
			if !strings.Contains(line, "URI=") {
				continue
			}
			line = r.rewriteURITags(line, rc)
		default:
			line = r.enc.ResolveAndWrap(trimmed, rc)
		}

		if cr {
			line += "\r"
		}
		lines[i] = line
	}
	return []byte(strings.Join(lines, "\n"))
}

// rewriteURITags rewrites every URI attribute in a tag line, keeping the
// original quoting.
func (r *HLSRewriter) rewriteURITags(line string, rc *types.RewriteContext) string {
	return uriAttr.ReplaceAllStringFunc(line, func(m string) string {
		sub := uriAttr.FindStringSubmatch(m)
		switch {
		case strings.HasPrefix(m, `URI="`):
			return `URI="` + r.enc.ResolveAndWrap(sub[1], rc) + `"`
		case strings.HasPrefix(m, `URI='`):
			return `URI='` + r.enc.ResolveAndWrap(sub[2], rc) + `'`
		default:
			return `URI=` + r.enc.ResolveAndWrap(sub[3], rc)
		}
	})
}

var _ interfaces.Rewriter = (*HLSRewriter)(nil)
