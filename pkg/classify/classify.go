// Package classify determines the effective content type of an upstream
// response and builds the header set relayed to the client.
package classify

import (
	"net/http"
	"path"
	"strconv"
	"strings"

	"stealth-proxy-go/pkg/types"
)

// DefaultContentType is used when neither upstream nor the extension says anything useful.
const DefaultContentType = "application/octet-stream"

var extensionTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".m3u":  "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".mpd":  "application/dash+xml",
}

// passHeaders are the only upstream headers relayed verbatim.
var passHeaders = []string{"Content-Length", "Content-Range", "Accept-Ranges", "Content-Encoding"}

// EffectiveContentType returns the upstream Content-Type unless it is missing,
// generic (octet-stream) or malformed, in which case the type is inferred from
// the target path extension.
func EffectiveContentType(upstream, targetURL string) string {
	if upstream != "" && !strings.Contains(upstream, "octet-stream") && strings.Contains(upstream, "/") {
		return upstream
	}
	if ct, ok := extensionTypes[extension(targetURL)]; ok {
		return ct
	}
	if upstream != "" {
		return upstream
	}
	return DefaultContentType
}

func extension(targetURL string) string {
	p := targetURL
	if idx := strings.IndexAny(p, "?#"); idx >= 0 {
		p = p[:idx]
	}
	return strings.ToLower(path.Ext(p))
}

// Categorize picks the rewriting branch for a response. Targets whose URL
// names an HLS or DASH manifest are treated as such regardless of type.
func Categorize(contentType, targetURL string) types.ContentCategory {
	ct := strings.ToLower(contentType)
	lowerTarget := strings.ToLower(targetURL)
	switch {
	case strings.Contains(ct, "mpegurl") || strings.Contains(lowerTarget, ".m3u8"):
		return types.CategoryHLS
	case strings.Contains(ct, "dash+xml") || strings.Contains(lowerTarget, ".mpd"):
		return types.CategoryDASH
	case strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml"):
		return types.CategoryHTML
	case strings.Contains(ct, "text/css"):
		return types.CategoryCSS
	case strings.Contains(ct, "javascript") || strings.Contains(ct, "ecmascript"):
		return types.CategoryScript
	case strings.Contains(ct, "json"):
		return types.CategoryJSON
	default:
		return types.CategoryPassthrough
	}
}

// IsText reports whether a category is rewritten in memory.
func IsText(c types.ContentCategory) bool {
	return c != types.CategoryPassthrough
}

// ResponseHeaders builds the client-facing header set for an upstream
// response: the allow-listed headers, relayed cookies, the effective content
// type and the diagnostic headers.
func ResponseHeaders(upstream http.Header, status int, targetURL, contentType string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-cache, no-store")
	h.Set("X-Status", strconv.Itoa(status))
	h.Set("X-Proxy-Target", targetURL)

	for _, name := range passHeaders {
		if v := upstream.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	for _, c := range upstream.Values("Set-Cookie") {
		h.Add("Set-Cookie", RewriteSetCookie(c))
	}
	return h
}

// RewriteSetCookie strips the Domain attribute and the Secure flag so the
// browser scopes the cookie to the proxy origin.
func RewriteSetCookie(cookie string) string {
	parts := strings.Split(cookie, ";")
	kept := make([]string, 0, len(parts))
	for i, part := range parts {
		trimmed := strings.TrimSpace(part)
		if i > 0 {
			lower := strings.ToLower(trimmed)
			if trimmed == "" || strings.HasPrefix(lower, "domain=") || lower == "secure" {
				continue
			}
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "; ")
}
