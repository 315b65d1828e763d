package urlutil

import (
	"net/url"
	"strings"

	"stealth-proxy-go/pkg/types"
)

// DefaultEndpoint is the path the proxy handler is mounted on.
const DefaultEndpoint = "/api/proxy"

// Encoder maps absolute URLs to proxied URLs of the form
// <endpoint>?url=<encodeURIComponent(absolute)> and back.
type Encoder struct {
	endpoint string
	rule     Rule
}

// NewEncoder creates an encoder for the given proxy endpoint.
func NewEncoder(endpoint string) *Encoder {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Encoder{endpoint: endpoint, rule: DefaultRule}
}

// Endpoint returns the proxy endpoint prefix.
func (e *Encoder) Endpoint() string {
	return e.endpoint
}

// Rule returns the resolution rule used by this encoder.
func (e *Encoder) Rule() Rule {
	return e.rule
}

// ResolveAndWrap resolves candidate against rc and returns its proxied form.
// Empty, data:, javascript:, fragment-only and already-proxied references
// come back unchanged.
func (e *Encoder) ResolveAndWrap(candidate string, rc *types.RewriteContext) string {
	if e.rule.skip(candidate) || e.IsProxied(candidate) {
		return candidate
	}
	return e.Wrap(e.rule.resolve(candidate, rc.OriginOrigin, rc.BaseDirectory))
}

// Wrap returns the proxied URL for an absolute URL.
func (e *Encoder) Wrap(absolute string) string {
	return e.endpoint + "?url=" + EncodeURIComponent(absolute)
}

// IsProxied reports whether s already routes through the proxy.
func (e *Encoder) IsProxied(s string) bool {
	return strings.Contains(s, e.endpoint)
}

// Unwrap decodes a proxied URL back to the absolute URL that produced it.
func (e *Encoder) Unwrap(proxied string) (string, bool) {
	prefix := e.endpoint + "?url="
	idx := strings.Index(proxied, prefix)
	if idx < 0 {
		return "", false
	}
	encoded := proxied[idx+len(prefix):]
	if amp := strings.IndexByte(encoded, '&'); amp >= 0 {
		encoded = encoded[:amp]
	}
	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return "", false
	}
	return decoded, true
}

// EncodeURIComponent percent-encodes s exactly like JavaScript's
// encodeURIComponent so server and client produce identical proxied URLs.
func EncodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) * 3 / 2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
