// Package urlutil provides URL manipulation utilities that preserve original
// encoding, and the encoder that maps absolute URLs to proxied URLs.
package urlutil

import (
	"net/url"
	"strings"

	"stealth-proxy-go/pkg/types"
)

// ResolveURL resolves ref against base by string manipulation, keeping the
// bytes of both exactly as sent. Protocol-relative references get https,
// like the encoder's rule. References with any other scheme are returned
// unchanged.
func ResolveURL(ref, base string) string {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	case strings.HasPrefix(ref, "//"):
		return DefaultRule.ProtocolRelativeScheme + ref
	case strings.HasPrefix(ref, "/"):
		return GetSchemeHost(base) + ref
	case strings.HasPrefix(ref, "?"):
		return stripSuffix(base, "?#") + ref
	case strings.HasPrefix(ref, "#"):
		return stripSuffix(base, "#") + ref
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return ref
	}

	dir := GetBaseDirectory(base)
	root := GetSchemeHost(base) + "/"
	ref = strings.TrimPrefix(ref, "./")
	for strings.HasPrefix(ref, "../") {
		ref = ref[len("../"):]
		if dir == root {
			continue
		}
		parent := strings.TrimSuffix(dir, "/")
		if i := strings.LastIndex(parent, "/"); i > 0 {
			dir = parent[:i+1]
		}
	}
	return dir + ref
}

// stripSuffix cuts s at the first of any of chars.
func stripSuffix(s, chars string) string {
	if i := strings.IndexAny(s, chars); i >= 0 {
		return s[:i]
	}
	return s
}

// GetBaseDirectory returns the directory portion of a URL (without the
// filename), always ending in "/". Preserves original encoding.
func GetBaseDirectory(urlStr string) string {
	if idx := strings.IndexAny(urlStr, "?#"); idx > 0 {
		urlStr = urlStr[:idx]
	}

	// Never cut into the scheme separator of a path-less URL.
	authorityStart := 0
	if idx := strings.Index(urlStr, "://"); idx >= 0 {
		authorityStart = idx + 3
	}
	pathStart := strings.Index(urlStr[authorityStart:], "/")
	if pathStart < 0 {
		return urlStr + "/"
	}

	lastSlash := strings.LastIndex(urlStr, "/")
	return urlStr[:lastSlash+1]
}

// GetSchemeHost extracts scheme://host from a URL.
func GetSchemeHost(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// NewRewriteContext derives the per-response rewrite context for target.
func NewRewriteContext(target, effectiveContentType string) (*types.RewriteContext, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	return &types.RewriteContext{
		OriginURL:            target,
		OriginOrigin:         parsed.Scheme + "://" + parsed.Host,
		BaseDirectory:        GetBaseDirectory(target),
		Hostname:             parsed.Hostname(),
		EffectiveContentType: effectiveContentType,
	}, nil
}
