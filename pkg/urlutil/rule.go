package urlutil

import "strings"

// Rule is the URL resolution rule shared by the server-side rewriters and
// the injected client script. The client script is rendered from this value,
// so any change here reaches both sides. Bump Version on behavior changes.
type Rule struct {
	Version int `json:"version"`

	// SkipPrefixes are references that are never wrapped.
	SkipPrefixes []string `json:"skip"`

	// AbsolutePrefix marks a reference as already absolute.
	AbsolutePrefix string `json:"abs"`

	// ProtocolRelativeScheme is prepended to "//host/..." references.
	ProtocolRelativeScheme string `json:"scheme"`
}

// DefaultRule is the rule every encoder and the stealth script use.
var DefaultRule = Rule{
	Version:                1,
	SkipPrefixes:           []string{"data:", "javascript:", "#"},
	AbsolutePrefix:         "http",
	ProtocolRelativeScheme: "https:",
}

// skip reports whether candidate is empty or starts with a skip prefix.
func (r Rule) skip(candidate string) bool {
	if candidate == "" {
		return true
	}
	for _, p := range r.SkipPrefixes {
		if strings.HasPrefix(candidate, p) {
			return true
		}
	}
	return false
}

// resolve turns candidate into an absolute URL. Resolution order is fixed:
// absolute, protocol-relative, root-relative, directory-relative.
func (r Rule) resolve(candidate, origin, baseDirectory string) string {
	switch {
	case strings.HasPrefix(candidate, r.AbsolutePrefix):
		return candidate
	case strings.HasPrefix(candidate, "//"):
		return r.ProtocolRelativeScheme + candidate
	case strings.HasPrefix(candidate, "/"):
		return origin + candidate
	default:
		return baseDirectory + candidate
	}
}
