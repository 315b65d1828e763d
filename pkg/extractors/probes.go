package extractors

import (
	"regexp"

	"stealth-proxy-go/pkg/interfaces"
)

// RegexProbe finds the first submatch of a pattern. The pattern's first
// capture group is the candidate URL.
type RegexProbe struct {
	name string
	re   *regexp.Regexp
}

// NewRegexProbe compiles pattern into a probe. It panics on a bad pattern.
func NewRegexProbe(name, pattern string) *RegexProbe {
	return &RegexProbe{name: name, re: regexp.MustCompile(pattern)}
}

// Name returns the probe name.
func (p *RegexProbe) Name() string {
	return p.name
}

// Find returns the first capture of the pattern in corpus.
func (p *RegexProbe) Find(corpus string) (string, bool) {
	m := p.re.FindStringSubmatch(corpus)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// Absolute URLs may appear JSON-escaped (https:\/\/...).
const absURL = `https?:(?:\\?/){2}`

// NamedProbes returns the probes used for named-site discovery, in order.
func NamedProbes() []interfaces.Probe {
	return []interfaces.Probe{
		NewRegexProbe("video_url", `(?i)video_url['":\s]+['"]([^'"]+\.(?:mp4|m3u8)[^'"]*)['"]`),
		NewRegexProbe("source_tag", `(?i)<source[^>]+src=['"]([^'"]+\.(?:mp4|m3u8)[^'"]*)['"]`),
		NewRegexProbe("file_key", `(?i)file['":\s]+['"]([^'"]+\.(?:mp4|m3u8)[^'"]*)['"]`),
		NewRegexProbe("m3u8_url", `(?i)["'](`+absURL+`[^"']+\.m3u8[^"']*)["']`),
		NewRegexProbe("mp4_url", `(?i)["'](`+absURL+`[^"']+\.mp4[^"']*)["']`),
	}
}

// GenericProbes returns the probes used for allow-listed pages, in order.
// They extend NamedProbes with weaker, page-builder specific patterns.
func GenericProbes() []interfaces.Probe {
	return append(NamedProbes(),
		NewRegexProbe("wp_content", `(?i)["'](/wp-content/[^"']+\.mp4[^"']*)["']`),
		NewRegexProbe("video_url_json", `(?i)"videoUrl"\s*:\s*"([^"]+)"`),
		NewRegexProbe("og_video", `(?i)property=["']og:video["']\s+content=["']([^"']+)["']`),
	)
}

var _ interfaces.Probe = (*RegexProbe)(nil)
