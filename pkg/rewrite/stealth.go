package rewrite

import (
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"stealth-proxy-go/pkg/types"
	"stealth-proxy-go/pkg/urlutil"
)

// StealthMarker identifies an already injected stealth script.
const StealthMarker = "data-px-stealth"

//go:embed stealth.js.tmpl
var stealthSource string

var stealthTemplate = template.Must(template.New("stealth").Parse(stealthSource))

// Stealth renders the client script that keeps dynamically created URLs
// routed through the proxy. Its URL rule is generated from the encoder's
// urlutil.Rule so client and server resolve references identically.
type Stealth struct {
	enc *urlutil.Encoder
}

// NewStealth creates a stealth script renderer.
func NewStealth(enc *urlutil.Encoder) *Stealth {
	return &Stealth{enc: enc}
}

// stealthParams holds JSON literals substituted into the template.
type stealthParams struct {
	Version        int
	Origin         string
	Hostname       string
	BaseDirectory  string
	Endpoint       string
	Skip           string
	AbsolutePrefix string
	Scheme         string
}

// Script returns the JavaScript source for one response.
func (s *Stealth) Script(rc *types.RewriteContext) (string, error) {
	rule := s.enc.Rule()
	params := stealthParams{
		Version:        rule.Version,
		Origin:         jsLiteral(rc.OriginOrigin),
		Hostname:       jsLiteral(rc.Hostname),
		BaseDirectory:  jsLiteral(rc.BaseDirectory),
		Endpoint:       jsLiteral(s.enc.Endpoint()),
		Skip:           jsLiteral(rule.SkipPrefixes),
		AbsolutePrefix: jsLiteral(rule.AbsolutePrefix),
		Scheme:         jsLiteral(rule.ProtocolRelativeScheme),
	}

	var b strings.Builder
	if err := stealthTemplate.Execute(&b, params); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Tag returns the script wrapped in a marked script element. An empty string
// is returned if rendering fails.
func (s *Stealth) Tag(rc *types.RewriteContext) string {
	script, err := s.Script(rc)
	if err != nil {
		return ""
	}
	return "<script " + StealthMarker + `="1">` + script + "</script>"
}

// jsLiteral encodes v as a JSON literal. json.Marshal escapes <, > and & so
// the result cannot close the surrounding script element.
func jsLiteral(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
