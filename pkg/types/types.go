// Package types defines core domain types used throughout the application.
package types

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Mode identifies how an inbound proxy request is served.
type Mode string

const (
	ModePlain          Mode = "plain"
	ModeExtractGeneric Mode = "extract-generic"
	ModeExtractNamed   Mode = "extract-named"
)

// ContentCategory identifies the rewriting branch for a response body.
type ContentCategory string

const (
	CategoryHLS         ContentCategory = "hls"
	CategoryDASH        ContentCategory = "dash"
	CategoryHTML        ContentCategory = "html"
	CategoryCSS         ContentCategory = "css"
	CategoryScript      ContentCategory = "script"
	CategoryJSON        ContentCategory = "json"
	CategoryPassthrough ContentCategory = "passthrough"
)

// ProxyRequest represents a parsed inbound request to the proxy endpoint.
type ProxyRequest struct {
	TargetURL string
	Target    *url.URL
	Method    string

	Range             string
	RefererOverride   string
	UserAgentOverride string
	CookieOverride    string

	Mode     Mode
	SiteName string
	Title    string

	// Inbound holds the client's own headers (Accept, Accept-Language,
	// Cookie, User-Agent) used as fallbacks for the outbound request.
	Inbound http.Header
	Body    []byte
}

// RewriteContext is derived once per upstream response and is read-only
// afterwards.
type RewriteContext struct {
	OriginURL            string
	OriginOrigin         string
	BaseDirectory        string
	Hostname             string
	EffectiveContentType string
}

// UpstreamResponse is the raw result of an outbound fetch. Body must be
// consumed and closed exactly once.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ProxyResponse is what gets written back to the client. A nil Body means
// an empty response body.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ExtractResult contains the result of media URL discovery.
type ExtractResult struct {
	Video  string `json:"video"`
	Source string `json:"source,omitempty"`
	Probe  string `json:"-"`
}

// Site describes a named site supported by search-driven discovery.
type Site struct {
	Name          string
	Origin        string
	SearchURL     string // contains a {title} placeholder
	PostSelectors []string
}

// CatalogRecord is one playable entry of the video catalog.
type CatalogRecord struct {
	ID        string    `json:"id" bson:"_id"`
	Title     string    `json:"title,omitempty" bson:"title,omitempty"`
	StreamURL string    `json:"stream_url" bson:"stream_url"`
	Thumbnail string    `json:"thumbnail,omitempty" bson:"thumbnail,omitempty"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Validate checks that the record can be stored.
func (r *CatalogRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" || strings.TrimSpace(r.StreamURL) == "" {
		return fmt.Errorf("%w: id and stream_url are required", ErrInvalidRecord)
	}
	return nil
}
