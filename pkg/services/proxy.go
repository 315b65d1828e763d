// Package services composes fetching, classification, rewriting and
// extraction into the proxy endpoint's behavior.
package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"stealth-proxy-go/pkg/classify"
	"stealth-proxy-go/pkg/extractors"
	"stealth-proxy-go/pkg/interfaces"
	"stealth-proxy-go/pkg/logging"
	"stealth-proxy-go/pkg/metrics"
	"stealth-proxy-go/pkg/registry"
	"stealth-proxy-go/pkg/rewrite"
	"stealth-proxy-go/pkg/types"
	"stealth-proxy-go/pkg/urlutil"
)

// ProxyService handles proxied fetches and media extraction.
type ProxyService struct {
	fetcher         interfaces.UpstreamFetcher
	extractor       *extractors.Engine
	rewriters       *registry.RewriterRegistry
	enc             *urlutil.Encoder
	maxRewriteBytes int64
	metrics         *metrics.Metrics
	log             *logging.Logger
}

// NewProxyService creates a new proxy service. m may be nil.
func NewProxyService(
	log *logging.Logger,
	fetcher interfaces.UpstreamFetcher,
	extractor *extractors.Engine,
	rewriters *registry.RewriterRegistry,
	enc *urlutil.Encoder,
	maxRewriteBytes int64,
	m *metrics.Metrics,
) *ProxyService {
	return &ProxyService{
		fetcher:         fetcher,
		extractor:       extractor,
		rewriters:       rewriters,
		enc:             enc,
		maxRewriteBytes: maxRewriteBytes,
		metrics:         m,
		log:             log.WithComponent("proxy-service"),
	}
}

// ParseRequest reads the proxy parameters from r and selects the mode.
// It never touches the network.
func (s *ProxyService) ParseRequest(r *http.Request) (*types.ProxyRequest, error) {
	q := r.URL.Query()

	raw := strings.TrimSpace(q.Get("url"))
	if raw == "" {
		return nil, fmt.Errorf("%w: missing url parameter", types.ErrInvalidTarget)
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidTarget, raw)
	}

	req := &types.ProxyRequest{
		TargetURL:         raw,
		Target:            target,
		Method:            r.Method,
		Range:             r.Header.Get("Range"),
		RefererOverride:   q.Get("referer"),
		UserAgentOverride: q.Get("ua"),
		CookieOverride:    q.Get("cookie"),
		Mode:              types.ModePlain,
		Inbound:           r.Header,
	}

	switch extract := q.Get("extract"); {
	case extract == "":
	case s.extractor != nil && extract != "true" && s.extractor.HasSite(extract):
		req.Mode = types.ModeExtractNamed
		req.SiteName = extract
		req.Title = strings.TrimSpace(q.Get("title"))
		if req.Title == "" {
			return nil, fmt.Errorf("%w on %s", types.ErrMissingTitle, extract)
		}
	case s.extractor != nil && extract == "true" && s.extractor.Allowed(target.Hostname()):
		req.Mode = types.ModeExtractGeneric
	}

	if r.Method == http.MethodPost && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, s.maxRewriteBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		if int64(len(body)) > s.maxRewriteBytes {
			return nil, fmt.Errorf("%w: limit is %d bytes", types.ErrBodyTooLarge, s.maxRewriteBytes)
		}
		req.Body = body
	}

	return req, nil
}

// Extract runs the discovery mode selected for req.
func (s *ProxyService) Extract(ctx context.Context, req *types.ProxyRequest) (*types.ExtractResult, error) {
	switch req.Mode {
	case types.ModeExtractNamed:
		return s.extractor.Discover(ctx, req.SiteName, req.Title)
	case types.ModeExtractGeneric:
		return s.extractor.ExtractGeneric(ctx, req.Target, req.RefererOverride)
	default:
		return nil, fmt.Errorf("extract: request mode is %s", req.Mode)
	}
}

// Proxy fetches the target and returns a response whose embedded references
// all route back through the proxy. The caller must close the returned body.
func (s *ProxyService) Proxy(ctx context.Context, req *types.ProxyRequest) (*types.ProxyResponse, error) {
	log := logging.FromContext(ctx).WithTarget(req.TargetURL)

	up, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	contentType := classify.EffectiveContentType(up.Header.Get("Content-Type"), req.TargetURL)
	header := classify.ResponseHeaders(up.Header, up.StatusCode, req.TargetURL, contentType)

	if up.StatusCode >= 300 && up.StatusCode < 400 {
		up.Body.Close()
		if loc := up.Header.Get("Location"); loc != "" {
			next := urlutil.ResolveURL(loc, req.TargetURL)
			if u, err := url.Parse(next); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
				header.Set("Location", s.enc.Wrap(next))
			} else {
				log.Warn("unusable redirect location", "location", loc)
			}
		}
		header.Del("Content-Length")
		header.Del("Content-Range")
		header.Del("Content-Encoding")
		return &types.ProxyResponse{StatusCode: up.StatusCode, Header: header}, nil
	}

	category := classify.Categorize(contentType, req.TargetURL)
	if category == types.CategoryHTML {
		rewrite.RelaxHeaders(header)
	}

	if req.Method == http.MethodHead {
		up.Body.Close()
		return &types.ProxyResponse{StatusCode: up.StatusCode, Header: header}, nil
	}

	rw := s.rewriters.Get(category)
	if rw == nil {
		return &types.ProxyResponse{StatusCode: up.StatusCode, Header: header, Body: up.Body}, nil
	}

	rc, err := urlutil.NewRewriteContext(req.TargetURL, contentType)
	if err != nil {
		up.Body.Close()
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidTarget, err)
	}

	body, outcome := s.rewriteBody(up, rw, rc)
	s.countRewrite(category, outcome)
	if outcome != outcomeRewritten {
		log.Warn("streaming text body unmodified", "category", category, "reason", outcome)
		return &types.ProxyResponse{StatusCode: up.StatusCode, Header: header, Body: body}, nil
	}

	header.Del("Content-Length")
	header.Del("Content-Encoding")
	return &types.ProxyResponse{StatusCode: up.StatusCode, Header: header, Body: body}, nil
}

const (
	outcomeRewritten   = "rewritten"
	outcomeTooLarge    = "too_large"
	outcomeUndecodable = "undecodable"
)

// rewriteBody decodes and rewrites a text body. When the body cannot be
// rewritten the original bytes are returned untouched, with the outcome
// naming why.
func (s *ProxyService) rewriteBody(up *types.UpstreamResponse, rw interfaces.Rewriter, rc *types.RewriteContext) (io.ReadCloser, string) {
	var raw bytes.Buffer
	src := io.TeeReader(up.Body, &raw)
	original := func() io.ReadCloser {
		return readCloser{Reader: io.MultiReader(&raw, up.Body), Closer: up.Body}
	}

	decoded, release, err := rewrite.Decode(src, up.Header.Get("Content-Encoding"))
	if err != nil {
		return original(), outcomeUndecodable
	}
	content, err := io.ReadAll(io.LimitReader(decoded, s.maxRewriteBytes+1))
	release()
	switch {
	case err != nil:
		return original(), outcomeUndecodable
	case int64(len(content)) > s.maxRewriteBytes:
		return original(), outcomeTooLarge
	}
	up.Body.Close()

	return io.NopCloser(bytes.NewReader(rw.Rewrite(content, rc))), outcomeRewritten
}

func (s *ProxyService) countRewrite(category types.ContentCategory, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RewritesTotal.WithLabelValues(string(category), outcome).Inc()
}

type readCloser struct {
	io.Reader
	io.Closer
}
