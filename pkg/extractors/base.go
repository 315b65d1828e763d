// Package extractors discovers media URLs hidden behind pages and embedded
// players.
//
// The Engine only walks pages (search page, post page, one iframe); what
// counts as a media URL is decided by an ordered list of Probes. To add a
// discovery strategy:
// 1. Implement interfaces.Probe (or use NewRegexProbe)
// 2. Add it to GenericProbes or NamedProbes in the right position
package extractors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"stealth-proxy-go/pkg/flaresolverr"
	"stealth-proxy-go/pkg/interfaces"
	"stealth-proxy-go/pkg/logging"
	"stealth-proxy-go/pkg/upstream"
)

const (
	maxPageBytes     = 8 << 20
	maxPageRedirects = 5
	pageAccept       = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// PageClient fetches pages as text. Redirects are followed here, since the
// shared HTTP client never follows them. Cloudflare challenge pages are
// retried through FlareSolverr when one is configured, and the solved
// cookies are replayed on later fetches to the same host.
type PageClient struct {
	client    interfaces.HTTPClient
	flare     *flaresolverr.Client
	timeout   time.Duration
	userAgent string
	log       *logging.Logger

	mu         sync.RWMutex
	clearances map[string]clearance
}

// clearance is a solved challenge: the cookies and the browser user agent
// they are bound to.
type clearance struct {
	cookie    string
	userAgent string
}

// NewPageClient creates a page client. flare may be nil.
func NewPageClient(client interfaces.HTTPClient, flare *flaresolverr.Client, timeout time.Duration, log *logging.Logger) *PageClient {
	return &PageClient{
		client:    client,
		flare:     flare,
		timeout:   timeout,
		userAgent: upstream.DefaultUserAgents[0],
		log:       log.WithComponent("page-client"),

		clearances: make(map[string]clearance),
	}
}

// FetchPage returns the body of pageURL. Error statuses are not failures:
// their bodies are returned like any other page.
func (p *PageClient) FetchPage(ctx context.Context, pageURL, referer string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	current := pageURL
	for hop := 0; ; hop++ {
		resp, err := p.get(ctx, current, referer)
		if err != nil {
			return "", err
		}

		if loc := resp.Header.Get("Location"); isRedirect(resp.StatusCode) && loc != "" && hop < maxPageRedirects {
			resp.Body.Close()
			next, err := resolveAgainst(current, loc)
			if err != nil {
				return "", fmt.Errorf("fetch %s: bad redirect %q: %w", current, loc, err)
			}
			p.log.Debug("following page redirect", "from", current, "to", next)
			current = next
			continue
		}

		if flaresolverr.IsChallenge(resp.StatusCode, resp.Header) && p.flare.IsConfigured() {
			resp.Body.Close()
			p.log.Info("cloudflare challenge, retrying via FlareSolverr", "url", current)
			return p.solve(ctx, current)
		}

		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", current, err)
		}
		p.log.Debug("fetched page", "url", current, "status", resp.StatusCode, "bytes", len(body))
		return string(body), nil
	}
}

func (p *PageClient) get(ctx context.Context, pageURL, referer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", pageAccept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if c, ok := p.clearanceFor(req.URL.Hostname()); ok {
		req.Header.Set("Cookie", c.cookie)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	return resp, nil
}

func (p *PageClient) solve(ctx context.Context, pageURL string) (string, error) {
	resp, err := p.flare.Get(ctx, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	if cookie := flaresolverr.CookieHeader(resp.Solution.Cookies); cookie != "" {
		if u, err := url.Parse(pageURL); err == nil {
			p.mu.Lock()
			p.clearances[u.Hostname()] = clearance{cookie: cookie, userAgent: resp.Solution.UserAgent}
			p.mu.Unlock()
		}
	}
	return resp.Solution.Response, nil
}

func (p *PageClient) clearanceFor(host string) (clearance, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clearances[host]
	return c, ok
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// resolveAgainst resolves ref against base and returns an absolute URL.
func resolveAgainst(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

var _ interfaces.PageFetcher = (*PageClient)(nil)
