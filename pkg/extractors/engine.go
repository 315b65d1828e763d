package extractors

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ryanuber/go-glob"

	"stealth-proxy-go/pkg/interfaces"
	"stealth-proxy-go/pkg/logging"
	"stealth-proxy-go/pkg/metrics"
	"stealth-proxy-go/pkg/registry"
	"stealth-proxy-go/pkg/types"
	"stealth-proxy-go/pkg/urlutil"
)

// Used when a site lists no post selectors of its own.
var defaultPostSelectors = []string{"h2.entry-title a[href]", "a.item-link[href]", "article a[href]"}

var (
	iframeSrc    = regexp.MustCompile(`(?i)<iframe[^>]+src=["']([^"']+)["']`)
	postLink     = regexp.MustCompile(`(?i)<h2[^>]*class=["'][^"']*entry-title[^"']*["'][^>]*>\s*<a[^>]+href=["']([^"']+)["']`)
	unicodeEsc   = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)
	escapedSlash = strings.NewReplacer(`\/`, `/`)
)

// Engine runs media discovery: it walks a page and its first iframe, or a
// site's search page first, and hands the collected markup to the probes.
type Engine struct {
	pages   interfaces.PageFetcher
	hosts   []string
	sites   *registry.SiteRegistry
	generic []interfaces.Probe
	named   []interfaces.Probe
	metrics *metrics.Metrics
	log     *logging.Logger
}

// NewEngine creates an extraction engine. hosts are glob patterns matched
// against the target hostname; m may be nil.
func NewEngine(pages interfaces.PageFetcher, hosts []string, sites *registry.SiteRegistry, m *metrics.Metrics, log *logging.Logger) *Engine {
	normalized := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			normalized = append(normalized, h)
		}
	}
	if sites == nil {
		sites = registry.NewSiteRegistry()
	}
	return &Engine{
		pages:   pages,
		hosts:   normalized,
		sites:   sites,
		generic: GenericProbes(),
		named:   NamedProbes(),
		metrics: m,
		log:     log.WithComponent("extractor"),
	}
}

// Allowed reports whether generic extraction may run against host.
func (e *Engine) Allowed(host string) bool {
	host = strings.ToLower(host)
	for _, pattern := range e.hosts {
		if glob.Glob(pattern, host) {
			return true
		}
	}
	return false
}

// HasSite reports whether name is a configured discovery site.
func (e *Engine) HasSite(name string) bool {
	_, ok := e.sites.Get(name)
	return ok
}

// Sites returns the configured discovery site names.
func (e *Engine) Sites() []string {
	return e.sites.Names()
}

// ExtractGeneric scrapes target (and its first iframe) for a media URL.
// referer defaults to the target's origin root.
func (e *Engine) ExtractGeneric(ctx context.Context, target *url.URL, referer string) (*types.ExtractResult, error) {
	log := e.log.WithTarget(target.String())
	if referer == "" {
		referer = urlutil.GetSchemeHost(target.String()) + "/"
	}

	corpus, err := e.collect(ctx, target, referer)
	if err != nil {
		e.count(types.ModeExtractGeneric, err)
		log.Warn("page fetch failed", "error", err)
		return nil, err
	}

	video, probe, ok := e.match(corpus, e.generic, target)
	if !ok {
		err := fmt.Errorf("%w after scraping", types.ErrExtractionNotFound)
		e.count(types.ModeExtractGeneric, err)
		log.Info("no media url found")
		return nil, err
	}

	e.count(types.ModeExtractGeneric, nil)
	log.Info("media url found", "probe", probe)
	return &types.ExtractResult{Video: video, Probe: probe}, nil
}

// Discover searches a named site for title, opens the first post and
// scrapes it (and its first iframe) for a media URL.
func (e *Engine) Discover(ctx context.Context, siteName, title string) (*types.ExtractResult, error) {
	site, ok := e.sites.Get(siteName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownSite, siteName)
	}
	log := e.log.With("site", site.Name, "title", title)

	result, err := e.discover(ctx, site, title)
	e.count(types.ModeExtractNamed, err)
	if err != nil {
		log.Info("discovery failed", "error", err)
		return nil, err
	}
	log.Info("media url found", "probe", result.Probe, "source", result.Source)
	return result, nil
}

func (e *Engine) discover(ctx context.Context, site types.Site, title string) (*types.ExtractResult, error) {
	origin, err := url.Parse(site.Origin)
	if err != nil {
		return nil, fmt.Errorf("%w: site %s origin: %w", types.ErrExtractionUpstream, site.Name, err)
	}

	searchURL := strings.ReplaceAll(site.SearchURL, "{title}", urlutil.EncodeURIComponent(title))
	searchPage, err := e.pages.FetchPage(ctx, searchURL, site.Origin+"/")
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", types.ErrExtractionUpstream, err)
	}

	post, ok := findPostLink(searchPage, site.PostSelectors, searchURL)
	if !ok {
		return nil, fmt.Errorf("%w: no post on %s search page", types.ErrExtractionNotFound, site.Name)
	}

	corpus, err := e.collect(ctx, post, searchURL)
	if err != nil {
		return nil, err
	}

	video, probe, ok := e.match(corpus, e.named, origin)
	if !ok {
		return nil, fmt.Errorf("%w in post %s", types.ErrExtractionNotFound, post)
	}
	return &types.ExtractResult{Video: video, Source: post.String(), Probe: probe}, nil
}

// collect fetches page and appends the markup of its first iframe. A failed
// iframe fetch leaves the page markup alone.
func (e *Engine) collect(ctx context.Context, page *url.URL, referer string) (string, error) {
	html, err := e.pages.FetchPage(ctx, page.String(), referer)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrExtractionUpstream, err)
	}

	frame, ok := findIframe(html, page)
	if !ok {
		return html, nil
	}

	frameHTML, err := e.pages.FetchPage(ctx, frame.String(), page.String())
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", types.ErrExtractionUpstream, ctx.Err())
		}
		e.log.Debug("iframe fetch failed", "iframe", frame.String(), "error", err)
		return html, nil
	}
	return html + frameHTML, nil
}

// match runs probes in order and returns the first hit, anchored to base.
func (e *Engine) match(corpus string, probes []interfaces.Probe, base *url.URL) (string, string, bool) {
	for _, p := range probes {
		raw, ok := p.Find(corpus)
		if !ok {
			continue
		}
		video, ok := anchor(unescapeMatch(raw), base)
		if !ok {
			e.log.Debug("probe match not usable", "probe", p.Name(), "match", raw)
			continue
		}
		return video, p.Name(), true
	}
	return "", "", false
}

func (e *Engine) count(mode types.Mode, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "found"
	switch {
	case errors.Is(err, types.ErrExtractionNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	e.metrics.ExtractionsTotal.WithLabelValues(string(mode), outcome).Inc()
}

// findIframe returns the resolved src of the first iframe in html.
func findIframe(html string, page *url.URL) (*url.URL, bool) {
	var src string
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		src, _ = doc.Find("iframe[src]").First().Attr("src")
	}
	if strings.TrimSpace(src) == "" {
		// Players often write their iframe from a script string.
		if m := iframeSrc.FindStringSubmatch(html); m != nil {
			src = m[1]
		}
	}
	return resolveHTTP(page, src)
}

// findPostLink returns the first post link on a search results page.
func findPostLink(html string, selectors []string, searchURL string) (*url.URL, bool) {
	base, err := url.Parse(searchURL)
	if err != nil {
		return nil, false
	}
	if len(selectors) == 0 {
		selectors = defaultPostSelectors
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		for _, sel := range selectors {
			href, ok := doc.Find(sel).First().Attr("href")
			if !ok {
				continue
			}
			if u, ok := resolveHTTP(base, href); ok {
				return u, true
			}
		}
	}

	if m := postLink.FindStringSubmatch(html); m != nil {
		return resolveHTTP(base, m[1])
	}
	return nil, false
}

// resolveHTTP resolves ref against base, keeping only http(s) results.
func resolveHTTP(base *url.URL, ref string) (*url.URL, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return nil, false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	u = base.ResolveReference(u)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

// unescapeMatch undoes the JSON escaping players wrap URLs in.
func unescapeMatch(s string) string {
	s = escapedSlash.Replace(s)
	return unicodeEsc.ReplaceAllStringFunc(s, func(m string) string {
		code, err := strconv.ParseUint(m[2:], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
}

// anchor makes a probe match absolute. Protocol-relative matches get https,
// root-relative ones the origin of base.
func anchor(video string, base *url.URL) (string, bool) {
	switch {
	case strings.HasPrefix(video, "//"):
		video = "https:" + video
	case strings.HasPrefix(video, "/"):
		video = base.Scheme + "://" + base.Host + video
	}
	u, ok := resolveHTTP(base, video)
	if !ok {
		return "", false
	}
	return u.String(), true
}
