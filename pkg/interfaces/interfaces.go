// Package interfaces defines the core abstractions for the rewriting proxy.
// Rewriters and extraction probes implement these interfaces, so new content
// formats and new discovery strategies plug in without touching the dispatcher.
package interfaces

import (
	"context"
	"net/http"

	"stealth-proxy-go/pkg/types"
)

// Rewriter rewrites every embedded reference of one content category so it
// routes back through the proxy.
//
// To add a new content format:
// 1. Create a new file in pkg/rewrite/
// 2. Implement this interface
// 3. Register it in the RewriterRegistry
type Rewriter interface {
	// Category returns the content category this rewriter handles.
	Category() types.ContentCategory

	// Rewrite returns the rewritten body. Applying it twice must give the
	// same result as applying it once.
	Rewrite(content []byte, rc *types.RewriteContext) []byte
}

// Probe is one media-URL discovery strategy run against a page corpus.
type Probe interface {
	// Name returns a short identifier used in logs and metrics.
	Name() string

	// Find returns the first candidate URL in corpus, if any.
	Find(corpus string) (string, bool)
}

// UpstreamFetcher performs the single outbound fetch behind a proxied request.
type UpstreamFetcher interface {
	Fetch(ctx context.Context, req *types.ProxyRequest) (*types.UpstreamResponse, error)
}

// CatalogStore persists catalog records keyed by ID.
type CatalogStore interface {
	// Upsert inserts rec or replaces the fields of the record with the same ID.
	Upsert(ctx context.Context, rec *types.CatalogRecord) error
	Close(ctx context.Context) error
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// PageFetcher fetches a page as text for extraction.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL, referer string) (string, error)
}
