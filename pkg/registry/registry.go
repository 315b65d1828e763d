// Package registry provides registries for content rewriters and named sites.
package registry

import (
	"sort"
	"sync"

	"stealth-proxy-go/pkg/interfaces"
	"stealth-proxy-go/pkg/types"
)

// RewriterRegistry manages content rewriters keyed by category.
type RewriterRegistry struct {
	mu        sync.RWMutex
	rewriters map[types.ContentCategory]interfaces.Rewriter
}

// NewRewriterRegistry creates a new rewriter registry.
func NewRewriterRegistry() *RewriterRegistry {
	return &RewriterRegistry{
		rewriters: make(map[types.ContentCategory]interfaces.Rewriter),
	}
}

// Register adds a rewriter, replacing any previous one for the same category.
func (r *RewriterRegistry) Register(rw interfaces.Rewriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rewriters[rw.Category()] = rw
}

// Get returns the rewriter for a category, or nil when the body should be
// passed through untouched.
func (r *RewriterRegistry) Get(c types.ContentCategory) interfaces.Rewriter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rewriters[c]
}

// All returns all registered rewriters ordered by category.
func (r *RewriterRegistry) All() []interfaces.Rewriter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.Rewriter, 0, len(r.rewriters))
	for _, rw := range r.rewriters {
		result = append(result, rw)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Category() < result[j].Category()
	})
	return result
}

// SiteRegistry manages named sites used for search-driven discovery.
type SiteRegistry struct {
	mu    sync.RWMutex
	sites map[string]types.Site
}

// NewSiteRegistry creates a new site registry.
func NewSiteRegistry() *SiteRegistry {
	return &SiteRegistry{
		sites: make(map[string]types.Site),
	}
}

// Register adds a site definition.
func (r *SiteRegistry) Register(site types.Site) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites[site.Name] = site
}

// Get returns the site registered under name.
func (r *SiteRegistry) Get(name string) (types.Site, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sites[name]
	return s, ok
}

// Names returns the registered site names, sorted.
func (r *SiteRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sites))
	for name := range r.sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
