// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"stealth-proxy-go/pkg/config"
	"stealth-proxy-go/pkg/extractors"
	"stealth-proxy-go/pkg/interfaces"
	"stealth-proxy-go/pkg/logging"
	"stealth-proxy-go/pkg/metrics"
	"stealth-proxy-go/pkg/services"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config       *config.Config
	Log          *logging.Logger
	ProxyService *services.ProxyService
	Extractor    *extractors.Engine
	Catalog      interfaces.CatalogStore
	Metrics      *metrics.Metrics
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config: cfg,
		Log:    log,
	}
}

// WithProxyService sets the proxy service.
func (c *Context) WithProxyService(ps *services.ProxyService) *Context {
	c.ProxyService = ps
	return c
}

// WithExtractor sets the extraction engine.
func (c *Context) WithExtractor(e *extractors.Engine) *Context {
	c.Extractor = e
	return c
}

// WithCatalog sets the catalog store. Catalog routes are only served when
// one is set.
func (c *Context) WithCatalog(store interfaces.CatalogStore) *Context {
	c.Catalog = store
	return c
}

// WithMetrics sets the metrics collectors.
func (c *Context) WithMetrics(m *metrics.Metrics) *Context {
	c.Metrics = m
	return c
}
