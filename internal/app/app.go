// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stealth-proxy-go/pkg/appctx"
	"stealth-proxy-go/pkg/catalog"
	"stealth-proxy-go/pkg/config"
	"stealth-proxy-go/pkg/extractors"
	"stealth-proxy-go/pkg/flaresolverr"
	"stealth-proxy-go/pkg/handlers/api"
	"stealth-proxy-go/pkg/httpclient"
	"stealth-proxy-go/pkg/logging"
	"stealth-proxy-go/pkg/metrics"
	"stealth-proxy-go/pkg/registry"
	"stealth-proxy-go/pkg/rewrite"
	"stealth-proxy-go/pkg/server"
	"stealth-proxy-go/pkg/services"
	"stealth-proxy-go/pkg/types"
	"stealth-proxy-go/pkg/upstream"
	"stealth-proxy-go/pkg/urlutil"
)

const catalogConnectTimeout = 10 * time.Second

// App is the main application container.
type App struct {
	Ctx        *appctx.Context
	Server     *server.Server
	HTTPClient *httpclient.Client
	Rewriters  *registry.RewriterRegistry
	Sites      *registry.SiteRegistry
}

// New creates and initializes the application.
func New(cli *config.CLI) (*App, error) {
	// Load configuration
	cfg, err := config.Load(cli)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Initialize logger
	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	logging.SetDefault(log)
	log.Info("initializing stealth proxy",
		"port", cfg.Port,
		"endpoint", cfg.ProxyEndpoint,
		"log_level", cfg.LogLevel,
	)
	if path := cfg.FilePath(); path != "" {
		log.Info("merged config file", "path", path, "sites", len(cfg.Sites), "extract_hosts", len(cfg.ExtractHosts))
	}

	// Create application context
	ctx := appctx.New(cfg, log)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(cfg.ProxyEndpoint, "/api/auth", "/api/catalog", "/api/info", "/healthz", "/metrics")
		ctx.WithMetrics(m)
	}

	// Create HTTP client and the upstream fetcher on top of it
	httpClient := httpclient.New(cfg, log)
	fetcher := upstream.New(httpClient, cfg.UpstreamTimeout, m, log)

	// Register content rewriters
	enc := urlutil.NewEncoder(cfg.ProxyEndpoint)
	rewriters := registry.NewRewriterRegistry()
	rewrite.RegisterDefaults(rewriters, enc)
	log.Info("registered rewriters", "count", len(rewriters.All()))

	// Register discovery sites
	sites := registerSites(cfg.Sites, log)

	// Create FlareSolverr client if configured
	var flareClient *flaresolverr.Client
	if cfg.FlareSolverrURL != "" {
		flareClient = flaresolverr.NewClient(cfg.FlareSolverrURL, cfg.FlareSolverrTimeout, log)
		log.Info("FlareSolverr client enabled", "url", cfg.FlareSolverrURL)
	}

	pages := extractors.NewPageClient(httpClient, flareClient, cfg.UpstreamTimeout, log)
	engine := extractors.NewEngine(pages, cfg.ExtractHosts, sites, m, log)
	ctx.WithExtractor(engine)

	// Connect the catalog store if configured
	if cfg.Catalog.Enabled() {
		connectCtx, cancel := context.WithTimeout(context.Background(), catalogConnectTimeout)
		store, err := catalog.NewMongoStore(connectCtx, cfg.Catalog, log)
		cancel()
		if err != nil {
			httpClient.CloseIdleConnections()
			return nil, fmt.Errorf("connect catalog: %w", err)
		}
		ctx.WithCatalog(store)
		log.Info("catalog store enabled", "database", cfg.Catalog.Database, "collection", cfg.Catalog.Collection)
	}

	// Create proxy service
	proxyService := services.NewProxyService(log, fetcher, engine, rewriters, enc, cfg.MaxRewriteBytes, m)
	ctx.WithProxyService(proxyService)

	// Create HTTP server
	srv := server.New(cfg, log, m)

	// Create API handlers
	handlers := api.NewHandlers(ctx)
	handlers.RegisterRoutes(srv.Router())

	return &App{
		Ctx:        ctx,
		Server:     srv,
		HTTPClient: httpClient,
		Rewriters:  rewriters,
		Sites:      sites,
	}, nil
}

// Run starts the application.
func (a *App) Run() error {
	a.Ctx.Log.Info("starting stealth proxy server", "port", a.Ctx.Config.Port)
	return a.Server.Start()
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")

	if a.Ctx.Catalog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), catalogConnectTimeout)
		if err := a.Ctx.Catalog.Close(ctx); err != nil {
			a.Ctx.Log.Warn("catalog close failed", "error", err)
		}
		cancel()
	}

	a.HTTPClient.CloseIdleConnections()
}

// registerSites builds the discovery site registry from configuration.
// Add new sites under [[sites]] in the config file.
func registerSites(configured []config.SiteConfig, log *logging.Logger) *registry.SiteRegistry {
	reg := registry.NewSiteRegistry()
	for _, sc := range configured {
		reg.Register(types.Site{
			Name:          sc.Name,
			Origin:        strings.TrimRight(sc.Origin, "/"),
			SearchURL:     sc.SearchURL,
			PostSelectors: sc.PostSelectors,
		})
	}
	log.Info("registered discovery sites", "count", len(reg.Names()))
	return reg
}
