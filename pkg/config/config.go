// Package config handles application configuration from environment
// variables, an optional TOML file and command-line flags.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// CLI holds command-line arguments parsed by Kong. Non-zero values override
// the environment and the config file.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file with extraction hosts and named sites.',env='CONFIG_FILE'"`
	Port     int    `kong:"short='p',help='Listen port (overrides PORT).'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides LOG_LEVEL).'"`
	LogJSON  bool   `kong:"name='log-json',help='Emit JSON logs.'"`
}

// DefaultExtractHosts are the hosts known to hide their media behind an
// iframe or player script. EXTRACT_HOSTS replaces them.
var DefaultExtractHosts = []string{
	"noodlemagazine.com", "*.noodlemagazine.com",
	"xhamster.desi", "*.xhamster.desi",
	"eroticmv.com", "*.eroticmv.com",
	"fullxcinema.com", "*.fullxcinema.com",
	"viralfap.com", "*.viralfap.com",
}

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port          int
	BaseURL       string
	ProxyEndpoint string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration

	// Upstream settings
	UpstreamTimeout    time.Duration
	MaxRewriteBytes    int64
	GlobalProxies      []string
	TransportRoutes    []TransportRoute
	FingerprintDomains []string

	// Extraction settings
	ExtractHosts []string
	Sites        []SiteConfig

	// Shared password for the auth check and catalog writes
	AppPassword string

	// Logging
	LogLevel string
	LogJSON  bool

	// FlareSolverr settings (for Cloudflare challenges during extraction)
	FlareSolverrURL     string
	FlareSolverrTimeout time.Duration

	// Catalog datastore
	Catalog CatalogConfig

	MetricsEnabled bool

	filePath string
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// SiteConfig describes a named site for search-driven discovery.
type SiteConfig struct {
	Name          string   `toml:"name"`
	Origin        string   `toml:"origin"`
	SearchURL     string   `toml:"search_url"`
	PostSelectors []string `toml:"post_selectors"`
}

// CatalogConfig holds the catalog datastore connection settings.
type CatalogConfig struct {
	MongoURI   string
	Database   string
	Collection string
}

// Enabled reports whether a catalog datastore is configured.
func (c CatalogConfig) Enabled() bool {
	return c.MongoURI != ""
}

// fileConfig is the layout of the optional TOML file.
type fileConfig struct {
	Extraction struct {
		Hosts []string `toml:"hosts"`
	} `toml:"extraction"`
	Sites []SiteConfig `toml:"sites"`
}

// Load reads configuration from environment variables with sensible defaults,
// merges the optional TOML file and applies CLI overrides. A nil cli is
// treated as no flags.
func Load(cli *CLI) (*Config, error) {
	if cli == nil {
		cli = &CLI{}
	}

	port := getEnvInt("PORT", 7860)
	if cli.Port != 0 {
		port = cli.Port
	}
	cfg := &Config{
		Port:                port,
		BaseURL:             getEnvString("BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
		ProxyEndpoint:       getEnvString("PROXY_ENDPOINT", "/api/proxy"),
		ReadTimeout:         getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        getEnvDuration("WRITE_TIMEOUT", 0),
		IdleTimeout:         getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		UpstreamTimeout:     getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		MaxRewriteBytes:     int64(getEnvInt("MAX_REWRITE_BYTES", 32<<20)),
		GlobalProxies:       getEnvStringSlice("GLOBAL_PROXIES", nil),
		FingerprintDomains:  getEnvStringSlice("FINGERPRINT_DOMAINS", nil),
		ExtractHosts:        getEnvStringSlice("EXTRACT_HOSTS", slices.Clone(DefaultExtractHosts)),
		AppPassword:         os.Getenv("APP_PASSWORD"),
		LogLevel:            getEnvString("LOG_LEVEL", "info"),
		LogJSON:             getEnvBool("LOG_JSON", false),
		FlareSolverrURL:     getEnvString("FLARESOLVERR_URL", ""),
		FlareSolverrTimeout: getEnvDuration("FLARESOLVERR_TIMEOUT", 60*time.Second),
		Catalog: CatalogConfig{
			MongoURI:   os.Getenv("CATALOG_MONGO_URI"),
			Database:   getEnvString("CATALOG_DATABASE", "catalog"),
			Collection: getEnvString("CATALOG_COLLECTION", "videos"),
		},
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}

	cfg.TransportRoutes = parseTransportRoutes(os.Getenv("TRANSPORT_ROUTES"))

	// Legacy single proxy support
	if globalProxy := os.Getenv("GLOBAL_PROXY"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	if cli.Config != "" {
		if err := cfg.loadFile(cli.Config); err != nil {
			return nil, err
		}
	}
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// loadFile merges extraction hosts and named sites from a TOML file.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	c.ExtractHosts = append(c.ExtractHosts, fc.Extraction.Hosts...)
	c.Sites = append(c.Sites, fc.Sites...)
	c.filePath = path
	return nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.LogLevel != "" {
		c.LogLevel = cli.LogLevel
	}
	if cli.LogJSON {
		c.LogJSON = true
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be 0-65535; got %d", c.Port)
	}
	if !strings.HasPrefix(c.ProxyEndpoint, "/") {
		return fmt.Errorf("proxy endpoint must start with '/'; got %q", c.ProxyEndpoint)
	}
	if c.MaxRewriteBytes <= 0 {
		return fmt.Errorf("max rewrite bytes must be positive; got %d", c.MaxRewriteBytes)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of: debug, info, warn, error; got %q", c.LogLevel)
	}

	seen := make(map[string]bool, len(c.Sites))
	for i, s := range c.Sites {
		if s.Name == "" || s.Origin == "" {
			return fmt.Errorf("sites[%d]: name and origin are required", i)
		}
		if s.Name == "true" {
			return fmt.Errorf("sites[%d]: name %q is reserved", i, s.Name)
		}
		if !strings.Contains(s.SearchURL, "{title}") {
			return fmt.Errorf("sites[%d] %s: search_url must contain {title}", i, s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("sites[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// FilePath returns the config file that was merged, if any.
func (c *Config) FilePath() string {
	return c.filePath
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	// Split by "}, {" pattern
	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		fields := strings.Split(part, ", ")
		for _, field := range fields {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			value := strings.TrimSpace(kv[1])

			switch strings.ToUpper(key) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.ToLower(value) == "true"
			case "DIRECT":
				route.Direct = strings.ToLower(value) == "true"
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Try parsing as seconds first
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
