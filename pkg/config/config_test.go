package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 7860 {
		t.Errorf("default Port = %d, want %d", cfg.Port, 7860)
	}
	if cfg.ProxyEndpoint != "/api/proxy" {
		t.Errorf("default ProxyEndpoint = %q, want %q", cfg.ProxyEndpoint, "/api/proxy")
	}
	if cfg.UpstreamTimeout != 30*time.Second {
		t.Errorf("default UpstreamTimeout = %v, want %v", cfg.UpstreamTimeout, 30*time.Second)
	}
	if cfg.WriteTimeout != 0 {
		t.Errorf("default WriteTimeout = %v, want 0", cfg.WriteTimeout)
	}
	if cfg.MaxRewriteBytes != 32<<20 {
		t.Errorf("default MaxRewriteBytes = %d, want %d", cfg.MaxRewriteBytes, 32<<20)
	}
	if cfg.Catalog.Enabled() {
		t.Error("catalog should be disabled without CATALOG_MONGO_URI")
	}
	if !slices.Contains(cfg.ExtractHosts, "*.noodlemagazine.com") || !slices.Contains(cfg.ExtractHosts, "viralfap.com") {
		t.Errorf("default ExtractHosts = %v", cfg.ExtractHosts)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("UPSTREAM_TIMEOUT", "5")
	t.Setenv("EXTRACT_HOSTS", "*.example.com, videos.test")
	t.Setenv("PROXY_ENDPOINT", "/p")
	t.Setenv("CATALOG_MONGO_URI", "mongodb://localhost:27017")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want %d", cfg.Port, 9000)
	}
	if cfg.BaseURL != "http://localhost:9000" {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "http://localhost:9000")
	}
	if cfg.UpstreamTimeout != 5*time.Second {
		t.Errorf("UpstreamTimeout = %v, want %v", cfg.UpstreamTimeout, 5*time.Second)
	}
	if len(cfg.ExtractHosts) != 2 || cfg.ExtractHosts[1] != "videos.test" {
		t.Errorf("ExtractHosts = %v", cfg.ExtractHosts)
	}
	if cfg.ProxyEndpoint != "/p" {
		t.Errorf("ProxyEndpoint = %q, want %q", cfg.ProxyEndpoint, "/p")
	}
	if !cfg.Catalog.Enabled() {
		t.Error("catalog should be enabled")
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[extraction]
hosts = ["*.tube.example"]

[[sites]]
name = "kpm"
origin = "https://kpm.example"
search_url = "https://kpm.example/?s={title}"
post_selectors = ["h2.entry-title a", "a.item-link"]
`)
	t.Setenv("EXTRACT_HOSTS", "a.example")

	cfg, err := Load(&CLI{Config: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.ExtractHosts) != 2 || cfg.ExtractHosts[1] != "*.tube.example" {
		t.Errorf("ExtractHosts = %v", cfg.ExtractHosts)
	}
	if len(cfg.Sites) != 1 {
		t.Fatalf("len(Sites) = %d, want 1", len(cfg.Sites))
	}
	site := cfg.Sites[0]
	if site.Name != "kpm" || site.SearchURL != "https://kpm.example/?s={title}" || len(site.PostSelectors) != 2 {
		t.Errorf("Sites[0] = %+v", site)
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "info")

	cfg, err := Load(&CLI{Port: 9100, LogLevel: "debug", LogJSON: true})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d, want %d", cfg.Port, 9100)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if !cfg.LogJSON {
		t.Error("LogJSON = false, want true")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "verbose"}},
		{name: "relative endpoint", env: map[string]string{"PROXY_ENDPOINT": "api/proxy"}},
		{name: "site without placeholder", file: "[[sites]]\nname = \"x\"\norigin = \"https://x\"\nsearch_url = \"https://x/?s=\"\n"},
		{name: "reserved site name", file: "[[sites]]\nname = \"true\"\norigin = \"https://x\"\nsearch_url = \"https://x/?s={title}\"\n"},
		{name: "malformed toml", file: "[[sites]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cli := &CLI{}
			if tt.file != "" {
				cli.Config = writeConfig(t, tt.file)
			}
			if _, err := Load(cli); err == nil {
				t.Fatal("Load() expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(&CLI{Config: "/nonexistent/config.toml"}); err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestParseTransportRoutes(t *testing.T) {
	routes := parseTransportRoutes("{URL=cdn.a.com, PROXY=socks5://p:1080}, {URL=b.com, DISABLE_SSL=true, DIRECT=true}")
	if len(routes) != 2 {
		t.Fatalf("len(routes) = %d, want 2", len(routes))
	}
	if routes[0].URLPattern != "cdn.a.com" || routes[0].Proxy != "socks5://p:1080" {
		t.Errorf("routes[0] = %+v", routes[0])
	}
	if !routes[1].DisableSSL || !routes[1].Direct {
		t.Errorf("routes[1] = %+v", routes[1])
	}
}
