package httpclient

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"stealth-proxy-go/pkg/config"
	"stealth-proxy-go/pkg/logging"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestClientFor(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.Config
		targetURL string
		wantKey   string // pooled client key; empty means the direct client
	}{
		{
			name:      "direct when nothing configured",
			cfg:       &config.Config{},
			targetURL: "https://cdn.example.com/video.m3u8",
		},
		{
			name:      "global proxy when no route matches",
			cfg:       &config.Config{GlobalProxies: []string{"socks5://proxy.example.com:1080"}},
			targetURL: "https://cdn.example.com/video.m3u8",
			wantKey:   "socks5://proxy.example.com:1080",
		},
		{
			name: "route proxy wins over global proxy",
			cfg: &config.Config{
				GlobalProxies:   []string{"socks5://global.example.com:1080"},
				TransportRoutes: []config.TransportRoute{{URLPattern: "cdn.specific.com", Proxy: "http://route.example.com:3128"}},
			},
			targetURL: "https://cdn.specific.com/video.m3u8",
			wantKey:   "http://route.example.com:3128",
		},
		{
			name: "route without proxy disables tls verification",
			cfg: &config.Config{
				GlobalProxies:   []string{"socks5://global.example.com:1080"},
				TransportRoutes: []config.TransportRoute{{URLPattern: "selfsigned.example", DisableSSL: true}},
			},
			targetURL: "https://selfsigned.example/live.m3u8",
			wantKey:   insecureKey,
		},
		{
			name: "direct route bypasses global proxy",
			cfg: &config.Config{
				GlobalProxies:   []string{"socks5://global.example.com:1080"},
				TransportRoutes: []config.TransportRoute{{URLPattern: "local.example", Direct: true}},
			},
			targetURL: "http://local.example/a.ts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.cfg, logging.Discard())
			got := c.clientFor(mustURL(t, tt.targetURL))

			if tt.wantKey == "" {
				if got != c.direct {
					t.Fatal("expected the direct client")
				}
				return
			}
			if got != c.pooled[tt.wantKey] {
				t.Fatalf("expected pooled client %q, have keys %v", tt.wantKey, keys(c.pooled))
			}
		})
	}
}

func keys(m map[string]*http.Client) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestClientFor_RotatesGlobalProxies(t *testing.T) {
	proxies := []string{"http://p1.example:8080", "http://p2.example:8080", "http://p3.example:8080"}
	c := New(&config.Config{GlobalProxies: proxies}, logging.Discard())
	u := mustURL(t, "https://cdn.example.com/seg.ts")

	for round := 0; round < 2; round++ {
		for _, p := range proxies {
			if got := c.clientFor(u); got != c.pooled[p] {
				t.Fatalf("round %d: expected client for %s", round, p)
			}
		}
	}
	if len(c.pooled) != len(proxies) {
		t.Errorf("pooled %d clients, want %d", len(c.pooled), len(proxies))
	}
}

func TestClientFor_Fingerprint(t *testing.T) {
	c := New(&config.Config{
		FingerprintDomains: []string{"protected.example", "edge-*.cdn.example"},
		GlobalProxies:      []string{"socks5://proxy.example.com:1080"},
	}, logging.Discard())

	tests := []struct {
		targetURL string
		want      bool
	}{
		{"https://protected.example/v.m3u8", true},
		{"https://cdn.protected.example/v.m3u8", true},
		{"https://EDGE-7.cdn.example/v.m3u8", true},
		{"https://notprotected.example/v.m3u8", false},
		{"https://other.example/v.m3u8?ref=protected.example", false},
		{"https://cdn.example/v.m3u8", false},
	}
	for _, tt := range tests {
		got := c.clientFor(mustURL(t, tt.targetURL)) == c.fingerprint
		if got != tt.want {
			t.Errorf("fingerprinted(%s) = %v, want %v", tt.targetURL, got, tt.want)
		}
	}
}

func TestBuildClient_UnsupportedScheme(t *testing.T) {
	c := New(&config.Config{}, logging.Discard())
	if got := c.buildClient("ftp://proxy.example:21", false); got != c.direct {
		t.Error("expected fallback to the direct client")
	}
}

func TestDo_DoesNotFollowRedirects(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/final", http.StatusMovedPermanently)
			return
		}
		_, _ = w.Write([]byte("final"))
	}))
	defer srv.Close()

	client := New(&config.Config{UpstreamTimeout: 5 * time.Second}, logging.Discard())
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/start", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusMovedPermanently)
	}
	if loc := resp.Header.Get("Location"); loc != "/final" {
		t.Errorf("Location = %q, want %q", loc, "/final")
	}
	if hits != 1 {
		t.Errorf("upstream hits = %d, want 1", hits)
	}
}

func TestDo_KeepsContentEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write([]byte{0x1f, 0x8b})
	}))
	defer srv.Close()

	client := New(&config.Config{}, logging.Discard())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Encoding"); got != "gzip" {
		t.Errorf("Content-Encoding = %q, want %q", got, "gzip")
	}
}

func TestFingerprintTransport_PlainHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write([]byte{0x1f, 0x8b})
	}))
	defer srv.Close()

	host := mustURL(t, srv.URL).Hostname()
	client := New(&config.Config{FingerprintDomains: []string{host}}, logging.Discard())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Encoding"); got != "gzip" {
		t.Errorf("Content-Encoding = %q, want %q", got, "gzip")
	}
}
