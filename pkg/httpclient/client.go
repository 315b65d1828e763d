// Package httpclient provides the outbound HTTP client: per-URL transport
// routes, rotating global proxies and a browser-fingerprinted TLS transport.
// Redirects are never followed and bodies are never decompressed, so callers
// see upstream responses exactly as sent.
package httpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ryanuber/go-glob"

	"stealth-proxy-go/pkg/config"
	"stealth-proxy-go/pkg/logging"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

const (
	dialTimeout      = 30 * time.Second
	dialKeepAlive    = 60 * time.Second
	handshakeTimeout = 10 * time.Second
	insecureKey      = ":insecure"
)

// Client routes each request to a pooled *http.Client chosen by URL.
type Client struct {
	direct      *http.Client
	fingerprint *http.Client
	pooled      map[string]*http.Client
	routes      []config.TransportRoute
	proxies     []string
	next        atomic.Uint64
	hosts       []string
	timeout     time.Duration
	mu          sync.RWMutex
	log         *logging.Logger
}

// New creates a client from the transport settings in cfg.
func New(cfg *config.Config, log *logging.Logger) *Client {
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hosts := make([]string, 0, len(cfg.FingerprintDomains))
	for _, h := range cfg.FingerprintDomains {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}

	c := &Client{
		pooled:  make(map[string]*http.Client),
		routes:  cfg.TransportRoutes,
		proxies: cfg.GlobalProxies,
		hosts:   hosts,
		timeout: timeout,
		log:     log.WithComponent("httpclient"),
	}
	// No overall client timeout: media bodies stream for as long as the
	// viewer keeps reading. The header wait is bounded by the transport.
	c.direct = newClient(c.newTransport())
	c.fingerprint = newClient(&fingerprintTransport{
		dialer: &net.Dialer{Timeout: dialTimeout, KeepAlive: dialKeepAlive},
		h2:     &http2.Transport{DisableCompression: true},
		plain:  c.newTransport(),
	})
	return c
}

// noFollow hands 3xx responses back to the caller.
func noFollow(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func newClient(rt http.RoundTripper) *http.Client {
	return &http.Client{Transport: rt, CheckRedirect: noFollow}
}

// dialIPv4 forces IPv4 connections.
func dialIPv4(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "tcp" {
		network = "tcp4"
	}
	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: dialKeepAlive}
	return d.DialContext(ctx, network, addr)
}

func (c *Client) newTransport() *http.Transport {
	return &http.Transport{
		DialContext:           dialIPv4,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   handshakeTimeout,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: c.timeout,
		DisableCompression:    true,
	}
}

// Do sends req through the client its URL routes to.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.clientFor(req.URL).Do(req)
}

// clientFor picks a client: fingerprinted hosts first, then the first
// matching transport route, then the next global proxy, then direct.
func (c *Client) clientFor(u *url.URL) *http.Client {
	if c.wantsFingerprint(u.Hostname()) {
		c.log.Debug("using fingerprinted transport", "host", u.Host)
		return c.fingerprint
	}

	target := u.String()
	for _, route := range c.routes {
		if !strings.Contains(target, route.URLPattern) {
			continue
		}
		c.log.Debug("matched transport route", "pattern", route.URLPattern, "proxy", route.Proxy, "direct", route.Direct)
		switch {
		case route.Direct && !route.DisableSSL:
			return c.direct
		case route.Direct, route.Proxy == "":
			if route.DisableSSL {
				return c.pooledClient("", true)
			}
		default:
			return c.pooledClient(route.Proxy, route.DisableSSL)
		}
	}

	if len(c.proxies) > 0 {
		p := c.proxies[(c.next.Add(1)-1)%uint64(len(c.proxies))]
		c.log.Debug("using global proxy", "host", u.Host, "proxy", p)
		return c.pooledClient(p, false)
	}
	return c.direct
}

// wantsFingerprint matches host against the fingerprint list. A bare domain
// covers its subdomains; glob patterns are matched as written.
func (c *Client) wantsFingerprint(host string) bool {
	host = strings.ToLower(host)
	for _, pattern := range c.hosts {
		if host == pattern || strings.HasSuffix(host, "."+pattern) || glob.Glob(pattern, host) {
			return true
		}
	}
	return false
}

// pooledClient returns the cached client for proxyURL, creating it once.
func (c *Client) pooledClient(proxyURL string, insecure bool) *http.Client {
	key := proxyURL
	if insecure {
		key += insecureKey
	}

	c.mu.RLock()
	client, ok := c.pooled[key]
	c.mu.RUnlock()
	if ok {
		return client
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.pooled[key]; ok {
		return client
	}
	client = c.buildClient(proxyURL, insecure)
	c.pooled[key] = client
	c.log.Debug("created pooled client", "proxy", proxyURL, "insecure", insecure)
	return client
}

func (c *Client) buildClient(proxyURL string, insecure bool) *http.Client {
	transport := c.newTransport()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if proxyURL == "" {
		return newClient(transport)
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		c.log.Error("invalid proxy url, connecting directly", "proxy", proxyURL, "error", err)
		return c.direct
	}

	switch parsed.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsed, proxy.Direct)
		if err != nil {
			c.log.Error("socks5 dialer failed, connecting directly", "proxy", proxyURL, "error", err)
			return c.direct
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	default:
		c.log.Warn("unsupported proxy scheme, connecting directly", "scheme", parsed.Scheme)
		return c.direct
	}
	return newClient(transport)
}

// CloseIdleConnections closes idle connections on every pooled client.
func (c *Client) CloseIdleConnections() {
	c.direct.CloseIdleConnections()
	c.fingerprint.CloseIdleConnections()

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, client := range c.pooled {
		client.CloseIdleConnections()
	}
}

// fingerprintTransport dials TLS with a Chrome ClientHello and speaks h2 or
// HTTP/1.1 depending on ALPN. Every connection is single-use.
type fingerprintTransport struct {
	dialer *net.Dialer
	h2     *http2.Transport
	plain  *http.Transport
}

// CloseIdleConnections releases pooled plain-HTTP connections.
func (t *fingerprintTransport) CloseIdleConnections() {
	t.plain.CloseIdleConnections()
}

func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}

	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = net.JoinHostPort(req.URL.Hostname(), "443")
	}
	raw, err := t.dialer.DialContext(req.Context(), "tcp4", addr)
	if err != nil {
		return nil, err
	}

	conn := utls.UClient(raw, &utls.Config{ServerName: req.URL.Hostname()}, utls.HelloChrome_120)
	handshakeCtx, cancel := context.WithTimeout(req.Context(), handshakeTimeout)
	err = conn.HandshakeContext(handshakeCtx)
	cancel()
	if err != nil {
		raw.Close()
		return nil, err
	}

	if conn.ConnectionState().NegotiatedProtocol == "h2" {
		cc, err := t.h2.NewClientConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		resp, err := cc.RoundTrip(req)
		if err != nil {
			conn.Close()
			return nil, err
		}
		resp.Body = &connBody{ReadCloser: resp.Body, conn: conn}
		return resp, nil
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	resp.Body = &connBody{ReadCloser: resp.Body, conn: conn}
	return resp, nil
}

// connBody closes the underlying connection together with the body.
type connBody struct {
	io.ReadCloser
	conn net.Conn
}

func (b *connBody) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
