// Package flaresolverr provides a client for the FlareSolverr API, used by
// the extraction engine to get past Cloudflare challenge pages.
package flaresolverr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stealth-proxy-go/pkg/logging"
)

// ErrNotConfigured is returned when no FlareSolverr URL is set.
var ErrNotConfigured = errors.New("flaresolverr: not configured")

// Cookie represents a cookie from a FlareSolverr solution.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  int64  `json:"expires"`
	HTTPOnly bool   `json:"httpOnly"`
	Secure   bool   `json:"secure"`
}

// Solution contains the result of a solved challenge.
type Solution struct {
	URL       string   `json:"url"`
	Status    int      `json:"status"`
	Response  string   `json:"response"`
	Cookies   []Cookie `json:"cookies"`
	UserAgent string   `json:"userAgent"`
}

// Response is the full response from the FlareSolverr API.
type Response struct {
	Status    string   `json:"status"`
	Message   string   `json:"message"`
	StartTime int64    `json:"startTimestamp"`
	EndTime   int64    `json:"endTimestamp"`
	Version   string   `json:"version"`
	Solution  Solution `json:"solution"`
}

// Request is the request body for the FlareSolverr API.
type Request struct {
	Cmd        string   `json:"cmd"`
	URL        string   `json:"url"`
	MaxTimeout int      `json:"maxTimeout"`
	Cookies    []Cookie `json:"cookies,omitempty"`
}

// Solves share one headless browser, so they are throttled per client.
const (
	solveInterval = 500 * time.Millisecond
	solveBurst    = 2
)

// The solution embeds the full page markup.
const maxResponseBytes = 16 << 20

// Client is a FlareSolverr API client.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logging.Logger
}

// NewClient creates a new FlareSolverr client. An empty baseURL yields a
// client that reports itself as not configured.
func NewClient(baseURL string, timeout time.Duration, log *logging.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout + 10*time.Second, // solver timeout plus network overhead
		},
		limiter: rate.NewLimiter(rate.Every(solveInterval), solveBurst),
		log:     log.WithComponent("flaresolverr"),
	}
}

// IsConfigured returns true if the client has an endpoint to talk to.
func (c *Client) IsConfigured() bool {
	return c != nil && c.baseURL != ""
}

// Get fetches a URL through FlareSolverr, solving any Cloudflare challenge.
func (c *Client) Get(ctx context.Context, targetURL string, cookies []Cookie) (*Response, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("flaresolverr: wait for solve slot: %w", err)
	}
	c.log.Debug("fetching page via FlareSolverr", "url", targetURL)

	body, err := json.Marshal(Request{
		Cmd:        "request.get",
		URL:        targetURL,
		MaxTimeout: int(c.timeout.Milliseconds()),
		Cookies:    cookies,
	})
	if err != nil {
		return nil, fmt.Errorf("flaresolverr: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("flaresolverr: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("flaresolverr: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("flaresolverr: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("flaresolverr: status %d: %s", resp.StatusCode, string(respBody))
	}

	var fsResp Response
	if err := json.Unmarshal(respBody, &fsResp); err != nil {
		return nil, fmt.Errorf("flaresolverr: parse response: %w", err)
	}
	if fsResp.Status != "ok" {
		return nil, fmt.Errorf("flaresolverr: %s", fsResp.Message)
	}

	c.log.Debug("FlareSolverr request successful",
		"url", targetURL,
		"status", fsResp.Solution.Status,
		"cookies", len(fsResp.Solution.Cookies),
		"response_length", len(fsResp.Solution.Response))

	return &fsResp, nil
}

// IsChallenge reports whether an upstream response looks like a Cloudflare
// challenge page.
func IsChallenge(status int, h http.Header) bool {
	if status != http.StatusForbidden && status != http.StatusServiceUnavailable {
		return false
	}
	if h.Get("Cf-Mitigated") != "" || h.Get("Cf-Ray") != "" {
		return true
	}
	return strings.EqualFold(h.Get("Server"), "cloudflare")
}

// CookieHeader renders cookies as a Cookie request header value.
func CookieHeader(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
