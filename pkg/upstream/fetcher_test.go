package upstream

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealth-proxy-go/pkg/config"
	"stealth-proxy-go/pkg/httpclient"
	"stealth-proxy-go/pkg/logging"
	"stealth-proxy-go/pkg/types"
)

func newFetcher(timeout time.Duration) *Fetcher {
	client := httpclient.New(&config.Config{UpstreamTimeout: timeout}, logging.Discard())
	return New(client, timeout, nil, logging.Discard())
}

func proxyRequest(t *testing.T, target string) *types.ProxyRequest {
	t.Helper()
	u, err := url.Parse(target)
	require.NoError(t, err)
	return &types.ProxyRequest{
		TargetURL: target,
		Target:    u,
		Method:    http.MethodGet,
		Inbound:   http.Header{},
	}
}

func TestBuildHeaders_Defaults(t *testing.T) {
	f := newFetcher(time.Second)
	req := proxyRequest(t, "https://cdn.a.com/x/v.mp4")
	req.Range = "bytes=0-99"

	h := f.BuildHeaders(req)

	assert.Contains(t, DefaultUserAgents, h.Get("User-Agent"))
	assert.Equal(t, "https://cdn.a.com/", h.Get("Referer"))
	assert.Equal(t, "https://cdn.a.com", h.Get("Origin"))
	assert.Equal(t, "*/*", h.Get("Accept"))
	assert.Equal(t, "en-US,en;q=0.9", h.Get("Accept-Language"))
	assert.Equal(t, "bytes=0-99", h.Get("Range"))
	_, hasCookie := h["Cookie"]
	assert.False(t, hasCookie, "empty cookie must be omitted")
}

func TestBuildHeaders_OverridesAndInbound(t *testing.T) {
	f := newFetcher(time.Second)
	req := proxyRequest(t, "https://cdn.a.com/v.mp4")
	req.Inbound.Set("User-Agent", "inbound-ua")
	req.Inbound.Set("Accept", "video/*")
	req.Inbound.Set("Accept-Language", "de")
	req.Inbound.Set("Cookie", "inbound=1")
	req.Inbound.Set("X-Forwarded-For", "10.0.0.1")

	h := f.BuildHeaders(req)
	assert.Equal(t, "inbound-ua", h.Get("User-Agent"))
	assert.Equal(t, "video/*", h.Get("Accept"))
	assert.Equal(t, "de", h.Get("Accept-Language"))
	assert.Equal(t, "inbound=1", h.Get("Cookie"))
	assert.Empty(t, h.Get("X-Forwarded-For"))

	req.UserAgentOverride = "override-ua"
	req.RefererOverride = "https://embed.example/page"
	req.CookieOverride = "override=1"
	h = f.BuildHeaders(req)
	assert.Equal(t, "override-ua", h.Get("User-Agent"))
	assert.Equal(t, "https://embed.example/page", h.Get("Referer"))
	assert.Equal(t, "override=1", h.Get("Cookie"))
}

func TestFetch_ForwardsPostBody(t *testing.T) {
	var gotMethod, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	f := newFetcher(time.Second)
	req := proxyRequest(t, srv.URL+"/form")
	req.Method = http.MethodPost
	req.Body = []byte("a=1&b=2")
	req.Inbound.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.Fetch(t.Context(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "a=1&b=2", gotBody)
	assert.Equal(t, "application/x-www-form-urlencoded", gotType)
}

func TestFetch_ReturnsRedirectUnfollowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	}))
	defer srv.Close()

	resp, err := newFetcher(time.Second).Fetch(t.Context(), proxyRequest(t, srv.URL+"/a"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/b", resp.Header.Get("Location"))
}

func TestFetch_HeaderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newFetcher(50*time.Millisecond).Fetch(t.Context(), proxyRequest(t, srv.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUpstreamUnreachable))
	assert.True(t, errors.Is(err, types.ErrUpstreamTimeout))
}

func TestFetch_BodyMayOutliveTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("first-"))
		w.(http.Flusher).Flush()
		time.Sleep(150 * time.Millisecond)
		_, _ = w.Write([]byte("second"))
	}))
	defer srv.Close()

	resp, err := newFetcher(50*time.Millisecond).Fetch(t.Context(), proxyRequest(t, srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "first-second", string(body))
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	_, err := newFetcher(time.Second).Fetch(t.Context(), proxyRequest(t, target))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUpstreamUnreachable))
	assert.False(t, errors.Is(err, types.ErrUpstreamTimeout))
}
