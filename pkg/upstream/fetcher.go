// Package upstream performs the single outbound fetch behind a proxied
// request, with forwarded and spoofed headers.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"stealth-proxy-go/pkg/interfaces"
	"stealth-proxy-go/pkg/logging"
	"stealth-proxy-go/pkg/metrics"
	"stealth-proxy-go/pkg/types"
)

// DefaultUserAgents is the pool used when neither an override nor the
// client supplies a User-Agent.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

const (
	defaultAccept         = "*/*"
	defaultAcceptLanguage = "en-US,en;q=0.9"
)

var _ interfaces.UpstreamFetcher = (*Fetcher)(nil)

// Fetcher issues outbound requests. Redirects are never followed; the
// underlying client is expected to return 3xx responses unchanged.
type Fetcher struct {
	client     interfaces.HTTPClient
	timeout    time.Duration
	userAgents []string
	metrics    *metrics.Metrics
	log        *logging.Logger
}

// New creates a fetcher. timeout bounds the wait for response headers; the
// body may stream for longer. m may be nil.
func New(client interfaces.HTTPClient, timeout time.Duration, m *metrics.Metrics, log *logging.Logger) *Fetcher {
	return &Fetcher{
		client:     client,
		timeout:    timeout,
		userAgents: DefaultUserAgents,
		metrics:    m,
		log:        log.WithComponent("upstream"),
	}
}

// UserAgent returns a default User-Agent from the pool.
func (f *Fetcher) UserAgent() string {
	return f.userAgents[rand.IntN(len(f.userAgents))]
}

// BuildHeaders returns the outbound header set for req.
func (f *Fetcher) BuildHeaders(req *types.ProxyRequest) http.Header {
	in := req.Inbound
	if in == nil {
		in = http.Header{}
	}
	origin := req.Target.Scheme + "://" + req.Target.Host

	h := make(http.Header)
	h.Set("User-Agent", firstNonEmpty(req.UserAgentOverride, in.Get("User-Agent"), f.UserAgent()))
	h.Set("Referer", firstNonEmpty(req.RefererOverride, origin+"/"))
	h.Set("Origin", origin)
	h.Set("Accept", firstNonEmpty(in.Get("Accept"), defaultAccept))
	h.Set("Accept-Language", firstNonEmpty(in.Get("Accept-Language"), defaultAcceptLanguage))
	if cookie := firstNonEmpty(req.CookieOverride, in.Get("Cookie")); cookie != "" {
		h.Set("Cookie", cookie)
	}
	if req.Range != "" {
		h.Set("Range", req.Range)
	}
	if ae := in.Get("Accept-Encoding"); ae != "" {
		h.Set("Accept-Encoding", ae)
	}
	if len(req.Body) > 0 {
		if ct := in.Get("Content-Type"); ct != "" {
			h.Set("Content-Type", ct)
		}
	}
	return h
}

// Fetch performs the outbound request. The caller must close the returned
// body. Failures without a response wrap types.ErrUpstreamUnreachable, and
// also types.ErrUpstreamTimeout when the header wait expired.
func (f *Fetcher) Fetch(ctx context.Context, req *types.ProxyRequest) (*types.UpstreamResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method == http.MethodPost && len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, method, req.TargetURL, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidTarget, err)
	}
	httpReq.Header = f.BuildHeaders(req)

	var timedOut atomic.Bool
	var timer *time.Timer
	if f.timeout > 0 {
		timer = time.AfterFunc(f.timeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}

	log := f.log.WithTarget(req.TargetURL)
	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if timer != nil {
		timer.Stop()
	}
	f.observeDuration(method, time.Since(start))

	if err != nil {
		cancel()
		kind := "unreachable"
		if timedOut.Load() || isTimeout(err) {
			kind = "timeout"
			err = fmt.Errorf("%w: %w: %v", types.ErrUpstreamUnreachable, types.ErrUpstreamTimeout, err)
		} else {
			err = fmt.Errorf("%w: %v", types.ErrUpstreamUnreachable, err)
		}
		f.countError(kind)
		log.WithError(err).Warn("upstream fetch failed", "method", method)
		return nil, err
	}

	if timedOut.Load() {
		// Headers arrived but the deadline fired first and cancelled the body.
		resp.Body.Close()
		cancel()
		f.countError("timeout")
		return nil, fmt.Errorf("%w: %w", types.ErrUpstreamUnreachable, types.ErrUpstreamTimeout)
	}

	f.countResponse(method, resp.StatusCode)
	log.Debug("upstream responded",
		"method", method,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
	)

	return &types.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelBody{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

func (f *Fetcher) observeDuration(method string, d time.Duration) {
	if f.metrics == nil {
		return
	}
	f.metrics.UpstreamDuration.WithLabelValues(metrics.NormalizeMethod(method)).Observe(d.Seconds())
}

func (f *Fetcher) countResponse(method string, status int) {
	if f.metrics == nil {
		return
	}
	f.metrics.UpstreamResponses.WithLabelValues(metrics.NormalizeMethod(method), strconv.Itoa(status)).Inc()
}

func (f *Fetcher) countError(kind string) {
	if f.metrics == nil {
		return
	}
	f.metrics.UpstreamErrors.WithLabelValues(kind).Inc()
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.cancel)
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
