// Package transport executes outbound requests for checkers under a global
// concurrency budget, per-host connection caps, and per-host rate limits.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/verwatch/verwatch/internal/cache"
	"github.com/verwatch/verwatch/internal/check"
	"github.com/verwatch/verwatch/internal/metrics"
)

// Config controls pooling, limits, and defaults for the client.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	MaxInFlight     int64
	MaxConns        int
	MaxConnsPerHost int
	HostRPS         float64
	HostBurst       int
	MaxBodyBytes    int64
	CacheTTL        time.Duration
}

// Request describes one outbound call abstractly.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Timeout overrides the client default for this attempt.
	Timeout time.Duration
	// DisableRedirects returns 3xx responses to the caller instead of
	// following them (redirect-target checkers inspect Location).
	DisableRedirects bool
	// NoCache bypasses the response cache for this call.
	NoCache bool
}

// Response is the outcome of a completed request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	FromCache  bool
}

// Client is the pooled, rate-limited HTTP client shared by all checkers.
type Client struct {
	cfg      Config
	follow   *http.Client
	noFollow *http.Client
	gate     *semaphore.Weighted
	limiter  *HostLimiter
	cache    cache.ResponseCache
	logger   *zap.Logger
}

// Option customizes optional collaborators.
type Option func(*Client)

// WithCache attaches a response cache consulted for GET and HEAD calls.
func WithCache(c cache.ResponseCache) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New builds a Client. Zero config fields fall back to defaults sized for
// a desktop check workload: 10 in-flight attempts, 100 pooled connections,
// 10 per host, 30s per attempt.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 10
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 100
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 10
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 * 1024 * 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "verwatch/1.0 (+https://github.com/verwatch/verwatch)"
	}

	pooled := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          cfg.MaxConns,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}

	c := &Client{
		cfg:     cfg,
		follow:  &http.Client{Transport: pooled},
		noFollow: &http.Client{
			Transport: pooled,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		gate:    semaphore.NewWeighted(cfg.MaxInFlight),
		limiter: NewHostLimiter(cfg.HostRPS, cfg.HostBurst),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RoundTripper exposes the pooled transport so scraping collectors can share
// the same connection budget instead of opening their own pools.
func (c *Client) RoundTripper() http.RoundTripper {
	return c.follow.Transport
}

// UserAgent returns the agent string the client sends.
func (c *Client) UserAgent() string {
	return c.cfg.UserAgent
}

// Do executes one request and returns the response or a classified error.
// The total number of simultaneously in-flight requests across the engine
// never exceeds the configured budget.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return Response{}, check.NewError(check.KindConfiguration, "transport.do", fmt.Sprintf("invalid url %q", req.URL))
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	cacheable := c.cache != nil && !req.NoCache && c.cfg.CacheTTL > 0 &&
		(req.Method == http.MethodGet || req.Method == http.MethodHead)
	key := cache.Key(req.Method, req.URL)
	if cacheable {
		if entry, ok, cerr := c.cache.Get(ctx, key); cerr == nil && ok {
			return Response{
				StatusCode: entry.Status,
				Header:     entry.Header,
				Body:       entry.Body,
				FromCache:  true,
			}, nil
		}
	}

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return Response{}, fmt.Errorf("in-flight slot wait: %w", err)
	}
	defer c.gate.Release(1)

	if err := c.limiter.Wait(ctx, target.Hostname()); err != nil {
		return Response{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, dur, err := c.execute(attemptCtx, req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return Response{}, check.WrapError(check.KindTimeout, "transport.do",
				fmt.Errorf("request to %s timed out after %s", target.Hostname(), timeout))
		}
		if errors.Is(err, context.Canceled) {
			return Response{}, fmt.Errorf("request canceled: %w", err)
		}
		return Response{}, check.WrapError(check.Classify(err), "transport.do", err)
	}
	metrics.ObserveHTTPRequest(target.Hostname(), resp.StatusCode, dur)

	if err := classifyStatus(resp, req.DisableRedirects, target.Hostname()); err != nil {
		return Response{}, err
	}

	if cacheable && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		entry := cache.Entry{
			Status:   resp.StatusCode,
			Header:   resp.Header,
			Body:     resp.Body,
			StoredAt: time.Now().UTC(),
		}
		if cerr := c.cache.Set(ctx, key, entry, c.cfg.CacheTTL); cerr != nil {
			c.logger.Debug("response cache write failed", zap.String("url", req.URL), zap.Error(cerr))
		}
	}
	return resp, nil
}

func (c *Client) execute(ctx context.Context, req Request) (Response, time.Duration, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return Response{}, 0, fmt.Errorf("build request: %w", err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	client := c.follow
	if req.DisableRedirects {
		client = c.noFollow
	}

	start := time.Now()
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return Response{}, time.Since(start), err
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.cfg.MaxBodyBytes+1))
	dur := time.Since(start)
	if err != nil {
		return Response{}, dur, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > c.cfg.MaxBodyBytes {
		return Response{}, dur, check.NewError(check.KindParse, "transport.do",
			fmt.Sprintf("response body exceeds %d bytes", c.cfg.MaxBodyBytes))
	}
	return Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       data,
		Duration:   dur,
	}, dur, nil
}

// classifyStatus maps non-success status codes onto the error taxonomy.
// 3xx responses are surfaced untouched when redirects are disabled.
func classifyStatus(resp Response, redirectsDisabled bool, host string) error {
	code := resp.StatusCode
	switch {
	case code < 300:
		return nil
	case code < 400:
		if redirectsDisabled {
			return nil
		}
		return check.NewError(check.KindUnknown, "transport.do",
			fmt.Sprintf("%s returned unexpected redirect %d", host, code))
	case code == http.StatusUnauthorized:
		return check.NewError(check.KindUnauthorized, "transport.do",
			fmt.Sprintf("%s returned 401", host))
	case code == http.StatusForbidden:
		if throttled(resp.Header) {
			return check.NewError(check.KindRateLimited, "transport.do",
				fmt.Sprintf("%s quota exhausted (403)", host))
		}
		return check.NewError(check.KindUnauthorized, "transport.do",
			fmt.Sprintf("%s returned 403", host))
	case code == http.StatusNotFound || code == http.StatusGone:
		return check.NewError(check.KindNotFound, "transport.do",
			fmt.Sprintf("%s returned %d", host, code))
	case code == http.StatusTooManyRequests:
		return check.NewError(check.KindRateLimited, "transport.do",
			fmt.Sprintf("%s returned 429", host))
	case code < 500:
		return check.NewError(check.KindUnknown, "transport.do",
			fmt.Sprintf("%s returned %d", host, code))
	default:
		return check.NewError(check.KindNetwork, "transport.do",
			fmt.Sprintf("%s returned %d", host, code))
	}
}

// throttled detects quota headers that turn a 403 into a rate limit.
func throttled(h http.Header) bool {
	if h.Get("Retry-After") != "" {
		return true
	}
	return h.Get("X-RateLimit-Remaining") == "0"
}
