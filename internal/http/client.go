// Package http is the request engine of a load-test run: it executes tagged
// requests and streams their results into the run's metrics.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wesleyorama2/surge/internal/performance/metrics"
)

// TransportConfig contains connection pool settings.
type TransportConfig struct {
	// Timeout for a whole request, including reading the body
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool
}

// DefaultTransportConfig returns sensible defaults for load testing.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Timeout:             60 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0, // Unlimited
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient creates a net/http client from cfg.
func NewHTTPClient(cfg TransportConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// Client executes requests and records http_* metrics for each of them.
//
// A Client is safe for concurrent use. Tagged derives a client that shares
// the connection pool and rate limiter but adds tags to every sample.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	tags       metrics.Tags
	limiter    *rate.Limiter
	metrics    *metrics.BuiltinMetrics
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// NewClient creates a new client with the given options
func NewClient(options ...ClientOption) *Client {
	client := &Client{
		httpClient: NewHTTPClient(DefaultTransportConfig()),
		headers:    make(map[string]string),
		tags:       make(metrics.Tags),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// WithBaseURL sets the base URL for relative request paths
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient replaces the underlying net/http client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHeader adds a default header
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) ClientOption {
	return WithHeader("User-Agent", ua)
}

// WithMetrics records request samples into m
func WithMetrics(m *metrics.BuiltinMetrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRateLimit caps the requests per second issued through the client and
// every client derived from it. A non-positive rps disables the cap.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTags sets tags attached to every sample
func WithTags(tags metrics.Tags) ClientOption {
	return func(c *Client) {
		c.tags = c.tags.Merge(tags)
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tagged returns a client sharing c's connection pool, limiter and metrics
// whose samples also carry tags.
func (c *Client) Tagged(tags metrics.Tags) *Client {
	clone := *c
	clone.tags = c.tags.Merge(tags)
	return &clone
}

// CloseIdleConnections closes idle pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Do executes req and returns its result. It never returns nil: transport
// failures are reported in the result with status 0.
//
// Metrics are recorded before Do returns. The only request that records
// nothing is one whose context was cancelled while waiting on the rate
// limiter.
func (c *Client) Do(ctx context.Context, req *Request) *Result {
	result := &Result{
		Method: req.Method,
		Tags:   c.tags.Merge(req.Tags),
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			result.Error = fmt.Errorf("rate limit wait: %w", err)
			return result
		}
	}

	httpReq, bodyLen, err := req.Build(ctx, c.baseURL)
	if err != nil {
		result.Error = fmt.Errorf("build request: %w", err)
		c.record(result)
		return result
	}
	result.URL = httpReq.URL.String()

	for key, value := range c.headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}
	result.BytesSent = requestSize(httpReq, bodyLen)

	trace := &requestTrace{}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(httpReq.Context(), trace.clientTrace()))

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	result.Timing.Connecting, result.Timing.TLSHandshaking, result.Timing.Waiting = trace.finish()
	if err != nil {
		result.Duration = time.Since(start)
		result.Error = err
		c.record(result)
		return result
	}

	receiveStart := time.Now()
	body, readErr := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	end := time.Now()

	result.Duration = end.Sub(start)
	result.Timing.Receiving = end.Sub(receiveStart)
	result.StatusCode = httpResp.StatusCode
	result.Status = httpResp.Status
	result.Headers = httpResp.Header
	result.Body = body
	result.BodyBytes = int64(len(body))
	result.BytesReceived = responseSize(httpResp, int64(len(body)))

	if readErr != nil {
		result.Error = fmt.Errorf("read response body: %w", readErr)
	} else {
		result.Succeeded = req.IsExpected(httpResp.StatusCode)
	}

	c.record(result)
	return result
}

// requestTrace collects httptrace timings for one request. A dial the
// transport started for this request may finish on another goroutine after
// the request already got a pooled connection, so callbacks after finish
// are ignored.
type requestTrace struct {
	mu           sync.Mutex
	done         bool
	connectStart time.Time
	tlsStart     time.Time
	wroteRequest time.Time
	connecting   time.Duration
	tls          time.Duration
	waiting      time.Duration
}

func (t *requestTrace) update(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.done {
		fn()
	}
}

func (t *requestTrace) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		ConnectStart: func(network, addr string) {
			t.update(func() { t.connectStart = time.Now() })
		},
		ConnectDone: func(network, addr string, err error) {
			t.update(func() {
				if err == nil && !t.connectStart.IsZero() {
					t.connecting = time.Since(t.connectStart)
				}
			})
		},
		TLSHandshakeStart: func() {
			t.update(func() { t.tlsStart = time.Now() })
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			t.update(func() {
				if err == nil && !t.tlsStart.IsZero() {
					t.tls = time.Since(t.tlsStart)
				}
			})
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			t.update(func() { t.wroteRequest = time.Now() })
		},
		GotFirstResponseByte: func() {
			t.update(func() {
				if !t.wroteRequest.IsZero() {
					t.waiting = time.Since(t.wroteRequest)
				}
			})
		},
	}
}

// finish stops recording and returns the connecting, TLS and waiting
// phases.
func (t *requestTrace) finish() (connecting, tlsHandshaking, waiting time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	return t.connecting, t.tls, t.waiting
}

// record streams the result into the metrics.
func (c *Client) record(result *Result) {
	result.Tags = result.Tags.Merge(metrics.Tags{
		"method": result.Method,
		"status": strconv.Itoa(result.StatusCode),
	})
	// a name tag groups requests, so the raw url is left out
	if result.URL != "" && result.Tags["name"] == "" {
		result.Tags["url"] = result.URL
	}

	m := c.metrics
	if m == nil {
		return
	}

	tags := result.Tags
	m.HTTPReqs.Add(1, tags)
	m.HTTPReqDuration.AddDuration(result.Duration, tags)
	m.HTTPReqFailed.AddBool(!result.Succeeded, tags)
	m.HTTPReqWaiting.AddDuration(result.Timing.Waiting, tags)
	m.HTTPReqConnecting.AddDuration(result.Timing.Connecting, tags)
	m.DataSent.Add(float64(result.BytesSent), tags)
	m.DataReceived.Add(float64(result.BytesReceived), tags)
}

// requestSize estimates the bytes written for a request.
func requestSize(req *http.Request, bodyLen int64) int64 {
	// "METHOD URI HTTP/1.1\r\n" plus "Host: ...\r\n"
	size := int64(len(req.Method)+len(req.URL.RequestURI())+len(" HTTP/1.1\r\n")+1) +
		int64(len("Host: \r\n")+len(req.URL.Host))
	for key, values := range req.Header {
		for _, v := range values {
			size += int64(len(key) + len(v) + 4)
		}
	}
	return size + 2 + bodyLen
}

// responseSize estimates the bytes read for a response.
func responseSize(resp *http.Response, bodyLen int64) int64 {
	size := int64(len(resp.Proto) + len(resp.Status) + 3)
	for key, values := range resp.Header {
		for _, v := range values {
			size += int64(len(key) + len(v) + 4)
		}
	}
	return size + 2 + bodyLen
}
