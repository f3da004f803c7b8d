// Package clients provides the HTTP transport, token management and quota
// tracking used by the podio connectors.
package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/podsync/pkg/errors"
	"github.com/ajitpratap0/podsync/pkg/jsonvalue"
	"github.com/ajitpratap0/podsync/pkg/metrics"
	"github.com/ajitpratap0/podsync/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// HTTPClient wraps an http.Client with HTTP/2, optional pacing and request
// accounting.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport
	pacer      *rate.Limiter

	totalRequests  int64
	failedRequests int64
}

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`
	EnableHTTP2         bool          `json:"enable_http2"`

	DialTimeout         time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `json:"tls_handshake_timeout"`
	// RequestTimeout bounds a whole call; zero leaves the platform default.
	RequestTimeout time.Duration `json:"request_timeout"`
	KeepAlive      time.Duration `json:"keep_alive"`

	// RateLimit paces requests per second; zero disables pacing.
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`
}

// DefaultHTTPConfig returns the default transport settings.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		EnableHTTP2:         true,
		DialTimeout:         30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		KeepAlive:           30 * time.Second,
		RateBurst:           1,
	}
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &HTTPClient{
		config: config,
		logger: logger.With(zap.String("component", "http_client")),
		pacer:  NewPacer(config.RateLimit, config.RateBurst),
	}

	client.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client.httpClient = &http.Client{
		Transport: client.transport,
		Timeout:   config.RequestTimeout,
	}

	return client
}

// Do performs an HTTP request, waiting on the pacer first when one is set.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(req.Context()); err != nil {
			atomic.AddInt64(&c.failedRequests, 1)
			return nil, err
		}
	}

	atomic.AddInt64(&c.totalRequests, 1)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, err
	}
	return resp, nil
}

// Client returns the underlying http.Client, for libraries that take one.
func (c *HTTPClient) Client() *http.Client {
	return c.httpClient
}

// GetStats returns current client statistics
func (c *HTTPClient) GetStats() HTTPStats {
	total := atomic.LoadInt64(&c.totalRequests)
	failed := atomic.LoadInt64(&c.failedRequests)
	stats := HTTPStats{TotalRequests: total, FailedRequests: failed}
	if total > 0 {
		stats.SuccessRate = float64(total-failed) / float64(total) * 100
	}
	return stats
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

// HTTPStats represents HTTP client statistics
type HTTPStats struct {
	TotalRequests  int64   `json:"total_requests"`
	FailedRequests int64   `json:"failed_requests"`
	SuccessRate    float64 `json:"success_rate"`
}

// TokenSource supplies the bearer token for a request.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// UserAgent builds the product identifier sent with every request.
func UserAgent(version string) string {
	return fmt.Sprintf("podsync/%s (compatible; podsync %s; %s;)", version, version, runtime.GOOS)
}

// APIError is a non-2xx response from the remote API.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if v, err := jsonvalue.Parse([]byte(e.Body)); err == nil {
		if d, ok := v.Get("error_description").Str(); ok && d != "" {
			msg = d
		}
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, msg)
}

// APIClient issues authenticated JSON calls against the remote API.
type APIClient struct {
	http      *HTTPClient
	baseURL   *url.URL
	tokens    TokenSource
	rates     *RateLimitTracker
	logger    *zap.Logger
	userAgent string
}

// NewAPIClient creates a client rooted at baseURL. Paths passed to Call are
// resolved relative to it.
func NewAPIClient(baseURL string, httpClient *HTTPClient, tokens TokenSource, rates *RateLimitTracker, userAgent string, logger *zap.Logger) (*APIClient, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid api base url")
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(nil, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIClient{
		http:      httpClient,
		baseURL:   u,
		tokens:    tokens,
		rates:     rates,
		logger:    logger.With(zap.String("component", "api_client")),
		userAgent: userAgent,
	}, nil
}

// Rates returns the quota tracker fed by this client.
func (c *APIClient) Rates() *RateLimitTracker {
	return c.rates
}

// Get issues a GET request.
func (c *APIClient) Get(ctx context.Context, path string, query url.Values, level Level) (*jsonvalue.Value, error) {
	return c.Call(ctx, http.MethodGet, path, query, nil, level)
}

// Post issues a POST request with a JSON body.
func (c *APIClient) Post(ctx context.Context, path string, query url.Values, body *jsonvalue.Value, level Level) (*jsonvalue.Value, error) {
	return c.Call(ctx, http.MethodPost, path, query, body, level)
}

// Put issues a PUT request with a JSON body.
func (c *APIClient) Put(ctx context.Context, path string, query url.Values, body *jsonvalue.Value, level Level) (*jsonvalue.Value, error) {
	return c.Call(ctx, http.MethodPut, path, query, body, level)
}

// Delete issues a DELETE request.
func (c *APIClient) Delete(ctx context.Context, path string, level Level) (*jsonvalue.Value, error) {
	return c.Call(ctx, http.MethodDelete, path, nil, nil, level)
}

// Call sends one request and decodes the JSON response. An empty response
// body yields a nil value. Non-2xx responses return an error wrapping
// *APIError with the serialized request body attached as the payload detail.
func (c *APIClient) Call(ctx context.Context, method, path string, query url.Values, body *jsonvalue.Value, level Level) (v *jsonvalue.Value, err error) {
	ctx, span := observability.StartSpan(ctx, method+" "+path,
		attribute.String("http.method", method),
		attribute.String("podio.path", path),
		attribute.Int("podio.rate_level", int(level)))
	defer func() { span.End(err) }()

	target := c.resolve(path, query)

	var payload []byte
	if body != nil {
		var err error
		if payload, err = body.MarshalJSON(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode request body")
		}
	}

	token := ""
	if c.tokens != nil {
		var err error
		if token, err = c.tokens.AccessToken(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "OAuth2 "+token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveAPICall(int(level), 0, time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed").
			WithDetail(errors.DetailURL, target).
			WithDetail(errors.DetailPayload, string(payload))
	}
	defer func() { _ = resp.Body.Close() }()

	metrics.ObserveAPICall(int(level), resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.rates.Observe(resp, level)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response")
	}

	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.String("rate", c.rates.String(level)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, URL: target, Body: string(data)}
		return nil, errors.Wrap(apiErr, errorTypeForStatus(resp.StatusCode), "remote api call failed").
			WithDetail(errors.DetailStatus, resp.StatusCode).
			WithDetail(errors.DetailURL, target).
			WithDetail(errors.DetailPayload, string(payload))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	v, err = jsonvalue.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode response").
			WithDetail(errors.DetailURL, target)
	}
	return v, nil
}

func (c *APIClient) resolve(path string, query url.Values) string {
	rel := &url.URL{Path: strings.TrimPrefix(path, "/")}
	if i := strings.IndexByte(rel.Path, '?'); i >= 0 {
		rel.RawQuery = rel.Path[i+1:]
		rel.Path = rel.Path[:i]
	}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func errorTypeForStatus(code int) errors.ErrorType {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.ErrorTypeAuthentication
	case http.StatusNotFound, http.StatusGone:
		return errors.ErrorTypeNotFound
	case 420, http.StatusTooManyRequests:
		return errors.ErrorTypeRateLimit
	default:
		return errors.ErrorTypeAPI
	}
}
