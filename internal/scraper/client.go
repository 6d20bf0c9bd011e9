// internal/scraper/client.go
package scraper

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"github.com/valpere/vinparts/internal/antidetect"
	"github.com/valpere/vinparts/internal/utils"
)

// HTTPClientConfig defines configuration options for the HTTP client
type HTTPClientConfig struct {
	Timeout       time.Duration
	RetryAttempts int           // extra attempts after the first; 0 disables retries
	RetryDelay    time.Duration // base of the exponential backoff
	RateLimit     float64       // requests per second; <= 0 means unlimited
	RateBurst     int
	MaxBodyBytes  int64
	TLSConfig     *tls.Config // nil keeps Go's defaults
}

// HTTPClient performs rate-limited GETs with retries and transparent body
// decoding. Sessions created from it share the connection pool and limiter.
type HTTPClient struct {
	config      *HTTPClientConfig
	transport   http.RoundTripper
	plain       *http.Client
	rateLimiter *rate.Limiter
	stats       *clientStats
	sleep       func(ctx context.Context, d time.Duration) error
}

type clientStats struct {
	requests  atomic.Int64
	retries   atomic.Int64
	failures  atomic.Int64
	bytesRead atomic.Int64
}

// ClientStats is a snapshot of client counters.
type ClientStats struct {
	Requests  int64 `json:"requests"`
	Retries   int64 `json:"retries"`
	Failures  int64 `json:"failures"`
	BytesRead int64 `json:"bytes_read"`
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	BodyBytes  []byte
	URL        string
	Attempts   int
}

// Body returns the decoded body as a string.
func (r *Response) Body() string {
	return string(r.BodyBytes)
}

// Err returns an *HTTPError for non-2xx responses.
func (r *Response) Err() error {
	if r.StatusCode >= 200 && r.StatusCode < 300 {
		return nil
	}
	return &HTTPError{
		StatusCode: r.StatusCode,
		Status:     http.StatusText(r.StatusCode),
		URL:        redactURL(r.URL),
		Attempt:    r.Attempts,
	}
}

// NewHTTPClient creates a new HTTP client with the specified configuration
func NewHTTPClient(config *HTTPClientConfig) *HTTPClient {
	if config == nil {
		config = &HTTPClientConfig{}
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 1
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 10 << 20
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     config.TLSConfig,
		ForceAttemptHTTP2:   true,
		// bodies are decoded by readBody
		DisableCompression: true,
	}

	return &HTTPClient{
		config:      config,
		transport:   transport,
		plain:       &http.Client{Transport: transport, Timeout: config.Timeout},
		rateLimiter: rate.NewLimiter(limit, config.RateBurst),
		stats:       &clientStats{},
		sleep:       antidetect.Sleep,
	}
}

// Session is a cookie-carrying browsing session with a stable header
// profile. The referer of each request is the URL of the previous one.
type Session struct {
	client  *HTTPClient
	http    *http.Client
	jar     http.CookieJar
	profile *antidetect.HeaderProfile
	referer string
}

// NewSession starts a session with an empty cookie jar.
func (c *HTTPClient) NewSession(profile *antidetect.HeaderProfile) *Session {
	jar, _ := cookiejar.New(nil)
	return &Session{
		client:  c,
		http:    &http.Client{Transport: c.transport, Timeout: c.config.Timeout, Jar: jar},
		jar:     jar,
		profile: profile,
	}
}

// Get fetches target with navigation headers and the session cookies.
func (s *Session) Get(ctx context.Context, target string) (*Response, error) {
	referer := s.referer
	resp, err := s.client.fetch(ctx, s.http, target, func(req *http.Request) {
		s.profile.Apply(req, referer)
	})
	if err == nil {
		s.referer = resp.URL
	}
	return resp, err
}

// SetCookies adds cookies for u to the session jar.
func (s *Session) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.jar.SetCookies(u, cookies)
}

// Cookies returns the cookies the session would send to u.
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	return s.jar.Cookies(u)
}

// Get performs a stateless GET without browser headers.
func (c *HTTPClient) Get(ctx context.Context, target string) (*Response, error) {
	return c.fetch(ctx, c.plain, target, func(req *http.Request) {
		req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Encoding", "gzip, deflate, zstd")
	})
}

// fetch runs the retry loop. Non-2xx responses are returned without error
// once retries are exhausted; the caller classifies them.
func (c *HTTPClient) fetch(ctx context.Context, hc *http.Client, target string, prepare func(*http.Request)) (*Response, error) {
	if _, err := url.Parse(target); err != nil {
		return nil, utils.NewError(utils.ErrCodeNetworkFailure, "invalid URL").WithCause(err).Build()
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.stats.retries.Add(1)
			if err := c.waitForRetry(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, utils.NewError(utils.ErrCodeNetworkFailure, "failed to create request").WithCause(err).Build()
		}
		prepare(req)

		c.stats.requests.Add(1)
		resp, err := hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = networkError(err, target, attempt+1, c.config.RetryAttempts+1)
			if !utils.IsRetryableError(lastErr) {
				break
			}
			continue
		}

		body, err := c.readBody(resp)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			if !utils.IsRetryableError(err) {
				break
			}
			continue
		}

		result := &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			BodyBytes:  body,
			URL:        resp.Request.URL.String(),
			Attempts:   attempt + 1,
		}
		if attempt < c.config.RetryAttempts && shouldRetry(result) {
			lastErr = result.Err()
			continue
		}
		return result, nil
	}

	c.stats.failures.Add(1)
	return nil, lastErr
}

// readBody decodes the content encoding and enforces MaxBodyBytes.
func (c *HTTPClient) readBody(resp *http.Response) ([]byte, error) {
	decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeNetworkFailure, "failed to decode response body").WithCause(err).Build()
	}
	defer decoded.Close()

	body, err := io.ReadAll(io.LimitReader(decoded, c.config.MaxBodyBytes+1))
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeNetworkFailure, "failed to read response body").
			WithCause(err).
			WithRetryable(true).
			Build()
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		return nil, utils.NewError(utils.ErrCodeNetworkFailure, "response body too large").
			WithContext("limit", c.config.MaxBodyBytes).
			Build()
	}
	c.stats.bytesRead.Add(int64(len(body)))
	return body, nil
}

func decodeBody(encoding string, body io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(body), nil
	case "gzip", "x-gzip":
		return gzip.NewReader(body)
	case "zstd":
		d, err := zstd.NewReader(body)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case "deflate":
		// servers disagree on zlib-wrapped vs raw deflate
		br := bufio.NewReader(body)
		if head, err := br.Peek(2); err == nil && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
			return zlib.NewReader(br)
		}
		return flate.NewReader(br), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// shouldRetry retries throttling and server errors, but not challenge
// interstitials, which are served with 403/503 and need the solver instead.
func shouldRetry(resp *Response) bool {
	if !shouldRetryStatusCode(resp.StatusCode) {
		return false
	}
	return !antidetect.IsChallengePage(resp.Body())
}

// shouldRetryStatusCode determines if a status code warrants a retry
func shouldRetryStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		520, 521, 522, 523, 524: // CloudFlare origin errors
		return true
	}
	return false
}

// waitForRetry implements exponential backoff with jitter
func (c *HTTPClient) waitForRetry(ctx context.Context, attempt int) error {
	backoff := c.config.RetryDelay * time.Duration(1<<uint(attempt))
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	jitter := time.Duration(0)
	if half := int64(backoff / 2); half > 0 {
		jitter = time.Duration(rand.Int63n(half))
	}
	return c.sleep(ctx, backoff+jitter)
}

// Stats returns the client counters.
func (c *HTTPClient) Stats() ClientStats {
	return ClientStats{
		Requests:  c.stats.requests.Load(),
		Retries:   c.stats.retries.Load(),
		Failures:  c.stats.failures.Load(),
		BytesRead: c.stats.bytesRead.Load(),
	}
}

// HTTPError represents an HTTP-related error with additional context
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
	Attempt    int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (URL: %s, Attempt: %d)",
		e.StatusCode, e.Status, e.URL, e.Attempt)
}

// networkError strips the URL from transport errors so query secrets do not
// leak into results and logs. Certificate and protocol errors are final.
func networkError(err error, target string, attempt, total int) error {
	cause := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		cause = urlErr.Err
	}
	return utils.NewError(utils.ErrCodeNetworkFailure, fmt.Sprintf("request failed (attempt %d/%d)", attempt, total)).
		WithCause(cause).
		WithContext("url", redactURL(target)).
		WithRetryable(utils.IsRetryableError(cause)).
		Build()
}

var secretParams = []string{"api_key", "apikey", "token", "key"}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, name := range secretParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
