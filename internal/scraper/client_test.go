// internal/scraper/client_test.go
package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/vinparts/internal/antidetect"
	"github.com/valpere/vinparts/internal/utils"
)

func newTestClient(cfg *HTTPClientConfig) *HTTPClient {
	c := NewHTTPClient(cfg)
	c.sleep = noWait
	return c
}

func TestNewHTTPClient_DefaultConfig(t *testing.T) {
	client := NewHTTPClient(nil)
	require.NotNil(t, client)
	assert.Equal(t, 30*time.Second, client.config.Timeout)
	assert.Zero(t, client.config.RetryAttempts, "no retries by default")
	assert.EqualValues(t, 10<<20, client.config.MaxBodyBytes)
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer server.Close()

	client := newTestClient(&HTTPClientConfig{RetryAttempts: 2})
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, resp.Attempts)

	stats := client.Stats()
	assert.EqualValues(t, 2, stats.Requests)
	assert.EqualValues(t, 1, stats.Retries)
}

func TestHTTPClient_DoesNotRetryChallenge(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(challengeHTML))
	}))
	defer server.Close()

	client := newTestClient(&HTTPClientConfig{RetryAttempts: 3})
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err, "challenge responses are returned, not failed")
	assert.EqualValues(t, 1, calls.Load())

	var httpErr *HTTPError
	require.True(t, errors.As(resp.Err(), &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestHTTPClient_ReturnsLastStatusAfterRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(&HTTPClientConfig{RetryAttempts: 1})
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 2, resp.Attempts)
}

func TestHTTPClient_DecodesZstd(t *testing.T) {
	enc, _ := zstd.NewWriter(nil)
	payload := enc.EncodeAll([]byte("<html><body>zstd body</body></html>"), nil)
	enc.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "zstd")
		w.Write(payload)
	}))
	defer server.Close()

	resp, err := newTestClient(nil).Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, resp.Body(), "zstd body")
}

func TestHTTPClient_BodyLimitIsNotRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	client := newTestClient(&HTTPClientConfig{MaxBodyBytes: 1024, RetryAttempts: 3})
	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeNetworkFailure, utils.CodeOf(err))
	assert.False(t, utils.IsRetryableError(err))
	assert.EqualValues(t, 1, client.Stats().Requests, "an oversized body is final")
}

func TestHTTPClient_RetriesConnectionErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(&HTTPClientConfig{RetryAttempts: 2})
	_, err := client.Get(context.Background(), url+"/?api_key=supersecret&url=x")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "supersecret", "API key leaked into error")
	assert.True(t, utils.IsRetryableError(err))

	stats := client.Stats()
	assert.EqualValues(t, 3, stats.Requests)
	assert.EqualValues(t, 1, stats.Failures)
}

func TestHTTPClient_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestClient(&HTTPClientConfig{RetryAttempts: 3}).Get(ctx, server.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionKeepsCookiesAndReferer(t *testing.T) {
	var referer, cookie atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1", Path: "/"})
			return
		}
		referer.Store(r.Header.Get("Referer"))
		if c, err := r.Cookie("session"); err == nil {
			cookie.Store(c.Value)
		}
	}))
	defer server.Close()

	client := newTestClient(nil)
	profile := antidetect.NewHeaderProfile(antidetect.NewUserAgentRotator([]string{"TestAgent/1.0"}), nil)
	session := client.NewSession(profile)

	_, err := session.Get(context.Background(), server.URL+"/")
	require.NoError(t, err)
	_, err = session.Get(context.Background(), server.URL+"/next")
	require.NoError(t, err)

	assert.Equal(t, server.URL+"/", referer.Load(), "referer of the previous page")
	assert.Equal(t, "s1", cookie.Load(), "session cookie should be sent")
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://api.example.com/v1/?api_key=abc&url=https%3A%2F%2Fx")
	assert.NotContains(t, got, "abc")
	assert.Contains(t, got, "REDACTED")
	assert.Equal(t, "https://example.com/?q=1", redactURL("https://example.com/?q=1"))
}
