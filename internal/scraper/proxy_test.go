// internal/scraper/proxy_test.go
package scraper

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/vinparts/internal/config"
	"github.com/valpere/vinparts/internal/utils"
)

// fakeRenderAPI forwards the url parameter to the catalog, like a
// ScrapingBee-style API would after rendering.
type fakeRenderAPI struct {
	srv    *httptest.Server
	calls  atomic.Int32
	status atomic.Int32

	mu     sync.Mutex
	params url.Values
}

func newFakeRenderAPI(t *testing.T) *fakeRenderAPI {
	t.Helper()
	api := &fakeRenderAPI{}
	api.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.calls.Add(1)
		api.mu.Lock()
		api.params = r.URL.Query()
		api.mu.Unlock()

		if code := api.status.Load(); code != 0 {
			w.WriteHeader(int(code))
			w.Write([]byte(`{"message":"refused"}`))
			return
		}
		if r.URL.Query().Get("api_key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		resp, err := http.Get(r.URL.Query().Get("url"))
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}))
	t.Cleanup(api.srv.Close)
	return api
}

func (api *fakeRenderAPI) lastParams() url.Values {
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.params
}

func testProxyConfig(endpoint, key string) config.ProxyConfig {
	return config.ProxyConfig{
		Endpoint:     endpoint,
		APIKey:       key,
		PremiumProxy: true,
		CountryCode:  "gb",
		WaitMillis:   3000,
		Timeout:      5 * time.Second,
	}
}

func TestProxyStrategySearch(t *testing.T) {
	fc := newFakeCatalog(t)
	api := newFakeRenderAPI(t)
	p := NewProxyStrategy(testProxyConfig(api.srv.URL+"/api/v1/", "test-key"), fc.target(t))

	res := p.SearchByVin(context.Background(), testVIN)
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.Parts, 3)
	assert.Equal(t, "proxy", res.Method)
	assert.EqualValues(t, 2, api.calls.Load(), "lookup and parts calls")

	params := api.lastParams()
	for key, want := range map[string]string{
		"render_js":     "true",
		"premium_proxy": "true",
		"stealth_proxy": "false",
		"country_code":  "gb",
		"wait":          "3000",
	} {
		assert.Equal(t, want, params.Get(key), "param %s", key)
	}
	assert.True(t, strings.HasPrefix(params.Get("url"), fc.srv.URL+"/en/catalog/genuine/unit?"), params.Get("url"))
}

func TestProxyStrategyMissingKey(t *testing.T) {
	fc := newFakeCatalog(t)
	api := newFakeRenderAPI(t)
	p := NewProxyStrategy(testProxyConfig(api.srv.URL, ""), fc.target(t))

	res := p.SearchByVin(context.Background(), testVIN)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, string(utils.ErrCodeUpstreamAuth))
	assert.Zero(t, api.calls.Load(), "no API call without a key")
}

func TestProxyStrategyRefusals(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			fc := newFakeCatalog(t)
			api := newFakeRenderAPI(t)
			api.status.Store(int32(code))
			p := NewProxyStrategy(testProxyConfig(api.srv.URL, "test-key"), fc.target(t))

			res := p.SearchByVin(context.Background(), testVIN)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, string(utils.ErrCodeUpstreamAuth))
			assert.NotContains(t, res.Error, "test-key", "API key leaked into the result")
			assert.EqualValues(t, 1, api.calls.Load(), "refusals must not be retried")
		})
	}
}

func TestProxyStrategyChallengeThroughAPI(t *testing.T) {
	fc := newFakeCatalog(t)
	fc.challenges.Store(1)
	api := newFakeRenderAPI(t)
	p := NewProxyStrategy(testProxyConfig(api.srv.URL, "test-key"), fc.target(t))

	res := p.SearchByVin(context.Background(), testVIN)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, string(utils.ErrCodeChallengeUnresolved))
}
