// internal/scraper/catalog_test.go
package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/valpere/vinparts/internal/antidetect"
	"github.com/valpere/vinparts/internal/config"
)

const testVIN = "WBA2D520X05E20424"

const lookupHTML = `<html><head><title>Parts catalog</title></head><body>
<h1>2015 BMW 320i (F30)</h1>
<dl class="vehicle">
  <dt>Manufacturer</dt><dd>bmw</dd>
  <dt>Model</dt><dd>3 Series 320i</dd>
  <dt>Year</dt><dd>2015</dd>
</dl>
<a href="/en/catalog/genuine/groups?c=BMW201501&amp;ssd=%24abc%24&amp;vid=778899">Open catalog</a>
</body></html>`

const listingHTML = `<html><body>
<div class="search-results">
  <div class="part-card"><span class="part-name">Oil Filter</span><span class="part-number">11427953129</span><span class="brand">BMW</span><span class="price">£12.50</span></div>
  <div class="part-card"><span class="part-name">Air Filter</span><span class="part-number">13718577170</span><span class="price">£24.99</span></div>
  <div class="part-card"><span class="part-name">Brake Pad Set</span><span class="part-number">34116860016</span><span class="price">£89.00</span></div>
</div>
</body></html>`

const placeholderHTML = `<html><body><p>Nothing listed. Reference 11427953129 and 64119237555.</p></body></html>`

const challengeHTML = `<html><head><title>Just a moment...</title></head><body>
<form id="challenge-form" action="/cdn-cgi/challenge-platform/h/b/orchestrate" method="POST">
  <input type="hidden" name="jschl_vc" value="abc123">
  <input type="hidden" name="pass" value="1700000000.123-xyz">
</form>
<div data-ray="8a1b2c3d4e5f6789"></div>
</body></html>`

// fakeCatalog serves the three catalog pages. The lookup page answers with
// a challenge while challenges is positive.
type fakeCatalog struct {
	srv *httptest.Server

	challenges   atomic.Int32
	lookups      atomic.Int32
	partsHits    atomic.Int32
	sawSession   atomic.Bool
	sawClearance atomic.Bool
	listing      atomic.Value // string
}

func newFakeCatalog(t *testing.T) *fakeCatalog {
	t.Helper()
	fc := &fakeCatalog{}
	fc.listing.Store(listingHTML)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "warm", Path: "/"})
		w.Write([]byte("<html><body>home</body></html>"))
	})
	mux.HandleFunc("/en/search/all", func(w http.ResponseWriter, r *http.Request) {
		fc.lookups.Add(1)
		if _, err := r.Cookie("session"); err == nil {
			fc.sawSession.Store(true)
		}
		if _, err := r.Cookie("cf_clearance"); err == nil {
			fc.sawClearance.Store(true)
		}
		if fc.challenges.Load() > 0 {
			fc.challenges.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(challengeHTML))
			return
		}
		if r.URL.Query().Get("q") != testVIN {
			w.Write([]byte("<html><body>No vehicle found</body></html>"))
			return
		}
		w.Write([]byte(lookupHTML))
	})
	mux.HandleFunc("/en/catalog/genuine/unit", func(w http.ResponseWriter, r *http.Request) {
		fc.partsHits.Add(1)
		q := r.URL.Query()
		if q.Get("c") != "BMW201501" || q.Get("vid") != "778899" || q.Get("ssd") != "$abc$" {
			http.Error(w, "unknown vehicle", http.StatusNotFound)
			return
		}
		body := fc.listing.Load().(string)
		if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			gz.Write([]byte(body))
			gz.Close()
			return
		}
		w.Write([]byte(body))
	})

	fc.srv = httptest.NewServer(mux)
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeCatalog) target(t *testing.T) Target {
	t.Helper()
	target, err := NewTarget(config.TargetConfig{
		BaseURL:    fc.srv.URL,
		SearchPath: "/en/search/all",
		PartsPath:  "/en/catalog/genuine/unit",
	})
	require.NoError(t, err)
	return target
}

func noWait(context.Context, time.Duration) error { return nil }

func testSolver() antidetect.Solver {
	return antidetect.NewHeuristic(0, 0, antidetect.WithSleeper(noWait))
}

func testDirectConfig() config.DirectConfig {
	return config.DirectConfig{
		Timeout:       5 * time.Second,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	}
}
