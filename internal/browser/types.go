// internal/browser/types.go

// Package browser drives a shared headless Chrome. The browser process is
// launched lazily and reused; every caller works in its own tab and must
// close it.
package browser

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/valpere/vinparts/internal/config"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("browser is closed")

// Cookie is injected into a tab before navigation.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
	Secure bool
}

// Page is one tab. Close must be called on every path.
type Page interface {
	// Navigate loads url and waits for the body to be ready.
	Navigate(ctx context.Context, url string) error

	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)

	// Evaluate runs script in the page and decodes its result into out.
	Evaluate(ctx context.Context, script string, out interface{}) error

	SetCookies(ctx context.Context, cookies []Cookie) error

	Close() error
}

// Browser hands out tabs of a shared browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Options configures the Chrome launcher.
type Options struct {
	Headless       bool
	ExecPath       string
	UserAgent      string
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	DisableImages  bool
	NoSandbox      bool
}

// OptionsFromConfig maps the browser section of the configuration.
func OptionsFromConfig(cfg config.BrowserConfig) Options {
	return Options{
		Headless:       cfg.IsHeadless(),
		ExecPath:       cfg.ExecPath,
		UserAgent:      cfg.UserAgent,
		Timeout:        cfg.Timeout,
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		DisableImages:  cfg.DisableImages,
		NoSandbox:      cfg.NoSandbox,
	}
}

// CookiesFromConfig converts configured clearance cookies for target.
// Cookies without a domain get the target host, and they are marked secure
// only when the target is served over https.
func CookiesFromConfig(cookies []config.CookieConfig, target *url.URL) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	secure := target.Scheme == "https"
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = target.Hostname()
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		out = append(out, Cookie{Name: c.Name, Value: c.Value, Domain: domain, Path: path, Secure: secure})
	}
	return out
}
