// internal/scraper/proxy.go
package scraper

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/valpere/vinparts/internal/antidetect"
	"github.com/valpere/vinparts/internal/config"
	"github.com/valpere/vinparts/internal/extract"
	"github.com/valpere/vinparts/internal/utils"
	"github.com/valpere/vinparts/pkg/types"
)

// ProxyStrategy delegates fetching to a ScrapingBee-compatible rendering
// API and parses what it returns.
type ProxyStrategy struct {
	client *HTTPClient
	cfg    config.ProxyConfig
	target Target
	logger utils.Logger
}

// NewProxyStrategy builds the strategy from the proxy section. The API is
// paid per call, so the client never retries on its own.
func NewProxyStrategy(cfg config.ProxyConfig, target Target) *ProxyStrategy {
	return &ProxyStrategy{
		client: NewHTTPClient(&HTTPClientConfig{Timeout: cfg.Timeout}),
		cfg:    cfg,
		target: target,
		logger: utils.NewComponentLogger("proxy-strategy"),
	}
}

// Name implements Strategy.
func (p *ProxyStrategy) Name() string { return config.MethodProxy }

// SearchByVin implements Strategy.
func (p *ProxyStrategy) SearchByVin(ctx context.Context, vin string) *types.SearchResult {
	lookup, err := p.fetch(ctx, p.target.SearchURL(vin))
	if err != nil {
		return failure(p.logger, p.Name(), err)
	}

	vc, ok := extract.VehicleContext(lookup)
	if !ok {
		return failure(p.logger, p.Name(), errVehicleNotFound())
	}
	vehicle := vehicleFor(lookup, vin, vc)

	listing, err := p.fetch(ctx, p.target.PartsURL(vc))
	if err != nil {
		return failure(p.logger, p.Name(), err)
	}

	found := extract.Parts(listing, vin)
	return types.NewSuccess(p.Name(), found.Parts, vehicle)
}

// apiURL builds the API request for pageURL.
func (p *ProxyStrategy) apiURL(pageURL string) string {
	q := url.Values{}
	q.Set("api_key", p.cfg.APIKey)
	q.Set("url", pageURL)
	q.Set("render_js", strconv.FormatBool(!p.cfg.DisableRenderJS))
	q.Set("premium_proxy", strconv.FormatBool(p.cfg.PremiumProxy))
	q.Set("stealth_proxy", strconv.FormatBool(p.cfg.StealthProxy))
	if p.cfg.CountryCode != "" {
		q.Set("country_code", p.cfg.CountryCode)
	}
	if p.cfg.WaitMillis > 0 {
		q.Set("wait", strconv.Itoa(p.cfg.WaitMillis))
	}
	return p.cfg.Endpoint + "?" + q.Encode()
}

func (p *ProxyStrategy) fetch(ctx context.Context, pageURL string) (string, error) {
	if p.cfg.APIKey == "" {
		return "", utils.NewError(utils.ErrCodeUpstreamAuth, "proxy API key is not configured").Build()
	}

	resp, err := p.client.Get(ctx, p.apiURL(pageURL))
	if err != nil {
		return "", err
	}

	// the API relays the target's status, so a challenge may arrive as 403/503
	if antidetect.IsChallengePage(resp.Body()) {
		return "", errChallengeUnresolved("proxy")
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		p.logger.WithField("status", resp.StatusCode).Warn("Proxy API refused the request")
		return "", utils.NewError(utils.ErrCodeUpstreamAuth, "proxy API rejected the request (quota or credentials)").
			WithContext("status", resp.StatusCode).
			Build()
	}
	return pageBody(resp)
}
