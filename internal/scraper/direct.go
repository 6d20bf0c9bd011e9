// internal/scraper/direct.go
package scraper

import (
	"context"
	"net/http"
	"time"

	"github.com/valpere/vinparts/internal/antidetect"
	"github.com/valpere/vinparts/internal/config"
	"github.com/valpere/vinparts/internal/extract"
	"github.com/valpere/vinparts/internal/utils"
	"github.com/valpere/vinparts/pkg/types"
)

// DirectStrategy talks to the catalog over plain HTTP, posing as a desktop
// browser.
type DirectStrategy struct {
	client     *HTTPClient
	target     Target
	solver     antidetect.Solver
	rotator    *antidetect.UserAgentRotator
	headers    map[string]string
	skipWarmUp bool
	logger     utils.Logger
}

// NewDirectStrategy builds the strategy from the direct section of the
// configuration.
func NewDirectStrategy(cfg config.DirectConfig, target Target, solver antidetect.Solver) *DirectStrategy {
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = antidetect.DefaultUserAgents()
	}
	if solver == nil {
		solver = antidetect.NoopSolver{}
	}
	return &DirectStrategy{
		client: NewHTTPClient(&HTTPClientConfig{
			Timeout:       cfg.Timeout,
			RetryAttempts: cfg.RetryAttempts,
			RetryDelay:    cfg.RetryDelay,
			RateLimit:     cfg.RequestsPerSecond,
			RateBurst:     cfg.Burst,
			MaxBodyBytes:  cfg.MaxBodyBytes,
			TLSConfig:     antidetect.TLSProfileFor(agents[0]).Config(),
		}),
		target:     target,
		solver:     solver,
		rotator:    antidetect.NewUserAgentRotator(agents),
		headers:    cfg.Headers,
		skipWarmUp: cfg.SkipWarmUp,
		logger:     utils.NewComponentLogger("direct-strategy"),
	}
}

// Name implements Strategy.
func (d *DirectStrategy) Name() string { return config.MethodDirect }

// Client exposes the underlying HTTP client, mostly for its counters.
func (d *DirectStrategy) Client() *HTTPClient { return d.client }

// SearchByVin implements Strategy.
func (d *DirectStrategy) SearchByVin(ctx context.Context, vin string) *types.SearchResult {
	log := d.logger.WithField("vin", vin)
	session := d.client.NewSession(antidetect.NewHeaderProfile(d.rotator, d.headers))

	if !d.skipWarmUp {
		if _, err := session.Get(ctx, d.target.HomeURL()); err != nil {
			log.Warnf("Warm-up request failed: %v", err)
		}
	}

	lookup, err := d.fetchPage(ctx, session, d.target.SearchURL(vin), "lookup")
	if err != nil {
		return failure(log, d.Name(), err)
	}

	vc, ok := extract.VehicleContext(lookup)
	if !ok {
		return failure(log, d.Name(), errVehicleNotFound())
	}
	vehicle := vehicleFor(lookup, vin, vc)

	listing, err := d.fetchPage(ctx, session, d.target.PartsURL(vc), "parts")
	if err != nil {
		return failure(log, d.Name(), err)
	}

	found := extract.Parts(listing, vin)
	log.WithField("parts", len(found.Parts)).Debug("Parts page parsed")
	return types.NewSuccess(d.Name(), found.Parts, vehicle)
}

// fetchPage GETs target, running the challenge step and one retry when the
// catalog answers with an interstitial.
func (d *DirectStrategy) fetchPage(ctx context.Context, session *Session, target, stage string) (string, error) {
	resp, err := session.Get(ctx, target)
	if err != nil {
		return "", err
	}
	if !d.challenged(resp) {
		return pageBody(resp)
	}

	d.logger.WithField("stage", stage).WithField("status", resp.StatusCode).Info("Challenge page detected")
	if err := d.solveChallenge(ctx, session, resp); err != nil {
		return "", err
	}

	resp, err = session.Get(ctx, target)
	if err != nil {
		return "", err
	}
	if d.challenged(resp) {
		return "", errChallengeUnresolved(stage)
	}
	return pageBody(resp)
}

func (d *DirectStrategy) challenged(resp *Response) bool {
	return resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusServiceUnavailable ||
		d.solver.IsChallengePage(resp.Body())
}

// solveChallenge waits like a visitor would and stores a clearance cookie
// derived from the challenge form.
func (d *DirectStrategy) solveChallenge(ctx context.Context, session *Session, resp *Response) error {
	params := antidetect.ParseChallengeParams(resp.Body(), d.target.Host())
	if err := d.solver.WaitForChallenge(ctx); err != nil {
		return utils.NewError(utils.ErrCodeChallengeDetected, "challenge wait interrupted").WithCause(err).Build()
	}

	token := d.solver.SynthesizeResponseToken(params)
	if token == "" {
		return nil
	}
	session.SetCookies(d.target.BaseURL(), []*http.Cookie{{
		Name:    "cf_clearance",
		Value:   token,
		Path:    "/",
		Expires: time.Now().Add(30 * time.Minute),
	}})
	return nil
}

func pageBody(resp *Response) (string, error) {
	if err := resp.Err(); err != nil {
		return "", utils.NewError(utils.ErrCodeNetworkFailure, "unexpected response status").WithCause(err).Build()
	}
	return resp.Body(), nil
}
