// internal/scraper/browser.go
package scraper

import (
	"context"

	"github.com/valpere/vinparts/internal/antidetect"
	"github.com/valpere/vinparts/internal/browser"
	"github.com/valpere/vinparts/internal/config"
	"github.com/valpere/vinparts/internal/extract"
	"github.com/valpere/vinparts/internal/utils"
	"github.com/valpere/vinparts/pkg/types"
)

// contextScript reads the catalog context from the rendered lookup page:
// catalog links first, hidden inputs second.
const contextScript = `(() => {
  const fromHref = (href) => {
    try {
      const q = new URL(href, location.href).searchParams;
      return {c: q.get('c') || '', vid: q.get('vid') || '', ssd: q.get('ssd') || '', cid: q.get('cid') || ''};
    } catch (e) {
      return null;
    }
  };
  for (const a of document.querySelectorAll('a[href]')) {
    const v = fromHref(a.getAttribute('href'));
    if (v && v.c && v.vid) return v;
  }
  const input = (name) => {
    const el = document.querySelector('input[name="' + name + '"]');
    return el ? el.value : '';
  };
  return {c: input('c'), vid: input('vid'), ssd: input('ssd'), cid: input('cid')};
})()`

type pageContext struct {
	C   string `json:"c"`
	VID string `json:"vid"`
	SSD string `json:"ssd"`
	CID string `json:"cid"`
}

// BrowserStrategy renders the catalog in a shared headless Chrome.
type BrowserStrategy struct {
	pool    *browser.TabPool
	target  Target
	solver  antidetect.Solver
	cookies []browser.Cookie
	logger  utils.Logger
}

// NewBrowserStrategy uses pool for tabs. Clearance cookies from cfg are
// injected only after a challenge page has been seen.
func NewBrowserStrategy(cfg config.BrowserConfig, pool *browser.TabPool, target Target, solver antidetect.Solver) *BrowserStrategy {
	if solver == nil {
		solver = antidetect.NoopSolver{}
	}
	return &BrowserStrategy{
		pool:    pool,
		target:  target,
		solver:  solver,
		cookies: browser.CookiesFromConfig(cfg.ClearanceCookies, target.BaseURL()),
		logger:  utils.NewComponentLogger("browser-strategy"),
	}
}

// Name implements Strategy.
func (s *BrowserStrategy) Name() string { return config.MethodBrowser }

// SearchByVin implements Strategy.
func (s *BrowserStrategy) SearchByVin(ctx context.Context, vin string) *types.SearchResult {
	var result *types.SearchResult
	err := s.pool.Do(ctx, func(page browser.Page) error {
		lookup, err := s.load(ctx, page, s.target.SearchURL(vin), "lookup")
		if err != nil {
			return err
		}

		vc, ok := s.vehicleContext(ctx, page, lookup)
		if !ok {
			return errVehicleNotFound()
		}
		vehicle := vehicleFor(lookup, vin, vc)

		listing, err := s.load(ctx, page, s.target.PartsURL(vc), "parts")
		if err != nil {
			return err
		}

		found := extract.Parts(listing, vin)
		result = types.NewSuccess(s.Name(), found.Parts, vehicle)
		return nil
	})
	if err != nil {
		return failure(s.logger.WithField("vin", vin), s.Name(), err)
	}
	return result
}

// load navigates to target and returns the rendered HTML. A challenge page
// gets one wait, the configured clearance cookies and a reload.
func (s *BrowserStrategy) load(ctx context.Context, page browser.Page, target, stage string) (string, error) {
	html, err := s.navigate(ctx, page, target)
	if err != nil {
		return "", err
	}
	if !s.solver.IsChallengePage(html) {
		return html, nil
	}

	s.logger.WithField("stage", stage).Info("Challenge page detected")
	if err := s.solver.WaitForChallenge(ctx); err != nil {
		return "", utils.NewError(utils.ErrCodeChallengeDetected, "challenge wait interrupted").WithCause(err).Build()
	}
	if len(s.cookies) > 0 {
		if err := page.SetCookies(ctx, s.cookies); err != nil {
			s.logger.Warnf("Failed to inject clearance cookies: %v", err)
		}
	}

	html, err = s.navigate(ctx, page, target)
	if err != nil {
		return "", err
	}
	if s.solver.IsChallengePage(html) {
		return "", errChallengeUnresolved(stage)
	}
	return html, nil
}

func (s *BrowserStrategy) navigate(ctx context.Context, page browser.Page, target string) (string, error) {
	if err := page.Navigate(ctx, target); err != nil {
		return "", utils.NewError(utils.ErrCodeNetworkFailure, "page navigation failed").WithCause(err).Build()
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return "", utils.NewError(utils.ErrCodeBrowserFailed, "failed to read page").WithCause(err).Build()
	}
	return html, nil
}

// vehicleContext prefers the in-page script and falls back to parsing the
// serialized document.
func (s *BrowserStrategy) vehicleContext(ctx context.Context, page browser.Page, html string) (extract.Context, bool) {
	var pc pageContext
	if err := page.Evaluate(ctx, contextScript, &pc); err == nil && pc.C != "" && pc.VID != "" {
		return extract.Context{CatalogCode: pc.C, VehicleID: pc.VID, SessionData: pc.SSD, CategoryID: pc.CID}, true
	} else if err != nil {
		s.logger.Debugf("Context script failed: %v", err)
	}
	return extract.VehicleContext(html)
}
