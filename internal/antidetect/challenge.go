// internal/antidetect/challenge.go
package antidetect

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// challengeMarkers are lower-case fragments seen on bot-challenge
// interstitials. Any one of them classifies a page as a challenge.
var challengeMarkers = []string{
	"please wait",
	"just a moment",
	"checking your browser",
	"attention required! | cloudflare",
	"/cdn-cgi/challenge-platform",
	"cf-browser-verification",
	"cf-challenge",
	"challenge-form",
	"jschl_vc",
	"cf_chl_opt",
}

var rayIDPattern = regexp.MustCompile(`(?i)ray id:?\s*(?:<[^>]+>\s*)*([0-9a-f]{8,})`)

// ChallengeParams are the fields a challenge form asks to be resubmitted.
type ChallengeParams struct {
	Host    string
	Action  string
	Pass    string
	JSChlVC string
	RayID   string
	Fields  map[string]string
}

// Solver is the pluggable challenge step of a fetch strategy.
//
// No implementation in this package actually solves a challenge. The
// heuristic one produces a token that only looks like a real answer and
// waits like a human would; strategies must still expect to be blocked.
type Solver interface {
	IsChallengePage(html string) bool
	SynthesizeResponseToken(p ChallengeParams) string
	WaitForChallenge(ctx context.Context) error
}

// IsChallengePage reports whether html looks like a challenge interstitial.
func IsChallengePage(html string) bool {
	if html == "" {
		return false
	}
	lower := strings.ToLower(html)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ParseChallengeParams reads the hidden fields of a challenge form.
func ParseChallengeParams(html, host string) ChallengeParams {
	p := ChallengeParams{Host: host, Fields: make(map[string]string)}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		form := doc.Find("form#challenge-form").First()
		if form.Length() == 0 {
			form = doc.Find("form").First()
		}
		p.Action, _ = form.Attr("action")
		form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
			name, _ := in.Attr("name")
			value, _ := in.Attr("value")
			p.Fields[name] = value
		})
		if ray, ok := doc.Find("[data-ray]").Attr("data-ray"); ok {
			p.RayID = ray
		}
	}

	p.Pass = p.Fields["pass"]
	p.JSChlVC = p.Fields["jschl_vc"]
	if p.RayID == "" {
		if m := rayIDPattern.FindStringSubmatch(html); m != nil {
			p.RayID = m[1]
		}
	}
	return p
}

// Heuristic is the default Solver: marker-based detection, a fabricated
// token and a randomized human-like wait.
type Heuristic struct {
	delay *DelayRandomizer
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// HeuristicOption customises a Heuristic.
type HeuristicOption func(*Heuristic)

// WithClock replaces time.Now in token synthesis.
func WithClock(now func() time.Time) HeuristicOption {
	return func(h *Heuristic) { h.now = now }
}

// WithSleeper replaces the context-aware sleep used by WaitForChallenge.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) HeuristicOption {
	return func(h *Heuristic) { h.sleep = sleep }
}

// NewHeuristic creates a Heuristic waiting between minWait and maxWait.
func NewHeuristic(minWait, maxWait time.Duration, opts ...HeuristicOption) *Heuristic {
	h := &Heuristic{
		delay: NewDelayRandomizer(minWait, maxWait),
		now:   time.Now,
		sleep: Sleep,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// IsChallengePage implements Solver.
func (h *Heuristic) IsChallengePage(html string) bool {
	return IsChallengePage(html)
}

// SynthesizeResponseToken folds the challenge fields into a rolling hash and
// renders it in the shape of a clearance token. The value is fabricated.
func (h *Heuristic) SynthesizeResponseToken(p ChallengeParams) string {
	var hash uint32 = 5381
	for _, part := range []string{p.Host, p.Pass, p.JSChlVC, p.RayID} {
		for i := 0; i < len(part); i++ {
			hash = hash*33 + uint32(part[i])
		}
		hash = hash*33 + '|'
	}
	ts := strconv.FormatInt(h.now().Unix(), 36)
	return fmt.Sprintf("%08x.%s-0-%04x", hash, ts, hash>>16)
}

// WaitForChallenge suspends for a random interval in the configured range.
func (h *Heuristic) WaitForChallenge(ctx context.Context) error {
	return h.sleep(ctx, h.delay.GetDelay())
}

// NoopSolver detects challenges but neither waits nor fabricates anything.
type NoopSolver struct{}

// IsChallengePage implements Solver.
func (NoopSolver) IsChallengePage(html string) bool { return IsChallengePage(html) }

// SynthesizeResponseToken implements Solver.
func (NoopSolver) SynthesizeResponseToken(ChallengeParams) string { return "" }

// WaitForChallenge implements Solver.
func (NoopSolver) WaitForChallenge(ctx context.Context) error { return ctx.Err() }

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
