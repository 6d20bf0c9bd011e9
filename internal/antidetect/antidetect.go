// internal/antidetect/antidetect.go

// Package antidetect holds the browser-mimicry pieces used by the fetch
// strategies: user-agent rotation, realistic header sets, randomized human
// delays and the challenge-page heuristic.
package antidetect

import (
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// UserAgentRotator picks user agents from a fixed list.
type UserAgentRotator struct {
	agents []string
	mu     sync.Mutex
	rnd    *rand.Rand
}

// NewUserAgentRotator creates a new user agent rotator
func NewUserAgentRotator(agents []string) *UserAgentRotator {
	if len(agents) == 0 {
		agents = DefaultUserAgents()
	}
	return &UserAgentRotator{
		agents: agents,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GetRandom returns a random user agent
func (r *UserAgentRotator) GetRandom() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.agents[r.rnd.Intn(len(r.agents))]
}

// HeaderProfile produces the header set of a desktop browser navigating to a
// page. One profile is kept per session so the user agent does not change
// between the warm-up and follow-up requests.
type HeaderProfile struct {
	UserAgent      string
	AcceptLanguage string
	Extra          map[string]string
}

// NewHeaderProfile picks a random user agent from rotator.
func NewHeaderProfile(rotator *UserAgentRotator, extra map[string]string) *HeaderProfile {
	return &HeaderProfile{
		UserAgent:      rotator.GetRandom(),
		AcceptLanguage: "en-GB,en;q=0.9,en-US;q=0.8",
		Extra:          extra,
	}
}

// Apply sets navigation headers on req. referer may be empty for the first
// request of a session.
func (p *HeaderProfile) Apply(req *http.Request, referer string) {
	h := req.Header
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", p.AcceptLanguage)
	h.Set("Accept-Encoding", "gzip, deflate, zstd")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("DNT", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-User", "?1")
	if referer == "" {
		h.Set("Sec-Fetch-Site", "none")
	} else {
		h.Set("Sec-Fetch-Site", "same-origin")
		h.Set("Referer", referer)
	}
	if strings.Contains(p.UserAgent, "Chrome/") {
		h.Set("Sec-Ch-Ua", `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`)
		h.Set("Sec-Ch-Ua-Mobile", "?0")
		h.Set("Sec-Ch-Ua-Platform", platformOf(p.UserAgent))
	}
	for k, v := range p.Extra {
		h.Set(k, v)
	}
}

func platformOf(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return `"Windows"`
	case strings.Contains(ua, "Macintosh"):
		return `"macOS"`
	default:
		return `"Linux"`
	}
}

// DelayRandomizer provides random delays
type DelayRandomizer struct {
	min time.Duration
	max time.Duration
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewDelayRandomizer creates a new delay randomizer
func NewDelayRandomizer(min, max time.Duration) *DelayRandomizer {
	if max < min {
		max = min
	}
	return &DelayRandomizer{
		min: min,
		max: max,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GetDelay returns a random delay within [min, max]
func (dr *DelayRandomizer) GetDelay() time.Duration {
	diff := dr.max - dr.min
	if diff <= 0 {
		return dr.min
	}
	dr.mu.Lock()
	defer dr.mu.Unlock()
	return dr.min + time.Duration(dr.rnd.Int63n(int64(diff)+1))
}

// DefaultUserAgents lists current desktop browsers.
func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	}
}
