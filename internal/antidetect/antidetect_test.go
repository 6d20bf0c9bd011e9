// internal/antidetect/antidetect_test.go
package antidetect

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const challengePage = `<!DOCTYPE html><html><head><title>Just a moment...</title></head>
<body><div id="cf-content"><p>Please wait while we check your browser.</p></div>
<form id="challenge-form" action="/cdn-cgi/l/chk_jschl?__cf_chl_f_tk=xyz" method="POST">
  <input type="hidden" name="r" value="opaque-r"/>
  <input type="hidden" name="jschl_vc" value="9d3b1c0e"/>
  <input type="hidden" name="pass" value="1700000000.123-abc"/>
</form>
<div class="ray-id">Ray ID: <code>8a1b2c3d4e5f6a7b</code></div>
</body></html>`

const listingPage = `<html><head><title>Genuine parts for BMW 320i</title></head>
<body><table><tr><td>11427953129</td><td>Oil filter</td><td>£12.50</td></tr></table></body></html>`

func TestIsChallengePage(t *testing.T) {
	assert.True(t, IsChallengePage(challengePage))
	assert.True(t, IsChallengePage(`<script src="/cdn-cgi/challenge-platform/h/b/orchestrate/jsch/v1"></script>`))
	assert.True(t, IsChallengePage("<p>PLEASE WAIT</p>"))
	assert.False(t, IsChallengePage(listingPage))
	assert.False(t, IsChallengePage(""))
}

func TestParseChallengeParams(t *testing.T) {
	p := ParseChallengeParams(challengePage, "partsouq.com")

	assert.Equal(t, "partsouq.com", p.Host)
	assert.Equal(t, "/cdn-cgi/l/chk_jschl?__cf_chl_f_tk=xyz", p.Action)
	assert.Equal(t, "1700000000.123-abc", p.Pass)
	assert.Equal(t, "9d3b1c0e", p.JSChlVC)
	assert.Equal(t, "8a1b2c3d4e5f6a7b", p.RayID)
	assert.Equal(t, "opaque-r", p.Fields["r"])
}

func TestSynthesizeResponseTokenShape(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	h := NewHeuristic(0, 0, WithClock(func() time.Time { return fixed }))

	params := ChallengeParams{Host: "partsouq.com", Pass: "p", JSChlVC: "vc", RayID: "ray"}
	token := h.SynthesizeResponseToken(params)

	assert.Regexp(t, `^[0-9a-f]{8}\.[0-9a-z]+-0-[0-9a-f]{4}$`, token)
	assert.Equal(t, token, h.SynthesizeResponseToken(params), "same input and clock must give the same token")

	other := h.SynthesizeResponseToken(ChallengeParams{Host: "partsouq.com", Pass: "q", JSChlVC: "vc", RayID: "ray"})
	assert.NotEqual(t, token, other)
}

func TestWaitForChallengeUsesConfiguredRange(t *testing.T) {
	var slept []time.Duration
	sleeper := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	h := NewHeuristic(4*time.Second, 6*time.Second, WithSleeper(sleeper))

	for i := 0; i < 20; i++ {
		require.NoError(t, h.WaitForChallenge(context.Background()))
	}
	require.Len(t, slept, 20)
	for _, d := range slept {
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestNoopSolver(t *testing.T) {
	var s Solver = NoopSolver{}
	assert.True(t, s.IsChallengePage(challengePage))
	assert.Empty(t, s.SynthesizeResponseToken(ChallengeParams{}))
	assert.NoError(t, s.WaitForChallenge(context.Background()))
}

func TestUserAgentRotator(t *testing.T) {
	agents := []string{"agent-a", "agent-b"}
	rotator := NewUserAgentRotator(agents)

	for i := 0; i < 20; i++ {
		assert.Contains(t, agents, rotator.GetRandom())
	}

	assert.NotEmpty(t, NewUserAgentRotator(nil).GetRandom())
}

func TestHeaderProfileApply(t *testing.T) {
	rotator := NewUserAgentRotator([]string{DefaultUserAgents()[0]})
	profile := NewHeaderProfile(rotator, map[string]string{"X-Extra": "1"})

	req, err := http.NewRequest(http.MethodGet, "https://partsouq.com/", nil)
	require.NoError(t, err)
	profile.Apply(req, "")

	assert.True(t, strings.Contains(req.Header.Get("User-Agent"), "Chrome/"))
	assert.Equal(t, "none", req.Header.Get("Sec-Fetch-Site"))
	assert.Equal(t, `"Windows"`, req.Header.Get("Sec-Ch-Ua-Platform"))
	assert.Equal(t, "1", req.Header.Get("X-Extra"))
	assert.Empty(t, req.Header.Get("Referer"))

	req2, _ := http.NewRequest(http.MethodGet, "https://partsouq.com/en/search/all", nil)
	profile.Apply(req2, "https://partsouq.com/")
	assert.Equal(t, "same-origin", req2.Header.Get("Sec-Fetch-Site"))
	assert.Equal(t, "https://partsouq.com/", req2.Header.Get("Referer"))
	assert.Equal(t, req.Header.Get("User-Agent"), req2.Header.Get("User-Agent"))
}

func TestDelayRandomizer(t *testing.T) {
	fixed := NewDelayRandomizer(time.Second, time.Second)
	assert.Equal(t, time.Second, fixed.GetDelay())

	inverted := NewDelayRandomizer(2*time.Second, time.Second)
	assert.Equal(t, 2*time.Second, inverted.GetDelay())
}

func TestTLSProfileFor(t *testing.T) {
	firefox := "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	assert.Equal(t, "firefox", TLSProfileFor(firefox).Name)
	assert.Equal(t, "chrome", TLSProfileFor(DefaultUserAgents()[0]).Name)

	cfg := TLSProfileFor(firefox).Config()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, []string{"h2", "http/1.1"}, cfg.NextProtos)
	assert.Contains(t, cfg.CurvePreferences, tls.CurveP521)

	// configs are independent copies
	cfg.CipherSuites[0] = 0
	assert.NotEqual(t, uint16(0), TLSProfileFor(firefox).Config().CipherSuites[0])
}
