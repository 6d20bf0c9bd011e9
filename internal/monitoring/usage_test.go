// internal/monitoring/usage_test.go
package monitoring

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/vinparts/internal/config"
	"github.com/valpere/vinparts/internal/output"
	"github.com/valpere/vinparts/internal/utils"
	"github.com/valpere/vinparts/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingLog struct {
	output.NopUsageLog
}

func (failingLog) Append(context.Context, output.UsageRecord) error {
	return errors.New("disk full")
}

func testConfig() config.AdaptiveConfig {
	return config.Default().Adaptive
}

func newTestMonitor(t *testing.T, opts ...Option) (*Monitor, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now), WithLogger(utils.NewNopLogger())}, opts...)
	m := NewMonitor(testConfig(), opts...)
	t.Cleanup(m.Flush)
	return m, clock
}

func record(m *Monitor, method string, success bool, d time.Duration) {
	m.RecordAttempt(context.Background(), Attempt{Method: method, Query: "WBA2D520X05E20424", Duration: d, Success: success})
}

func TestRecordAttemptUpdatesStats(t *testing.T) {
	m, clock := newTestMonitor(t)

	record(m, "direct", true, 2*time.Second)
	record(m, "direct", false, 4*time.Second)
	record(m, "direct", true, 6*time.Second)

	s := m.Snapshot()["direct"]
	assert.EqualValues(t, 3, s.TotalRequests)
	assert.EqualValues(t, 2, s.SuccessfulRequests)
	assert.InDelta(t, 2.0/3.0, s.SuccessRate, 1e-9)
	// (((2+4)/2)+6)/2
	assert.Equal(t, 4500*time.Millisecond, s.AvgResponseTime)
	assert.Equal(t, clock.Now(), s.LastUsed)
	assert.False(t, s.Blocked)
}

func TestBlockAfterMinSamplesAndLazyExpiry(t *testing.T) {
	m, clock := newTestMonitor(t)

	record(m, "direct", true, time.Second)
	for i := 0; i < 3; i++ {
		record(m, "direct", false, time.Second)
	}
	assert.False(t, m.IsMethodBlocked("direct"), "four samples are below the minimum")

	record(m, "direct", false, time.Second)
	require.True(t, m.IsMethodBlocked("direct"))
	assert.Equal(t, clock.Now().Add(30*time.Minute), m.Snapshot()["direct"].BlockedUntil)

	clock.Advance(29 * time.Minute)
	assert.True(t, m.IsMethodBlocked("direct"))

	clock.Advance(2 * time.Minute)
	assert.False(t, m.IsMethodBlocked("direct"))
	s := m.Snapshot()["direct"]
	assert.False(t, s.Blocked)
	assert.True(t, s.BlockedUntil.IsZero())
	assert.EqualValues(t, 5, s.TotalRequests, "unblocking keeps the counters")
}

func TestBlockUntilNotExtendedWhileBlocked(t *testing.T) {
	m, clock := newTestMonitor(t)
	for i := 0; i < 5; i++ {
		record(m, "proxy", false, time.Second)
	}
	until := m.Snapshot()["proxy"].BlockedUntil

	clock.Advance(10 * time.Minute)
	record(m, "proxy", false, time.Second)
	assert.Equal(t, until, m.Snapshot()["proxy"].BlockedUntil)
}

func TestAdaptiveDelay(t *testing.T) {
	m, _ := newTestMonitor(t)
	cfg := m.Config()

	assert.Equal(t, cfg.BaseDelay, m.AdaptiveDelay("direct"), "unseen method gets base delay")

	for i := 0; i < 5; i++ {
		record(m, "browser", true, time.Second)
	}
	assert.Equal(t, time.Second, m.AdaptiveDelay("browser"), "2s*0.5 floored at 1s")

	record(m, "proxy", true, time.Second)
	record(m, "proxy", false, time.Second)
	assert.Equal(t, cfg.BaseDelay, m.AdaptiveDelay("proxy"), "rate 0.5 sits between thresholds")

	record(m, "direct", false, time.Second)
	assert.Equal(t, 6*time.Second, m.AdaptiveDelay("direct"), "low rate triples base")

	for i := 0; i < 4; i++ {
		record(m, "direct", false, time.Second)
	}
	require.True(t, m.IsMethodBlocked("direct"))
	assert.Equal(t, cfg.MaxDelay, m.AdaptiveDelay("direct"))
}

func TestAdaptiveDelayCapsAndFloors(t *testing.T) {
	m, _ := newTestMonitor(t)
	base := types.Duration(20 * time.Second)
	max := types.Duration(30 * time.Second)
	_, err := m.UpdateConfig(AdaptiveConfigPatch{BaseDelay: &base, MaxDelay: &max})
	require.NoError(t, err)

	record(m, "direct", false, time.Second)
	assert.Equal(t, 30*time.Second, m.AdaptiveDelay("direct"), "base*3 capped at max")

	record(m, "browser", true, time.Second)
	assert.Equal(t, 10*time.Second, m.AdaptiveDelay("browser"))
}

func TestAdaptiveDelayBounds(t *testing.T) {
	m, _ := newTestMonitor(t)
	cfg := m.Config()

	outcomes := [][]bool{{}, {true}, {false}, {true, false}, {false, false, false, false, false}}
	for i, seq := range outcomes {
		method := []string{"direct", "browser", "proxy", "extra1", "extra2"}[i]
		for _, ok := range seq {
			record(m, method, ok, time.Second)
		}
		d := m.AdaptiveDelay(method)
		assert.GreaterOrEqual(t, d, cfg.MinDelay, method)
		assert.LessOrEqual(t, d, cfg.MaxDelay, method)
		if m.IsMethodBlocked(method) {
			assert.Equal(t, cfg.MaxDelay, d, method)
		}
	}
}

func TestBestMethodPrefersUnseen(t *testing.T) {
	m, _ := newTestMonitor(t)
	assert.Equal(t, "direct", m.BestMethod())

	for i := 0; i < 10; i++ {
		record(m, "direct", true, 100*time.Millisecond)
	}
	assert.Equal(t, "browser", m.BestMethod(), "unseen browser beats perfect direct")

	record(m, "browser", true, 10*time.Second)
	assert.Equal(t, "proxy", m.BestMethod())
}

func TestBestMethodScoresSeenMethods(t *testing.T) {
	m, _ := newTestMonitor(t)

	record(m, "direct", true, 2*time.Second)
	record(m, "direct", false, 2*time.Second) // 50 - 2 = 48
	record(m, "browser", true, 20*time.Second) // 100 - 20 = 80
	record(m, "proxy", true, 30*time.Second)  // 100 - 30 = 70

	assert.Equal(t, "browser", m.BestMethod())
}

func TestBestMethodSkipsBlockedAndFallsBack(t *testing.T) {
	m, _ := newTestMonitor(t)
	for _, method := range []string{"direct", "browser"} {
		for i := 0; i < 5; i++ {
			record(m, method, false, time.Second)
		}
	}
	assert.Equal(t, "proxy", m.BestMethod())

	for i := 0; i < 5; i++ {
		record(m, "proxy", false, time.Second)
	}
	assert.Equal(t, "direct", m.BestMethod(), "all blocked falls back to the first candidate")
}

func TestConcurrentRecordingIsCommutative(t *testing.T) {
	m, _ := newTestMonitor(t)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record(m, "browser", true, 3*time.Second)
		}()
	}
	wg.Wait()

	s := m.Snapshot()["browser"]
	assert.EqualValues(t, n, s.TotalRequests)
	assert.Equal(t, 1.0, s.SuccessRate)
	assert.Equal(t, 3*time.Second, s.AvgResponseTime)
}

func TestUsageLogFailureIsSwallowed(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m, _ := newTestMonitor(t, WithUsageLog(failingLog{}), WithMetrics(metrics))

	record(m, "direct", true, time.Second)
	m.Flush()

	assert.EqualValues(t, 1, m.Snapshot()["direct"].TotalRequests)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.usageLogErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.attempts.WithLabelValues("direct", "success")))
}

type slowLog struct {
	output.NopUsageLog
	delay   time.Duration
	appends atomic.Int64
}

func (l *slowLog) Append(context.Context, output.UsageRecord) error {
	time.Sleep(l.delay)
	l.appends.Add(1)
	return nil
}

type gatedLog struct {
	output.NopUsageLog
	release chan struct{}
}

func (l *gatedLog) Append(context.Context, output.UsageRecord) error {
	<-l.release
	return nil
}

func TestFlushConcurrentWithRecordAttempt(t *testing.T) {
	log := &slowLog{delay: time.Microsecond}
	m, _ := newTestMonitor(t, WithUsageLog(log))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var recorded atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				record(m, "direct", true, time.Millisecond)
				recorded.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				assert.NotPanics(t, m.Flush)
			}
		}()
	}
	wg.Wait()

	m.Flush()
	assert.Equal(t, recorded.Load(), log.appends.Load())
	assert.EqualValues(t, recorded.Load(), m.Snapshot()["direct"].TotalRequests)
}

func TestFlushWaitsForPendingWrite(t *testing.T) {
	log := &gatedLog{release: make(chan struct{})}
	m, _ := newTestMonitor(t, WithUsageLog(log))

	record(m, "direct", true, time.Millisecond)

	flushed := make(chan struct{})
	go func() {
		m.Flush()
		close(flushed)
	}()

	select {
	case <-flushed:
		t.Fatal("Flush returned while a write was still pending")
	case <-time.After(50 * time.Millisecond):
	}

	close(log.release)
	select {
	case <-flushed:
	case <-time.After(5 * time.Second):
		t.Fatal("Flush did not return after the write finished")
	}
}

func TestStatisticsFromUsageLog(t *testing.T) {
	log, err := output.NewSQLiteUsageLog(context.Background(), filepath.Join(t.TempDir(), "usage.db"), "scraping_usage_log")
	require.NoError(t, err)
	m, clock := newTestMonitor(t, WithUsageLog(log))
	defer m.Close()

	record(m, "direct", true, 2*time.Second)
	record(m, "direct", false, 4*time.Second)
	record(m, "direct", false, 6*time.Second)
	m.RecordAttempt(context.Background(), Attempt{Method: "proxy", Query: "X", ResultCount: 12, Duration: 8 * time.Second, Success: true})
	m.Flush()

	reports, err := m.Statistics(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	byMethod := map[string]MethodReport{}
	for _, r := range reports {
		byMethod[r.Method] = r
		assert.False(t, math.IsNaN(r.SuccessRate), r.Method)
	}

	direct := byMethod["direct"]
	assert.Equal(t, "log", direct.Source)
	assert.EqualValues(t, 3, direct.TotalRequests)
	assert.Equal(t, float64(direct.SuccessfulRequests)/float64(direct.TotalRequests), direct.SuccessRate)
	assert.Equal(t, types.Duration(4*time.Second), direct.AvgResponseTime)
	require.NotNil(t, direct.LastUsed)
	assert.True(t, direct.LastUsed.Equal(clock.Now()))

	assert.Equal(t, 12.0, byMethod["proxy"].AvgResultCount)

	browser := byMethod["browser"]
	assert.Zero(t, browser.TotalRequests)
	assert.Zero(t, browser.SuccessRate)
	assert.Nil(t, browser.LastUsed)
	assert.Equal(t, types.Duration(2*time.Second), browser.CurrentDelay)

	clock.Advance(8 * 24 * time.Hour)
	reports, err = m.Statistics(context.Background(), 7)
	require.NoError(t, err)
	for _, r := range reports {
		if r.Method == "direct" {
			assert.Equal(t, "memory", r.Source, "window no longer covers the log rows")
		}
	}
}

func TestStatisticsReportsBlockState(t *testing.T) {
	m, clock := newTestMonitor(t)
	for i := 0; i < 5; i++ {
		record(m, "proxy", false, time.Second)
	}

	reports, err := m.Statistics(context.Background(), 0)
	require.NoError(t, err)
	var proxy MethodReport
	for _, r := range reports {
		if r.Method == "proxy" {
			proxy = r
		}
	}
	assert.Equal(t, "memory", proxy.Source)
	assert.True(t, proxy.Blocked)
	require.NotNil(t, proxy.BlockedUntil)
	assert.Equal(t, clock.Now().Add(30*time.Minute), *proxy.BlockedUntil)
	assert.Equal(t, types.Duration(30*time.Second), proxy.CurrentDelay)

	row := proxy.Row()
	assert.Equal(t, "proxy", row.Method)
	assert.True(t, row.Blocked)
	assert.Equal(t, 30*time.Second, row.CurrentDelay)
}

func TestResetMethodStats(t *testing.T) {
	m, _ := newTestMonitor(t)
	record(m, "direct", true, time.Second)
	record(m, "browser", true, time.Second)

	m.ResetMethodStats("direct")
	snap := m.Snapshot()
	assert.NotContains(t, snap, "direct")
	assert.Contains(t, snap, "browser")

	m.ResetMethodStats("")
	assert.Empty(t, m.Snapshot())
	assert.Equal(t, "direct", m.BestMethod())
}

func TestUpdateConfig(t *testing.T) {
	m, _ := newTestMonitor(t)

	threshold := 0.5
	block := types.Duration(time.Minute)
	cfg, err := m.UpdateConfig(AdaptiveConfigPatch{FailureThreshold: &threshold, BlockDuration: &block})
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.BlockDuration)
	assert.Equal(t, 2*time.Second, cfg.BaseDelay, "unset fields are kept")
	assert.Equal(t, cfg, m.Config())

	bad := 0.9
	_, err = m.UpdateConfig(AdaptiveConfigPatch{FailureThreshold: &bad})
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeInvalidConfig, utils.CodeOf(err))
	assert.Equal(t, 0.5, m.Config().FailureThreshold, "rejected patch leaves config untouched")
}
