package checker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/politeping/politeping/internal/keyword"
	"github.com/politeping/politeping/internal/metrics"
	"github.com/politeping/politeping/internal/monitor"
	"github.com/politeping/politeping/internal/ratelimit"
	"github.com/politeping/politeping/internal/textnorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
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

type fakeRobots struct {
	decision monitor.RobotsDecision
}

func (f *fakeRobots) Decide(context.Context, string) monitor.RobotsDecision {
	return f.decision
}

type fakeProber struct {
	probeRes   monitor.ProbeResult
	probeErr   error
	content    monitor.PageContent
	contentErr error

	probeCalls   atomic.Int64
	contentCalls atomic.Int64
}

func (f *fakeProber) Probe(context.Context, string, monitor.RobotsDecision) (monitor.ProbeResult, error) {
	f.probeCalls.Add(1)
	return f.probeRes, f.probeErr
}

func (f *fakeProber) FetchContent(context.Context, string) (monitor.PageContent, error) {
	f.contentCalls.Add(1)
	return f.content, f.contentErr
}

type staticIDs struct{}

func (staticIDs) NewID() (string, error) { return "cycle-test", nil }

var testEndpoint = monitor.Endpoint{Name: "law-portal", URL: "https://www.law.go.kr/main"}

func newTestChecker(robots RobotsGate, prober Prober, clk monitor.Clock, cfg Config) *Checker {
	metrics.Init()
	normalizer := textnorm.New(textnorm.DefaultOptions())
	matcher := keyword.Compile(keyword.RuleSet{
		Global: []string{"maintenance", "service down"},
	}, true, zap.NewNop())
	rate := ratelimit.New(ratelimit.Config{GlobalMaxConcurrency: 3, PerHostConcurrency: 1}, clk)

	c := New(robots, rate, prober, matcher, normalizer, clk, staticIDs{}, cfg, zap.NewNop())
	c.pause = func(context.Context, time.Duration) {}
	return c
}

func defaultCfg() Config {
	return Config{
		HostMinInterval:     time.Minute,
		EndpointMinInterval: 10 * time.Minute,
		TTFBSLA:             8 * time.Second,
		PolitenessDelay:     0,
	}
}

func TestCheckOneHealthy(t *testing.T) {
	prober := &fakeProber{
		probeRes: monitor.ProbeResult{StatusCode: 200, TTFB: 500 * time.Millisecond},
		content:  monitor.PageContent{Title: "Portal", NormalizedText: "all good", SHA256: "ab12cd34ef56ab12"},
	}
	c := newTestChecker(&fakeRobots{decision: monitor.RobotsAllow}, prober, newFakeClock(), defaultCfg())

	res := c.CheckOne(context.Background(), "cycle-test", testEndpoint)
	assert.Equal(t, monitor.OutcomeOK, res.Outcome)
	require.NotNil(t, res.HTTPStatus)
	assert.Equal(t, 200, *res.HTTPStatus)
	assert.Equal(t, 500.0, res.TTFBMs)
	assert.Equal(t, "www.law.go.kr", res.Domain)
	assert.Equal(t, monitor.RobotsAllow, res.Robots)
	assert.Empty(t, res.MatchedKeywords)
	assert.Equal(t, "ab12cd34ef56ab12", res.ContentSHA256)
}

func TestCheckOneUnstableBeyondSLA(t *testing.T) {
	prober := &fakeProber{
		probeRes: monitor.ProbeResult{StatusCode: 200, TTFB: 9 * time.Second},
		content:  monitor.PageContent{NormalizedText: "slow but fine"},
	}
	c := newTestChecker(&fakeRobots{decision: monitor.RobotsAllow}, prober, newFakeClock(), defaultCfg())

	res := c.CheckOne(context.Background(), "cycle-test", testEndpoint)
	assert.Equal(t, monitor.OutcomeUnstable, res.Outcome)
}

func TestCheckOneUnhealthyOnKeywordMatch(t *testing.T) {
	prober := &fakeProber{
		// Fast response: the keyword match must win over the latency check.
		probeRes: monitor.ProbeResult{StatusCode: 200, TTFB: 100 * time.Millisecond},
		content: monitor.PageContent{
			Title:          "Notice",
			NormalizedText: "the site is under maintenance until monday",
		},
	}
	c := newTestChecker(&fakeRobots{decision: monitor.RobotsAllow}, prober, newFakeClock(), defaultCfg())

	res := c.CheckOne(context.Background(), "cycle-test", testEndpoint)
	assert.Equal(t, monitor.OutcomeUnhealthy, res.Outcome)
	assert.Equal(t, "body:maintenance", res.MatchedKeywords)
}

func TestCheckOneHTTP5xxSkipsContentFetch(t *testing.T) {
	prober := &fakeProber{probeRes: monitor.ProbeResult{StatusCode: 503, TTFB: 200 * time.Millisecond}}
	c := newTestChecker(&fakeRobots{decision: monitor.RobotsAllow}, prober, newFakeClock(), defaultCfg())

	res := c.CheckOne(context.Background(), "cycle-test", testEndpoint)
	assert.Equal(t, monitor.OutcomeHTTP5xx, res.Outcome)
	assert.Equal(t, int64(0), prober.contentCalls.Load(), "content fetch only runs on HTTP 200")
}

func TestCheckOneHTTP4xx(t *testing.T) {
	prober := &fakeProber{probeRes: monitor.ProbeResult{StatusCode: 404, TTFB: 100 * time.Millisecond}}
	c := newTestChecker(&fakeRobots{decision: monitor.RobotsAllow}, prober, newFakeClock(), defaultCfg())

	res := c.CheckOne(context.Background(), "cycle-test", testEndpoint)
	assert.Equal(t, monitor.OutcomeHTTP4xx, res.Outcome)
}

func TestCheckOneDisallowedIssuesNoProbe(t *testing.T) {
	prober := &fakeProber{}
	clk := newFakeClock()
	c := newTestChecker(&fakeRobots{decision: monitor.RobotsDisallow}, prober, clk, defaultCfg())

	res := c.CheckOne(context.Background(), "cycle-test", testEndpoint)
	assert.Equal(t, monitor.OutcomeDisallowed, res.Outcome)
	assert.Nil(t, res.HTTPStatus)
	assert.Equal(t, int64(0), prober.probeCalls.Load())

	// No probe means no rate mark: a later allowed check is not throttled.
	assert.True(t, c.rate.AllowedNow("www.law.go.kr", testEndpoint.URL, time.Minute, 10*time.Minute))
}

func TestCheckOneSkippedDecoratedWithLastResult(t *testing.T) {
	prober := &fakeProber{
		probeRes: monitor.ProbeResult{StatusCode: 200, TTFB: 300 * time.Millisecond},
		content:  monitor.PageContent{NormalizedText: "fine"},
	}
	clk := newFakeClock()
	c := newTestChecker(&fakeRobots{decision: monitor.RobotsAllow}, prober, clk, defaultCfg())

	first := c.CheckOne(context.Background(), "cycle-test", testEndpoint)
	require.Equal(t, monitor.OutcomeOK, first.Outcome)

	clk.Advance(10 * time.Second)
	second := c.CheckOne(context.Background(), "cycle-test", testEndpoint)
	assert.Equal(t, monitor.OutcomeSkipped, second.Outcome)
	assert.Equal(t, monitor.OutcomeOK, second.LastOutcome)
	require.NotNil(t, second.LastChecked)
	assert.Equal(t, first.Timestamp, *second.LastChecked)
	require.NotNil(t, second.HTTPStatus)
	assert.Equal(t, 200, *second.HTTPStatus)
	assert.Equal(t, int64(1), prober.probeCalls.Load(), "skip must not issue a probe")
}

func TestCheckOneProbeErrorBecomesError(t *testing.T) {
	prober := &fakeProber{probeErr: errors.New("dial tcp: connection refused")}
	c := newTestChecker(&fakeRobots{decision: monitor.RobotsAllow}, prober, newFakeClock(), defaultCfg())

	res := c.CheckOne(context.Background(), "cycle-test", testEndpoint)
	assert.Equal(t, monitor.OutcomeError, res.Outcome)
	assert.Nil(t, res.HTTPStatus)
	assert.Contains(t, res.Error, "connection refused")
}

func TestCheckOneContentFetchFailureDoesNotFailCheck(t *testing.T) {
	prober := &fakeProber{
		probeRes:   monitor.ProbeResult{StatusCode: 200, TTFB: 300 * time.Millisecond},
		contentErr: errors.New("read: connection reset"),
	}
	c := newTestChecker(&fakeRobots{decision: monitor.RobotsAllow}, prober, newFakeClock(), defaultCfg())

	res := c.CheckOne(context.Background(), "cycle-test", testEndpoint)
	assert.Equal(t, monitor.OutcomeOK, res.Outcome)
	assert.Empty(t, res.Title)
	assert.Empty(t, res.ContentSHA256)
}

func TestRunCyclePreservesEndpointOrder(t *testing.T) {
	prober := &fakeProber{
		probeRes: monitor.ProbeResult{StatusCode: 200, TTFB: 100 * time.Millisecond},
		content:  monitor.PageContent{NormalizedText: "fine"},
	}
	c := newTestChecker(&fakeRobots{decision: monitor.RobotsAllow}, prober, newFakeClock(), defaultCfg())

	endpoints := []monitor.Endpoint{
		{Name: "alpha", URL: "https://a.go.kr/"},
		{Name: "beta", URL: "https://b.go.kr/"},
		{Name: "gamma", URL: "https://c.go.kr/"},
	}
	results := c.RunCycle(context.Background(), endpoints)
	require.Len(t, results, 3)
	for i, ep := range endpoints {
		assert.Equal(t, ep.Name, results[i].Name)
		assert.Equal(t, "cycle-test", results[i].CycleID)
	}
}

func TestSetMatcherTakesEffect(t *testing.T) {
	prober := &fakeProber{
		probeRes: monitor.ProbeResult{StatusCode: 200, TTFB: 100 * time.Millisecond},
		content:  monitor.PageContent{NormalizedText: "under construction"},
	}
	cfg := defaultCfg()
	cfg.EndpointMinInterval = 0
	cfg.HostMinInterval = 0
	c := newTestChecker(&fakeRobots{decision: monitor.RobotsAllow}, prober, newFakeClock(), cfg)

	res := c.CheckOne(context.Background(), "cycle-test", testEndpoint)
	assert.Equal(t, monitor.OutcomeOK, res.Outcome)

	c.SetMatcher(keyword.Compile(keyword.RuleSet{
		Global: []string{"under construction"},
	}, true, zap.NewNop()))

	res = c.CheckOne(context.Background(), "cycle-test", testEndpoint)
	assert.Equal(t, monitor.OutcomeUnhealthy, res.Outcome)
}
