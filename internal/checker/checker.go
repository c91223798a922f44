// Package checker orchestrates one health check per endpoint: robots
// gate, rate gate, concurrency permits, probe, content matching, and
// classification into a terminal outcome.
package checker

import (
	"context"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/politeping/politeping/internal/metrics"
	"github.com/politeping/politeping/internal/monitor"
	"github.com/politeping/politeping/internal/ratelimit"
	"github.com/politeping/politeping/internal/textnorm"
)

// RobotsGate decides whether a URL may be probed.
type RobotsGate interface {
	Decide(ctx context.Context, rawURL string) monitor.RobotsDecision
}

// Prober issues the network probes.
type Prober interface {
	Probe(ctx context.Context, rawURL string, robots monitor.RobotsDecision) (monitor.ProbeResult, error)
	FetchContent(ctx context.Context, rawURL string) (monitor.PageContent, error)
}

// Matcher selects and evaluates outage keywords.
type Matcher interface {
	ForDomain(domain string) []string
	Match(body, title string, keywords []string) []string
}

// IDGenerator creates cycle identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

type pauseFunc func(ctx context.Context, delay time.Duration)

// Config holds the orchestrator tunables.
type Config struct {
	HostMinInterval     time.Duration
	EndpointMinInterval time.Duration
	TTFBSLA             time.Duration
	PolitenessDelay     time.Duration
}

// Checker owns the rate limiter and the last-result cache. CheckOne
// is the sole operation the core exposes to serving layers.
type Checker struct {
	robots     RobotsGate
	rate       *ratelimit.State
	prober     Prober
	normalizer *textnorm.Normalizer
	clock      monitor.Clock
	ids        IDGenerator
	cfg        Config
	logger     *zap.Logger
	pause      pauseFunc

	mu      sync.Mutex
	matcher Matcher
	last    map[string]monitor.CheckResult
}

// New constructs a Checker.
func New(
	robots RobotsGate,
	rate *ratelimit.State,
	prober Prober,
	matcher Matcher,
	normalizer *textnorm.Normalizer,
	clock monitor.Clock,
	ids IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Checker {
	return &Checker{
		robots:     robots,
		rate:       rate,
		prober:     prober,
		matcher:    matcher,
		normalizer: normalizer,
		clock:      clock,
		ids:        ids,
		cfg:        cfg,
		logger:     logger,
		pause:      timerPause,
		last:       make(map[string]monitor.CheckResult),
	}
}

// SetMatcher swaps in a freshly compiled keyword matcher. Used by the
// reload operation; in-flight checks keep the matcher they started with.
func (c *Checker) SetMatcher(m Matcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matcher = m
}

func (c *Checker) currentMatcher() Matcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matcher
}

// RunCycle checks every endpoint once and returns the records in
// endpoint order. Checks interleave; the permit pools bound how many
// probes are in flight.
func (c *Checker) RunCycle(ctx context.Context, endpoints []monitor.Endpoint) []monitor.CheckResult {
	cycleID, err := c.ids.NewID()
	if err != nil {
		c.logger.Warn("cycle id generation failed", zap.Error(err))
	}

	results := make([]monitor.CheckResult, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		g.Go(func() error {
			results[i] = c.CheckOne(gctx, cycleID, ep)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Error("cycle wait failed", zap.Error(err))
	}
	metrics.ObserveCycle()
	c.logger.Info("cycle complete",
		zap.String("cycle_id", cycleID), zap.Int("endpoints", len(endpoints)))
	return results
}

// CheckOne runs the full pipeline for a single endpoint and returns
// its record. Every failure is scoped to this endpoint; nothing
// propagates to siblings.
func (c *Checker) CheckOne(ctx context.Context, cycleID string, ep monitor.Endpoint) monitor.CheckResult {
	host := ep.Host()
	res := monitor.CheckResult{
		CycleID:   cycleID,
		Name:      ep.Name,
		URL:       ep.URL,
		Domain:    host,
		Timestamp: c.clock.Now(),
	}

	res.Robots = c.robots.Decide(ctx, ep.URL)
	metrics.ObserveRobotsDecision(host, string(res.Robots))
	if res.Robots == monitor.RobotsDisallow {
		res.Outcome = monitor.OutcomeDisallowed
		c.logger.Info("endpoint disallowed by robots.txt",
			zap.String("name", ep.Name), zap.String("url", ep.URL))
		metrics.ObserveCheck(host, string(res.Outcome), 0)
		return res
	}

	if !c.rate.AllowedNow(host, ep.URL, c.cfg.HostMinInterval, c.cfg.EndpointMinInterval) {
		metrics.ObserveRateLimitSkip(host)
		return c.skipped(res, ep)
	}

	release, err := c.rate.Acquire(ctx, host)
	if err != nil {
		res.Outcome = monitor.OutcomeError
		res.Error = err.Error()
		return res
	}
	metrics.IncInflightProbes()
	defer func() {
		release()
		metrics.DecInflightProbes()
	}()

	// Fixed politeness pause beyond the permit cap, so bursts against
	// one host stay spread out even when permits are free.
	c.pause(ctx, c.cfg.PolitenessDelay)

	probeRes, probeErr := c.prober.Probe(ctx, ep.URL, res.Robots)
	c.rate.Mark(host, ep.URL)

	if probeErr != nil {
		res.Error = probeErr.Error()
		c.logger.Debug("probe failed",
			zap.String("name", ep.Name), zap.String("url", ep.URL), zap.Error(probeErr))
	}
	if probeRes.StatusCode != 0 {
		status := probeRes.StatusCode
		res.HTTPStatus = &status
	}
	res.TTFBMs = math.Round(probeRes.TTFB.Seconds()*10_000) / 10

	var matched []string
	if probeRes.StatusCode == http.StatusOK {
		matched = c.scanContent(ctx, ep, &res)
	}

	res.Outcome = classify(probeRes, probeErr, matched, c.cfg.TTFBSLA)
	metrics.ObserveCheck(host, string(res.Outcome), probeRes.TTFB)

	c.mu.Lock()
	c.last[ep.URL] = res
	c.mu.Unlock()
	return res
}

// scanContent fetches the page body and evaluates keywords against
// it. A content failure never fails the check; the record simply
// carries no title, hash, or matches.
func (c *Checker) scanContent(ctx context.Context, ep monitor.Endpoint, res *monitor.CheckResult) []string {
	content, err := c.prober.FetchContent(ctx, ep.URL)
	if err != nil {
		c.logger.Debug("content fetch failed",
			zap.String("name", ep.Name), zap.String("url", ep.URL), zap.Error(err))
		return nil
	}
	res.Title = content.Title
	res.ContentType = content.ContentType
	res.ContentSHA256 = content.SHA256

	matcher := c.currentMatcher()
	keywords := matcher.ForDomain(res.Domain)
	matched := matcher.Match(content.NormalizedText, c.normalizer.Normalize(content.Title), keywords)
	res.MatchedKeywords = strings.Join(matched, ";")
	if len(matched) > 0 {
		c.logger.Warn("outage keywords matched",
			zap.String("name", ep.Name), zap.Strings("keywords", matched))
	}
	return matched
}

// skipped decorates a rate-limited result with the cached previous
// check so dashboards can still show the last known state.
func (c *Checker) skipped(res monitor.CheckResult, ep monitor.Endpoint) monitor.CheckResult {
	res.Outcome = monitor.OutcomeSkipped
	c.mu.Lock()
	prev, ok := c.last[ep.URL]
	c.mu.Unlock()
	if ok {
		res.HTTPStatus = prev.HTTPStatus
		res.TTFBMs = prev.TTFBMs
		res.LastOutcome = prev.Outcome
		ts := prev.Timestamp
		res.LastChecked = &ts
	}
	return res
}

// timerPause waits for the delay or until the context finishes,
// whichever comes first.
func timerPause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
