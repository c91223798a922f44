// Package robots enforces robots.txt compliance per host, with a
// TTL'd cache so each host is consulted at most once per day.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/politeping/politeping/internal/monitor"
)

const maxRobotsBody = 1 << 20

type policyKind int

const (
	policyParsed policyKind = iota
	policyAllow
	policyUnknown
)

// robotsRule is one Allow or Disallow pattern. Rules are prefix
// matches with "*" as a wildcard; pattern length is what longest-match
// comparison ranks by.
type robotsRule struct {
	pattern string
	re      *regexp.Regexp
}

func compileRule(pattern string) robotsRule {
	esc := strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, `.*`)
	return robotsRule{pattern: pattern, re: regexp.MustCompile("^" + esc)}
}

// ruleSet holds the Allow/Disallow rules of the wildcard agent group.
type ruleSet struct {
	allows    []robotsRule
	disallows []robotsRule
}

// parseRules extracts the rules of every "User-agent: *" group. The
// monitor does not claim a crawler-specific agent, so only the
// wildcard group applies. Comments and rules with empty values are
// dropped.
func parseRules(body []byte) ruleSet {
	var rs ruleSet
	inStar := false
	for _, line := range strings.Split(string(body), "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch {
		case key == "user-agent":
			inStar = value == "*"
		case inStar && key == "allow" && value != "":
			rs.allows = append(rs.allows, compileRule(value))
		case inStar && key == "disallow" && value != "":
			rs.disallows = append(rs.disallows, compileRule(value))
		}
	}
	return rs
}

func longestMatch(path string, rules []robotsRule) int {
	best := -1
	for _, r := range rules {
		if r.re.MatchString(path) && len(r.pattern) > best {
			best = len(r.pattern)
		}
	}
	return best
}

// allowed compares the longest matching Allow rule against the
// longest matching Disallow rule. Disallow wins only when its rule is
// strictly longer; equal lengths allow. No matching rule at all
// allows.
func (rs ruleSet) allowed(path string) bool {
	a := longestMatch(path, rs.allows)
	d := longestMatch(path, rs.disallows)
	if a < 0 && d < 0 {
		return true
	}
	return a >= d
}

// record is one cached robots.txt verdict for a host. A fetch failure
// still produces a record so a flapping host is not hammered.
type record struct {
	policy    policyKind
	rules     ruleSet
	fetchedAt time.Time
}

// Config controls fetch behavior and cache lifetime.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	TTL       time.Duration
}

// Gate fetches, caches, and evaluates robots.txt per host.
type Gate struct {
	client    *http.Client
	clock     monitor.Clock
	userAgent string
	ttl       time.Duration
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]*record
}

// New builds a Gate. Zero timeout defaults to 3s and zero TTL to 24h.
func New(cfg Config, clock monitor.Clock, logger *zap.Logger) *Gate {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Gate{
		client:    &http.Client{Timeout: timeout},
		clock:     clock,
		userAgent: cfg.UserAgent,
		ttl:       ttl,
		logger:    logger,
		cache:     make(map[string]*record),
	}
}

// Decide evaluates the URL's path against the host's robots.txt.
// A parsed policy yields ALLOW or DISALLOW via longest-rule matching,
// with Disallow winning only when its rule is strictly longer; a
// missing robots.txt yields ALLOW; any other status or a network
// failure yields UNKNOWN. UNKNOWN never hard-blocks a probe; the
// caller decides how conservative to be.
func (g *Gate) Decide(ctx context.Context, rawURL string) monitor.RobotsDecision {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return monitor.RobotsUnknown
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}

	rec := g.load(ctx, parsed)
	switch rec.policy {
	case policyParsed:
		if rec.rules.allowed(path) {
			return monitor.RobotsAllow
		}
		return monitor.RobotsDisallow
	case policyAllow:
		return monitor.RobotsAllow
	default:
		return monitor.RobotsUnknown
	}
}

// load returns the cached record for the URL's host, refetching when
// the entry is older than the TTL.
func (g *Gate) load(ctx context.Context, parsed *url.URL) *record {
	hostKey := strings.ToLower(parsed.Host)
	now := g.clock.Now()

	g.mu.Lock()
	cached, ok := g.cache[hostKey]
	g.mu.Unlock()
	if ok && now.Sub(cached.fetchedAt) < g.ttl {
		return cached
	}

	rec := g.fetch(ctx, parsed)
	rec.fetchedAt = now

	g.mu.Lock()
	g.cache[hostKey] = rec
	g.mu.Unlock()
	return rec
}

func (g *Gate) fetch(ctx context.Context, parsed *url.URL) *record {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		g.logger.Warn("robots request build failed", zap.String("host", parsed.Host), zap.Error(err))
		return &record{policy: policyUnknown}
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("robots fetch failed", zap.String("host", parsed.Host), zap.Error(err))
		return &record{policy: policyUnknown}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
		if err != nil {
			g.logger.Warn("robots read failed", zap.String("host", parsed.Host), zap.Error(err))
			return &record{policy: policyUnknown}
		}
		return &record{policy: policyParsed, rules: parseRules(body)}
	case resp.StatusCode == http.StatusNotFound:
		return &record{policy: policyAllow}
	default:
		g.logger.Debug("robots fetch returned unexpected status",
			zap.String("host", parsed.Host), zap.Int("status", resp.StatusCode))
		return &record{policy: policyUnknown}
	}
}
