// Package monitor defines the domain types shared across the health
// monitoring pipeline: endpoints, probe results, and the per-cycle
// check record exposed to serving layers.
package monitor

import (
	"net/url"
	"strings"
	"time"
)

// Endpoint identifies one monitored target. Identity is the URL; the
// name is a display label supplied by configuration.
type Endpoint struct {
	Name string `json:"name" mapstructure:"name"`
	URL  string `json:"url" mapstructure:"url"`
}

// Host returns the lowercased host portion of the endpoint URL, or ""
// when the URL does not parse.
func (e Endpoint) Host() string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Outcome is the terminal classification of one check.
type Outcome string

// Terminal outcomes, ordered by the classifier's decision sequence.
const (
	OutcomeDisallowed Outcome = "DISALLOWED"
	OutcomeSkipped    Outcome = "SKIPPED"
	OutcomeError      Outcome = "ERROR"
	OutcomeUnhealthy  Outcome = "UNHEALTHY"
	OutcomeOK         Outcome = "OK"
	OutcomeUnstable   Outcome = "UNSTABLE"
	OutcomeHTTP4xx    Outcome = "HTTP4xx"
	OutcomeHTTP5xx    Outcome = "HTTP5xx"
)

// RobotsDecision is the verdict of the robots.txt gate for a URL.
type RobotsDecision string

// Robots verdicts. Unknown means the policy could not be determined;
// it permits the probe but suppresses the GET fallback.
const (
	RobotsAllow    RobotsDecision = "ALLOW"
	RobotsDisallow RobotsDecision = "DISALLOW"
	RobotsUnknown  RobotsDecision = "UNKNOWN"
)

// ProbeResult is the outcome of the cheap status/latency probe.
// StatusCode is zero when no HTTP status was obtained.
type ProbeResult struct {
	StatusCode int
	TTFB       time.Duration
}

// PageContent is what the full-content fetch extracts from a 200 page.
type PageContent struct {
	Title          string
	NormalizedText string
	ContentType    string
	SHA256         string
}

// CheckResult is the record produced for one endpoint in one cycle.
// It is the only contract exposed to serving and presentation layers.
type CheckResult struct {
	CycleID         string         `json:"cycle_id"`
	Name            string         `json:"name"`
	URL             string         `json:"url"`
	Domain          string         `json:"domain"`
	HTTPStatus      *int           `json:"http_status"`
	TTFBMs          float64        `json:"ttfb_ms"`
	Outcome         Outcome        `json:"outcome"`
	Error           string         `json:"error,omitempty"`
	MatchedKeywords string         `json:"matched_keywords"`
	Title           string         `json:"title"`
	ContentType     string         `json:"content_type,omitempty"`
	ContentSHA256   string         `json:"content_sha256"`
	Timestamp       time.Time      `json:"timestamp"`
	Robots          RobotsDecision `json:"robots_decision"`

	// Set only on SKIPPED results, carrying the cached previous check.
	LastOutcome Outcome    `json:"last_outcome,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}
