package checker

import (
	"time"

	"github.com/politeping/politeping/internal/monitor"
)

// classify turns probe and keyword results into a terminal outcome.
// The checks are ordered: no status means ERROR; a success-range
// status is UNHEALTHY on any keyword match, otherwise OK or UNSTABLE
// by the TTFB SLA; remaining statuses map to their class.
func classify(res monitor.ProbeResult, probeErr error, matched []string, sla time.Duration) monitor.Outcome {
	if probeErr != nil || res.StatusCode == 0 {
		return monitor.OutcomeError
	}
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 400:
		if len(matched) > 0 {
			return monitor.OutcomeUnhealthy
		}
		if res.TTFB <= sla {
			return monitor.OutcomeOK
		}
		return monitor.OutcomeUnstable
	case res.StatusCode < 500:
		return monitor.OutcomeHTTP4xx
	default:
		return monitor.OutcomeHTTP5xx
	}
}
