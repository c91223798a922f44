// Package ratelimit enforces minimum inter-request intervals and
// bounded concurrency for the probing pipeline.
//
// Interval gating and concurrency are independent controls. The
// interval gate answers "is it too soon to probe this host or
// endpoint again"; callers that are denied skip the probe entirely
// rather than waiting. The permit pools cap how many probes are in
// flight globally and per host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/politeping/politeping/internal/monitor"
)

// Config sizes the permit pools.
type Config struct {
	GlobalMaxConcurrency int
	PerHostConcurrency   int
}

// State tracks last-check timestamps per host and per endpoint and
// owns the concurrency permits. One orchestrator instance owns one
// State; timestamp updates for a given key are never concurrent
// because a cycle processes each endpoint at most once.
type State struct {
	clock monitor.Clock

	mu        sync.Mutex
	lastHost  map[string]time.Time
	lastEp    map[string]time.Time
	hostPerms map[string]*semaphore.Weighted

	globalPerms *semaphore.Weighted
	perHostCap  int64
}

// New builds a State. Non-positive capacities fall back to 1.
func New(cfg Config, clock monitor.Clock) *State {
	globalCap := int64(cfg.GlobalMaxConcurrency)
	if globalCap <= 0 {
		globalCap = 1
	}
	perHostCap := int64(cfg.PerHostConcurrency)
	if perHostCap <= 0 {
		perHostCap = 1
	}
	return &State{
		clock:       clock,
		lastHost:    make(map[string]time.Time),
		lastEp:      make(map[string]time.Time),
		hostPerms:   make(map[string]*semaphore.Weighted),
		globalPerms: semaphore.NewWeighted(globalCap),
		perHostCap:  perHostCap,
	}
}

// AllowedNow reports whether enough time has elapsed since the last
// mark for both the host and the endpoint key. A key that has never
// been marked is always allowed, so the first check of any endpoint
// passes on cold start.
func (s *State) AllowedNow(host, epKey string, hostInterval, epInterval time.Duration) bool {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastHost[host]; ok && now.Sub(last) < hostInterval {
		return false
	}
	if last, ok := s.lastEp[epKey]; ok && now.Sub(last) < epInterval {
		return false
	}
	return true
}

// Mark records the current time for both keys. Call it only after a
// probe was actually issued, never on a skip.
func (s *State) Mark(host, epKey string) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHost[host] = now
	s.lastEp[epKey] = now
}

// Acquire takes one global permit and one permit for the host,
// creating the host pool lazily. The returned release function must
// be called exactly once, on success or failure, or permits leak.
func (s *State) Acquire(ctx context.Context, host string) (func(), error) {
	hostPerms := s.hostPermits(host)

	if err := s.globalPerms.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire global permit: %w", err)
	}
	if err := hostPerms.Acquire(ctx, 1); err != nil {
		s.globalPerms.Release(1)
		return nil, fmt.Errorf("acquire host permit: %w", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			hostPerms.Release(1)
			s.globalPerms.Release(1)
		})
	}, nil
}

func (s *State) hostPermits(host string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	perms, ok := s.hostPerms[host]
	if !ok {
		perms = semaphore.NewWeighted(s.perHostCap)
		s.hostPerms[host] = perms
	}
	return perms
}
