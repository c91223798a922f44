package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestAllowedNowColdStart(t *testing.T) {
	s := New(Config{GlobalMaxConcurrency: 3, PerHostConcurrency: 1}, newFakeClock())

	// Nothing marked yet: the first check is always allowed.
	assert.True(t, s.AllowedNow("law.go.kr", "https://law.go.kr/", time.Minute, 10*time.Minute))
}

func TestAllowedNowIntervalBoundary(t *testing.T) {
	clk := newFakeClock()
	s := New(Config{GlobalMaxConcurrency: 3, PerHostConcurrency: 1}, clk)

	host, ep := "law.go.kr", "https://law.go.kr/"
	s.Mark(host, ep)

	clk.Advance(time.Minute - time.Millisecond)
	assert.False(t, s.AllowedNow(host, ep, time.Minute, time.Minute),
		"just under the boundary must deny")

	clk.Advance(time.Millisecond)
	assert.True(t, s.AllowedNow(host, ep, time.Minute, time.Minute),
		"at the boundary must allow")
}

func TestAllowedNowChecksBothKeys(t *testing.T) {
	clk := newFakeClock()
	s := New(Config{GlobalMaxConcurrency: 3, PerHostConcurrency: 1}, clk)

	host := "data.go.kr"
	s.Mark(host, "https://data.go.kr/a")

	// Host interval elapsed, endpoint interval not: a different endpoint
	// on the same host passes, the marked one does not.
	clk.Advance(2 * time.Minute)
	assert.True(t, s.AllowedNow(host, "https://data.go.kr/b", time.Minute, 10*time.Minute))
	assert.False(t, s.AllowedNow(host, "https://data.go.kr/a", time.Minute, 10*time.Minute))

	// Endpoint fresh but host recently checked: denied.
	s.Mark(host, "https://data.go.kr/b")
	assert.False(t, s.AllowedNow(host, "https://data.go.kr/c", time.Minute, 10*time.Minute))
}

func TestAcquireBoundsConcurrency(t *testing.T) {
	const (
		globalCap = 3
		hostCap   = 1
		workers   = 12
	)
	s := New(Config{GlobalMaxConcurrency: globalCap, PerHostConcurrency: hostCap}, newFakeClock())

	hosts := []string{"a.go.kr", "b.go.kr", "c.go.kr", "d.go.kr"}

	var (
		inflight    atomic.Int64
		maxInflight atomic.Int64
	)
	perHost := make([]atomic.Int64, len(hosts))
	perHostPeaks := make([]atomic.Int64, len(hosts))

	// Failures surface through the channel; the test goroutine is the
	// only one allowed to fail the test.
	errCh := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hostIdx := i % len(hosts)
			release, err := s.Acquire(context.Background(), hosts[hostIdx])
			if err != nil {
				errCh <- err
				return
			}
			defer release()

			if cur := inflight.Add(1); cur > maxInflight.Load() {
				maxInflight.Store(cur)
			}
			if cur := perHost[hostIdx].Add(1); cur > perHostPeaks[hostIdx].Load() {
				perHostPeaks[hostIdx].Store(cur)
			}
			time.Sleep(5 * time.Millisecond)
			perHost[hostIdx].Add(-1)
			inflight.Add(-1)
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, maxInflight.Load(), int64(globalCap))
	for i := range hosts {
		assert.LessOrEqual(t, perHostPeaks[i].Load(), int64(hostCap), "host %s", hosts[i])
	}
}

func TestAcquireReleaseIsIdempotent(t *testing.T) {
	s := New(Config{GlobalMaxConcurrency: 1, PerHostConcurrency: 1}, newFakeClock())

	release, err := s.Acquire(context.Background(), "a.go.kr")
	require.NoError(t, err)
	release()
	release() // double release must not free a permit twice

	release2, err := s.Acquire(context.Background(), "a.go.kr")
	require.NoError(t, err)
	release2()
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	s := New(Config{GlobalMaxConcurrency: 1, PerHostConcurrency: 1}, newFakeClock())

	release, err := s.Acquire(context.Background(), "a.go.kr")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, "a.go.kr")
	require.Error(t, err)
}
