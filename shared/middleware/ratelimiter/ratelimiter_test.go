package ratelimiter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(rate, capacity float64) (*Limiter, *clock) {
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(rate, capacity, time.Hour)
	l.now = c.Now
	return l, c
}

func TestAllow(t *testing.T) {
	t.Run("burst up to capacity", func(t *testing.T) {
		l, _ := newTestLimiter(1, 3)
		defer l.Stop()

		for i := 0; i < 3; i++ {
			assert.True(t, l.Allow("a"), "request %d", i)
		}
		assert.False(t, l.Allow("a"))
	})

	t.Run("refills over time", func(t *testing.T) {
		l, c := newTestLimiter(1, 1)
		defer l.Stop()

		require.True(t, l.Allow("a"))
		require.False(t, l.Allow("a"))
		c.Advance(1500 * time.Millisecond)
		assert.True(t, l.Allow("a"))
		assert.False(t, l.Allow("a"))
	})

	t.Run("does not exceed capacity", func(t *testing.T) {
		l, c := newTestLimiter(1, 2)
		defer l.Stop()

		c.Advance(time.Hour)
		assert.True(t, l.Allow("a"))
		assert.True(t, l.Allow("a"))
		assert.False(t, l.Allow("a"))
	})

	t.Run("keys are independent", func(t *testing.T) {
		l, _ := newTestLimiter(1, 1)
		defer l.Stop()

		assert.True(t, l.Allow("a"))
		assert.False(t, l.Allow("a"))
		assert.True(t, l.Allow("b"))
	})

	t.Run("concurrent access", func(t *testing.T) {
		l, _ := newTestLimiter(0, 50)
		defer l.Stop()

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.Allow("a") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 50, allowed)
	})
}

func TestSweep(t *testing.T) {
	l, c := newTestLimiter(1, 1)
	defer l.Stop()

	l.Allow("old")
	c.Advance(30 * time.Minute)
	l.Allow("fresh")
	c.Advance(45 * time.Minute)
	l.sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "old")
	assert.Contains(t, l.buckets, "fresh")
}

func TestStopTwice(t *testing.T) {
	l := PerSecond(1)
	l.Stop()
	assert.NotPanics(t, l.Stop)
	assert.True(t, l.Allow("a"))
}
