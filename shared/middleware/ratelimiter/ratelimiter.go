package ratelimiter

import (
	"sync"
	"time"
)

// bucket is a token bucket for one key.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

// Limiter keeps one token bucket per key (an actor id or a client ip).
// Buckets idle for longer than the expiration are swept.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     float64
	capacity float64
	expire   time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New refills rate tokens per second up to capacity.
func New(rate, capacity float64, expire time.Duration) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		capacity: capacity,
		expire:   expire,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// PerMinute allows n requests per minute with a burst of n.
func PerMinute(n int) *Limiter {
	return New(float64(n)/60, float64(n), time.Hour)
}

// PerSecond allows n requests per second with a burst of n.
func PerSecond(n int) *Limiter {
	return New(float64(n), float64(n), time.Hour)
}

func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}
	b.lastSeen = now

	b.tokens += now.Sub(b.lastRefill).Seconds() * l.rate
	if b.tokens > l.capacity {
		b.tokens = l.capacity
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.expire)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.expire)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Stop ends the sweeper. Allow keeps working afterwards.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
