package service

import (
	"context"
	"sync"
	"time"

	"github.com/itchan-dev/itchat/shared/domain"
	"github.com/itchan-dev/itchat/shared/logger"
)

type registryEntry struct {
	m        *Messenger
	lastUsed time.Time
}

// Registry hands out one Messenger per actor for the HTTP layer. A messenger
// with no open thread view is closed once unused for cfg.IdleTimeout.
type Registry struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	mu      sync.Mutex
	entries map[domain.UserId]*registryEntry

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRegistry(deps Deps, cfg Config) *Registry {
	r := &Registry{
		deps:    deps,
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[domain.UserId]*registryEntry),
		stop:    make(chan struct{}),
	}
	if cfg.IdleTimeout > 0 {
		go r.evictLoop(cfg.IdleTimeout / 2)
	}
	return r
}

// For returns the actor's messenger, starting it on first use.
func (r *Registry) For(ctx context.Context, actor domain.UserId) (*Messenger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[actor]; ok {
		e.lastUsed = r.now()
		return e.m, nil
	}
	m := NewMessenger(actor, r.deps, r.cfg)
	if err := m.Start(ctx); err != nil {
		m.Close()
		return nil, err
	}
	r.entries[actor] = &registryEntry{m: m, lastUsed: r.now()}
	logger.Log.Debug("messenger started", "component", "registry", "actor", actor)
	return m, nil
}

// Len reports how many messengers are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) evictLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

// evictIdle closes messengers unused for longer than the idle timeout. An
// open thread view keeps its messenger alive.
func (r *Registry) evictIdle() {
	r.mu.Lock()
	cutoff := r.now().Add(-r.cfg.IdleTimeout)
	var idle []*Messenger
	for actor, e := range r.entries {
		if e.lastUsed.After(cutoff) || e.m.openViews() > 0 {
			continue
		}
		delete(r.entries, actor)
		idle = append(idle, e.m)
	}
	r.mu.Unlock()

	for _, m := range idle {
		m.Close()
		logger.Log.Debug("messenger evicted", "component", "registry", "actor", m.Actor())
	}
}

// Close stops eviction and every messenger. It is safe to call twice.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	ms := make([]*Messenger, 0, len(r.entries))
	for _, e := range r.entries {
		ms = append(ms, e.m)
	}
	r.entries = make(map[domain.UserId]*registryEntry)
	r.mu.Unlock()
	for _, m := range ms {
		m.Close()
	}
}
