package service

import (
	"context"
	"sync"
	"time"

	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
)

// ThreadView is an open thread: it follows push events for the thread and,
// while a poll is on screen, re-fetches on a timer so vote counts move.
type ThreadView struct {
	m        *Messenger
	threadId domain.ThreadId
	stream   *Stream
	events   <-chan domain.ChangeEvent
	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}

	closeOnce sync.Once
}

// OpenThread loads the thread and starts following it. onChange, if set,
// receives every new state of the stream. An already open view of the same
// thread is closed first.
func (m *Messenger) OpenThread(ctx context.Context, threadId domain.ThreadId, onChange func([]domain.Message)) (*ThreadView, error) {
	m.mu.Lock()
	old := m.views[threadId]
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}

	s := m.stream(threadId)
	v := &ThreadView{
		m:        m,
		threadId: threadId,
		stream:   s,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.setOnChange(func(msgs []domain.Message) {
		if onChange != nil {
			onChange(msgs)
		}
		select {
		case v.wake <- struct{}{}:
		default:
		}
	})

	if _, err := m.reconcile(ctx, threadId, triggerExplicit); err != nil {
		s.setOnChange(nil)
		return nil, err
	}

	vctx, cancel := context.WithCancel(m.ctx)
	events, err := m.feed.Subscribe(vctx, threadId)
	if err != nil {
		cancel()
		s.setOnChange(nil)
		return nil, internal_errors.Transport("subscribe to thread", err)
	}
	v.events = events
	v.cancel = cancel

	m.mu.Lock()
	m.views[threadId] = v
	m.mu.Unlock()

	go v.run(vctx)
	m.log.Debug("thread view opened", "thread_id", threadId)
	return v, nil
}

func (v *ThreadView) ThreadId() domain.ThreadId { return v.threadId }

func (v *ThreadView) Messages() []domain.Message { return v.stream.Snapshot() }

// Done is closed once the view stops following the thread.
func (v *ThreadView) Done() <-chan struct{} { return v.done }

func (v *ThreadView) run(ctx context.Context) {
	defer close(v.done)

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	// the timer only runs while a poll is visible
	syncTimer := func() {
		polls := v.stream.hasPoll()
		switch {
		case polls && ticker == nil && v.m.cfg.PollRefreshInterval > 0:
			ticker = time.NewTicker(v.m.cfg.PollRefreshInterval)
			tick = ticker.C
		case !polls && ticker != nil:
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	syncTimer()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-v.events:
			if !ok {
				return
			}
			_ = v.m.HandleEvent(ctx, ev)
		case <-tick:
			if _, err := v.m.reconcile(ctx, v.threadId, triggerTimer); err != nil && ctx.Err() == nil {
				v.m.log.Warn("poll refresh failed", "thread_id", v.threadId, "error", err)
			}
		case <-v.wake:
		}
		syncTimer()
	}
}

// Close stops the view and drops the thread's cache. Writes still in flight
// complete in the store, but their results no longer reach the cache.
func (v *ThreadView) Close() {
	v.closeOnce.Do(func() {
		if v.cancel != nil {
			v.cancel()
			<-v.done
		}
		m := v.m
		m.mu.Lock()
		if m.views[v.threadId] == v {
			delete(m.views, v.threadId)
		}
		if m.streams[v.threadId] == v.stream {
			delete(m.streams, v.threadId)
		}
		m.mu.Unlock()
		v.stream.close()
		m.log.Debug("thread view closed", "thread_id", v.threadId)
	})
}
