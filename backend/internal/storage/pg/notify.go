package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/itchan-dev/itchat/shared/config"
	"github.com/itchan-dev/itchat/shared/domain"
	"github.com/itchan-dev/itchat/shared/logger"
	sharedpg "github.com/itchan-dev/itchat/shared/storage/pg"

	"github.com/lib/pq"
)

const (
	changeChannel     = "messaging_changes"
	subscriberBuffer  = 32
	listenerPingEvery = 90 * time.Second
)

// changePayload mirrors the JSON built by notify_messaging_change.
type changePayload struct {
	Kind     string             `json:"kind"`
	ThreadId domain.ThreadId    `json:"thread_id"`
	Message  *domain.Message    `json:"message"`
	PollId   domain.PollId      `json:"poll_id"`
	Cursor   *domain.ReadCursor `json:"cursor"`
}

func decodeChange(payload string) (domain.ChangeEvent, error) {
	var p changePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("malformed change payload: %w", err)
	}
	kind, err := domain.ParseChangeKind(p.Kind)
	if err != nil {
		return domain.ChangeEvent{}, err
	}
	if p.ThreadId == "" {
		return domain.ChangeEvent{}, fmt.Errorf("change payload without thread_id")
	}
	ev := domain.ChangeEvent{Kind: kind, ThreadId: p.ThreadId}
	switch kind {
	case domain.MessageInsert:
		ev.Message = p.Message
	case domain.PollInsert, domain.VoteChange:
		ev.PollId = p.PollId
	case domain.ReadCursorChange:
		ev.Cursor = p.Cursor
	}
	return ev, nil
}

// ChangeFeed fans LISTEN notifications out to per-thread subscribers. One
// listener connection serves the whole process.
type ChangeFeed struct {
	listener *pq.Listener
	log      *slog.Logger

	mu     sync.Mutex
	subs   map[domain.ThreadId]map[chan domain.ChangeEvent]struct{}
	closed bool

	stop chan struct{}
	done chan struct{}
}

func newChangeFeed() *ChangeFeed {
	return &ChangeFeed{
		log:  logger.Component("change_feed"),
		subs: make(map[domain.ThreadId]map[chan domain.ChangeEvent]struct{}),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// NewChangeFeed opens a dedicated listener connection and starts dispatching.
func NewChangeFeed(pg config.Pg) (*ChangeFeed, error) {
	f := newChangeFeed()
	f.listener = pq.NewListener(sharedpg.ConnString(pg), time.Second, time.Minute, f.onListenerEvent)
	if err := f.listener.Listen(changeChannel); err != nil {
		f.listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", changeChannel, err)
	}
	go f.run()
	f.log.Info("listening for changes", "channel", changeChannel)
	return f, nil
}

func (f *ChangeFeed) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		f.log.Warn("listener disconnected", "error", err)
	case pq.ListenerEventReconnected:
		f.log.Info("listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		f.log.Warn("listener connection attempt failed", "error", err)
	}
}

func (f *ChangeFeed) run() {
	defer close(f.done)
	ping := time.NewTicker(listenerPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-f.stop:
			return
		case n, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnected; anything sent meanwhile is lost
				f.resync()
				continue
			}
			f.dispatch(n.Extra)
		case <-ping.C:
			if err := f.listener.Ping(); err != nil {
				f.log.Warn("listener ping failed", "error", err)
			}
		}
	}
}

func (f *ChangeFeed) dispatch(payload string) {
	ev, err := decodeChange(payload)
	if err != nil {
		f.log.Warn("dropping change notification", "error", err)
		return
	}
	f.deliver(ev)
}

// resync sends every subscriber a bare message insert, which makes the
// receiving view reconcile from the store.
func (f *ChangeFeed) resync() {
	f.mu.Lock()
	threads := make([]domain.ThreadId, 0, len(f.subs))
	for id := range f.subs {
		threads = append(threads, id)
	}
	f.mu.Unlock()
	for _, id := range threads {
		f.deliver(domain.ChangeEvent{Kind: domain.MessageInsert, ThreadId: id})
	}
}

func (f *ChangeFeed) deliver(ev domain.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[ev.ThreadId] {
		select {
		case ch <- ev:
		default:
			f.log.Warn("subscriber lagging, event dropped",
				"thread_id", ev.ThreadId,
				"kind", ev.Kind.String())
		}
	}
}

// Subscribe implements service.ChangeFeed.
func (f *ChangeFeed) Subscribe(ctx context.Context, threadId domain.ThreadId) (<-chan domain.ChangeEvent, error) {
	ch := make(chan domain.ChangeEvent, subscriberBuffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, fmt.Errorf("change feed is closed")
	}
	set, ok := f.subs[threadId]
	if !ok {
		set = make(map[chan domain.ChangeEvent]struct{})
		f.subs[threadId] = set
	}
	set[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-f.stop:
		}
		f.unsubscribe(threadId, ch)
	}()
	return ch, nil
}

func (f *ChangeFeed) unsubscribe(threadId domain.ThreadId, ch chan domain.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[threadId]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(f.subs, threadId)
	}
	close(ch)
}

// Ping checks the listener connection.
func (f *ChangeFeed) Ping(ctx context.Context) error {
	if f.listener == nil {
		return errors.New("change feed has no listener")
	}
	errCh := make(chan error, 1)
	go func() { errCh <- f.listener.Ping() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *ChangeFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	close(f.stop)
	if f.listener == nil {
		return nil
	}
	<-f.done
	return f.listener.Close()
}
