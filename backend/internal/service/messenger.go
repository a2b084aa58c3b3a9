package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/itchan-dev/itchat/shared/config"
	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
	"github.com/itchan-dev/itchat/shared/logger"
)

type Config struct {
	PollRefreshInterval      time.Duration
	BlockListRefreshInterval time.Duration
	IdleTimeout              time.Duration
	PreviewLength            int
	MaxAttachmentSize        int64
	MaxPollOptions           int
}

func ConfigFrom(p config.Public) Config {
	return Config{
		PollRefreshInterval:      p.PollRefreshInterval,
		BlockListRefreshInterval: p.BlockListRefreshInterval,
		IdleTimeout:              p.MessengerIdleTimeout,
		PreviewLength:            p.PreviewLength,
		MaxAttachmentSize:        p.MaxAttachmentSize,
		MaxPollOptions:           p.MaxPollOptions,
	}
}

type Deps struct {
	Storage Storage
	Media   MediaStorage
	Feed    ChangeFeed
}

// Messenger holds one actor's messaging session: the stream caches, the
// directory, drafts, the block list and in-flight operations.
type Messenger struct {
	actor   domain.UserId
	cfg     Config
	storage Storage
	media   MediaStorage
	feed    ChangeFeed
	log     *slog.Logger

	blocks     *BlockList
	directory  *Directory
	polls      *Polls
	receipts   *ReadReceipts
	recipients *Recipients
	ops        *operations

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	streams map[domain.ThreadId]*Stream
	views   map[domain.ThreadId]*ThreadView
	threads []domain.ThreadSummary
	drafts  map[domain.ThreadId]string
}

func NewMessenger(actor domain.UserId, deps Deps, cfg Config) *Messenger {
	blocks := NewBlockList(deps.Storage, actor)
	ctx, cancel := context.WithCancel(context.Background())
	return &Messenger{
		actor:      actor,
		cfg:        cfg,
		storage:    deps.Storage,
		media:      deps.Media,
		feed:       deps.Feed,
		log:        logger.Component("messenger").With("actor", actor),
		blocks:     blocks,
		directory:  NewDirectory(deps.Storage, deps.Storage, blocks, cfg.PreviewLength),
		polls:      NewPolls(deps.Storage, deps.Storage, cfg.MaxPollOptions),
		receipts:   NewReadReceipts(deps.Storage),
		recipients: NewRecipients(deps.Storage),
		ops:        newOperations(),
		ctx:        ctx,
		cancel:     cancel,
		streams:    make(map[domain.ThreadId]*Stream),
		views:      make(map[domain.ThreadId]*ThreadView),
		drafts:     make(map[domain.ThreadId]string),
	}
}

// Start loads the block list and keeps it fresh until Close.
func (m *Messenger) Start(ctx context.Context) error {
	if err := m.blocks.Update(ctx); err != nil {
		return err
	}
	if m.cfg.BlockListRefreshInterval > 0 {
		m.blocks.StartBackgroundUpdate(m.ctx, m.cfg.BlockListRefreshInterval)
	}
	return nil
}

// Close stops every open thread view and background refresh.
func (m *Messenger) Close() {
	m.mu.Lock()
	views := make([]*ThreadView, 0, len(m.views))
	for _, v := range m.views {
		views = append(views, v)
	}
	m.mu.Unlock()
	for _, v := range views {
		v.Close()
	}
	m.cancel()
}

func (m *Messenger) Actor() domain.UserId { return m.actor }

func (m *Messenger) openViews() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

func (m *Messenger) Blocks() *BlockList { return m.blocks }

// BlockedUsers lists who the actor has blocked.
func (m *Messenger) BlockedUsers() []domain.UserId { return m.blocks.Blocked() }

func (m *Messenger) stream(threadId domain.ThreadId) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[threadId]
	if !ok {
		s = newStream(threadId)
		m.streams[threadId] = s
	}
	return s
}

func (m *Messenger) existingStream(threadId domain.ThreadId) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[threadId]
}

func (m *Messenger) allStreams() []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	return out
}

// ListThreads refreshes and returns the thread directory.
func (m *Messenger) ListThreads(ctx context.Context) ([]domain.ThreadSummary, error) {
	threads, err := m.directory.List(ctx, m.actor)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.threads = append([]domain.ThreadSummary(nil), threads...)
	m.mu.Unlock()
	return threads, nil
}

// Threads returns the directory as last listed, adjusted by local sends and
// blocks since then.
func (m *Messenger) Threads() []domain.ThreadSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ThreadSummary(nil), m.threads...)
}

func (m *Messenger) StartDirect(ctx context.Context, target domain.UserId) (*domain.Thread, error) {
	return m.directory.StartDirect(ctx, m.actor, target)
}

func (m *Messenger) CreateGroup(ctx context.Context, title domain.ThreadTitle, members []domain.UserId) (*domain.Thread, error) {
	return m.directory.CreateGroup(ctx, m.actor, title, members)
}

func (m *Messenger) SearchRecipients(ctx context.Context, query string) ([]domain.Recipient, error) {
	return m.recipients.Search(ctx, m.actor, query)
}

// LoadMessages reconciles the thread's cache with the store and returns it.
func (m *Messenger) LoadMessages(ctx context.Context, threadId domain.ThreadId) ([]domain.Message, error) {
	return m.reconcile(ctx, threadId, triggerExplicit)
}

// Messages returns the cached stream without touching the store.
func (m *Messenger) Messages(threadId domain.ThreadId) []domain.Message {
	if s := m.existingStream(threadId); s != nil {
		return s.Snapshot()
	}
	return []domain.Message{}
}

// fetch builds the visible list: raw rows newest first, blocked senders
// dropped, polls resolved, read receipts derived against the raw batch.
// newest is the head of the raw batch, hidden or not.
func (m *Messenger) fetch(ctx context.Context, threadId domain.ThreadId) (visible []domain.Message, newest domain.MsgId, err error) {
	raw, err := m.storage.ListMessages(ctx, threadId, m.actor)
	if err != nil {
		return nil, "", internal_errors.Transport("fetch messages", err)
	}
	if len(raw) > 0 {
		newest = raw[0].Id
	}

	visible = make([]domain.Message, 0, len(raw))
	for _, msg := range raw {
		if msg.SenderId != m.actor && m.blocks.IsBlocked(msg.SenderId) {
			continue
		}
		msg.State = domain.Committed
		visible = append(visible, msg)
	}

	if err := m.polls.Resolve(ctx, visible, m.actor); err != nil {
		return nil, "", err
	}

	cursors, err := m.receipts.Cursors(ctx, threadId)
	if err != nil {
		return nil, "", err
	}
	readBy := deriveReadBy(raw, cursors, m.actor)
	for i := range visible {
		visible[i].ReadBy = readBy[visible[i].Id]
	}
	return visible, newest, nil
}

// reconcile only creates a cache for the thread once the store has let the
// actor read it.
func (m *Messenger) reconcile(ctx context.Context, threadId domain.ThreadId, trigger string) ([]domain.Message, error) {
	visible, newest, err := m.fetch(ctx, threadId)
	if err != nil {
		reconcileTotal.WithLabelValues(trigger, "error").Inc()
		return nil, err
	}
	reconcileTotal.WithLabelValues(trigger, "ok").Inc()

	s := m.stream(threadId)
	if newest != "" {
		m.markNewest(ctx, s, newest)
	}
	if !s.merge(visible) {
		return visible, nil
	}
	return s.Snapshot(), nil
}

// markNewest advances the actor's cursor once per new head message. A failed
// write is logged and retried on the next reconciliation.
func (m *Messenger) markNewest(ctx context.Context, s *Stream, msgId domain.MsgId) {
	if !s.markReadOnce(msgId) {
		return
	}
	if err := m.receipts.MarkRead(ctx, s.ThreadId(), m.actor, msgId); err != nil {
		s.clearReadMark(msgId)
		m.log.Warn("failed to mark thread read",
			"thread_id", s.ThreadId(),
			"message_id", msgId,
			"error", err)
		return
	}
	m.mu.Lock()
	for i := range m.threads {
		if m.threads[i].Id == s.ThreadId() {
			m.threads[i].Unread = false
		}
	}
	m.mu.Unlock()
}

// MarkRead moves the actor's cursor explicitly.
func (m *Messenger) MarkRead(ctx context.Context, threadId domain.ThreadId, msgId domain.MsgId) error {
	if err := m.receipts.MarkRead(ctx, threadId, m.actor, msgId); err != nil {
		return err
	}
	if s := m.existingStream(threadId); s != nil {
		s.markReadOnce(msgId)
	}
	return nil
}

// HandleEvent applies a push notification. Events only matter for threads
// with a cached stream; they end in an authoritative reconciliation.
func (m *Messenger) HandleEvent(ctx context.Context, ev domain.ChangeEvent) error {
	pushEventsTotal.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case domain.MessageInsert:
		if ev.Message != nil {
			msg := *ev.Message
			if msg.SenderId != m.actor && m.blocks.IsBlocked(msg.SenderId) {
				return nil
			}
			m.noteLastMessage(msg)
			if s := m.existingStream(ev.ThreadId); s != nil {
				s.mergeOne(msg)
			}
		}
	case domain.PollInsert, domain.VoteChange:
	case domain.ReadCursorChange:
		// our own cursor writes echo back here
		if ev.Cursor != nil && ev.Cursor.UserId == m.actor {
			return nil
		}
	default:
		return &internal_errors.ValidationError{Message: "unknown change kind " + ev.Kind.String()}
	}

	if m.existingStream(ev.ThreadId) == nil {
		return nil
	}
	if _, err := m.reconcile(ctx, ev.ThreadId, ev.Kind.String()); err != nil {
		m.log.Warn("background reconciliation failed",
			"thread_id", ev.ThreadId,
			"kind", ev.Kind.String(),
			"error", err)
		return err
	}
	return nil
}

// noteLastMessage keeps the cached directory row in step with a new message.
func (m *Messenger) noteLastMessage(msg domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.threads {
		sum := &m.threads[i]
		if sum.Id != msg.ThreadId {
			continue
		}
		if sum.LastMessage != nil && sum.LastMessage.CreatedAt.After(msg.CreatedAt) {
			return
		}
		last := msg
		last.Local = false
		sum.LastMessage = &last
		sum.Preview = m.directory.preview(&last)
		sum.Unread = msg.SenderId != m.actor
		sortSummaries(m.threads)
		return
	}
}

// Draft returns the unsent text kept for a thread.
func (m *Messenger) Draft(threadId domain.ThreadId) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drafts[threadId]
}

func (m *Messenger) SetDraft(threadId domain.ThreadId, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if text == "" {
		delete(m.drafts, threadId)
		return
	}
	m.drafts[threadId] = text
}

// restoreDraft puts text back unless the user has typed something new.
func (m *Messenger) restoreDraft(threadId domain.ThreadId, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drafts[threadId] == "" && text != "" {
		m.drafts[threadId] = text
	}
}

// PendingOperations lists optimistic operations still waiting on the store.
func (m *Messenger) PendingOperations() []Operation {
	return m.ops.snapshot()
}

// Vote toggles optionId on a poll. A thread without the poll in its cache is
// loaded first. The cache flips first; a failed write restores it, and a
// uniqueness conflict also re-fetches.
func (m *Messenger) Vote(ctx context.Context, threadId domain.ThreadId, pollId domain.PollId, optionId domain.OptionId) error {
	s := m.existingStream(threadId)
	if s == nil || !s.holdsPoll(pollId) {
		if _, err := m.reconcile(ctx, threadId, triggerExplicit); err != nil {
			return err
		}
		s = m.stream(threadId)
	}
	req, undo, err := s.toggleVote(pollId, optionId)
	if err != nil {
		return err
	}

	op := m.ops.begin(OpVote, threadId)
	if err := m.polls.Vote(ctx, m.actor, req); err != nil {
		undo()
		m.ops.finish(op, domain.RolledBack, err)
		m.log.Warn("vote rolled back",
			"thread_id", threadId,
			"poll_id", pollId,
			"option_id", optionId,
			"error", err)
		if internal_errors.Is[*internal_errors.ConflictError](err) {
			if _, rerr := m.reconcile(ctx, threadId, triggerExplicit); rerr != nil {
				m.log.Warn("reconciliation after vote conflict failed", "thread_id", threadId, "error", rerr)
			}
		}
		return err
	}
	m.ops.finish(op, domain.Committed, nil)
	return nil
}

// Block hides target everywhere at once and persists the edge. A failed
// write brings everything back.
func (m *Messenger) Block(ctx context.Context, target domain.UserId) error {
	if target == "" || target == m.actor {
		return &internal_errors.ValidationError{Message: "cannot block yourself"}
	}
	op := m.ops.begin(OpBlock, "")
	added := m.blocks.add(target)

	purged := make(map[*Stream][]*domain.Message)
	for _, s := range m.allStreams() {
		if removed := s.purgeSender(target); len(removed) > 0 {
			purged[s] = removed
		}
	}
	hidden := m.hideDirectThreads(target)

	if err := m.blocks.persistBlock(ctx, target); err != nil {
		if added {
			m.blocks.remove(target)
		}
		for s, msgs := range purged {
			s.restore(msgs)
		}
		m.restoreThreads(hidden)
		m.ops.finish(op, domain.RolledBack, err)
		m.log.Warn("block rolled back", "target", target, "error", err)
		return err
	}
	m.ops.finish(op, domain.Committed, nil)
	m.log.Info("user blocked", "target", target)
	return nil
}

// Unblock removes the edge. Hidden content returns with the next
// reconciliation of each cached thread.
func (m *Messenger) Unblock(ctx context.Context, target domain.UserId) error {
	op := m.ops.begin(OpUnblock, "")
	removed := m.blocks.remove(target)
	if err := m.blocks.persistUnblock(ctx, target); err != nil {
		if removed {
			m.blocks.add(target)
		}
		m.ops.finish(op, domain.RolledBack, err)
		return err
	}
	m.ops.finish(op, domain.Committed, nil)
	m.log.Info("user unblocked", "target", target)

	for _, s := range m.allStreams() {
		if _, err := m.reconcile(ctx, s.ThreadId(), triggerExplicit); err != nil {
			m.log.Warn("reconciliation after unblock failed", "thread_id", s.ThreadId(), "error", err)
		}
	}
	return nil
}

func (m *Messenger) hideDirectThreads(target domain.UserId) []domain.ThreadSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hidden []domain.ThreadSummary
	kept := m.threads[:0]
	for _, t := range m.threads {
		if other, ok := t.OtherParticipant(m.actor); ok && other == target {
			hidden = append(hidden, t)
			continue
		}
		kept = append(kept, t)
	}
	m.threads = kept
	return hidden
}

func (m *Messenger) restoreThreads(hidden []domain.ThreadSummary) {
	if len(hidden) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = append(m.threads, hidden...)
	sortSummaries(m.threads)
}
