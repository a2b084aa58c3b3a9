package service

import (
	"sync"

	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
)

// Stream is the cached message list of one thread, newest first. All
// mutations go through mutate so the change hook sees every state and a
// closed stream silently drops late results.
type Stream struct {
	threadId domain.ThreadId

	mu       sync.Mutex
	messages []*domain.Message
	closed   bool
	readMark domain.MsgId
	onChange func([]domain.Message)
}

func newStream(threadId domain.ThreadId) *Stream {
	return &Stream{threadId: threadId}
}

func (s *Stream) ThreadId() domain.ThreadId { return s.threadId }

// Snapshot returns a deep copy safe to hand to callers.
func (s *Stream) Snapshot() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Stream) snapshotLocked() []domain.Message {
	out := make([]domain.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m.Clone()
	}
	return out
}

func (s *Stream) setOnChange(fn func([]domain.Message)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// mutate runs fn under the lock unless the stream is closed. fn reports
// whether it changed anything; the hook fires outside the lock.
func (s *Stream) mutate(fn func() bool) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	changed := fn()
	hook := s.onChange
	var snap []domain.Message
	if changed && hook != nil {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if changed && hook != nil {
		hook(snap)
	}
	return true
}

func (s *Stream) close() {
	s.mu.Lock()
	s.closed = true
	s.onChange = nil
	s.mu.Unlock()
}

func (s *Stream) indexOf(id domain.MsgId) int {
	for i, m := range s.messages {
		if m.Id == id {
			return i
		}
	}
	return -1
}

func (s *Stream) removeAt(i int) {
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
}

// keepPoll: an incoming row with nothing to show must not erase a poll
// already displayed for the same id. Push notifications announce poll
// messages before the poll rows are committed.
func keepPoll(incoming, cached *domain.Message) {
	if incoming.IsEmptyShell() && cached.Poll != nil {
		incoming.Poll = cached.Poll.Clone()
	}
}

// merge replaces the cache with an authoritative snapshot. Local entries the
// snapshot does not contain yet stay on top in their current order.
func (s *Stream) merge(fresh []domain.Message) bool {
	return s.mutate(func() bool {
		cached := make(map[domain.MsgId]*domain.Message, len(s.messages))
		for _, c := range s.messages {
			cached[c.Id] = c
		}
		inFresh := make(map[domain.MsgId]bool, len(fresh))
		for i := range fresh {
			inFresh[fresh[i].Id] = true
		}

		next := make([]*domain.Message, 0, len(fresh)+len(s.messages))
		for _, c := range s.messages {
			if c.Local && !inFresh[c.Id] {
				next = append(next, c)
			}
		}
		for i := range fresh {
			f := fresh[i].Clone()
			f.Local = false
			if c, ok := cached[f.Id]; ok {
				keepPoll(f, c)
			}
			next = append(next, f)
		}
		s.messages = next
		return true
	})
}

// mergeOne applies a single pushed row under the same poll rule.
func (s *Stream) mergeOne(msg domain.Message) bool {
	return s.mutate(func() bool {
		incoming := msg.Clone()
		if i := s.indexOf(incoming.Id); i >= 0 {
			cached := s.messages[i]
			keepPoll(incoming, cached)
			incoming.ReadBy = cached.ReadBy
			incoming.Local = cached.Local
			incoming.State = cached.State
			s.messages[i] = incoming
			return true
		}
		s.insertSorted(incoming)
		return true
	})
}

// insertSorted places m by creation time below any pending placeholders.
func (s *Stream) insertSorted(m *domain.Message) {
	i := 0
	for i < len(s.messages) && s.messages[i].State == domain.Pending {
		i++
	}
	for i < len(s.messages) && !s.messages[i].CreatedAt.Before(m.CreatedAt) {
		i++
	}
	s.messages = append(s.messages, nil)
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
}

func (s *Stream) insertPlaceholder(m *domain.Message) bool {
	return s.mutate(func() bool {
		s.messages = append([]*domain.Message{m}, s.messages...)
		return true
	})
}

// commit swaps the placeholder for the stored row in place, keeping its
// position. A copy of the same row that arrived by push is dropped.
func (s *Stream) commit(tempId domain.MsgId, stored *domain.Message, state domain.OpState) bool {
	return s.mutate(func() bool {
		i := s.indexOf(tempId)
		if i < 0 {
			return false
		}
		next := stored.Clone()
		next.State = state
		next.Local = true
		if dup := s.indexOf(stored.Id); dup >= 0 {
			keepPoll(next, s.messages[dup])
			s.removeAt(dup)
			if dup < i {
				i--
			}
		}
		s.messages[i] = next
		return true
	})
}

func (s *Stream) rollback(tempId domain.MsgId) bool {
	return s.mutate(func() bool {
		i := s.indexOf(tempId)
		if i < 0 {
			return false
		}
		s.removeAt(i)
		return true
	})
}

// purgeSender removes every message from userId and returns them.
func (s *Stream) purgeSender(userId domain.UserId) []*domain.Message {
	var removed []*domain.Message
	s.mutate(func() bool {
		kept := s.messages[:0]
		for _, m := range s.messages {
			if m.SenderId == userId {
				removed = append(removed, m)
				continue
			}
			kept = append(kept, m)
		}
		s.messages = kept
		return len(removed) > 0
	})
	return removed
}

// restore puts back messages removed by purgeSender.
func (s *Stream) restore(msgs []*domain.Message) {
	if len(msgs) == 0 {
		return
	}
	s.mutate(func() bool {
		for _, m := range msgs {
			if s.indexOf(m.Id) < 0 {
				s.insertSorted(m)
			}
		}
		return true
	})
}

func (s *Stream) findPoll(pollId domain.PollId) *domain.Message {
	for _, m := range s.messages {
		if m.Poll != nil && m.Poll.Id == pollId {
			return m
		}
	}
	return nil
}

func (s *Stream) holdsPoll(pollId domain.PollId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findPoll(pollId) != nil
}

// toggleVote applies the optimistic vote and returns the write plan plus an
// undo that puts the pre-vote poll back.
func (s *Stream) toggleVote(pollId domain.PollId, optionId domain.OptionId) (VoteRequest, func(), error) {
	var (
		req  VoteRequest
		prev *domain.Poll
		err  error
	)
	applied := s.mutate(func() bool {
		m := s.findPoll(pollId)
		if m == nil {
			err = &internal_errors.NotFoundError{Entity: "poll", Id: pollId}
			return false
		}
		if m.State != domain.Committed {
			err = &internal_errors.ValidationError{Message: "poll is not saved yet"}
			return false
		}
		prev = m.Poll.Clone()
		req, err = applyVote(m.Poll, optionId)
		return err == nil
	})
	if !applied {
		return req, nil, &internal_errors.NotFoundError{Entity: "poll", Id: pollId}
	}
	if err != nil {
		return req, nil, err
	}
	undo := func() {
		s.mutate(func() bool {
			m := s.findPoll(pollId)
			if m == nil {
				return false
			}
			m.Poll = prev.Clone()
			return true
		})
	}
	return req, undo, nil
}

func (s *Stream) hasPoll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.Poll != nil {
			return true
		}
	}
	return false
}

// markReadOnce reports whether id differs from the last cursor written.
func (s *Stream) markReadOnce(id domain.MsgId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readMark == id {
		return false
	}
	s.readMark = id
	return true
}

func (s *Stream) clearReadMark(id domain.MsgId) {
	s.mu.Lock()
	if s.readMark == id {
		s.readMark = ""
	}
	s.mu.Unlock()
}
