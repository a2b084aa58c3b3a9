package service

import (
	"testing"
	"time"

	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id domain.MsgId, sender domain.UserId, body string, sec int) domain.Message {
	return domain.Message{Id: id, ThreadId: "t1", SenderId: sender, Body: body, CreatedAt: t0.Add(time.Duration(sec) * time.Second)}
}

func ids(msgs []domain.Message) []domain.MsgId {
	out := make([]domain.MsgId, len(msgs))
	for i, m := range msgs {
		out[i] = m.Id
	}
	return out
}

func pollFor(msgId domain.MsgId, options ...string) *domain.Poll {
	p := &domain.Poll{Id: "p-" + msgId, MessageId: msgId, Question: "Lunch?"}
	for i, o := range options {
		p.Options = append(p.Options, domain.PollOption{Id: domain.OptionId(o), PollId: p.Id, Position: i, Text: o})
	}
	return p
}

func TestStream_Merge(t *testing.T) {
	t.Run("authoritative order replaces cache", func(t *testing.T) {
		s := newStream("t1")
		require.True(t, s.merge([]domain.Message{msgAt("m2", "u1", "b", 2), msgAt("m1", "u1", "a", 1)}))
		s.merge([]domain.Message{msgAt("m3", "u2", "c", 3), msgAt("m2", "u1", "b", 2), msgAt("m1", "u1", "a", 1)})
		assert.Equal(t, []domain.MsgId{"m3", "m2", "m1"}, ids(s.Snapshot()))
	})

	t.Run("unconfirmed local entries stay on top", func(t *testing.T) {
		s := newStream("t1")
		s.merge([]domain.Message{msgAt("m1", "u1", "a", 1)})
		p := &domain.Message{Id: "tmp-1", SenderId: "u1", Body: "hi", State: domain.Pending, Local: true}
		s.insertPlaceholder(p)

		s.merge([]domain.Message{msgAt("m2", "u2", "b", 2), msgAt("m1", "u1", "a", 1)})
		snap := s.Snapshot()
		assert.Equal(t, []domain.MsgId{"tmp-1", "m2", "m1"}, ids(snap))
		assert.Equal(t, domain.Pending, snap[0].State)
	})

	t.Run("committed local entry is replaced once the store returns it", func(t *testing.T) {
		s := newStream("t1")
		s.insertPlaceholder(&domain.Message{Id: "tmp-1", Body: "hi", State: domain.Pending, Local: true})
		stored := msgAt("m5", "u1", "hi", 5)
		s.commit("tmp-1", &stored, domain.Committed)

		s.merge([]domain.Message{msgAt("m6", "u2", "x", 6)})
		assert.Equal(t, []domain.MsgId{"m5", "m6"}, ids(s.Snapshot()))

		s.merge([]domain.Message{msgAt("m6", "u2", "x", 6), msgAt("m5", "u1", "hi", 5)})
		snap := s.Snapshot()
		assert.Equal(t, []domain.MsgId{"m6", "m5"}, ids(snap))
		assert.False(t, snap[1].Local)
	})

	t.Run("empty shell keeps cached poll", func(t *testing.T) {
		s := newStream("t1")
		withPoll := msgAt("m1", "u1", "", 1)
		withPoll.Poll = pollFor("m1", "Yes", "No")
		s.merge([]domain.Message{withPoll})

		s.merge([]domain.Message{msgAt("m1", "u1", "", 1)})
		snap := s.Snapshot()
		require.NotNil(t, snap[0].Poll)
		assert.Equal(t, "Lunch?", snap[0].Poll.Question)
	})

	t.Run("fresh poll wins over cached poll", func(t *testing.T) {
		s := newStream("t1")
		cached := msgAt("m1", "u1", "", 1)
		cached.Poll = pollFor("m1", "Yes", "No")
		s.merge([]domain.Message{cached})

		fresh := msgAt("m1", "u1", "", 1)
		fresh.Poll = pollFor("m1", "Yes", "No")
		fresh.Poll.Options[0].VoteCount = 3
		s.merge([]domain.Message{fresh})
		assert.Equal(t, 3, s.Snapshot()[0].Poll.Options[0].VoteCount)
	})

	t.Run("message with body does not inherit a poll", func(t *testing.T) {
		s := newStream("t1")
		cached := msgAt("m1", "u1", "", 1)
		cached.Poll = pollFor("m1", "Yes", "No")
		s.merge([]domain.Message{cached})

		s.merge([]domain.Message{msgAt("m1", "u1", "edited", 1)})
		assert.Nil(t, s.Snapshot()[0].Poll)
	})
}

func TestStream_MergeOne(t *testing.T) {
	t.Run("new row is placed by time below pending entries", func(t *testing.T) {
		s := newStream("t1")
		s.merge([]domain.Message{msgAt("m3", "u1", "c", 3), msgAt("m1", "u1", "a", 1)})
		s.insertPlaceholder(&domain.Message{Id: "tmp-1", State: domain.Pending, Local: true, CreatedAt: t0})

		s.mergeOne(msgAt("m2", "u2", "b", 2))
		assert.Equal(t, []domain.MsgId{"tmp-1", "m3", "m2", "m1"}, ids(s.Snapshot()))
	})

	t.Run("push of a known poll message keeps the poll", func(t *testing.T) {
		s := newStream("t1")
		cached := msgAt("m1", "u1", "", 1)
		cached.Poll = pollFor("m1", "Yes", "No")
		cached.ReadBy = []domain.UserId{"u2"}
		s.merge([]domain.Message{cached})

		s.mergeOne(msgAt("m1", "u1", "", 1))
		snap := s.Snapshot()
		require.Len(t, snap, 1)
		require.NotNil(t, snap[0].Poll)
		assert.Equal(t, []domain.UserId{"u2"}, snap[0].ReadBy)
	})
}

func TestStream_CommitAndRollback(t *testing.T) {
	t.Run("commit keeps position", func(t *testing.T) {
		s := newStream("t1")
		s.merge([]domain.Message{msgAt("m1", "u1", "a", 1)})
		s.insertPlaceholder(&domain.Message{Id: "tmp-1", Body: "hi", State: domain.Pending, Local: true})

		stored := msgAt("m2", "u1", "hi", 2)
		require.True(t, s.commit("tmp-1", &stored, domain.Committed))
		snap := s.Snapshot()
		assert.Equal(t, []domain.MsgId{"m2", "m1"}, ids(snap))
		assert.Equal(t, domain.Committed, snap[0].State)
	})

	t.Run("commit drops a pushed duplicate", func(t *testing.T) {
		s := newStream("t1")
		s.insertPlaceholder(&domain.Message{Id: "tmp-1", Body: "hi", State: domain.Pending, Local: true})
		s.mergeOne(msgAt("m2", "u1", "hi", 2))
		assert.Len(t, s.Snapshot(), 2)

		stored := msgAt("m2", "u1", "hi", 2)
		s.commit("tmp-1", &stored, domain.Committed)
		assert.Equal(t, []domain.MsgId{"m2"}, ids(s.Snapshot()))
	})

	t.Run("rollback removes placeholder", func(t *testing.T) {
		s := newStream("t1")
		s.insertPlaceholder(&domain.Message{Id: "tmp-1", State: domain.Pending, Local: true})
		assert.True(t, s.rollback("tmp-1"))
		assert.Empty(t, s.Snapshot())
		assert.False(t, s.rollback("tmp-1"))
	})
}

func TestStream_PurgeAndRestore(t *testing.T) {
	s := newStream("t1")
	s.merge([]domain.Message{msgAt("m3", "u2", "c", 3), msgAt("m2", "u1", "b", 2), msgAt("m1", "u2", "a", 1)})

	removed := s.purgeSender("u2")
	assert.Len(t, removed, 2)
	assert.Equal(t, []domain.MsgId{"m2"}, ids(s.Snapshot()))

	s.restore(removed)
	assert.Equal(t, []domain.MsgId{"m3", "m2", "m1"}, ids(s.Snapshot()))
}

func TestStream_ToggleVote(t *testing.T) {
	newPollStream := func(state domain.OpState) *Stream {
		s := newStream("t1")
		m := msgAt("m1", "u1", "", 1)
		m.Poll = pollFor("m1", "Yes", "No")
		m.State = state
		s.merge([]domain.Message{m})
		return s
	}

	t.Run("single choice moves the vote", func(t *testing.T) {
		s := newPollStream(domain.Committed)
		_, _, err := s.toggleVote("p-m1", "Yes")
		require.NoError(t, err)
		req, _, err := s.toggleVote("p-m1", "No")
		require.NoError(t, err)
		assert.False(t, req.SelectedByMe)

		poll := s.Snapshot()[0].Poll
		assert.False(t, poll.Option("Yes").VotedByMe)
		assert.Equal(t, 0, poll.Option("Yes").VoteCount)
		assert.True(t, poll.Option("No").VotedByMe)
		assert.Equal(t, 1, poll.Option("No").VoteCount)
	})

	t.Run("undo restores previous state", func(t *testing.T) {
		s := newPollStream(domain.Committed)
		_, undo, err := s.toggleVote("p-m1", "Yes")
		require.NoError(t, err)
		undo()
		poll := s.Snapshot()[0].Poll
		assert.False(t, poll.Option("Yes").VotedByMe)
		assert.Equal(t, 0, poll.Option("Yes").VoteCount)
	})

	t.Run("pending poll rejects votes", func(t *testing.T) {
		s := newPollStream(domain.Pending)
		_, _, err := s.toggleVote("p-m1", "Yes")
		assert.True(t, internal_errors.Is[*internal_errors.ValidationError](err))
	})

	t.Run("unknown poll", func(t *testing.T) {
		s := newPollStream(domain.Committed)
		_, _, err := s.toggleVote("nope", "Yes")
		assert.True(t, internal_errors.Is[*internal_errors.NotFoundError](err))
	})
}

func TestStream_Closed(t *testing.T) {
	s := newStream("t1")
	calls := 0
	s.setOnChange(func([]domain.Message) { calls++ })
	s.merge([]domain.Message{msgAt("m1", "u1", "a", 1)})
	assert.Equal(t, 1, calls)

	s.close()
	assert.False(t, s.merge([]domain.Message{msgAt("m2", "u1", "b", 2)}))
	assert.False(t, s.insertPlaceholder(&domain.Message{Id: "tmp-1"}))
	assert.Equal(t, []domain.MsgId{"m1"}, ids(s.Snapshot()))
	assert.Equal(t, 1, calls)
}

func TestStream_SnapshotIsACopy(t *testing.T) {
	s := newStream("t1")
	m := msgAt("m1", "u1", "", 1)
	m.Poll = pollFor("m1", "Yes", "No")
	s.merge([]domain.Message{m})

	snap := s.Snapshot()
	snap[0].Poll.Options[0].VoteCount = 42
	assert.Equal(t, 0, s.Snapshot()[0].Poll.Options[0].VoteCount)
	assert.True(t, s.hasPoll())
}
