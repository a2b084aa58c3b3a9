package service

import (
	"context"
	"sort"
	"time"

	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
)

type ReadReceipts struct {
	storage ReadCursorStorage
}

func NewReadReceipts(storage ReadCursorStorage) *ReadReceipts {
	return &ReadReceipts{storage: storage}
}

// MarkRead upserts the (thread, user) cursor. Repeating it is harmless.
func (r *ReadReceipts) MarkRead(ctx context.Context, threadId domain.ThreadId, userId domain.UserId, messageId domain.MsgId) error {
	if threadId == "" || userId == "" || messageId == "" {
		return &internal_errors.ValidationError{Message: "thread, user and message are required"}
	}
	cursor := domain.ReadCursor{
		ThreadId:          threadId,
		UserId:            userId,
		LastReadMessageId: messageId,
		UpdatedAt:         time.Now(),
	}
	return internal_errors.Transport("upsert read cursor", r.storage.UpsertReadCursor(ctx, cursor))
}

func (r *ReadReceipts) Cursors(ctx context.Context, threadId domain.ThreadId) ([]domain.ReadCursor, error) {
	cursors, err := r.storage.ReadCursors(ctx, threadId)
	if err != nil {
		return nil, internal_errors.Transport("fetch read cursors", err)
	}
	return cursors, nil
}

// deriveReadBy maps message id to the participants (other than self) whose
// cursor sits at the same or a newer position in batch. batch is newest
// first, so a smaller index is newer. Positions are only comparable inside
// one fetch; a cursor pointing outside the batch counts as nothing read.
func deriveReadBy(batch []domain.Message, cursors []domain.ReadCursor, self domain.UserId) map[domain.MsgId][]domain.UserId {
	position := make(map[domain.MsgId]int, len(batch))
	for i, m := range batch {
		position[m.Id] = i
	}

	type reader struct {
		userId domain.UserId
		pos    int
	}
	readers := make([]reader, 0, len(cursors))
	for _, c := range cursors {
		if c.UserId == self {
			continue
		}
		pos, ok := position[c.LastReadMessageId]
		if !ok {
			continue
		}
		readers = append(readers, reader{c.UserId, pos})
	}
	sort.Slice(readers, func(i, j int) bool { return readers[i].userId < readers[j].userId })

	out := make(map[domain.MsgId][]domain.UserId, len(batch))
	for i, m := range batch {
		for _, rd := range readers {
			if rd.pos <= i {
				out[m.Id] = append(out[m.Id], rd.userId)
			}
		}
	}
	return out
}
