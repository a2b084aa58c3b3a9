package pg

import (
	"context"
	"fmt"

	"github.com/itchan-dev/itchat/shared/domain"

	"github.com/lib/pq"
)

func (s *Storage) UpsertReadCursor(ctx context.Context, cursor domain.ReadCursor) error {
	return s.upsertReadCursor(ctx, s.db, cursor)
}

func (s *Storage) ReadCursors(ctx context.Context, threadId domain.ThreadId) ([]domain.ReadCursor, error) {
	return s.readCursors(ctx, s.db, threadId)
}

func (s *Storage) ReadCursorsForUser(ctx context.Context, user domain.UserId, threadIds []domain.ThreadId) ([]domain.ReadCursor, error) {
	return s.readCursorsForUser(ctx, s.db, user, threadIds)
}

// upsertReadCursor leaves the row alone when the cursor does not move, so
// no change notification fires for a repeated mark. Only participants keep
// a cursor.
func (s *Storage) upsertReadCursor(ctx context.Context, q Querier, c domain.ReadCursor) error {
	if err := s.checkParticipant(ctx, q, c.ThreadId, c.UserId); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO read_cursors (thread_id, user_id, last_read_message_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (thread_id, user_id) DO UPDATE
		SET last_read_message_id = EXCLUDED.last_read_message_id,
		    updated_at = EXCLUDED.updated_at
		WHERE read_cursors.last_read_message_id IS DISTINCT FROM EXCLUDED.last_read_message_id`,
		c.ThreadId, c.UserId, c.LastReadMessageId, c.UpdatedAt,
	)
	return classify(err, "message", c.LastReadMessageId, "upsert read cursor")
}

func scanCursors(ctx context.Context, q Querier, query string, args ...any) ([]domain.ReadCursor, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch read cursors: %w", err)
	}
	defer rows.Close()

	cursors := []domain.ReadCursor{}
	for rows.Next() {
		var c domain.ReadCursor
		if err := rows.Scan(&c.ThreadId, &c.UserId, &c.LastReadMessageId, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan read cursor: %w", err)
		}
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return cursors, nil
}

func (s *Storage) readCursors(ctx context.Context, q Querier, threadId domain.ThreadId) ([]domain.ReadCursor, error) {
	return scanCursors(ctx, q, `
		SELECT thread_id, user_id, last_read_message_id, updated_at
		FROM read_cursors
		WHERE thread_id = $1`,
		threadId,
	)
}

func (s *Storage) readCursorsForUser(ctx context.Context, q Querier, user domain.UserId, threadIds []domain.ThreadId) ([]domain.ReadCursor, error) {
	if len(threadIds) == 0 {
		return []domain.ReadCursor{}, nil
	}
	return scanCursors(ctx, q, `
		SELECT thread_id, user_id, last_read_message_id, updated_at
		FROM read_cursors
		WHERE user_id = $1 AND thread_id = ANY($2::uuid[])`,
		user, pq.Array(threadIds),
	)
}
