package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
)

// =========================================================================
// Public Methods (satisfy service.MessageStorage)
// =========================================================================

func (s *Storage) ListMessages(ctx context.Context, threadId domain.ThreadId, viewer domain.UserId) ([]domain.Message, error) {
	return s.listMessages(ctx, s.db, threadId, viewer)
}

func (s *Storage) CreateMessage(ctx context.Context, data domain.MessageCreationData) (*domain.Message, error) {
	return s.createMessage(ctx, s.db, data)
}

func (s *Storage) CheckParticipant(ctx context.Context, threadId domain.ThreadId, user domain.UserId) error {
	return s.checkParticipant(ctx, s.db, threadId, user)
}

// =========================================================================
// Internal Methods
// =========================================================================

const messageColumns = `id, thread_id, sender_id, body, attachments, created_at`

func scanMessage(row interface{ Scan(...any) error }) (domain.Message, error) {
	var m domain.Message
	var atts attachmentList
	if err := row.Scan(&m.Id, &m.ThreadId, &m.SenderId, &m.Body, &atts, &m.CreatedAt); err != nil {
		return m, err
	}
	m.Attachments = atts
	return m, nil
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	msgs := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return msgs, nil
}

// checkParticipant returns NotFoundError for a missing thread and
// AccessError when viewer is not in it.
func (s *Storage) checkParticipant(ctx context.Context, q Querier, threadId domain.ThreadId, viewer domain.UserId) error {
	var member bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM thread_participants WHERE thread_id = t.id AND user_id::text = $2
		)
		FROM threads t
		WHERE t.id = $1`,
		threadId, viewer,
	).Scan(&member)
	if err != nil {
		return classify(err, "thread", threadId, "check participant")
	}
	if !member {
		return &internal_errors.AccessError{ActorId: viewer, Reason: "not a participant of thread " + threadId}
	}
	return nil
}

func (s *Storage) listMessages(ctx context.Context, q Querier, threadId domain.ThreadId, viewer domain.UserId) ([]domain.Message, error) {
	if err := s.checkParticipant(ctx, q, threadId, viewer); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at DESC, id DESC`,
		threadId,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Storage) createMessage(ctx context.Context, q Querier, data domain.MessageCreationData) (*domain.Message, error) {
	if err := s.checkParticipant(ctx, q, data.ThreadId, data.SenderId); err != nil {
		return nil, err
	}
	m, err := scanMessage(q.QueryRowContext(ctx, `
		INSERT INTO messages (thread_id, sender_id, body, attachments)
		VALUES ($1, $2, $3, $4)
		RETURNING `+messageColumns,
		data.ThreadId, data.SenderId, data.Body, attachmentList(data.Attachments),
	))
	if err != nil {
		return nil, classify(err, "thread", data.ThreadId, "insert message")
	}
	return &m, nil
}
