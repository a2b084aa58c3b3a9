package service

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itchan-dev/itchat/backend/internal/service/utils"
	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
)

const tempIdPrefix = "tmp-"

func newTempId() string {
	return tempIdPrefix + uuid.NewString()
}

// IsTempId reports a placeholder id that never reached the store.
func IsTempId(id string) bool {
	return strings.HasPrefix(id, tempIdPrefix)
}

func (m *Messenger) placeholder(threadId domain.ThreadId) *domain.Message {
	return &domain.Message{
		Id:        newTempId(),
		ThreadId:  threadId,
		SenderId:  m.actor,
		CreatedAt: time.Now().UTC(),
		State:     domain.Pending,
		Local:     true,
	}
}

// authorize confirms the actor is in the thread before anything optimistic
// happens.
func (m *Messenger) authorize(ctx context.Context, threadId domain.ThreadId) error {
	return internal_errors.Transport("check participant", m.storage.CheckParticipant(ctx, threadId, m.actor))
}

// abort rolls a placeholder back and settles op.
func (m *Messenger) abort(s *Stream, op *Operation, tempId domain.MsgId, err error) {
	s.rollback(tempId)
	m.ops.finish(op, domain.RolledBack, err)
	m.log.Warn("send rolled back",
		"thread_id", s.ThreadId(),
		"kind", op.Kind,
		"temp_id", tempId,
		"error", err)
}

func (m *Messenger) settle(s *Stream, op *Operation, tempId domain.MsgId, stored *domain.Message) {
	s.commit(tempId, stored, domain.Committed)
	m.ops.finish(op, domain.Committed, nil)
	m.noteLastMessage(*stored)
}

// SendText shows the message immediately and writes it. On failure the
// placeholder disappears and the text returns to the draft.
func (m *Messenger) SendText(ctx context.Context, threadId domain.ThreadId, text string) (*domain.Message, error) {
	body := utils.SanitizeBody(text)
	if body == "" {
		return nil, &internal_errors.ValidationError{Message: "message is empty"}
	}
	if err := m.authorize(ctx, threadId); err != nil {
		return nil, err
	}

	s := m.stream(threadId)
	p := m.placeholder(threadId)
	p.Body = body
	op := m.ops.begin(OpSendText, threadId)
	m.SetDraft(threadId, "")
	s.insertPlaceholder(p)

	stored, err := m.storage.CreateMessage(ctx, domain.MessageCreationData{
		ThreadId: threadId,
		SenderId: m.actor,
		Body:     body,
	})
	if err != nil {
		err = internal_errors.Transport("send text", err)
		m.abort(s, op, p.Id, err)
		m.restoreDraft(threadId, text)
		return nil, err
	}
	m.settle(s, op, p.Id, stored)
	return stored, nil
}

// SendTextTo opens or creates the direct thread with target and sends text.
func (m *Messenger) SendTextTo(ctx context.Context, target domain.UserId, text string) (*domain.Thread, *domain.Message, error) {
	thread, err := m.StartDirect(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	msg, err := m.SendText(ctx, thread.Id, text)
	if err != nil {
		return thread, nil, err
	}
	return thread, msg, nil
}

// SendAttachment uploads the file and then writes the message that
// references it.
func (m *Messenger) SendAttachment(ctx context.Context, threadId domain.ThreadId, file domain.PendingFile) (*domain.Message, error) {
	if len(file.Data) == 0 {
		return nil, &internal_errors.ValidationError{Message: "file is empty"}
	}
	if m.cfg.MaxAttachmentSize > 0 && int64(len(file.Data)) > m.cfg.MaxAttachmentSize {
		return nil, &internal_errors.ValidationError{Message: fmt.Sprintf("file exceeds %d bytes", m.cfg.MaxAttachmentSize)}
	}
	name := filepath.Base(strings.TrimSpace(file.Name))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(file.Data)
	}
	att := domain.Attachment{
		Name: name,
		Size: int64(len(file.Data)),
		Kind: domain.DetectMediaKind(file.Data),
	}
	if err := m.authorize(ctx, threadId); err != nil {
		return nil, err
	}

	s := m.stream(threadId)
	p := m.placeholder(threadId)
	p.Attachments = []domain.Attachment{att}
	op := m.ops.begin(OpSendAttachment, threadId)
	s.insertPlaceholder(p)

	ref, err := m.media.Upload(ctx, file.Data, contentType)
	if err != nil {
		err = internal_errors.Transport("upload attachment", err)
		m.abort(s, op, p.Id, err)
		return nil, err
	}
	att.URL = ref

	stored, err := m.storage.CreateMessage(ctx, domain.MessageCreationData{
		ThreadId:    threadId,
		SenderId:    m.actor,
		Attachments: []domain.Attachment{att},
	})
	if err != nil {
		err = internal_errors.Transport("send attachment", err)
		m.abort(s, op, p.Id, err)
		if delErr := m.media.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
			m.log.Warn("uploaded object left unreferenced", "ref", ref, "error", delErr)
		}
		return nil, err
	}
	m.settle(s, op, p.Id, stored)
	return stored, nil
}

// SendPoll shows the poll with temporary ids and writes message, poll and
// options. A partial write keeps the already stored message visible without
// a poll and reports PartialWriteError.
func (m *Messenger) SendPoll(ctx context.Context, threadId domain.ThreadId, draft PollDraft) (*domain.Message, error) {
	draft, err := m.polls.normalize(draft)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, threadId); err != nil {
		return nil, err
	}

	s := m.stream(threadId)
	p := m.placeholder(threadId)
	poll := &domain.Poll{
		Id:             newTempId(),
		MessageId:      p.Id,
		Question:       draft.Question,
		MultipleChoice: draft.MultipleChoice,
	}
	for i, text := range draft.Options {
		poll.Options = append(poll.Options, domain.PollOption{
			Id:       newTempId(),
			PollId:   poll.Id,
			Position: i,
			Text:     text,
		})
	}
	p.Poll = poll
	op := m.ops.begin(OpSendPoll, threadId)
	s.insertPlaceholder(p)

	stored, err := m.polls.Create(ctx, threadId, m.actor, draft)
	if err != nil {
		if internal_errors.Is[*internal_errors.PartialWriteError](err) && stored != nil {
			s.commit(p.Id, stored, domain.PartiallyCommitted)
			m.ops.finish(op, domain.PartiallyCommitted, err)
			return stored, err
		}
		m.abort(s, op, p.Id, err)
		return nil, err
	}
	m.settle(s, op, p.Id, stored)
	return stored, nil
}
