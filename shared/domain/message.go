package domain

import (
	"time"
)

type Message struct {
	Id          MsgId        `json:"id"`
	ThreadId    ThreadId     `json:"thread_id"`
	SenderId    UserId       `json:"sender_id"`
	Body        MsgText      `json:"body"`
	CreatedAt   time.Time    `json:"created_at"`
	Attachments []Attachment `json:"attachments"`
	Poll        *Poll        `json:"poll,omitempty"`
	ReadBy      []UserId     `json:"read_by,omitempty"`

	// State is Committed for every row read from the store.
	State OpState `json:"state"`
	// Local marks entries created on this client that no authoritative
	// snapshot has returned yet.
	Local bool `json:"-"`
}

type MessageCreationData struct {
	ThreadId    ThreadId
	SenderId    UserId
	Body        MsgText
	Attachments []Attachment
}

// IsEmptyShell reports a message with nothing to display: no body, no
// attachments and no poll. Poll messages look like this until their poll
// rows are committed.
func (m *Message) IsEmptyShell() bool {
	return m.Body == "" && len(m.Attachments) == 0 && m.Poll == nil
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Attachments != nil {
		c.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.ReadBy != nil {
		c.ReadBy = append([]UserId(nil), m.ReadBy...)
	}
	c.Poll = m.Poll.Clone()
	return &c
}
