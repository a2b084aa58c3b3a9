package domain

import "time"

// ReadCursor points at the newest message a participant has seen in a thread.
type ReadCursor struct {
	ThreadId          ThreadId  `json:"thread_id"`
	UserId            UserId    `json:"user_id"`
	LastReadMessageId MsgId     `json:"last_read_message_id"`
	UpdatedAt         time.Time `json:"updated_at"`
}
