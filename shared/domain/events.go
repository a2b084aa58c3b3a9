package domain

import "fmt"

type ChangeKind int

const (
	MessageInsert ChangeKind = iota + 1
	PollInsert
	VoteChange
	ReadCursorChange
)

var changeKindNames = map[ChangeKind]string{
	MessageInsert:    "message_insert",
	PollInsert:       "poll_insert",
	VoteChange:       "vote_change",
	ReadCursorChange: "read_cursor_change",
}

func (k ChangeKind) String() string {
	if name, ok := changeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

func ParseChangeKind(s string) (ChangeKind, error) {
	for k, name := range changeKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown change kind %q", s)
}

// ChangeEvent is a push notification scoped to one thread. Only the payload
// field matching Kind is set: Message for MessageInsert, PollId for
// PollInsert and VoteChange, Cursor for ReadCursorChange.
type ChangeEvent struct {
	Kind     ChangeKind
	ThreadId ThreadId
	Message  *Message
	PollId   PollId
	Cursor   *ReadCursor
}
