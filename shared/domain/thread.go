package domain

import (
	"time"
)

type Participant struct {
	ThreadId ThreadId `json:"thread_id"`
	UserId   UserId   `json:"user_id"`
	Status   string   `json:"status,omitempty"`
}

type Thread struct {
	Id           ThreadId      `json:"id"`
	Title        ThreadTitle   `json:"title,omitempty"`
	IsGroup      bool          `json:"is_group"`
	CreatedAt    time.Time     `json:"created_at"`
	ScopeId      ScopeId       `json:"scope_id"`
	IsPredefined bool          `json:"is_predefined"`
	IsActive     bool          `json:"is_active"`
	Participants []Participant `json:"participants"`
}

// to iterate thru layers: handler -> service -> storage
type ThreadCreationData struct {
	Title     ThreadTitle
	IsGroup   bool
	ScopeId   ScopeId
	CreatedBy UserId
	Members   []UserId // includes CreatedBy
}

// ThreadSummary is one row of the thread directory.
type ThreadSummary struct {
	Thread
	LastMessage *Message `json:"last_message,omitempty"`
	Preview     string   `json:"preview,omitempty"`
	Unread      bool     `json:"unread"`
}

func (t *Thread) HasParticipant(userId UserId) bool {
	for _, p := range t.Participants {
		if p.UserId == userId {
			return true
		}
	}
	return false
}

// OtherParticipant returns the counterpart of userId in a direct thread.
func (t *Thread) OtherParticipant(userId UserId) (UserId, bool) {
	if t.IsGroup {
		return "", false
	}
	for _, p := range t.Participants {
		if p.UserId != userId {
			return p.UserId, true
		}
	}
	return "", false
}

// Disabled reports a predefined group that has been switched off.
func (t *Thread) Disabled() bool {
	return t.IsPredefined && !t.IsActive
}

// ActivityAt is the sort key of the directory: last message time, else creation time.
func (s *ThreadSummary) ActivityAt() time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.CreatedAt
}
