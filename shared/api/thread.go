package api

import (
	"github.com/itchan-dev/itchat/shared/domain"
)

// Request DTOs

// StartThreadRequest opens a direct thread when UserId is set, a group otherwise.
type StartThreadRequest struct {
	UserId  domain.UserId   `json:"user_id,omitempty" validate:"required_without=Members"`
	Title   string          `json:"title,omitempty" validate:"required_with=Members,max=200"`
	Members []domain.UserId `json:"members,omitempty" validate:"omitempty,min=1,dive,required"`
}

type MarkReadRequest struct {
	MessageId domain.MsgId `json:"message_id" validate:"required"`
}

// Response DTOs

type ThreadListResponse struct {
	Threads []domain.ThreadSummary `json:"threads"`
}

type ThreadResponse struct {
	Thread *domain.Thread `json:"thread"`
}
