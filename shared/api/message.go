package api

import (
	"time"

	"github.com/itchan-dev/itchat/shared/domain"
)

// Request DTOs

type SendTextRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

type SendPollRequest struct {
	Question       string   `json:"question" validate:"required,max=300"`
	Options        []string `json:"options" validate:"required,min=2,dive,required,max=200"`
	MultipleChoice bool     `json:"multiple_choice"`
}

// Response DTOs

type MessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

type MessageResponse struct {
	Message *domain.Message `json:"message"`
}

// PartialWriteResponse is sent on partial writes so the client learns the orphan id.
type PartialWriteResponse struct {
	Error     string       `json:"error"`
	MessageId domain.MsgId `json:"message_id"`
}

type SendDirectRequest struct {
	UserId domain.UserId `json:"user_id" validate:"required"`
	Body   string        `json:"body" validate:"required,max=4000"`
}

type SendDirectResponse struct {
	Thread  *domain.Thread  `json:"thread"`
	Message *domain.Message `json:"message"`
}

type VoteRequest struct {
	OptionId domain.OptionId `json:"option_id" validate:"required"`
}

type DraftRequest struct {
	Text string `json:"text" validate:"max=4000"`
}

type DraftResponse struct {
	ThreadId domain.ThreadId `json:"thread_id"`
	Text     string          `json:"text"`
}

type OperationResponse struct {
	Id        string          `json:"id"`
	Kind      string          `json:"kind"`
	ThreadId  domain.ThreadId `json:"thread_id,omitempty"`
	State     domain.OpState  `json:"state"`
	StartedAt time.Time       `json:"started_at"`
}

type OperationsResponse struct {
	Operations []OperationResponse `json:"operations"`
}
