package api

import "github.com/itchan-dev/itchat/shared/domain"

type RecipientsResponse struct {
	Recipients []domain.Recipient `json:"recipients"`
}

type BlockResponse struct {
	UserId  domain.UserId `json:"user_id"`
	Blocked bool          `json:"blocked"`
}

type CSRFResponse struct {
	Token string `json:"token"`
}
