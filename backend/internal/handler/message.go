package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/itchan-dev/itchat/backend/internal/service"
	"github.com/itchan-dev/itchat/shared/api"
	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
	"github.com/itchan-dev/itchat/shared/logger"
	"github.com/itchan-dev/itchat/shared/utils"
)

// room for the multipart envelope around the file
const multipartOverhead = 1 << 20

// SendText handles POST /v1/threads/{thread}/messages
func (h *Handler) SendText(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	var body api.SendTextRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	msg, err := m.SendText(r.Context(), chi.URLParam(r, "thread"), body.Body)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, api.MessageResponse{Message: msg})
}

// SendDirect handles POST /v1/direct/messages: the first message to a user
// creates the direct thread on the way.
func (h *Handler) SendDirect(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	var body api.SendDirectRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	thread, msg, err := m.SendTextTo(r.Context(), body.UserId, body.Body)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, api.SendDirectResponse{Thread: thread, Message: msg})
}

// SendAttachment handles POST /v1/threads/{thread}/attachments with a
// multipart "file" field.
func (h *Handler) SendAttachment(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	maxSize := h.cfg.Public.MaxAttachmentSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxSize + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("attachment exceeds %d bytes", maxSize), http.StatusRequestEntityTooLarge)
			return
		}
		utils.WriteErrorAndStatusCode(w, &internal_errors.ValidationError{Message: "expected multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.WriteErrorAndStatusCode(w, &internal_errors.ValidationError{Message: "missing file field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		utils.WriteErrorAndStatusCode(w, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	msg, err := m.SendAttachment(r.Context(), chi.URLParam(r, "thread"), domain.PendingFile{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, api.MessageResponse{Message: msg})
}

// SendPoll handles POST /v1/threads/{thread}/polls
func (h *Handler) SendPoll(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	var body api.SendPollRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	msg, err := m.SendPoll(r.Context(), chi.URLParam(r, "thread"), service.PollDraft{
		Question:       body.Question,
		Options:        body.Options,
		MultipleChoice: body.MultipleChoice,
	})
	if err != nil {
		var partial *internal_errors.PartialWriteError
		if errors.As(err, &partial) && msg != nil {
			logger.Log.Warn("poll partially written", "component", "http", "message_id", msg.Id, "error", err)
			utils.WriteJSON(w, internal_errors.StatusCode(err), api.PartialWriteResponse{Error: err.Error(), MessageId: msg.Id})
			return
		}
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, api.MessageResponse{Message: msg})
}

// Vote handles POST /v1/threads/{thread}/polls/{poll}/votes. Voting for an
// option the caller already chose retracts that vote.
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	var body api.VoteRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	if err := m.Vote(r.Context(), chi.URLParam(r, "thread"), chi.URLParam(r, "poll"), body.OptionId); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
