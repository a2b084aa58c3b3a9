package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/itchan-dev/itchat/shared/api"
	"github.com/itchan-dev/itchat/shared/domain"
	"github.com/itchan-dev/itchat/shared/utils"
)

// ListThreads handles GET /v1/threads
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	threads, err := m.ListThreads(r.Context())
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.ThreadListResponse{Threads: threads})
}

// StartThread handles POST /v1/threads. A user_id opens (or reuses) the
// direct thread with that user; members plus title create a group.
func (h *Handler) StartThread(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	var body api.StartThreadRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	var (
		thread *domain.Thread
		err    error
		status = http.StatusOK
	)
	if len(body.Members) > 0 {
		thread, err = m.CreateGroup(r.Context(), strings.TrimSpace(body.Title), body.Members)
		status = http.StatusCreated
	} else {
		thread, err = m.StartDirect(r.Context(), body.UserId)
	}
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, status, api.ThreadResponse{Thread: thread})
}

// GetMessages handles GET /v1/threads/{thread}/messages and advances the
// caller's read cursor.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	msgs, err := m.LoadMessages(r.Context(), chi.URLParam(r, "thread"))
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.MessagesResponse{Messages: msgs})
}

// MarkRead handles POST /v1/threads/{thread}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	var body api.MarkReadRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	if err := m.MarkRead(r.Context(), chi.URLParam(r, "thread"), body.MessageId); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDraft handles GET /v1/threads/{thread}/draft
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	threadId := chi.URLParam(r, "thread")
	utils.WriteJSON(w, http.StatusOK, api.DraftResponse{ThreadId: threadId, Text: m.Draft(threadId)})
}

// PutDraft handles PUT /v1/threads/{thread}/draft
func (h *Handler) PutDraft(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	var body api.DraftRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	m.SetDraft(chi.URLParam(r, "thread"), body.Text)
	w.WriteHeader(http.StatusNoContent)
}
