package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/itchan-dev/itchat/shared/api"
	"github.com/itchan-dev/itchat/shared/utils"
)

// SearchRecipients handles GET /v1/recipients?q=
func (h *Handler) SearchRecipients(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	recipients, err := m.SearchRecipients(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.RecipientsResponse{Recipients: recipients})
}

// ListBlocked handles GET /v1/blocks
func (h *Handler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	blocked := m.BlockedUsers()
	out := make([]api.BlockResponse, 0, len(blocked))
	for _, id := range blocked {
		out = append(out, api.BlockResponse{UserId: id, Blocked: true})
	}
	utils.WriteJSON(w, http.StatusOK, out)
}

// Block handles PUT /v1/blocks/{user}
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	target := chi.URLParam(r, "user")
	if err := m.Block(r.Context(), target); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.BlockResponse{UserId: target, Blocked: true})
}

// Unblock handles DELETE /v1/blocks/{user}
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	target := chi.URLParam(r, "user")
	if err := m.Unblock(r.Context(), target); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.BlockResponse{UserId: target, Blocked: false})
}

// PendingOperations handles GET /v1/operations
func (h *Handler) PendingOperations(w http.ResponseWriter, r *http.Request) {
	m := h.session(w, r)
	if m == nil {
		return
	}
	ops := m.PendingOperations()
	out := make([]api.OperationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, api.OperationResponse{
			Id:        op.Id,
			Kind:      string(op.Kind),
			ThreadId:  op.ThreadId,
			State:     op.State,
			StartedAt: op.StartedAt,
		})
	}
	utils.WriteJSON(w, http.StatusOK, api.OperationsResponse{Operations: out})
}
