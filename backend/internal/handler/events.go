package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/itchan-dev/itchat/shared/api"
	"github.com/itchan-dev/itchat/shared/domain"
	"github.com/itchan-dev/itchat/shared/logger"
	"github.com/itchan-dev/itchat/shared/utils"
)

var keepAliveInterval = 25 * time.Second

// ThreadEvents handles GET /v1/threads/{thread}/events. It opens the thread
// view and streams every new state of the message list as server-sent
// events until the client leaves. Leaving closes the view, which drops the
// push subscription and the poll timer.
func (h *Handler) ThreadEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	m := h.session(w, r)
	if m == nil {
		return
	}
	threadId := chi.URLParam(r, "thread")

	// only the latest state matters, so a slow client skips intermediate ones
	updates := make(chan []domain.Message, 1)
	onChange := func(msgs []domain.Message) {
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- msgs:
		default:
		}
	}

	view, err := m.Follow(r.Context(), threadId, onChange)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	defer view.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	log := logger.Component("http").With("thread_id", threadId)
	if err := writeEvent(w, view.Messages()); err != nil {
		log.Debug("event stream closed", "error", err)
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-view.Done():
			// replaced by a newer view of the same thread
			return
		case msgs := <-updates:
			if err := writeEvent(w, msgs); err != nil {
				log.Debug("event stream closed", "error", err)
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, msgs []domain.Message) error {
	data, err := json.Marshal(api.MessagesResponse{Messages: msgs})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: messages\ndata: %s\n\n", data)
	return err
}
