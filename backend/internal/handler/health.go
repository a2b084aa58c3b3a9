package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/itchan-dev/itchat/shared/logger"
	"github.com/itchan-dev/itchat/shared/utils"
)

const readyTimeout = 2 * time.Second

// Health is a liveness probe endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Ready probes every dependency in parallel and reports each one. Any failed
// check answers 503: without the change feed open views stop updating.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		status = make(map[string]string, len(h.checks))
		ready  = true
	)
	for name, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := check.Ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Log.Warn("readiness check failed", "component", "http", "check", name, "error", err)
				status[name] = "unavailable"
				ready = false
				return
			}
			status[name] = "ok"
		}()
	}
	wg.Wait()

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	utils.WriteJSON(w, code, status)
}
