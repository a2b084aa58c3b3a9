package handler

import (
	"fmt"
	"net/http"

	"github.com/itchan-dev/itchat/shared/api"
	"github.com/itchan-dev/itchat/shared/csrf"
	"github.com/itchan-dev/itchat/shared/utils"
)

// CSRFToken handles GET /v1/csrf. Browser clients authenticated by cookie
// echo the token in the X-CSRF-Token header on every write.
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := csrf.Issue(w, h.cfg.Public.HSTS)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, fmt.Errorf("failed to issue csrf token: %w", err))
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.CSRFResponse{Token: token})
}
