package http

import (
	"net/http"

	"github.com/aussiebroadwan/lapse/pkg/httpx"
)

type LogoutHandler struct {
	Cookie CookieConfig
}

// ServeHTTP godoc
//
//	@Summary		Sign out
//	@Description	Clears the session cookie. Safe to call without a session. The credential itself stays valid until it expires.
//	@Tags			Session
//	@Success		204	"Cookie cleared"
//	@Router			/v1/auth/logout [post].
func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	httpx.NoCache(w)
	http.SetCookie(w, h.Cookie.cleared())
	w.WriteHeader(http.StatusNoContent)
}
