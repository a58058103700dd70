package http

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/lapse/internal/auth/service"
	"github.com/aussiebroadwan/lapse/pkg/authsdk"
	"github.com/aussiebroadwan/lapse/pkg/httpx"
	"github.com/aussiebroadwan/lapse/pkg/slogx"
)

type ConsumeHandler struct {
	MagicLinkService *service.MagicLinkService
	SessionService   *service.SessionService
	Cookie           CookieConfig

	// SuccessRedirect is where a signed in browser lands.
	SuccessRedirect string
	// LoginURL receives ?error=... when the link can't be used.
	LoginURL string
}

// ServeHTTP godoc
//
//	@Summary		Redeem a sign-in link
//	@Description	Consumes the single-use link secret. On success sets the session cookie and redirects to the application; otherwise redirects to the login page with error=invalid_link. HEAD requests answer 200 and leave the link unused.
//	@Tags			Auth
//	@Param			token	query	string	true	"Secret from the emailed link"
//	@Success		303		"Redirect with Set-Cookie"
//	@Failure		303		"Redirect to the login page"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limit_exceeded"
//	@Router			/v1/auth/consume [get].
func (h *ConsumeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	httpx.NoCache(w)
	// The URL carries the secret; keep it out of any Referer.
	w.Header().Set("Referrer-Policy", "no-referrer")

	// Mail scanners and link previewers send HEAD first. Only a GET spends
	// the link.
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	identity, err := h.MagicLinkService.Consume(ctx, r.URL.Query().Get("token"))
	if err != nil {
		code := authsdk.ErrorCodeInvalidLink
		if !errors.Is(err, service.ErrInvalidOrExpiredToken) {
			log.Error("sign-in link redemption failed", "err", err)
			code = authsdk.ErrorCodeServerError
		}
		http.Redirect(w, r, h.loginURL(code), http.StatusSeeOther)
		return
	}

	token, expiresAt, err := h.SessionService.Issue(identity)
	if err != nil {
		log.Error("session issue failed", "identity", identity, "err", err)
		http.Redirect(w, r, h.loginURL(authsdk.ErrorCodeServerError), http.StatusSeeOther)
		return
	}

	http.SetCookie(w, h.Cookie.session(token, expiresAt))
	log.Info("signed in", "identity", identity, "expires_at", expiresAt)
	http.Redirect(w, r, h.SuccessRedirect, http.StatusSeeOther)
}

func (h *ConsumeHandler) loginURL(code string) string {
	u, err := url.Parse(h.LoginURL)
	if err != nil {
		return "/?error=" + url.QueryEscape(code)
	}
	q := u.Query()
	q.Set("error", code)
	u.RawQuery = q.Encode()
	return u.String()
}
