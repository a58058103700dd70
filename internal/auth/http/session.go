package http

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/lapse/internal/auth/service"
	"github.com/aussiebroadwan/lapse/pkg/authsdk"
	"github.com/aussiebroadwan/lapse/pkg/httpx"
)

// SessionAuthenticator adapts SessionService to the httpx middleware.
func SessionAuthenticator(sessions *service.SessionService) httpx.Authenticator {
	return func(ctx context.Context, token string) (context.Context, error) {
		session, err := sessions.Validate(token)
		if err != nil {
			return ctx, err
		}
		return httpx.WithSubject(ctx, session.Identity.String(), session.ExpiresAt), nil
	}
}

type SessionHandler struct{}

// ServeHTTP godoc
//
//	@Summary		Current session
//	@Description	Returns the identity behind the session cookie (or bearer token) and when the session ends.
//	@Tags			Session
//	@Security		SessionCookie
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.SessionResponse	"identity, expires_at"
//	@Failure		401	{object}	authsdk.ErrorResponse	"unauthenticated"
//	@Router			/v1/session [get].
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := httpx.SubjectFromContext(ctx)
	if !ok {
		authsdk.ErrUnauthenticated.WriteError(w)
		return
	}
	expiresAt, _ := httpx.ExpiresAtFromContext(ctx)

	httpx.WriteJSON(w, http.StatusOK, authsdk.SessionResponse{
		Identity:  identity,
		ExpiresAt: expiresAt,
	})
}
