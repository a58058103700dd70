package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/lapse/pkg/slogx"
)

// Authenticator checks a raw session token and returns ctx enriched with
// the caller (see WithSubject). Any error rejects the request.
type Authenticator func(ctx context.Context, token string) (context.Context, error)

// AuthnMiddleware requires a valid session token, read from the named
// cookie or, failing that, an Authorization: Bearer header.
func AuthnMiddleware(cookieName string, authenticate Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw := SessionToken(r, cookieName)
			if raw == "" {
				writeBearerError(w, "missing session")
				return
			}

			ctx, err := authenticate(ctx, raw)
			if err != nil {
				log.Debug("session rejected", "err", err)
				writeBearerError(w, "session is invalid or expired")
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionToken extracts the raw session token, preferring the cookie.
func SessionToken(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	authz := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(authz, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "unauthenticated",
		"error_description": desc,
	})
}
