package authsdk

import (
	"context"
	"net/http"
	"time"
)

// Session acts on behalf of a signed in identity.
type Session struct {
	client    *SDKClient
	token     string
	expiresAt time.Time
}

func newSession(c *SDKClient, cookie *http.Cookie) *Session {
	return &Session{
		client:    c,
		token:     cookie.Value,
		expiresAt: cookie.Expires,
	}
}

// NewSessionFromToken wraps a credential obtained elsewhere.
func (c *SDKClient) NewSessionFromToken(token string) *Session {
	return &Session{client: c, token: token}
}

// Token is the raw session credential.
func (s *Session) Token() string { return s.token }

// ExpiresAt is the cookie expiry the service set, zero if unknown.
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// Info calls GET /v1/session.
func (s *Session) Info(ctx context.Context) (*SessionResponse, error) {
	resp, err := s.client.doRequest(ctx, http.MethodGet, "/v1/session", nil, nil, s)
	if err != nil {
		return nil, err
	}

	var out SessionResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout asks the service to clear the session cookie. The credential
// itself stays valid until it expires; drop it.
func (s *Session) Logout(ctx context.Context) error {
	resp, err := s.client.doRequest(ctx, http.MethodPost, "/v1/auth/logout", nil, nil, s)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}
