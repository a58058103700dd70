package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultCookieName matches the service's default AUTH_COOKIE_NAME.
const DefaultCookieName = "lapse_session"

// SDKClient is a client for the lapse authentication service.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// CookieName is the session cookie the service sets on redemption.
	CookieName string
}

// NewSDKClient creates a client. Its HTTP client never follows redirects,
// since redemption answers with one.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		CookieName: DefaultCookieName,
	}
}

// RequestLink asks the service to email a sign-in link. A nil error does
// not mean an email was sent; the service answers the same for addresses
// it does not know.
func (c *SDKClient) RequestLink(ctx context.Context, email string) error {
	body, err := json.Marshal(LinkRequest{Email: email})
	if err != nil {
		return err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/link", bytes.NewReader(body),
		map[string]string{"Content-Type": "application/json"}, nil)
	if err != nil {
		return err
	}

	var out LinkResponse
	return decodeJSON(resp, &out, http.StatusAccepted)
}

// Consume redeems the secret from an emailed link and returns the session
// the service issued for it.
func (c *SDKClient) Consume(ctx context.Context, token string) (*Session, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/auth/consume?token="+url.QueryEscape(token), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusSeeOther {
		return nil, parseErrorResponse(resp, body)
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == c.CookieName && cookie.Value != "" {
			return newSession(c, cookie), nil
		}
	}

	// No cookie: the service sent us to its login page with ?error=.
	if loc, err := resp.Location(); err == nil && loc.Query().Get("error") == ErrorCodeServerError {
		return nil, ErrServerError
	}
	return nil, ErrInvalidLink
}

// GetLiveness calls GET /livez.
func (c *SDKClient) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/livez")
}

// GetReadiness calls GET /readyz. A degraded service returns an error
// alongside the decoded checks.
func (c *SDKClient) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/readyz")
}

func (c *SDKClient) health(ctx context.Context, path string) (*HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &out, fmt.Errorf("%s: status %d (%s)", path, resp.StatusCode, out.Status)
	}
	return &out, nil
}
