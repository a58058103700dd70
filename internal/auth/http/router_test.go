package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/lapse/internal/auth/domain"
	"github.com/aussiebroadwan/lapse/internal/auth/service"
	"github.com/aussiebroadwan/lapse/internal/auth/store"
	"github.com/aussiebroadwan/lapse/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/lapse/pkg/authsdk"
	"github.com/aussiebroadwan/lapse/pkg/httpx"
	"github.com/aussiebroadwan/lapse/pkg/mailx"
)

const testCookie = "lapse_session"

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailx.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mailx.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var secretPattern = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

func (m *recordingMailer) lastSecret(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	require.NotEmpty(t, m.sent, "no mail sent")
	match := secretPattern.FindStringSubmatch(m.sent[len(m.sent)-1].TextBody)
	require.Len(t, match, 2)
	return match[1]
}

type testEnv struct {
	router *Router
	store  store.Store
	mailer *recordingMailer
}

func newTestEnv(t *testing.T, allowed ...string) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil, allowed...)
}

// newTestEnvWith lets a test adjust the router before routes are applied.
func newTestEnvWith(t *testing.T, configure func(*Router), allowed ...string) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	mailer := &recordingMailer{}
	links := service.NewMagicLinkService(st, mailer, service.NewAllowList(allowed),
		domain.NewIdentityPolicy(nil),
		service.MagicLinkConfig{BaseURL: "http://lapse.test", TTL: 10 * time.Minute},
	)
	sessions, err := service.NewSessionService(service.SessionConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Issuer: "lapse-test",
		TTL:    time.Hour,
	})
	require.NoError(t, err)

	r := NewRouter("test", st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.MagicLinkService = links
	r.SessionService = sessions
	r.Cookie = CookieConfig{Name: testCookie}
	r.SuccessRedirect = "/app"
	r.LoginURL = "/login"
	if configure != nil {
		configure(r)
	}
	r.ApplyRoutes()

	return &testEnv{router: r, store: st, mailer: mailer}
}

func (e *testEnv) do(req *http.Request) *http.Response {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec.Result()
}

func (e *testEnv) requestLinkJSON(email string) *http.Response {
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/link", strings.NewReader(`{"email":"`+email+`"}`))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *testEnv) consume(secret string) *http.Response {
	return e.do(httptest.NewRequest(http.MethodGet, "/v1/auth/consume?token="+url.QueryEscape(secret), nil))
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == testCookie {
			return c
		}
	}
	t.Fatalf("no %s cookie set", testCookie)
	return nil
}

func decodeError(t *testing.T, resp *http.Response) authsdk.ErrorResponse {
	t.Helper()
	var body authsdk.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestSignInFlow(t *testing.T) {
	env := newTestEnv(t)

	resp := env.requestLinkJSON("Alice@Example.org")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var linkResp authsdk.LinkResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&linkResp))
	require.Equal(t, "sent", linkResp.Status)

	secret := env.mailer.lastSecret(t)

	resp = env.consume(secret)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/app", resp.Header.Get("Location"))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	cookie := sessionCookie(t, resp)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	require.Equal(t, "/", cookie.Path)
	require.False(t, cookie.Expires.IsZero())

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: cookie.Value})
	resp = env.do(req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info authsdk.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, "alice@example.org", info.Identity)
	require.WithinDuration(t, time.Now().Add(time.Hour), info.ExpiresAt, 5*time.Second)

	// Second use of the same link.
	resp = env.consume(secret)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/login?error=invalid_link", resp.Header.Get("Location"))
	require.Empty(t, resp.Cookies())
}

func TestRequestLink_Form(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/link", strings.NewReader("email=bob%40example.org"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := env.do(req)

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, env.mailer.count())
}

func TestRequestLink_InvalidIdentity(t *testing.T) {
	env := newTestEnv(t)

	for _, email := range []string{"", "not-an-email", "Alice <alice@example.org>"} {
		t.Run(email, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/auth/link",
				strings.NewReader(url.Values{"email": {email}}.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			resp := env.do(req)

			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			require.Equal(t, authsdk.ErrorCodeInvalidIdentity, decodeError(t, resp).Error)
		})
	}
	require.Zero(t, env.mailer.count())
}

func TestRequestLink_MalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/link", strings.NewReader(`{"email":`))
	req.Header.Set("Content-Type", "application/json")
	resp := env.do(req)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, authsdk.ErrorCodeInvalidRequest, decodeError(t, resp).Error)
}

func TestRequestLink_UnknownIdentityLooksTheSame(t *testing.T) {
	env := newTestEnv(t, "alice@example.org")

	known := env.requestLinkJSON("alice@example.org")
	unknown := env.requestLinkJSON("mallory@example.org")

	require.Equal(t, known.StatusCode, unknown.StatusCode)
	knownBody, _ := io.ReadAll(known.Body)
	unknownBody, _ := io.ReadAll(unknown.Body)
	require.Equal(t, string(knownBody), string(unknownBody))
	require.Equal(t, 1, env.mailer.count())
}

func TestRequestLink_DeliveryFailed(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp: connection refused")

	resp := env.requestLinkJSON("alice@example.org")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "30", resp.Header.Get("Retry-After"))
	require.Equal(t, authsdk.ErrorCodeDeliveryFailed, decodeError(t, resp).Error)

	n, err := env.store.MagicLinks().DeleteExpired(context.Background(), time.Now().AddDate(1, 0, 0))
	require.NoError(t, err)
	require.Zero(t, n, "undelivered link must not be stored")
}

func TestRequestLink_StoreDown(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Close())

	resp := env.requestLinkJSON("alice@example.org")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, authsdk.ErrorCodeServerError, decodeError(t, resp).Error)
}

func TestRequestLink_RateLimited(t *testing.T) {
	env := newTestEnv(t)

	var last *http.Response
	for range env.router.RateLimits.Link.Burst + 1 {
		last = env.requestLinkJSON("alice@example.org")
	}
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)

	// Another address from the same client has its own budget.
	require.Equal(t, http.StatusAccepted, env.requestLinkJSON("bob@example.org").StatusCode)
}

func TestRequestLink_ForwardedForNeedsTrustedProxy(t *testing.T) {
	spoofed := func(env *testEnv, i int) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/link", strings.NewReader(`{"email":"alice@example.org"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		return env.do(req).StatusCode
	}

	t.Run("untrusted peer", func(t *testing.T) {
		env := newTestEnv(t)

		var last int
		for i := range env.router.RateLimits.Link.Burst + 1 {
			last = spoofed(env, i)
		}
		require.Equal(t, http.StatusTooManyRequests, last, "a rotating header must not reset the budget")
	})

	t.Run("trusted proxy", func(t *testing.T) {
		env := newTestEnvWith(t, func(r *Router) {
			// httptest requests come from 192.0.2.1.
			r.TrustedProxies = []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")}
		})

		for i := range env.router.RateLimits.Link.Burst + 1 {
			require.Equal(t, http.StatusAccepted, spoofed(env, i), "each forwarded client has its own budget")
		}
	})
}

func TestRequestLink_OversizedBody(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{"email": {"alice@example.org"}, "pad": {strings.Repeat("x", 64<<10)}}
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/link", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := env.do(req)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, authsdk.ErrorCodeInvalidRequest, decodeError(t, resp).Error)
	require.Zero(t, env.mailer.count())
}

func TestConsume_InvalidSecrets(t *testing.T) {
	env := newTestEnv(t)

	for _, secret := range []string{"", "garbage", strings.Repeat("A", 2000)} {
		resp := env.consume(secret)
		require.Equal(t, http.StatusSeeOther, resp.StatusCode)
		require.Equal(t, "/login?error=invalid_link", resp.Header.Get("Location"))
		require.Equal(t, "no-referrer", resp.Header.Get("Referrer-Policy"))
	}
}

func TestConsume_HeadLeavesLinkUnused(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusAccepted, env.requestLinkJSON("alice@example.org").StatusCode)
	secret := env.mailer.lastSecret(t)

	head := env.do(httptest.NewRequest(http.MethodHead, "/v1/auth/consume?token="+url.QueryEscape(secret), nil))
	require.Equal(t, http.StatusOK, head.StatusCode)
	require.Empty(t, head.Cookies())
	require.Empty(t, head.Header.Get("Location"))
	require.Equal(t, "no-store", head.Header.Get("Cache-Control"))

	resp := env.consume(secret)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/app", resp.Header.Get("Location"))
	require.NotEmpty(t, sessionCookie(t, resp).Value)
}

func TestConsume_StoreDownIsNotInvalidLink(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Close())

	resp := env.consume("whatever")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/login?error=server_error", resp.Header.Get("Location"))
}

func TestConsume_LoginURLKeepsQuery(t *testing.T) {
	h := &ConsumeHandler{LoginURL: "https://app.example.org/login?next=%2Fhome"}
	u, err := url.Parse(h.loginURL(authsdk.ErrorCodeInvalidLink))
	require.NoError(t, err)
	require.Equal(t, "/home", u.Query().Get("next"))
	require.Equal(t, "invalid_link", u.Query().Get("error"))
}

func TestSession_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(httptest.NewRequest(http.MethodGet, "/v1/session", nil))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.AddCookie(&http.Cookie{Name: testCookie, Value: "forged.token.value"})
	resp = env.do(req)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSession_BearerFallback(t *testing.T) {
	env := newTestEnv(t)

	token, _, err := env.router.SessionService.Issue("carol@example.org")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := env.do(req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info authsdk.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, "carol@example.org", info.Identity)
}

func TestSession_RateLimitedByIdentity(t *testing.T) {
	env := newTestEnvWith(t, func(r *Router) {
		r.RateLimits.Session = httpx.RateLimitConfig{Requests: 2, Window: time.Minute, Burst: 2}
	})

	get := func(identity domain.Identity, remote string) int {
		token, _, err := env.router.SessionService.Issue(identity)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
		req.RemoteAddr = remote
		req.Header.Set("Authorization", "Bearer "+token)
		return env.do(req).StatusCode
	}

	require.Equal(t, http.StatusOK, get("carol@example.org", "203.0.113.1:1000"))
	require.Equal(t, http.StatusOK, get("carol@example.org", "203.0.113.2:1000"))
	require.Equal(t, http.StatusTooManyRequests, get("carol@example.org", "203.0.113.3:1000"),
		"the budget follows the identity across addresses")
	require.Equal(t, http.StatusOK, get("dave@example.org", "203.0.113.4:1000"))
}

func TestLogout_ClearsCookie(t *testing.T) {
	env := newTestEnv(t)

	for range 2 {
		resp := env.do(httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil))
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		cookie := sessionCookie(t, resp)
		require.Empty(t, cookie.Value)
		require.Equal(t, -1, cookie.MaxAge)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, env.store.Close())
	resp = env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var health authsdk.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "degraded", health.Status)
	require.Equal(t, "unavailable", health.Checks.Store)
}
