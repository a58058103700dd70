package http

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/service"
	"github.com/aussiebroadwan/lapse/internal/auth/store"
	"github.com/aussiebroadwan/lapse/pkg/httpx"
	"github.com/aussiebroadwan/lapse/pkg/slogx"

	_ "github.com/aussiebroadwan/lapse/api/docs" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// RateLimits holds the per-route limiter profiles.
type RateLimits struct {
	Link    httpx.RateLimitConfig
	Consume httpx.RateLimitConfig
	Session httpx.RateLimitConfig
}

// DefaultRateLimits returns the httpx default profiles.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Link:    httpx.LinkRequestLimit,
		Consume: httpx.ConsumeLimit,
		Session: httpx.SessionLimit,
	}
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store            store.Store
	MagicLinkService *service.MagicLinkService
	SessionService   *service.SessionService

	Cookie          CookieConfig
	SuccessRedirect string
	LoginURL        string
	RateLimits      RateLimits

	// TrustedProxies are the peers whose forwarding headers name the client.
	TrustedProxies []netip.Prefix
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:             http.NewServeMux(),
		buildVersion:    buildVersion,
		startTime:       time.Now(),
		store:           st,
		logger:          logger,
		Cookie:          CookieConfig{Name: "lapse_session", Secure: true},
		SuccessRedirect: "/",
		LoginURL:        "/login",
		RateLimits:      DefaultRateLimits(),
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.middlewares = append(r.middlewares, httpx.ClientIP(r.TrustedProxies))

	r.registerAuth()
	r.registerSession()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Lapse Authentication Service API
//	@version		0.1.0
//	@description	Passwordless sign-in. A user asks for a single-use link by email, follows it, and receives a signed session cookie.
//	@description
//	@description				Sessions are HS256-signed and stateless; they end at their expiry.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/lapse
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Session token. Format: "Bearer {token}".
//
//	@securityDefinitions.apikey	SessionCookie
//	@in							cookie
//	@name						lapse_session
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	// POST /link - strict limit by IP + address, every accepted call may send an email
	linkHandler := &LinkRequestHandler{MagicLinkService: r.MagicLinkService}
	r.Mux.Handle("POST /v1/auth/link",
		httpx.Chain(linkHandler,
			httpx.MaxBodyBytes(maxLinkRequestBody),
			httpx.RateLimitByIPAndBodyField(r.RateLimits.Link, "email"),
		),
	)

	// GET /consume - limit by IP against secret guessing
	consumeHandler := &ConsumeHandler{
		MagicLinkService: r.MagicLinkService,
		SessionService:   r.SessionService,
		Cookie:           r.Cookie,
		SuccessRedirect:  r.SuccessRedirect,
		LoginURL:         r.LoginURL,
	}
	r.Mux.Handle("GET /v1/auth/consume",
		httpx.Chain(consumeHandler,
			httpx.RateLimitByIP(r.RateLimits.Consume),
		),
	)

	// POST /logout - needs no session, it only clears the cookie
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(&LogoutHandler{Cookie: r.Cookie},
			httpx.RateLimitByIP(r.RateLimits.Session),
		),
	)
}

func (r *Router) registerSession() {
	secured := httpx.Chain(&SessionHandler{},
		httpx.RateLimitByIP(r.RateLimits.Session),
		httpx.AuthnMiddleware(r.Cookie.Name, SessionAuthenticator(r.SessionService)),
		httpx.RateLimitBySubject(r.RateLimits.Session),
	)

	r.Mux.Handle("GET /v1/session", secured)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(r.RateLimits.Session),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(r.RateLimits.Session),
		),
	)
}
