package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/lapse/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters. The env tags are
// relative; callers embed it under a prefix such as RATELIMIT_LINK_.
type RateLimitConfig struct {
	// Requests is the number of requests allowed per Window.
	Requests int `env:"REQUESTS"`
	// Window is the time window for rate limiting.
	Window time.Duration `env:"WINDOW"`
	// Burst allows temporary bursts above the steady rate.
	Burst int `env:"BURST"`
}

// Default profiles.
var (
	// LinkRequestLimit guards link requests, which each send an email.
	// 5 per minute per IP and address.
	LinkRequestLimit = RateLimitConfig{
		Requests: 5,
		Window:   time.Minute,
		Burst:    5,
	}

	// ConsumeLimit guards link consumption against secret guessing.
	ConsumeLimit = RateLimitConfig{
		Requests: 20,
		Window:   time.Minute,
		Burst:    20,
	}

	// SessionLimit is for authenticated reads.
	SessionLimit = RateLimitConfig{
		Requests: 100,
		Window:   time.Minute,
		Burst:    100,
	}
)

// KeyExtractor is a function that extracts a unique key from the request
// for rate limiting purposes (e.g., IP address, email address).
type KeyExtractor func(*http.Request) string

// IPKeyExtractor keys on the client address resolved by the ClientIP
// middleware. Without it only the peer address is used; forwarding headers
// are never read here.
func IPKeyExtractor(r *http.Request) string {
	if ip, ok := ClientIPFromContext(r.Context()); ok {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// SubjectKeyExtractor keys on the authenticated caller. Returns empty
// string for anonymous requests.
func SubjectKeyExtractor(r *http.Request) string {
	subject, _ := SubjectFromContext(r.Context())
	return subject
}

// CompositeKeyExtractor combines multiple key extractors with a separator.
// Example: CompositeKeyExtractor(":", IPKeyExtractor, BodyFieldKeyExtractor("email"))
// would produce keys like "192.168.1.1:alice@example.org"
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		var parts []string
		for _, extractor := range extractors {
			if key := extractor(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

// maxPeekBody bounds how much of a body BodyFieldKeyExtractor reads.
const maxPeekBody = 64 << 10

// BodyFieldKeyExtractor extracts a string field from a form or JSON body,
// falling back to the query string. The body is put back untouched for
// the handler. Values are lower-cased so case variants share a bucket.
func BodyFieldKeyExtractor(fieldName string) KeyExtractor {
	return func(r *http.Request) string {
		var v string

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch mediaType {
		case "application/json":
			var fields map[string]any
			if err := json.Unmarshal(peekBody(r), &fields); err == nil {
				v, _ = fields[fieldName].(string)
			}
		case "application/x-www-form-urlencoded":
			if values, err := url.ParseQuery(string(peekBody(r))); err == nil {
				v = values.Get(fieldName)
			}
		}

		if v == "" {
			v = r.URL.Query().Get(fieldName)
		}
		return strings.ToLower(strings.TrimSpace(v))
	}
}

type peekedBody struct {
	io.Reader
	io.Closer
}

// peekBody reads up to maxPeekBody bytes and stitches them back in front of
// whatever is unread. A read error, such as a MaxBodyBytes overflow, is
// reported again when the handler reads the body.
func peekBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBody))
	r.Body = peekedBody{Reader: io.MultiReader(bytes.NewReader(body), r.Body), Closer: r.Body}
	if err != nil {
		return nil
	}
	return body
}

// rateLimiter manages rate limiters for different keys
type rateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

// getLimiter retrieves or creates a rate limiter for the given key
func (rl *rateLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	actual, _ := rl.limiters.LoadOrStore(key, limiter)

	rl.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup drops limiters whose bucket has refilled, at most once
// every 5 minutes. A full bucket means the key has been idle.
func (rl *rateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < 5*time.Minute {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// RateLimitMiddleware creates a rate limiting middleware with the given configuration.
// The keyExtractor determines how requests are grouped for rate limiting.
func RateLimitMiddleware(config RateLimitConfig, keyExtractor KeyExtractor) Middleware {
	if config.Requests <= 0 || config.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if config.Burst <= 0 {
		config.Burst = config.Requests
	}

	rl := &rateLimiter{
		rate:        rate.Limit(float64(config.Requests) / config.Window.Seconds()),
		burst:       config.Burst,
		lastCleanup: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			key := keyExtractor(r)
			if key == "" {
				log.Warn("rate limit: unable to extract key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			limiter := rl.getLimiter(key)
			if !limiter.Allow() {
				// Peek at when the next token lands without spending it.
				reservation := limiter.Reserve()
				delay := reservation.Delay()
				reservation.Cancel()

				retryAfter := max(int(delay.Seconds()), 1)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Requests))
				w.Header().Set("X-RateLimit-Window", config.Window.String())

				log.Warn("rate limit exceeded",
					"endpoint", r.URL.Path,
					"retry_after", retryAfter,
				)

				WriteJSON(w, http.StatusTooManyRequests, map[string]string{
					"error":             "rate_limit_exceeded",
					"error_description": "Too many requests. Please try again later.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP creates a rate limiter that limits by IP address only.
func RateLimitByIP(config RateLimitConfig) Middleware {
	return RateLimitMiddleware(config, IPKeyExtractor)
}

// RateLimitBySubject limits by authenticated caller, so one identity shares
// a budget across addresses. Anonymous requests fall back to IP.
func RateLimitBySubject(config RateLimitConfig) Middleware {
	return RateLimitMiddleware(config, func(r *http.Request) string {
		if subject := SubjectKeyExtractor(r); subject != "" {
			return "sub:" + subject
		}
		return IPKeyExtractor(r)
	})
}

// RateLimitByIPAndBodyField limits by IP plus a request field, e.g. the
// email address a link is requested for.
func RateLimitByIPAndBodyField(config RateLimitConfig, fieldName string) Middleware {
	return RateLimitMiddleware(config, CompositeKeyExtractor(":",
		IPKeyExtractor,
		BodyFieldKeyExtractor(fieldName),
	))
}
