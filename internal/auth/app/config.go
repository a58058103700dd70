package app

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/aussiebroadwan/lapse/pkg/httpx"
	"github.com/aussiebroadwan/lapse/pkg/mailx"
)

// ErrInvalidConfig is returned by Validate; the individual problems are
// joined onto it.
var ErrInvalidConfig = errors.New("invalid configuration")

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Config struct {
	Env                 string        `env:"ENV" envDefault:"dev"`         // dev, staging, prod
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`  // debug, info, warn, error
	LogFormat           string        `env:"LOG_FORMAT" envDefault:"json"` // json, text
	Port                int           `env:"PORT" envDefault:"8080"`
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`

	Issuer            string `env:"AUTH_ISSUER" envDefault:"lapse"`
	SessionSecret     string `env:"AUTH_SESSION_SECRET,unset"`
	SessionSecretFile string `env:"AUTH_SESSION_SECRET_FILE"` // read when AUTH_SESSION_SECRET is empty

	MagicLinkTTLMinutes int    `env:"AUTH_MAGIC_LINK_TTL_MINUTES" envDefault:"10"`
	SessionTTLDays      int    `env:"AUTH_SESSION_TTL_DAYS" envDefault:"60"`
	BaseURL             string `env:"AUTH_BASE_URL" envDefault:"http://localhost:8080"`
	SuccessRedirect     string `env:"AUTH_SUCCESS_REDIRECT" envDefault:"/"`
	LoginURL            string `env:"AUTH_LOGIN_URL" envDefault:"/login"`
	CookieName          string `env:"AUTH_COOKIE_NAME" envDefault:"lapse_session"`
	CookieDomain        string `env:"AUTH_COOKIE_DOMAIN"`

	AllowedDomains []string `env:"AUTH_ALLOWED_DOMAINS" envSeparator:","`
	AllowedEmails  []string `env:"AUTH_ALLOWED_EMAILS" envSeparator:","`

	StoreDriver   string        `env:"AUTH_STORE_DRIVER" envDefault:"sqlite"`
	DatabaseFile  string        `env:"AUTH_DATABASE_FILE" envDefault:"lapse.db"`
	DatabaseURL   string        `env:"AUTH_DATABASE_URL,unset"`
	RedisURL      string        `env:"AUTH_REDIS_URL,unset" envDefault:"redis://localhost:6379/0"`
	SweepInterval time.Duration `env:"AUTH_SWEEP_INTERVAL" envDefault:"5m"`

	MailMode             string        `env:"MAIL_MODE" envDefault:"log"` // log, smtp, postmark
	MailTimeout          time.Duration `env:"MAIL_TIMEOUT" envDefault:"10s"`
	MailSender           string        `env:"MAIL_SENDER" envDefault:"noreply@localhost"`
	MailReplyTo          string        `env:"MAIL_REPLY_TO"`
	PostmarkServerToken  string        `env:"POSTMARK_SERVER_TOKEN,unset"`
	PostmarkAccountToken string        `env:"POSTMARK_ACCOUNT_TOKEN,unset"`
	SMTPHost             string        `env:"SMTP_HOST"`
	SMTPPort             int           `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername         string        `env:"SMTP_USERNAME"`
	SMTPPassword         string        `env:"SMTP_PASSWORD,unset"`
	SMTPTLSMode          string        `env:"SMTP_TLS_MODE" envDefault:"starttls"`

	RateLimitLink    httpx.RateLimitConfig `envPrefix:"RATELIMIT_LINK_"`
	RateLimitConsume httpx.RateLimitConfig `envPrefix:"RATELIMIT_CONSUME_"`
	RateLimitSession httpx.RateLimitConfig `envPrefix:"RATELIMIT_SESSION_"`

	// TrustedProxies lists the peers (CIDR or IP) whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means the peer is the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// LoadConfig reads the environment, after loading a .env file from the
// working directory if there is one.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		RateLimitLink:    httpx.LinkRequestLimit,
		RateLimitConsume: httpx.ConsumeLimit,
		RateLimitSession: httpx.SessionLimit,
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func (c Config) IsDev() bool { return c.Env == "dev" }

func (c Config) MagicLinkTTL() time.Duration {
	return time.Duration(c.MagicLinkTTLMinutes) * time.Minute
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLDays) * 24 * time.Hour
}

// Proxies parses TrustedProxies.
func (c Config) Proxies() ([]netip.Prefix, error) {
	return httpx.ParseTrustedProxies(c.TrustedProxies)
}

// Mail maps the flat MAIL_/SMTP_/POSTMARK_ settings onto mailx.Config.
func (c Config) Mail() mailx.Config {
	return mailx.Config{
		Mode:    c.MailMode,
		From:    c.MailSender,
		ReplyTo: c.MailReplyTo,
		Postmark: mailx.PostmarkConfig{
			ServerToken:  c.PostmarkServerToken,
			AccountToken: c.PostmarkAccountToken,
		},
		SMTP: mailx.SMTPConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.SMTPUsername,
			Password: c.SMTPPassword,
			TLSMode:  c.SMTPTLSMode,
		},
	}
}

// ValidateStore checks only what opening the store needs, for the
// one-shot commands.
func (c Config) ValidateStore() error {
	var errs []error

	switch c.StoreDriver {
	case DriverSQLite:
		if c.DatabaseFile == "" {
			errs = append(errs, errors.New("AUTH_DATABASE_FILE is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("AUTH_DATABASE_URL is required for the postgres driver"))
		}
	case DriverRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("AUTH_REDIS_URL is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_STORE_DRIVER %q is not one of sqlite, postgres, redis", c.StoreDriver))
	}

	return joinInvalid(errs)
}

// Validate checks everything the HTTP service needs.
func (c Config) Validate() error {
	var errs []error

	if err := c.ValidateStore(); err != nil {
		errs = append(errs, err)
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if c.MagicLinkTTLMinutes <= 0 {
		errs = append(errs, errors.New("AUTH_MAGIC_LINK_TTL_MINUTES must be positive"))
	}
	if c.SessionTTLDays <= 0 {
		errs = append(errs, errors.New("AUTH_SESSION_TTL_DAYS must be positive"))
	}
	if c.SessionSecret == "" && c.SessionSecretFile == "" {
		errs = append(errs, errors.New("AUTH_SESSION_SECRET or AUTH_SESSION_SECRET_FILE is required"))
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("AUTH_BASE_URL %q must be an absolute URL", c.BaseURL))
	}
	if c.CookieName == "" {
		errs = append(errs, errors.New("AUTH_COOKIE_NAME must not be empty"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("AUTH_SWEEP_INTERVAL must be positive"))
	}
	if _, err := c.Proxies(); err != nil {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %w", err))
	}

	// Outside dev, links must actually reach people.
	if !c.IsDev() && strings.EqualFold(c.MailMode, mailx.ModeLog) {
		errs = append(errs, fmt.Errorf("MAIL_MODE=log is only allowed when ENV=dev (ENV=%s)", c.Env))
	}

	return joinInvalid(errs)
}

func joinInvalid(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
