package domain

import "time"

// DefaultMagicLinkTTL is how long an emailed link can be redeemed.
const DefaultMagicLinkTTL = 10 * time.Minute

// MagicLink is a pending magic link record. Only the fingerprint of the
// secret is kept; the secret itself only ever exists in the email.
type MagicLink struct {
	ID        string   // ULID, log correlation only
	TokenHash string   // base64url SHA-256 of the secret, primary key
	Identity  Identity // who the link signs in
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Pending reports whether the link can still be redeemed at now.
func (m MagicLink) Pending(now time.Time) bool {
	return m.ExpiresAt.After(now)
}
