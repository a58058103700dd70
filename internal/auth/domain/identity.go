package domain

import (
	"errors"
	"net/mail"
	"slices"
	"strings"
)

// maxIdentityLen is the longest forward-path SMTP will carry.
const maxIdentityLen = 254

var (
	ErrMalformedIdentity  = errors.New("identity is not a plain email address")
	ErrIdentityNotAllowed = errors.New("identity domain is not allowed")
)

// Identity is a normalised email address identifying a principal.
type Identity string

func (i Identity) String() string { return string(i) }

// Domain returns everything after the last '@'.
func (i Identity) Domain() string {
	at := strings.LastIndexByte(string(i), '@')
	if at < 0 {
		return ""
	}
	return string(i)[at+1:]
}

// NormalizeIdentity trims and lower-cases an address. It does not validate.
func NormalizeIdentity(s string) Identity {
	return Identity(strings.ToLower(strings.TrimSpace(s)))
}

// IdentityPolicy decides which addresses may ask for a link at all.
type IdentityPolicy struct {
	// AllowedDomains restricts addresses to these domains (lower-case).
	// Empty allows any domain.
	AllowedDomains []string
}

// NewIdentityPolicy normalises the configured domain list.
func NewIdentityPolicy(domains []string) IdentityPolicy {
	var out []string
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(d), "@")))
		if d != "" && !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return IdentityPolicy{AllowedDomains: out}
}

// Validate normalises claimed and checks it against the policy.
func (p IdentityPolicy) Validate(claimed string) (Identity, error) {
	id := NormalizeIdentity(claimed)
	if id == "" || len(id) > maxIdentityLen {
		return "", ErrMalformedIdentity
	}

	// Only bare addresses, no display names or angle brackets.
	addr, err := mail.ParseAddress(string(id))
	if err != nil || addr.Name != "" || addr.Address != string(id) {
		return "", ErrMalformedIdentity
	}

	domain := id.Domain()
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", ErrMalformedIdentity
	}

	if len(p.AllowedDomains) > 0 && !slices.Contains(p.AllowedDomains, domain) {
		return "", ErrIdentityNotAllowed
	}

	return id, nil
}
