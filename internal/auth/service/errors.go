package service

import "errors"

var (
	// ErrInvalidIdentity means the claimed identity is not an acceptable
	// email address. Safe to show to the caller.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrInvalidOrExpiredToken covers every reason a link cannot be
	// redeemed. Callers must not be told which one applied.
	ErrInvalidOrExpiredToken = errors.New("link is invalid or has expired")

	// ErrDeliveryFailed means the email could not be handed off; the link
	// minted for it has been withdrawn.
	ErrDeliveryFailed = errors.New("email delivery failed")

	ErrStoreUnavailable   = errors.New("token store unavailable")
	ErrSigningUnavailable = errors.New("session signing unavailable")
	ErrUnauthenticated    = errors.New("unauthenticated")
)
