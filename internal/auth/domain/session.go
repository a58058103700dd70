package domain

import "time"

// Session is what a valid session credential tells us about the caller.
// Nothing about it is stored server side.
type Session struct {
	ID        string // jti
	Identity  Identity
	IssuedAt  time.Time
	ExpiresAt time.Time
}
