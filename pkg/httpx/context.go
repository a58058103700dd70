package httpx

import (
	"context"
	"time"
)

type ctxKey string

const (
	CtxKeySubject   ctxKey = "subject"
	CtxKeyExpiresAt ctxKey = "expires_at"
)

// WithSubject records the authenticated caller and when their credential
// stops being valid.
func WithSubject(ctx context.Context, subject string, expiresAt time.Time) context.Context {
	ctx = context.WithValue(ctx, CtxKeySubject, subject)
	ctx = context.WithValue(ctx, CtxKeyExpiresAt, expiresAt)
	return ctx
}

// SubjectFromContext returns the authenticated caller, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(CtxKeySubject).(string)
	return v, ok && v != ""
}

// ExpiresAtFromContext returns the expiry of the caller's credential.
func ExpiresAtFromContext(ctx context.Context) (time.Time, bool) {
	v, ok := ctx.Value(CtxKeyExpiresAt).(time.Time)
	return v, ok
}
