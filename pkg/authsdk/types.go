package authsdk

import "time"

// ErrorResponse is the JSON body of every error the service returns.
type ErrorResponse struct {
	// Error is a short machine readable code (e.g. "invalid_identity").
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error.
	ErrorDescription string `json:"error_description"`
}

// LinkRequest is the body of POST /v1/auth/link. The endpoint also takes
// the same field as a form value.
type LinkRequest struct {
	Email string `json:"email" example:"alice@example.org"`
}

// LinkResponse is returned for every accepted link request, whether or not
// an email was actually sent.
type LinkResponse struct {
	Status  string `json:"status" example:"sent"`
	Message string `json:"message" example:"If the address is registered, a sign-in link is on its way."`
}

// SessionResponse describes the caller's current session.
type SessionResponse struct {
	Identity  string    `json:"identity" example:"alice@example.org"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	// Status indicates the overall health status (e.g., "ok")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains readiness check results for critical dependencies (only for /readyz)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the state of each dependency /readyz looks at.
type HealthChecks struct {
	// Store is the token store connection status.
	Store string `json:"store"`
}
