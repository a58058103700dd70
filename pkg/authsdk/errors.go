package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/lapse/pkg/httpx"
)

// Error codes written by the service.
const (
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeInvalidIdentity   = "invalid_identity"
	ErrorCodeDeliveryFailed    = "delivery_failed"
	ErrorCodeInvalidLink       = "invalid_link"
	ErrorCodeUnauthenticated   = "unauthenticated"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
	ErrorCodeServerError       = "server_error"
)

// APIError is an error response from the service. It is written by the
// service handlers and decoded by the client, so both sides agree on shape.
type APIError struct {
	// StatusCode is the HTTP status code for this error
	StatusCode int `json:"-"`

	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches on Code so errors decoded from a response compare equal to
// the predefined values below.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// WriteError writes this error as the JSON response body.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.WriteJSON(w, e.StatusCode, ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
	})
}

var (
	ErrInvalidRequest = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	ErrInvalidIdentity = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidIdentity,
		Description: "email must be a plain address such as alice@example.org",
	}

	// ErrDeliveryFailed means no email went out; asking again is safe.
	ErrDeliveryFailed = &APIError{
		StatusCode:  http.StatusServiceUnavailable,
		Code:        ErrorCodeDeliveryFailed,
		Description: "the sign-in email could not be sent, try again shortly",
	}

	// ErrInvalidLink covers unknown, used and expired links alike.
	ErrInvalidLink = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidLink,
		Description: "the sign-in link is invalid or has expired",
	}

	ErrUnauthenticated = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeUnauthenticated,
		Description: "session is missing, invalid or expired",
	}

	ErrServerError = &APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// parseErrorResponse turns a non-2xx response into an *APIError.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: strings.TrimSpace(fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, body)),
	}
}
