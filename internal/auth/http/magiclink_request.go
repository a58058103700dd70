package http

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/aussiebroadwan/lapse/internal/auth/service"
	"github.com/aussiebroadwan/lapse/pkg/authsdk"
	"github.com/aussiebroadwan/lapse/pkg/httpx"
	"github.com/aussiebroadwan/lapse/pkg/slogx"
)

// maxLinkRequestBody caps the request body; an email address is tiny.
const maxLinkRequestBody = 4 << 10

// deliveryRetryAfter is the Retry-After hint sent when mail is down.
const deliveryRetryAfter = 30

const linkSentMessage = "If the address is registered, a sign-in link is on its way."

type LinkRequestHandler struct {
	MagicLinkService *service.MagicLinkService
}

// ServeHTTP godoc
//
//	@Summary		Request a sign-in link
//	@Description	Emails a single-use sign-in link to the address. The response is the same whether or not the address is registered.
//	@Tags			Auth
//	@Accept			json,x-www-form-urlencoded
//	@Produce		json
//	@Param			request	body		authsdk.LinkRequest		true	"Email address (also accepted as the email form field)"
//	@Success		202		{object}	authsdk.LinkResponse	"status, message"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request, invalid_identity"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limit_exceeded"
//	@Failure		500		{object}	authsdk.ErrorResponse	"server_error"
//	@Failure		503		{object}	authsdk.ErrorResponse	"delivery_failed"
//	@Router			/v1/auth/link [post].
func (h *LinkRequestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	email, ok := readEmail(w, r)
	if !ok {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.MagicLinkService.RequestLink(ctx, email); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidIdentity):
			authsdk.ErrInvalidIdentity.WriteError(w)
		case errors.Is(err, service.ErrDeliveryFailed):
			log.Warn("sign-in link not delivered", "err", err)
			w.Header().Set("Retry-After", strconv.Itoa(deliveryRetryAfter))
			authsdk.ErrDeliveryFailed.WriteError(w)
		default:
			log.Error("sign-in link request failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusAccepted, authsdk.LinkResponse{
		Status:  "sent",
		Message: linkSentMessage,
	})
}

// readEmail takes the address from a JSON body or, for anything else, the
// email form field.
func readEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLinkRequestBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req authsdk.LinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", false
		}
		return req.Email, true
	}

	if err := r.ParseForm(); err != nil {
		return "", false
	}
	return r.PostFormValue("email"), true
}
