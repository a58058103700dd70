/*
Package authsdk provides a client SDK for the lapse magic-link authentication
service, plus the wire types the service itself writes.

# SDKClient vs Session

  - SDKClient: unauthenticated operations (requesting a link, redeeming it,
    health checks)
  - Session: operations on behalf of a signed in identity

Request a link, then redeem the secret from the emailed URL:

	client := authsdk.NewSDKClient("https://auth.example.org")

	if err := client.RequestLink(ctx, "alice@example.org"); err != nil {
		return err
	}

	// token is the ?token= value from the emailed link
	session, err := client.Consume(ctx, token)
	if err != nil {
		return err
	}

	info, err := session.Info(ctx)

# Errors

Failed calls return *APIError carrying the HTTP status and the service's
error code. Compare with errors.Is against the predefined values:

	if errors.Is(err, authsdk.ErrInvalidLink) {
		// ask for a new link
	}

Consume never follows the service's redirect; a failed redemption is
reported as ErrInvalidLink.
*/
package authsdk
