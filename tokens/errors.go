package tokens

import "errors"

// Sentinel errors for the token flows. Handlers translate these into HTTP
// statuses; everything else bubbles up as a 500.
var (
	// ErrNoToken is returned when no token was provided at all.
	ErrNoToken = errors.New("no token provided")
	// ErrAppIDMissing is returned when a client token carries no app id claim.
	ErrAppIDMissing = errors.New("no app id in token payload")
	// ErrBlacklisted is returned for single-use tokens that were already consumed.
	ErrBlacklisted = errors.New("token has been blacklisted")
	// ErrInvalidToken is returned when signature or claim validation fails.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpired is returned for structurally valid but expired tokens.
	ErrExpired = errors.New("token has expired")
	// ErrNoRedirectURL is returned when a token carries no redirect URL claim.
	ErrNoRedirectURL = errors.New("no redirect URL found in token")
)
