// Package tokens implements the two JWT flows of the gateway: inbound client
// application tokens verified against per-app public keys, and server-issued
// single-use email verification tokens.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"membrane/keys"
)

// Blacklist tracks consumed verification tokens so an emailed link cannot be
// replayed. Entries only need to live until the token itself expires.
type Blacklist interface {
	Add(ctx context.Context, token string, ttl time.Duration) error
	Contains(ctx context.Context, token string) (bool, error)
}

// Options configures claim field names and token lifetime. Field names are
// configurable because registered client applications already issue tokens
// with their own claim vocabulary.
type Options struct {
	Algorithm        string
	AppIDField       string
	RedirectURLField string
	ExpirationField  string
	Expiry           time.Duration
}

// ClientClaims is the validated content of a client application token.
type ClientClaims struct {
	AppID       string
	RedirectURL string
	Claims      jwt.MapClaims
}

// VerificationClaims is the validated content of an email verification token.
// SessionID is the frontend's login session capability, empty when the login
// was started without a waiting page.
type VerificationClaims struct {
	Email       string
	RedirectURL string
	SessionID   string
	ExpiresAt   time.Time
}

// Service verifies client tokens and issues/consumes verification tokens.
type Service struct {
	keys      *keys.Store
	blacklist Blacklist
	opts      Options
	now       func() time.Time
}

// NewService creates a token Service backed by the given key store and blacklist.
func NewService(store *keys.Store, blacklist Blacklist, opts Options) *Service {
	if opts.Algorithm == "" {
		opts.Algorithm = "RS256"
	}
	if opts.AppIDField == "" {
		opts.AppIDField = "app_id"
	}
	if opts.RedirectURLField == "" {
		opts.RedirectURLField = "redirect_url"
	}
	if opts.ExpirationField == "" {
		opts.ExpirationField = "exp"
	}
	if opts.Expiry <= 0 {
		opts.Expiry = 5 * time.Minute
	}
	return &Service{
		keys:      store,
		blacklist: blacklist,
		opts:      opts,
		now:       time.Now,
	}
}

// DecodeClientToken validates a token issued by a registered client
// application. The app id is read from the unverified payload first to select
// the right public key, then the token is fully verified with that key.
func (s *Service) DecodeClientToken(tokenStr string) (*ClientClaims, error) {
	if tokenStr == "" {
		return nil, ErrNoToken
	}

	unverified := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenStr, unverified); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	appIDRaw, ok := unverified[s.opts.AppIDField]
	if !ok {
		return nil, ErrAppIDMissing
	}
	appID, ok := appIDRaw.(string)
	if !ok || appID == "" {
		return nil, ErrAppIDMissing
	}

	publicKey, err := s.keys.ClientPublicKey(appID)
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	token, err := jwt.NewParser(jwt.WithValidMethods([]string{s.opts.Algorithm})).
		ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return publicKey, nil
		})
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	redirectURL, err := s.redirectURLClaim(claims)
	if err != nil {
		return nil, err
	}
	if err := s.checkExpiration(claims); err != nil {
		return nil, err
	}

	return &ClientClaims{AppID: appID, RedirectURL: redirectURL, Claims: claims}, nil
}

// GenerateVerificationToken issues a server-signed token carrying the user
// email and the client redirect URL, valid for the configured lifetime.
// sessionID, when non-empty, ties the token back to the waiting login page.
func (s *Service) GenerateVerificationToken(email, redirectURL, sessionID string) (string, error) {
	expiresAt := s.now().Add(s.opts.Expiry)
	claims := jwt.MapClaims{
		"sub":                   email,
		s.opts.RedirectURLField: redirectURL,
		s.opts.ExpirationField:  expiresAt.Unix(),
	}
	if sessionID != "" {
		claims["sid"] = sessionID
	}

	method := jwt.GetSigningMethod(s.opts.Algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported signing algorithm %q", s.opts.Algorithm)
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString(s.keys.ServerPrivateKey())
	if err != nil {
		return "", fmt.Errorf("signing verification token: %w", err)
	}
	return signed, nil
}

// DecodeVerificationToken validates a token from an emailed verification URL
// without consuming it. Blacklisted tokens are rejected.
func (s *Service) DecodeVerificationToken(ctx context.Context, tokenStr string) (*VerificationClaims, error) {
	if tokenStr == "" {
		return nil, ErrNoToken
	}

	if s.blacklist != nil {
		listed, err := s.blacklist.Contains(ctx, tokenStr)
		if err != nil {
			return nil, fmt.Errorf("blacklist lookup: %w", err)
		}
		if listed {
			return nil, ErrBlacklisted
		}
	}

	return s.decodeServerToken(tokenStr)
}

// ConsumeVerificationToken validates the token and blacklists it so the
// emailed link is single-use. The blacklist entry expires with the token.
func (s *Service) ConsumeVerificationToken(ctx context.Context, tokenStr string) (*VerificationClaims, error) {
	claims, err := s.DecodeVerificationToken(ctx, tokenStr)
	if err != nil {
		return nil, err
	}

	if s.blacklist != nil {
		ttl := claims.ExpiresAt.Sub(s.now())
		if ttl < time.Minute {
			ttl = time.Minute
		}
		if err := s.blacklist.Add(ctx, tokenStr, ttl); err != nil {
			return nil, fmt.Errorf("blacklisting token: %w", err)
		}
	}
	return claims, nil
}

// DecodeWithoutBlacklist validates a verification token ignoring blacklist
// state. Used as the fallback when an already-consumed link is revisited: the
// user is sent back to the client application to restart the flow.
func (s *Service) DecodeWithoutBlacklist(tokenStr string) (*VerificationClaims, error) {
	if tokenStr == "" {
		return nil, ErrNoToken
	}
	return s.decodeServerToken(tokenStr)
}

func (s *Service) decodeServerToken(tokenStr string) (*VerificationClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.NewParser(jwt.WithValidMethods([]string{s.opts.Algorithm})).
		ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return s.keys.ServerPublicKey(), nil
		})
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	redirectURL, err := s.redirectURLClaim(claims)
	if err != nil {
		return nil, err
	}
	if err := s.checkExpiration(claims); err != nil {
		return nil, err
	}

	email, _ := claims["sub"].(string)
	sessionID, _ := claims["sid"].(string)
	expiresAt, _ := numericClaim(claims, s.opts.ExpirationField)

	return &VerificationClaims{
		Email:       email,
		RedirectURL: redirectURL,
		SessionID:   sessionID,
		ExpiresAt:   time.Unix(expiresAt, 0),
	}, nil
}

func (s *Service) redirectURLClaim(claims jwt.MapClaims) (string, error) {
	raw, ok := claims[s.opts.RedirectURLField]
	if !ok {
		return "", ErrNoRedirectURL
	}
	redirectURL, ok := raw.(string)
	if !ok || redirectURL == "" {
		return "", ErrNoRedirectURL
	}
	return redirectURL, nil
}

func (s *Service) checkExpiration(claims jwt.MapClaims) error {
	expiresAt, ok := numericClaim(claims, s.opts.ExpirationField)
	if !ok {
		return fmt.Errorf("%w: missing expiration claim", ErrInvalidToken)
	}
	if s.now().Unix() > expiresAt {
		return ErrExpired
	}
	return nil
}

func numericClaim(claims jwt.MapClaims, field string) (int64, bool) {
	switch v := claims[field].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrExpired
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
