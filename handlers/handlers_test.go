package handlers

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membrane/keys"
	"membrane/middleware"
	"membrane/services"
	"membrane/tokens"
)

// =====================
// Stub collaborators
// =====================

type stubMailer struct {
	sent      []string
	lastURL   string
	returnErr error
}

func (m *stubMailer) SendVerification(_ context.Context, recipient, verificationURL string) error {
	if m.returnErr != nil {
		return m.returnErr
	}
	m.sent = append(m.sent, recipient)
	m.lastURL = verificationURL
	return nil
}

type stubAuditor struct {
	events    []string
	disabled  bool
	lookupErr error
}

func (a *stubAuditor) RecordEvent(_ context.Context, event, appID, email, ip string) error {
	a.events = append(a.events, event)
	return nil
}

func (a *stubAuditor) TouchClientApp(_ context.Context, appID string) error { return nil }

func (a *stubAuditor) ClientAppDisabled(_ context.Context, appID string) (bool, error) {
	return a.disabled, a.lookupErr
}

// =====================
// Fixtures
// =====================

type fixture struct {
	app       *fiber.App
	handler   *AuthHandler
	mailer    *stubMailer
	auditor   *stubAuditor
	tokens    *tokens.Service
	clientKey *rsa.PrivateKey
}

func writeKeyPair(t *testing.T, dir, privName, pubName string) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(filepath.Join(dir, privName), privPEM, 0o600))

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	require.NoError(t, os.WriteFile(filepath.Join(dir, pubName), pubPEM, 0o600))
	return key
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	writeKeyPair(t, dir, "server_private.pem", "server_public.pem")
	clientKey := writeKeyPair(t, dir, "testapp_private.pem", "testapp_public_key.pem")

	store, err := keys.NewStore(dir, filepath.Join(dir, "server_private.pem"), filepath.Join(dir, "server_public.pem"))
	require.NoError(t, err)

	tokenSvc := tokens.NewService(store, services.NewMemoryBlacklist(), tokens.Options{Expiry: 5 * time.Minute})

	allowlist, err := services.NewEmailAllowlist(`^[^@\s]+@[^@\s]+\.[^@\s]+$`, "")
	require.NoError(t, err)

	mailer := &stubMailer{}
	auditor := &stubAuditor{}
	handler := &AuthHandler{
		Tokens:      tokenSvc,
		Allowlist:   allowlist,
		Mailer:      mailer,
		Audit:       auditor,
		FrontendURL: "https://login.example.com",
	}

	app := fiber.New()
	app.Get("/", middleware.ClientToken(tokenSvc), handler.EntryRedirect)
	api := app.Group("/api/v1")
	api.Post("/login", handler.Login)
	api.Get("/authenticate", handler.Authenticate)
	api.Get("/verify", handler.Verify)

	return &fixture{
		app:       app,
		handler:   handler,
		mailer:    mailer,
		auditor:   auditor,
		tokens:    tokenSvc,
		clientKey: clientKey,
	}
}

func (f *fixture) mintClientToken(t *testing.T, redirectURL string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"app_id":       "testapp",
		"redirect_url": redirectURL,
		"exp":          time.Now().Add(time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(f.clientKey)
	require.NoError(t, err)
	return signed
}

func doLogin(t *testing.T, f *fixture, body LoginRequest) int {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v1/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

// =====================
// Entry redirect
// =====================

func TestEntryRedirectForwardsToFrontend(t *testing.T) {
	f := newFixture(t)
	token := f.mintClientToken(t, "https://app.example.com/callback")

	req := httptest.NewRequest("GET", "/?token="+token, nil)
	resp, err := f.app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	location := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(location, "https://login.example.com?token="), "Location = %s", location)
}

func TestEntryRedirectRejectsMissingToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("GET", "/", nil)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestEntryRedirectDisabledApp(t *testing.T) {
	f := newFixture(t)
	f.auditor.disabled = true
	token := f.mintClientToken(t, "https://app.example.com/callback")

	req := httptest.NewRequest("GET", "/?token="+token, nil)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

// =====================
// Login
// =====================

func TestLoginSendsVerificationEmail(t *testing.T) {
	f := newFixture(t)
	token := f.mintClientToken(t, "https://app.example.com/callback")

	status := doLogin(t, f, LoginRequest{Email: "user@example.com", Token: token})
	assert.Equal(t, fiber.StatusOK, status)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "user@example.com", f.mailer.sent[0])
	assert.Contains(t, f.mailer.lastURL, "/api/v1/authenticate?token=")
	assert.Contains(t, f.auditor.events, "login_requested")
	assert.Contains(t, f.auditor.events, "email_sent")
}

func TestLoginRejectsBadClientToken(t *testing.T) {
	f := newFixture(t)

	status := doLogin(t, f, LoginRequest{Email: "user@example.com", Token: "not-a-jwt"})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Empty(t, f.mailer.sent)
	assert.Contains(t, f.auditor.events, "token_rejected")
}

func TestLoginRejectsMissingEmail(t *testing.T) {
	f := newFixture(t)
	token := f.mintClientToken(t, "https://app.example.com/callback")

	status := doLogin(t, f, LoginRequest{Email: "", Token: token})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Empty(t, f.mailer.sent)
}

func TestLoginRejectsInvalidEmail(t *testing.T) {
	f := newFixture(t)
	token := f.mintClientToken(t, "https://app.example.com/callback")

	status := doLogin(t, f, LoginRequest{Email: "not-an-email", Token: token})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestLoginRejectsMalformedSessionID(t *testing.T) {
	f := newFixture(t)
	token := f.mintClientToken(t, "https://app.example.com/callback")

	status := doLogin(t, f, LoginRequest{Email: "user@example.com", Token: token, SessionID: "not-a-uuid"})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestLoginMailerFailure(t *testing.T) {
	f := newFixture(t)
	f.mailer.returnErr = errors.New("smtp down")
	token := f.mintClientToken(t, "https://app.example.com/callback")

	status := doLogin(t, f, LoginRequest{Email: "user@example.com", Token: token})
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Contains(t, f.auditor.events, "email_failed")
}

func TestLoginDisabledApp(t *testing.T) {
	f := newFixture(t)
	f.auditor.disabled = true
	token := f.mintClientToken(t, "https://app.example.com/callback")

	status := doLogin(t, f, LoginRequest{Email: "user@example.com", Token: token})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Empty(t, f.mailer.sent)
}

func TestLoginAllowsWhenAppLookupFails(t *testing.T) {
	f := newFixture(t)
	f.auditor.lookupErr = errors.New("db unreachable")
	token := f.mintClientToken(t, "https://app.example.com/callback")

	status := doLogin(t, f, LoginRequest{Email: "user@example.com", Token: token})
	assert.Equal(t, fiber.StatusOK, status)
}

// =====================
// Authenticate and verify
// =====================

func TestAuthenticateConsumesTokenAndRedirects(t *testing.T) {
	f := newFixture(t)
	verificationToken, err := f.tokens.GenerateVerificationToken("user@example.com", "https://app.example.com/callback", "")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/authenticate?token="+verificationToken, nil)
	resp, err := f.app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	location := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(location, "https://app.example.com/callback?token="), "Location = %s", location)
	assert.Contains(t, f.auditor.events, "authenticated")
}

func TestAuthenticateReplayRedirectsWithoutToken(t *testing.T) {
	f := newFixture(t)
	verificationToken, err := f.tokens.GenerateVerificationToken("user@example.com", "https://app.example.com/callback", "")
	require.NoError(t, err)

	first := httptest.NewRequest("GET", "/api/v1/authenticate?token="+verificationToken, nil)
	resp, err := f.app.Test(first)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusFound, resp.StatusCode)

	// Second click on the same link: back to the client app, no token.
	second := httptest.NewRequest("GET", "/api/v1/authenticate?token="+verificationToken, nil)
	resp, err = f.app.Test(second)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://app.example.com/callback", resp.Header.Get("Location"))
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/authenticate?token=garbage", nil)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestVerifyAcceptsTokenAfterAuthenticate(t *testing.T) {
	f := newFixture(t)
	verificationToken, err := f.tokens.GenerateVerificationToken("user@example.com", "https://app.example.com/callback", "")
	require.NoError(t, err)

	// The emailed link consumes the token and redirects the user to the
	// client application with it attached.
	authReq := httptest.NewRequest("GET", "/api/v1/authenticate?token="+verificationToken, nil)
	resp, err := f.app.Test(authReq)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusFound, resp.StatusCode)

	// The client backend now checks the token it was redirected with.
	verifyReq := httptest.NewRequest("GET", "/api/v1/verify?token="+verificationToken, nil)
	resp, err = f.app.Test(verifyReq)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Valid bool   `json:"valid"`
		Email string `json:"email"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Valid)
	assert.Equal(t, "user@example.com", body.Email)
}

func TestVerifyDoesNotConsume(t *testing.T) {
	f := newFixture(t)
	verificationToken, err := f.tokens.GenerateVerificationToken("user@example.com", "https://app.example.com/callback", "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/api/v1/verify?token="+verificationToken, nil)
		resp, err := f.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var body struct {
			Valid bool   `json:"valid"`
			Email string `json:"email"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.Valid)
		assert.Equal(t, "user@example.com", body.Email)
	}
}

func TestVerifyInvalidToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/verify?token=garbage", nil)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	var body struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Valid)
}

func TestLoginWithSessionIDRoundTrips(t *testing.T) {
	f := newFixture(t)
	token := f.mintClientToken(t, "https://app.example.com/callback")
	sessionID := uuid.New().String()

	status := doLogin(t, f, LoginRequest{Email: "user@example.com", Token: token, SessionID: sessionID})
	require.Equal(t, fiber.StatusOK, status)

	// The emailed URL carries the verification token; decode it and check the
	// session id survived the trip.
	idx := strings.Index(f.mailer.lastURL, "token=")
	require.GreaterOrEqual(t, idx, 0)
	verificationToken := f.mailer.lastURL[idx+len("token="):]

	claims, err := f.tokens.DecodeWithoutBlacklist(verificationToken)
	require.NoError(t, err)
	assert.Equal(t, sessionID, claims.SessionID)
}
