package handlers

import (
	"context"
	"errors"
	neturl "net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"membrane/emails"
	"membrane/metrics"
	"membrane/middleware"
	"membrane/services"
	"membrane/tokens"
	"membrane/utils"
	"membrane/websocket"
)

// Auditor records the authentication trail. Nil disables auditing.
type Auditor interface {
	RecordEvent(ctx context.Context, event, appID, email, ip string) error
	TouchClientApp(ctx context.Context, appID string) error
	ClientAppDisabled(ctx context.Context, appID string) (bool, error)
}

// Audit event names, mirrored from the database package so handlers can be
// tested without it.
const (
	eventLoginRequested = "login_requested"
	eventEmailSent      = "email_sent"
	eventEmailFailed    = "email_failed"
	eventAuthenticated  = "authenticated"
	eventTokenRejected  = "token_rejected"
)

// AuthHandler implements the SSO flows: client entry redirect, login email,
// emailed-link authentication, and token verification for client backends.
type AuthHandler struct {
	Tokens      *tokens.Service
	Allowlist   *services.EmailAllowlist
	Mailer      emails.Mailer
	Audit       Auditor
	Hub         *websocket.Hub
	FrontendURL string
}

// LoginRequest is the body of POST /api/v1/login.
type LoginRequest struct {
	Email     string `json:"email"`
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

// EntryRedirect handles GET /. A client application sends the user here with
// its own token; the ClientToken middleware has already verified it, so this
// only forwards the user to the login frontend with the token attached.
func (h *AuthHandler) EntryRedirect(c *fiber.Ctx) error {
	claims, err := middleware.ClientClaimsFromContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing client token"})
	}
	if err := h.checkAppEnabled(c, claims.AppID); err != nil {
		return err
	}
	metrics.RecordTokenVerification("client", "ok")

	tokenStr, _ := c.Locals("client_token").(string)
	redirectURL := h.FrontendURL + "?token=" + neturl.QueryEscape(tokenStr)
	return c.Redirect(redirectURL, fiber.StatusFound)
}

// Login handles POST /api/v1/login: validates the client token and the email,
// then issues a verification token and emails the link.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	claims, err := h.Tokens.DecodeClientToken(req.Token)
	if err != nil {
		metrics.RecordTokenVerification("client", "rejected")
		h.audit(c, eventTokenRejected, "", req.Email)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid client token"})
	}
	if err := h.checkAppEnabled(c, claims.AppID); err != nil {
		return err
	}
	metrics.RecordTokenVerification("client", "ok")

	if err := h.Allowlist.Validate(req.Email); err != nil {
		if errors.Is(err, services.ErrMissingEmail) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing email"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid email address"})
	}

	if req.SessionID != "" {
		if _, err := uuid.Parse(req.SessionID); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
		}
	}

	verificationToken, err := h.Tokens.GenerateVerificationToken(req.Email, claims.RedirectURL, req.SessionID)
	if err != nil {
		utils.LogRequestError(c, "GENERATE_VERIFICATION_TOKEN", err)
		metrics.IncrementError("token", "login")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not start login"})
	}
	metrics.IncrementTokensIssued()
	h.audit(c, eventLoginRequested, claims.AppID, req.Email)

	verificationURL := c.BaseURL() + "/api/v1/authenticate?token=" + neturl.QueryEscape(verificationToken)

	start := time.Now()
	if err := h.Mailer.SendVerification(c.Context(), req.Email, verificationURL); err != nil {
		metrics.RecordEmail("failed", time.Since(start))
		metrics.IncrementError("email", "login")
		utils.LogRequestError(c, "SEND_VERIFICATION_EMAIL", err)
		h.audit(c, eventEmailFailed, claims.AppID, req.Email)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to send verification email"})
	}
	metrics.RecordEmail("sent", time.Since(start))
	h.audit(c, eventEmailSent, claims.AppID, req.Email)

	return c.JSON(fiber.Map{"message": "Verification email sent"})
}

// Authenticate handles GET /api/v1/authenticate: the emailed link. The token
// is consumed (blacklisted) and the user is redirected to the client
// application with the token attached.
func (h *AuthHandler) Authenticate(c *fiber.Ctx) error {
	tokenStr := c.Query("token")

	claims, err := h.Tokens.ConsumeVerificationToken(c.Context(), tokenStr)
	if err != nil {
		if errors.Is(err, tokens.ErrBlacklisted) {
			// The link was already used. Send the user back to the client
			// application without a token so SSO can restart.
			if stale, decodeErr := h.Tokens.DecodeWithoutBlacklist(tokenStr); decodeErr == nil {
				utils.LogInfo("Blacklisted verification token revisited, redirecting to client app")
				return c.Redirect(stale.RedirectURL, fiber.StatusFound)
			}
		}
		metrics.RecordTokenVerification("verification", "rejected")
		h.audit(c, eventTokenRejected, "", "")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired verification token"})
	}
	metrics.RecordTokenVerification("verification", "ok")
	h.audit(c, eventAuthenticated, "", claims.Email)

	if h.Hub != nil && claims.SessionID != "" {
		if sessionID, err := uuid.Parse(claims.SessionID); err == nil {
			h.Hub.NotifyVerified(sessionID, claims.Email, claims.RedirectURL)
		}
	}

	redirectURL := claims.RedirectURL + "?token=" + neturl.QueryEscape(tokenStr)
	return c.Redirect(redirectURL, fiber.StatusFound)
}

// Verify handles GET /api/v1/verify: the validity check a client application
// backend runs on the token it received from the authenticate redirect before
// creating its own session. The authenticate step has already consumed the
// token, so blacklist state is ignored here; the token's expiry bounds the
// verification window.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	claims, err := h.Tokens.DecodeWithoutBlacklist(c.Query("token"))
	if err != nil {
		metrics.RecordTokenVerification("verification", "rejected")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"valid": false})
	}
	metrics.RecordTokenVerification("verification", "ok")
	return c.JSON(fiber.Map{
		"valid":      true,
		"email":      claims.Email,
		"expires_at": claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *AuthHandler) checkAppEnabled(c *fiber.Ctx, appID string) error {
	if h.Audit == nil {
		return nil
	}
	disabled, err := h.Audit.ClientAppDisabled(c.Context(), appID)
	if err != nil {
		// The key check already passed; a registry read failure should not
		// take logins down.
		utils.LogRequestError(c, "CLIENT_APP_LOOKUP", err)
		metrics.IncrementError("database", "auth")
		return nil
	}
	if disabled {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Client application is disabled"})
	}
	if err := h.Audit.TouchClientApp(c.Context(), appID); err != nil {
		utils.LogRequestError(c, "CLIENT_APP_TOUCH", err)
	}
	return nil
}

func (h *AuthHandler) audit(c *fiber.Ctx, event, appID, email string) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.RecordEvent(c.Context(), event, appID, email, utils.ClientIP(c)); err != nil {
		utils.LogRequestError(c, "AUDIT_RECORD", err)
		metrics.IncrementError("database", "audit")
	}
}
