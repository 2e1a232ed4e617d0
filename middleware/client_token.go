package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"membrane/tokens"
)

// TokenDecoder is the part of the token service this middleware uses.
type TokenDecoder interface {
	DecodeClientToken(token string) (*tokens.ClientClaims, error)
}

// ClientToken validates the client application JWT carried in the request and
// stores the verified claims in the context under "client_claims". The token
// is read from the token query parameter, matching how client applications
// redirect users here.
func ClientToken(decoder TokenDecoder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing token"})
		}

		claims, err := decoder.DecodeClientToken(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid client token"})
		}

		c.Locals("client_claims", claims)
		c.Locals("client_token", tokenStr)
		return c.Next()
	}
}

// ClientClaimsFromContext returns the claims stored by ClientToken.
func ClientClaimsFromContext(c *fiber.Ctx) (*tokens.ClientClaims, error) {
	claims, ok := c.Locals("client_claims").(*tokens.ClientClaims)
	if !ok || claims == nil {
		return nil, errors.New("client claims not found in context")
	}
	return claims, nil
}
