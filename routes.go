package main

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"membrane/handlers"
	"membrane/middleware"
	"membrane/tokens"
	wshub "membrane/websocket"
)

// registerRoutes mounts the SSO surface. Health, metrics, and the global
// middleware chain are wired by server.CreateApp before this runs.
func registerRoutes(app *fiber.App, auth *handlers.AuthHandler, tokenSvc *tokens.Service, rl *middleware.RateLimitConfig, hub *wshub.Hub) {
	// Client applications land users here with their token attached.
	app.Get("/", rl.AuthenticateLimiter, middleware.ClientToken(tokenSvc), auth.EntryRedirect)

	api := app.Group("/api/v1")

	api.Post("/login", rl.LoginLimiter, auth.Login)
	api.Get("/authenticate", rl.AuthenticateLimiter, auth.Authenticate)
	api.Get("/verify", rl.VerifyLimiter, auth.Verify)

	// The login page opens this to learn the moment its email link is
	// clicked, instead of polling /verify.
	api.Get("/ws/login", rl.LightweightLimiter, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, websocket.New(func(c *websocket.Conn) {
		wshub.HandleLoginWait(c, hub)
	}))
}
