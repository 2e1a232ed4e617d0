package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"membrane/config"
	"membrane/metrics"
	"membrane/utils"
)

// CreateApp creates and configures the Fiber application. The launcher
// contract lives in fiber.Config: IdleTimeout is the keep-alive window after
// which an idle connection is closed, and Prefork turns a worker count above
// one into a pool of OS processes each accepting on the shared port.
func CreateApp(cfg *config.Config, startTime time.Time, readyState *ReadyState) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   false,
		IdleTimeout:             cfg.KeepAlive,
		Prefork:                 cfg.Workers > 1,
		BodyLimit:               64 * 1024, // login bodies are tiny
		EnableTrustedProxyCheck: utils.TrustProxyHeaders.Load(),
		ProxyHeader:             fiber.HeaderXForwardedFor,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			} else if code < 500 {
				// Only show actual error for client errors (4xx)
				message = err.Error()
			} else {
				// Log server errors but don't expose details
				utils.LogError("HTTP_ERROR", err,
					"method", c.Method(),
					"path", c.Path(),
					"ip", c.IP(),
				)
			}

			return c.Status(code).JSON(fiber.Map{"error": message})
		},
	})

	// Panic recovery with error logging
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			utils.LogError("PANIC RECOVERED", fmt.Errorf("%v", e),
				"method", c.Method(),
				"path", c.Path(),
				"ip", c.IP(),
				"user_agent", c.Get("User-Agent"),
			)
		},
	}))

	// Request ID middleware for error correlation
	app.Use(func(c *fiber.Ctx) error {
		requestID := uuid.New().String()
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	})

	// Request logging
	app.Use(logger.New(logger.Config{
		Output: utils.InfoLogger.Writer(),
		Format: "[${time}] ${locals:request_id} ${status} - ${method} ${path} - ${ip} - ${latency}\n",
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	// Compression for API responses
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
		Next: func(c *fiber.Ctx) bool {
			// Skip compression for WebSocket upgrades
			return c.Get("Upgrade") == "websocket"
		},
	}))

	app.Use(metrics.PrometheusMiddleware())

	app.Get("/metrics", func(c *fiber.Ctx) error {
		req, err := http.NewRequest(c.Method(), c.OriginalURL(), nil)
		if err != nil {
			return fiber.ErrInternalServerError
		}
		promhttp.Handler().ServeHTTP(NewFiberResponseWriter(c), req)
		return nil
	})

	// Health endpoints available immediately
	api := app.Group("/api/v1")

	// Live endpoint - just checks if server is running
	api.Get("/health/live", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "live",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(startTime).String(),
		})
	})

	// Ready endpoint - checks if all initialization is complete
	api.Get("/health/ready", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		health := fiber.Map{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(startTime).String(),
		}

		if readyState.IsFullyReady() {
			if db := readyState.GetDB(); db != nil {
				var one int
				if err := db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
					health["status"] = "unhealthy"
					health["error"] = "database check failed"
					return c.Status(503).JSON(health)
				}
			}
			if rdb := readyState.GetRedis(); rdb != nil {
				if err := rdb.Ping(ctx).Err(); err != nil {
					health["status"] = "unhealthy"
					health["error"] = "redis check failed"
					return c.Status(503).JSON(health)
				}
			}
			health["status"] = "ready"
			return c.JSON(health)
		}

		// Still initializing
		health["status"] = "initializing"
		health["keys_ready"] = readyState.IsKeysReady()
		health["database_ready"] = readyState.IsDatabaseReady()
		health["redis_ready"] = readyState.IsRedisReady()
		health["mailer_ready"] = readyState.IsMailerReady()
		return c.Status(503).JSON(health)
	})

	return app
}
