package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis/v3"
	"github.com/redis/go-redis/v9"

	"membrane/utils"
)

// RateLimitConfig holds all rate limiter instances
type RateLimitConfig struct {
	LoginLimiter        fiber.Handler
	AuthenticateLimiter fiber.Handler
	VerifyLimiter       fiber.Handler
	LightweightLimiter  fiber.Handler
}

// NewRateLimitConfig creates the limiter tiers. With a Redis client the
// counters are shared across workers; without one each process counts alone.
// Mode "disabled" turns every tier into a pass-through for load testing.
func NewRateLimitConfig(rdb *redis.Client, mode string) *RateLimitConfig {
	if mode == "disabled" {
		passthrough := func(c *fiber.Ctx) error { return c.Next() }
		return &RateLimitConfig{
			LoginLimiter:        passthrough,
			AuthenticateLimiter: passthrough,
			VerifyLimiter:       passthrough,
			LightweightLimiter:  passthrough,
		}
	}

	var storage fiber.Storage
	if rdb != nil {
		storage = redisstorage.NewFromConnection(rdb)
	}

	limitReached := func(message string) func(c *fiber.Ctx) error {
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": message,
			})
		}
	}

	// Tier 1: login requests trigger outbound email, keep these tight
	loginLimiter := limiter.New(limiter.Config{
		Max:        5,
		Expiration: 15 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage:      storage,
		LimitReached: limitReached("Too many login attempts. Please try again later."),
	})

	// Tier 2: emailed-link clicks and token checks
	authenticateLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 5 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage:      storage,
		LimitReached: limitReached("Too many authentication attempts. Please try again later."),
	})

	verifyLimiter := limiter.New(limiter.Config{
		Max:        30,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage:      storage,
		LimitReached: limitReached("Too many verification requests. Please try again later."),
	})

	// Tier 3: everything else
	lightweightLimiter := limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage:      storage,
		LimitReached: limitReached("Too many requests. Please slow down."),
	})

	return &RateLimitConfig{
		LoginLimiter:        loginLimiter,
		AuthenticateLimiter: authenticateLimiter,
		VerifyLimiter:       verifyLimiter,
		LightweightLimiter:  lightweightLimiter,
	}
}
