package server

import (
	"context"
	"log"
	"net"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"membrane/config"
)

// Serve binds the server on the configured port and blocks until it stops.
// With more than one worker Fiber's prefork needs to own the listener so it
// can share the socket across child processes; the single-worker path binds
// IPv6 first and falls back to IPv4.
func Serve(app *fiber.App, cfg *config.Config, startupStart time.Time) error {
	if cfg.Workers > 1 {
		addr := ":" + cfg.Port
		log.Printf("🌐 [STARTUP] HTTP server listening on %s with %d prefork workers - startup time: %v",
			addr, cfg.Workers, time.Since(startupStart))
		return app.Listen(addr)
	}
	return ListenWithIPv6Fallback(app, cfg.Port, startupStart)
}

// ListenWithIPv6Fallback attempts to bind the server on IPv6 first, falling
// back to IPv4 if needed. Dual-stack support for IPv6-only private networks
// while keeping compatibility with IPv4-only environments.
func ListenWithIPv6Fallback(app *fiber.App, port string, startupStart time.Time) error {
	addrIPv6 := "[::]:" + port
	log.Printf("🔵 [IPv6] Attempting to bind HTTP server on %s", addrIPv6)

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if network != "tcp6" {
				return nil
			}

			var sockErr error
			if controlErr := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IPV6, syscall.IPV6_V6ONLY, 0)
			}); controlErr != nil {
				return controlErr
			}
			return sockErr
		},
	}

	ln6, err := lc.Listen(context.Background(), "tcp6", addrIPv6)
	if err == nil {
		log.Printf("✅ [IPv6] Successfully bound to %s - IPv6 dual-stack available", addrIPv6)
		log.Printf("🌐 [STARTUP] HTTP server listening on %s - startup time: %v", addrIPv6, time.Since(startupStart))
		return app.Listener(ln6)
	}

	log.Printf("❌ [IPv6] Failed to bind on %s: %v", addrIPv6, err)
	log.Printf("🔄 [FALLBACK] IPv6 binding failed, attempting IPv4 fallback...")

	addrIPv4 := "0.0.0.0:" + port
	log.Printf("🟡 [IPv4] Attempting to bind HTTP server on %s", addrIPv4)

	ln4, err := net.Listen("tcp4", addrIPv4)
	if err != nil {
		log.Printf("❌ [IPv4] Failed to bind on %s: %v", addrIPv4, err)
		log.Printf("💥 [FATAL] Both IPv6 and IPv4 binding failed - server cannot start")
		return err
	}

	log.Printf("✅ [IPv4] Successfully bound to %s (IPv6 not available)", addrIPv4)
	log.Printf("🌐 [STARTUP] HTTP server listening on %s - startup time: %v", addrIPv4, time.Since(startupStart))
	return app.Listener(ln4)
}
