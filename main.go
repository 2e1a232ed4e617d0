// Membrane is a passwordless SSO gateway: client applications redirect users
// here with a signed token, the user proves ownership of an email address by
// clicking an emailed link, and is sent back to the client with a
// server-signed verification token.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"membrane/config"
	"membrane/crypto"
	"membrane/database"
	"membrane/emails"
	"membrane/handlers"
	"membrane/keys"
	"membrane/middleware"
	"membrane/server"
	"membrane/services"
	"membrane/tokens"
	"membrane/utils"
	wshub "membrane/websocket"
)

func main() {
	utils.InitLogging()

	cfg := config.LoadConfig()
	utils.TrustProxyHeaders.Store(cfg.TrustProxyHeaders)

	startTime := time.Now()

	// Key material first: without it no token can be verified or issued, so
	// there is no point binding a listener.
	keyStore, err := keys.NewStore(cfg.ClientKeysDirectory, cfg.ServerPrivateKeyPath, cfg.ServerPublicKeyPath)
	if err != nil {
		log.Fatalf("💥 [FATAL] Key material unavailable: %v", err)
	}

	db, err := database.SetupDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("💥 [FATAL] Database setup failed: %v", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0, // use default DB
	})
	var blacklist tokens.Blacklist
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		if cfg.Environment == "production" {
			log.Fatalf("💥 [FATAL] Redis unreachable: %v", err)
		}
		log.Printf("⚠️  Redis unreachable (%v), falling back to in-memory blacklist", err)
		_ = rdb.Close()
		rdb = nil
		blacklist = services.NewMemoryBlacklist()
	} else {
		cancel()
		defer rdb.Close()
		blacklist = services.NewRedisBlacklist(rdb)
	}

	cryptoSvc := crypto.NewService(cfg.EncryptionKey)
	audit := database.NewAuditStore(db, cryptoSvc)

	tokenSvc := tokens.NewService(keyStore, blacklist, tokens.Options{
		Algorithm:        cfg.Algorithm,
		AppIDField:       cfg.AppIDField,
		RedirectURLField: cfg.RedirectURLField,
		ExpirationField:  cfg.ExpirationField,
		Expiry:           cfg.TokenExpiry,
	})

	allowlist, err := services.NewEmailAllowlist(cfg.AllowedEmailPattern, cfg.AllowedEmailFilePath)
	if err != nil {
		log.Fatalf("💥 [FATAL] Email allowlist setup failed: %v", err)
	}
	stopRefresher := allowlist.StartRefresher(time.Minute)
	defer stopRefresher()

	var mailer emails.Mailer
	if cfg.CommEndpoint != "" {
		acs, err := emails.NewACSMailer(cfg.CommEndpoint, cfg.SenderAddress)
		if err != nil {
			log.Fatalf("💥 [FATAL] Mailer setup failed: %v", err)
		}
		mailer = acs
	} else {
		if cfg.Environment == "production" {
			log.Fatalf("💥 [FATAL] MEMBRANE_COMM_ENDPOINT is required in production")
		}
		log.Printf("⚠️  No mail endpoint configured, verification links are logged instead")
		mailer = emails.LogMailer{}
	}

	hub := wshub.NewHub()
	go hub.Run()
	defer hub.Close()

	readyState := server.NewReadyState(db, rdb)
	app := server.CreateApp(cfg, startTime, readyState)

	authHandler := &handlers.AuthHandler{
		Tokens:      tokenSvc,
		Allowlist:   allowlist,
		Mailer:      mailer,
		Audit:       audit,
		Hub:         hub,
		FrontendURL: cfg.FrontendURL,
	}
	rateLimits := middleware.NewRateLimitConfig(rdb, cfg.RateLimitMode)

	// Resolve the application entry reference. An unknown reference exits
	// non-zero before the listener binds.
	registry := server.NewRegistry()
	registry.Register("membrane:app", func(a *fiber.App) {
		registerRoutes(a, authHandler, tokenSvc, rateLimits, hub)
	})
	builder, err := registry.Resolve(cfg.AppModule)
	if err != nil {
		log.Fatalf("💥 [FATAL] Cannot resolve application entry: %v", err)
	}
	builder(app)

	readyState.MarkKeysReady()
	readyState.MarkDatabaseReady()
	readyState.MarkRedisReady()
	readyState.MarkMailerReady()

	services.StartCleanupService(audit, cfg.AuditRetention)

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Println("🛑 Shutting down...")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	if err := server.Serve(app, cfg, startTime); err != nil {
		log.Fatalf("💥 [FATAL] Server stopped: %v", err)
	}
}
