// Command auditlog prints the decrypted authentication trail for one email
// address. It is the operator lookup for the encrypted audit table and doubles
// as the subject access path: run it with the same environment the gateway
// uses so the encryption key and database match.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"membrane/config"
	"membrane/crypto"
	"membrane/database"
)

func main() {
	email := flag.String("email", "", "email address to look up")
	limit := flag.Int("limit", 50, "maximum number of rows to print")
	flag.Parse()

	if *email == "" {
		fmt.Fprintln(os.Stderr, "usage: auditlog -email user@example.com [-limit 50]")
		os.Exit(2)
	}

	cfg := config.LoadConfig()

	db, err := database.SetupDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("💥 [FATAL] Database setup failed: %v", err)
	}
	defer db.Close()

	store := database.NewAuditStore(db, crypto.NewService(cfg.EncryptionKey))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	events, err := store.EventsForEmail(ctx, *email, *limit)
	if err != nil {
		log.Fatalf("💥 [FATAL] Audit lookup failed: %v", err)
	}
	if len(events) == 0 {
		fmt.Printf("No audit rows for %s\n", *email)
		return
	}

	for _, ev := range events {
		fmt.Printf("%s  %-16s  app=%-12s  email=%s  ip=%s\n",
			ev.CreatedAt.UTC().Format(time.RFC3339), ev.Event, ev.AppID, ev.Email, ev.IP)
	}
}
