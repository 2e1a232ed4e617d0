package services

import (
	"context"
	"log"
	"time"

	"membrane/database"
)

// AuditPruner is the part of the audit store the cleanup service drives.
type AuditPruner interface {
	PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// StartCleanupService prunes aged audit rows every 24 hours. Verification
// token blacklist entries expire through Redis TTLs and need no sweeping.
func StartCleanupService(store AuditPruner, retention time.Duration) {
	go func() {
		ctx := context.Background()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		// Run initial cleanup
		RunCleanupTasks(ctx, store, retention)

		for range ticker.C {
			RunCleanupTasks(ctx, store, retention)
		}
	}()
}

// RunCleanupTasks performs one cleanup pass.
func RunCleanupTasks(ctx context.Context, store AuditPruner, retention time.Duration) {
	log.Println("🧹 Running scheduled cleanup tasks...")

	removed, err := store.PruneOlderThan(ctx, retention)
	if err != nil {
		log.Printf("⚠️ Failed to prune audit rows: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("🗑️ Pruned %d audit rows older than %v", removed, retention)
	}

	log.Println("🎯 Cleanup tasks completed successfully")
}

var _ AuditPruner = (*database.AuditStore)(nil)
