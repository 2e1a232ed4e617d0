package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlacklist stores consumed verification tokens in Redis. Tokens are
// keyed by their SHA-256 so the raw JWT never lands in the store, and each
// entry carries a TTL matching the token's remaining lifetime - Redis expiry
// does the cleanup.
type RedisBlacklist struct {
	rdb *redis.Client
}

// NewRedisBlacklist creates a Redis-backed token blacklist.
func NewRedisBlacklist(rdb *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{rdb: rdb}
}

func blacklistKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "blacklist:" + hex.EncodeToString(sum[:])
}

// Add marks a token as consumed until its expiry.
func (b *RedisBlacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	return b.rdb.Set(ctx, blacklistKey(token), "1", ttl).Err()
}

// Contains reports whether a token was already consumed.
func (b *RedisBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	n, err := b.rdb.Exists(ctx, blacklistKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryBlacklist is an in-process fallback used in development when Redis is
// not configured. Single-use enforcement then only holds per worker process.
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryBlacklist creates an in-memory token blacklist.
func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{entries: make(map[string]time.Time)}
}

// Add marks a token as consumed until its expiry.
func (b *MemoryBlacklist) Add(_ context.Context, token string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[blacklistKey(token)] = time.Now().Add(ttl)
	return nil
}

// Contains reports whether a token was already consumed. Expired entries are
// dropped on the way.
func (b *MemoryBlacklist) Contains(_ context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := blacklistKey(token)
	deadline, ok := b.entries[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(deadline) {
		delete(b.entries, key)
		return false, nil
	}
	return true, nil
}
